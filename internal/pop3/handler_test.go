package pop3

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"testing"

	gopop3 "github.com/knadh/go-pop3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atolye/mailwire/pkg/mailerr"
	"github.com/atolye/mailwire/pkg/models"
)

const rawMessage = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hi there\r\n"

type fakePOP3Conn struct {
	authErr  error
	authUser string
	authPass string

	statCount int
	statSize  int

	listEntries []gopop3.MessageID

	retrBodies map[int]string
	retrErrs   map[int]error

	deleted []int
	rsetErr error
	rsets   int
	noopErr error
	noops   int
	quits   int

	capaBuf *bytes.Buffer
	capaErr error
}

func (c *fakePOP3Conn) Auth(user, pass string) error {
	c.authUser, c.authPass = user, pass
	return c.authErr
}

func (c *fakePOP3Conn) Stat() (int, int, error) {
	return c.statCount, c.statSize, nil
}

func (c *fakePOP3Conn) List(msgID int) ([]gopop3.MessageID, error) {
	return c.listEntries, nil
}

func (c *fakePOP3Conn) RetrRaw(msgID int) (*bytes.Buffer, error) {
	if err, ok := c.retrErrs[msgID]; ok {
		return nil, err
	}
	body, ok := c.retrBodies[msgID]
	if !ok {
		return nil, errors.New("no such message")
	}
	return bytes.NewBufferString(body), nil
}

func (c *fakePOP3Conn) Dele(msgID ...int) error {
	c.deleted = append(c.deleted, msgID...)
	return nil
}

func (c *fakePOP3Conn) Rset() error {
	c.rsets++
	return c.rsetErr
}

func (c *fakePOP3Conn) Noop() error {
	c.noops++
	return c.noopErr
}

func (c *fakePOP3Conn) Quit() error {
	c.quits++
	return nil
}

func (c *fakePOP3Conn) Cmd(cmd string, isMulti bool, args ...interface{}) (*bytes.Buffer, error) {
	if c.capaErr != nil {
		return nil, c.capaErr
	}
	return c.capaBuf, nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEndpoint() models.Endpoint {
	return models.Endpoint{
		Host:       "pop.example.com",
		Port:       995,
		Username:   "bob",
		Password:   "hunter2",
		Encryption: models.EncryptionTLS,
		MaxRetries: 3,
	}
}

// newTestHandler builds a handler whose dial consumes outcomes in order:
// an error means a failed attempt, nil means a working connection.
func newTestHandler(t *testing.T, outcomes []error) (*Handler, *fakePOP3Conn, *int) {
	t.Helper()
	fake := &fakePOP3Conn{}
	attempts := 0
	h := NewHandler(testEndpoint(), testLogger())
	h.retryDelay = 0
	h.dial = func() (conn, error) {
		require.Less(t, attempts, len(outcomes), "dialed more often than scripted")
		err := outcomes[attempts]
		attempts++
		if err != nil {
			return nil, err
		}
		return fake, nil
	}
	return h, fake, &attempts
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	h, _, attempts := newTestHandler(t, []error{
		syscall.ECONNREFUSED,
		timeoutError{},
		nil,
	})

	require.NoError(t, h.Connect())
	assert.Equal(t, 3, *attempts)
	assert.True(t, h.Connected())
}

func TestConnectStopsAfterRetryBudget(t *testing.T) {
	h, _, attempts := newTestHandler(t, []error{
		syscall.ECONNREFUSED,
		syscall.ECONNREFUSED,
		syscall.ECONNREFUSED,
	})

	err := h.Connect()
	assert.True(t, mailerr.IsConnection(err))
	assert.Equal(t, 3, *attempts)
	assert.False(t, h.Connected())
}

func TestConnectDoesNotRetryNonTransientFailures(t *testing.T) {
	h, _, attempts := newTestHandler(t, []error{
		errors.New("tls: bad certificate"),
	})

	err := h.Connect()
	assert.True(t, mailerr.IsConnection(err))
	assert.Equal(t, 1, *attempts)
}

func TestConnectRetriesDNSFailures(t *testing.T) {
	h, _, attempts := newTestHandler(t, []error{
		&net.DNSError{Err: "no such host", Name: "pop.example.com", IsNotFound: true},
		nil,
	})

	require.NoError(t, h.Connect())
	assert.Equal(t, 2, *attempts)
}

func TestAuthenticateFallsBackToConfiguredCredentials(t *testing.T) {
	h, fake, _ := newTestHandler(t, []error{nil})
	require.NoError(t, h.Connect())

	require.NoError(t, h.Authenticate("", ""))
	assert.Equal(t, "bob", fake.authUser)
	assert.Equal(t, "hunter2", fake.authPass)
}

func TestAuthenticateRejectionIsAuthenticationError(t *testing.T) {
	h, fake, _ := newTestHandler(t, []error{nil})
	fake.authErr = errors.New("-ERR invalid password")
	require.NoError(t, h.Connect())

	err := h.Authenticate("bob", "wrong")
	assert.True(t, mailerr.IsAuthentication(err))
	assert.False(t, mailerr.IsConnection(err))
}

func TestFetchMessageInvariants(t *testing.T) {
	h, fake, _ := newTestHandler(t, []error{nil})
	fake.retrBodies = map[int]string{1: rawMessage}
	require.NoError(t, h.Connect())

	msg, err := h.FetchMessage(1)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), msg.UID)
	assert.Equal(t, len(rawMessage), msg.Size)
	assert.Equal(t, "hello", msg.Subject)
	// POP3 has no flags and no Bcc knowledge.
	assert.False(t, msg.IsRead)
	assert.False(t, msg.IsStarred)
	assert.Nil(t, msg.Bcc)
}

func TestFetchMessagesIsBestEffort(t *testing.T) {
	h, fake, _ := newTestHandler(t, []error{nil})
	fake.listEntries = []gopop3.MessageID{{ID: 1, Size: 100}, {ID: 2, Size: 200}, {ID: 3, Size: 300}}
	fake.retrBodies = map[int]string{1: rawMessage, 3: rawMessage}
	fake.retrErrs = map[int]error{2: errors.New("message expunged")}
	require.NoError(t, h.Connect())

	res, err := h.FetchMessages(nil)
	require.NoError(t, err)

	require.Len(t, res.Messages, 2)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, uint32(2), res.Skipped[0].UID)
}

func TestListMessagesTotalsSize(t *testing.T) {
	h, fake, _ := newTestHandler(t, []error{nil})
	fake.listEntries = []gopop3.MessageID{{ID: 1, Size: 100}, {ID: 2, Size: 250}}
	require.NoError(t, h.Connect())

	ids, total, err := h.ListMessages()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)
	assert.Equal(t, 350, total)
}

func TestDeleteMessagesCountsFailures(t *testing.T) {
	h, fake, _ := newTestHandler(t, []error{nil})
	require.NoError(t, h.Connect())

	deleted, failed := h.DeleteMessages([]int{1, 2})
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []int{1, 2}, fake.deleted)

	h.Quit()
	deleted, failed = h.DeleteMessages([]int{3})
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 1, failed)
}

func TestCapabilitiesParsesListing(t *testing.T) {
	h, fake, _ := newTestHandler(t, []error{nil})
	fake.capaBuf = bytes.NewBufferString("TOP\r\nUIDL\r\nSTLS\r\n.\r\n")
	require.NoError(t, h.Connect())

	caps, err := h.Capabilities()
	require.NoError(t, err)
	assert.Equal(t, []string{"TOP", "UIDL", "STLS"}, caps)
}

func TestCapabilitiesUnsupportedIsNotFatal(t *testing.T) {
	h, fake, _ := newTestHandler(t, []error{nil})
	fake.capaErr = errors.New("-ERR unknown command")
	require.NoError(t, h.Connect())

	caps, err := h.Capabilities()
	assert.NoError(t, err)
	assert.Nil(t, caps)
}

func TestOperationsRequireConnection(t *testing.T) {
	h := NewHandler(testEndpoint(), testLogger())

	_, _, err := h.ListMessages()
	assert.ErrorIs(t, err, mailerr.ErrNotConnected)
	_, err = h.FetchMessage(1)
	assert.ErrorIs(t, err, mailerr.ErrNotConnected)
	assert.ErrorIs(t, h.DeleteMessage(1), mailerr.ErrNotConnected)
	assert.ErrorIs(t, h.Reset(), mailerr.ErrNotConnected)
	assert.ErrorIs(t, h.Authenticate("", ""), mailerr.ErrNotConnected)
	assert.NoError(t, h.Quit())
}
