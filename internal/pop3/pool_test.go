package pop3

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atolye/mailwire/pkg/mailerr"
)

// scriptPool wires every handler in the pool to the same fake connection.
func scriptPool(t *testing.T, size int) (*HandlerPool, *fakePOP3Conn) {
	t.Helper()
	fake := &fakePOP3Conn{}
	p := NewHandlerPool(testEndpoint(), size, testLogger())
	for _, h := range p.all {
		h.retryDelay = 0
		h.dial = func() (conn, error) { return fake, nil }
	}
	return p, fake
}

func TestPoolConnectsLazily(t *testing.T) {
	p, fake := scriptPool(t, 2)

	h, err := p.Acquire()
	require.NoError(t, err)
	assert.True(t, h.Connected())
	assert.Equal(t, "bob", fake.authUser)
	p.Release(h)
}

func TestPoolExhaustion(t *testing.T) {
	p, _ := scriptPool(t, 1)

	h, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, mailerr.ErrPoolExhausted)

	p.Release(h)
	h2, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, h, h2)
	p.Release(h2)
}

func TestPoolReleaseResetsDeletionMarks(t *testing.T) {
	p, fake := scriptPool(t, 1)

	h, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, h.DeleteMessage(1))

	p.Release(h)
	assert.Equal(t, 1, fake.rsets)
}

func TestPoolDropsConnectionWhenResetFails(t *testing.T) {
	p, fake := scriptPool(t, 1)

	h, err := p.Acquire()
	require.NoError(t, err)

	fake.rsetErr = errors.New("-ERR nope")
	p.Release(h)
	assert.False(t, h.Connected())
	assert.Equal(t, 1, fake.quits)

	// The next acquire rebuilds the session.
	fake.rsetErr = nil
	h, err = p.Acquire()
	require.NoError(t, err)
	assert.True(t, h.Connected())
	p.Release(h)
}

func TestPoolAcquirePingsIdleSession(t *testing.T) {
	p, fake := scriptPool(t, 1)

	h, err := p.Acquire()
	require.NoError(t, err)
	p.Release(h)

	h, err = p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, fake.noops)
	p.Release(h)
}

func TestPoolAcquireRebuildsDeadIdleSession(t *testing.T) {
	p, fake := scriptPool(t, 1)

	h, err := p.Acquire()
	require.NoError(t, err)
	p.Release(h)

	// The server dropped the idle session; the NOOP check notices and the
	// handler reconnects before being handed out.
	fake.noopErr = errors.New("-ERR connection closed")
	fake.authUser = ""
	h, err = p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, fake.quits)
	assert.True(t, h.Connected())
	assert.Equal(t, "bob", fake.authUser)
	p.Release(h)
}

func TestPoolConnectFailureReturnsHandler(t *testing.T) {
	p := NewHandlerPool(testEndpoint(), 1, testLogger())
	calls := 0
	p.all[0].retryDelay = 0
	p.all[0].dial = func() (conn, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("tls: bad certificate")
		}
		return &fakePOP3Conn{}, nil
	}

	_, err := p.Acquire()
	assert.True(t, mailerr.IsConnection(err))

	// The handler went back to the free list; a later acquire retries.
	h, err := p.Acquire()
	require.NoError(t, err)
	p.Release(h)
}

func TestPoolCloseAll(t *testing.T) {
	p, fake := scriptPool(t, 2)

	h, err := p.Acquire()
	require.NoError(t, err)
	p.Release(h)

	p.CloseAll()
	assert.Equal(t, 1, fake.quits)

	h, err = p.Acquire()
	require.NoError(t, err)
	assert.True(t, h.Connected())
	p.Release(h)
}
