package mailparse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainTextMessage(t *testing.T) {
	raw := "From: Alice <alice@example.com>\r\n" +
		"To: bob@example.com, carol@example.com\r\n" +
		"Cc: dave@example.com\r\n" +
		"Subject: hello\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Message-ID: <abc123@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"hi there\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "Alice <alice@example.com>", msg.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, msg.To)
	assert.Equal(t, []string{"dave@example.com"}, msg.Cc)
	assert.Equal(t, "hello", msg.Subject)
	assert.Equal(t, "<abc123@example.com>", msg.MessageID)
	assert.Equal(t, "hi there", strings.TrimSpace(msg.TextBody))
	assert.Empty(t, msg.HTMLBody)
	assert.Empty(t, msg.Attachments)

	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.FixedZone("", -7*3600))
	assert.Equal(t, want.UnixMilli(), msg.ReceivedAt)
}

func TestParseMultipartAlternative(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: both bodies\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--b1\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html body</p>\r\n" +
		"--b1--\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "plain body", strings.TrimSpace(msg.TextBody))
	assert.Equal(t, "<p>html body</p>", strings.TrimSpace(msg.HTMLBody))
	assert.Equal(t, "alice@example.com", msg.From)
}

func TestParseHTMLOnlyDerivesTextBody(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: html only\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>first line</p><p>second line</p></body></html>\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Contains(t, msg.HTMLBody, "<p>first line</p>")
	assert.Equal(t, "first line\nsecond line", msg.TextBody)
}

func TestParseAttachmentMetadata(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: with attachment\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b2\"\r\n" +
		"\r\n" +
		"--b2\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"see attached\r\n" +
		"--b2\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"\r\n" +
		"0123456789\r\n" +
		"--b2--\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "report.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, 10, att.Size)
	assert.Equal(t, 1, msg.AttachmentCount())
	assert.Equal(t, "see attached", strings.TrimSpace(msg.TextBody))
}

func TestParseMissingDateFallsBackToNow(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: undated\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n"

	before := time.Now().UnixMilli()
	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, msg.ReceivedAt, before)
	assert.LessOrEqual(t, msg.ReceivedAt, after)
}

func TestParseToleratesNonMailInput(t *testing.T) {
	// The reader is lenient: junk input yields an empty message, not an
	// error, and callers decide what to do with it.
	msg, err := Parse(strings.NewReader("this is not an email"))
	require.NoError(t, err)
	assert.Empty(t, msg.From)
	assert.Empty(t, msg.To)
	assert.Empty(t, msg.Subject)
	assert.Empty(t, msg.Attachments)
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body>
		<h1>Title</h1>
		<p>Some   spaced&nbsp;&nbsp;words</p>
		<script>alert("nope")</script>
		<div>footer</div>
	</body></html>`

	text, err := HTMLToText(html)
	require.NoError(t, err)

	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "footer")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
}

func TestHTMLToTextEmpty(t *testing.T) {
	text, err := HTMLToText("")
	require.NoError(t, err)
	assert.Empty(t, text)
}
