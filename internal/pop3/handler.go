// Package pop3 implements stateless retrieval against single-mailbox
// POP3 servers. The protocol exposes no folders and no flags, so every
// returned message reports IsRead=false, IsStarred=false and an empty Bcc
// list. Deletions are only marks until the session quits.
package pop3

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	gopop3 "github.com/knadh/go-pop3"

	"github.com/atolye/mailwire/internal/mailparse"
	"github.com/atolye/mailwire/pkg/mailerr"
	"github.com/atolye/mailwire/pkg/models"
)

// conn is the slice of *gopop3.Conn the handler uses; tests script it.
type conn interface {
	Auth(user, pass string) error
	Stat() (int, int, error)
	List(msgID int) ([]gopop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
	Rset() error
	Noop() error
	Quit() error
	Cmd(cmd string, isMulti bool, args ...interface{}) (*bytes.Buffer, error)
}

// Handler is a retrieval client for one POP3 mailbox. Each Connect builds
// a fresh client; there is no reconnect-in-place.
type Handler struct {
	endpoint   models.Endpoint
	logger     *slog.Logger
	retryDelay time.Duration

	// dial is swapped by tests; the default builds a knadh/go-pop3 conn.
	dial func() (conn, error)

	conn          conn
	authenticated bool
}

// NewHandler creates a handler for the endpoint. Nothing is dialed until
// Connect.
func NewHandler(ep models.Endpoint, logger *slog.Logger) *Handler {
	h := &Handler{
		endpoint:   ep,
		logger:     logger.With("component", "pop3", "server", ep.Addr()),
		retryDelay: time.Second,
	}
	h.dial = func() (conn, error) {
		client := gopop3.New(gopop3.Opt{
			Host:        ep.Host,
			Port:        ep.Port,
			DialTimeout: ep.Timeout(),
			TLSEnabled:  ep.Encryption == models.EncryptionTLS,
		})
		return client.NewConn()
	}
	return h
}

// Connect dials the server, retrying transient network failures (timeout,
// DNS, connection refused) up to the endpoint's retry budget with a fresh
// client per attempt. Anything else fails immediately. Exhausting the
// budget returns a connection error.
func (h *Handler) Connect() error {
	retries := h.endpoint.Retries()

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		c, err := h.dial()
		if err == nil {
			h.conn = c
			h.authenticated = false
			h.logger.Info("connected", "attempt", attempt)
			return nil
		}

		lastErr = err
		if !isTransient(err) {
			return mailerr.Connection("connect %s: %v", h.endpoint.Addr(), err)
		}

		h.logger.Warn("connect attempt failed", "attempt", attempt, "of", retries, "error", err)
		if attempt < retries && h.retryDelay > 0 {
			time.Sleep(h.retryDelay)
		}
	}

	return mailerr.Connection("connect %s after %d attempts: %v", h.endpoint.Addr(), retries, lastErr)
}

// isTransient reports whether the dial failure is worth a retry.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// Authenticate performs the two-step USER/PASS login. Empty arguments fall
// back to the endpoint's configured credentials. Rejections surface as an
// authentication error that callers must not retry.
func (h *Handler) Authenticate(user, pass string) error {
	if h.conn == nil {
		return mailerr.ErrNotConnected
	}
	if user == "" {
		user = h.endpoint.Username
	}
	if pass == "" {
		pass = h.endpoint.Password
	}

	if err := h.conn.Auth(user, pass); err != nil {
		return mailerr.Authentication("login %s: %v", user, err)
	}

	h.authenticated = true
	h.logger.Info("authenticated", "user", user)
	return nil
}

// Quit ends the session, making pending deletion marks permanent.
func (h *Handler) Quit() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Quit()
	h.conn = nil
	h.authenticated = false
	if err != nil {
		return mailerr.Connection("quit: %v", err)
	}
	return nil
}

// Connected reports whether a live session exists.
func (h *Handler) Connected() bool { return h.conn != nil }

// ListMessages returns every message id plus the mailbox's total size in
// bytes.
func (h *Handler) ListMessages() ([]int, int, error) {
	if h.conn == nil {
		return nil, 0, mailerr.ErrNotConnected
	}

	entries, err := h.conn.List(0)
	if err != nil {
		return nil, 0, mailerr.Protocol("list: %v", err)
	}

	ids := make([]int, 0, len(entries))
	total := 0
	for _, e := range entries {
		ids = append(ids, e.ID)
		total += e.Size
	}
	return ids, total, nil
}

// FetchMessage retrieves and parses one message. POP3 carries no flags and
// no Bcc header knowledge, so IsRead and IsStarred are always false and
// Bcc is always empty.
func (h *Handler) FetchMessage(id int) (*models.Message, error) {
	if h.conn == nil {
		return nil, mailerr.ErrNotConnected
	}

	buf, err := h.conn.RetrRaw(id)
	if err != nil {
		return nil, mailerr.Protocol("retr %d: %v", id, err)
	}

	size := buf.Len()
	msg, err := mailparse.Parse(buf)
	if err != nil {
		return nil, mailerr.Protocol("parse %d: %v", id, err)
	}

	msg.UID = uint32(id)
	msg.Size = size
	msg.IsRead = false
	msg.IsStarred = false
	msg.Bcc = nil
	return msg, nil
}

// FetchMessages retrieves the given ids (all of them when ids is nil),
// best effort: a failing id lands in Skipped, never aborts the batch.
func (h *Handler) FetchMessages(ids []int) (models.FetchResult, error) {
	var res models.FetchResult
	if h.conn == nil {
		return res, mailerr.ErrNotConnected
	}

	if ids == nil {
		all, _, err := h.ListMessages()
		if err != nil {
			return res, err
		}
		ids = all
	}

	for _, id := range ids {
		msg, err := h.FetchMessage(id)
		if err != nil {
			h.logger.Warn("skipping message", "id", id, "error", err)
			res.Skipped = append(res.Skipped, models.SkippedMessage{UID: uint32(id), Err: err})
			continue
		}
		res.Messages = append(res.Messages, msg)
	}

	h.logger.Debug("fetched messages", "requested", len(ids), "fetched", len(res.Messages))
	return res, nil
}

// DeleteMessage marks one message for deletion. The mark only becomes
// permanent when the session quits.
func (h *Handler) DeleteMessage(id int) error {
	if h.conn == nil {
		return mailerr.ErrNotConnected
	}
	if err := h.conn.Dele(id); err != nil {
		return mailerr.Protocol("dele %d: %v", id, err)
	}
	return nil
}

// DeleteMessages marks each id for deletion, returning how many marks
// succeeded and how many failed.
func (h *Handler) DeleteMessages(ids []int) (deleted, failed int) {
	for _, id := range ids {
		if err := h.DeleteMessage(id); err != nil {
			h.logger.Warn("delete failed", "id", id, "error", err)
			failed++
			continue
		}
		deleted++
	}
	return deleted, failed
}

// Reset undoes every pending deletion mark in the session.
func (h *Handler) Reset() error {
	if h.conn == nil {
		return mailerr.ErrNotConnected
	}
	if err := h.conn.Rset(); err != nil {
		return mailerr.Protocol("rset: %v", err)
	}
	return nil
}

// Noop runs a NOOP round trip against the session. A failure means the
// server side is gone and the handler must be rebuilt with a fresh
// Connect.
func (h *Handler) Noop() error {
	if h.conn == nil {
		return mailerr.ErrNotConnected
	}
	if err := h.conn.Noop(); err != nil {
		return mailerr.Connection("noop: %v", err)
	}
	return nil
}

// Stat returns the mailbox message count and total size in bytes.
func (h *Handler) Stat() (count, size int, err error) {
	if h.conn == nil {
		return 0, 0, mailerr.ErrNotConnected
	}
	count, size, err = h.conn.Stat()
	if err != nil {
		return 0, 0, mailerr.Protocol("stat: %v", err)
	}
	return count, size, nil
}

// Capabilities returns the server's CAPA listing, empty when the server
// does not support the command.
func (h *Handler) Capabilities() ([]string, error) {
	if h.conn == nil {
		return nil, mailerr.ErrNotConnected
	}

	buf, err := h.conn.Cmd("CAPA", true)
	if err != nil {
		h.logger.Debug("capa not supported", "error", err)
		return nil, nil
	}

	var caps []string
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || line == "." {
			continue
		}
		caps = append(caps, line)
	}
	return caps, nil
}
