package smtpout

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/atolye/mailwire/internal/metrics"
	"github.com/atolye/mailwire/internal/pool"
	"github.com/atolye/mailwire/pkg/models"
)

const defaultMaxAttempts = 3

var defaultRetryDelays = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// transport is the slice of *smtp.Client the sender drives. Tests swap in
// scripted implementations.
type transport interface {
	Mail(from string, opts *smtp.MailOptions) error
	Rcpt(to string, opts *smtp.RcptOptions) error
	Data() (io.WriteCloser, error)
	Noop() error
	Quit() error
	Close() error
}

// smtpConn adapts a transport to pool.Conn: the pool checks liveness with
// NOOP and shuts down with QUIT.
type smtpConn struct {
	transport
}

func (c *smtpConn) Ping() error { return c.Noop() }

func (c *smtpConn) Close() error {
	if err := c.transport.Quit(); err != nil {
		return c.transport.Close()
	}
	return nil
}

// DialFunc returns a pool.DialFunc that dials, secures and authenticates
// an SMTP client according to the endpoint's encryption mode.
func DialFunc() pool.DialFunc {
	return func(ctx context.Context, ep models.Endpoint) (pool.Conn, error) {
		dialer := &net.Dialer{Timeout: ep.Timeout()}

		var c *smtp.Client
		switch ep.Encryption {
		case models.EncryptionTLS:
			nc, err := tls.DialWithDialer(dialer, "tcp", ep.Addr(), &tls.Config{ServerName: ep.Host})
			if err != nil {
				return nil, err
			}
			c = smtp.NewClient(nc)
		case models.EncryptionSTARTTLS:
			nc, err := dialer.DialContext(ctx, "tcp", ep.Addr())
			if err != nil {
				return nil, err
			}
			c, err = smtp.NewClientStartTLS(nc, &tls.Config{ServerName: ep.Host})
			if err != nil {
				nc.Close()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		default:
			nc, err := dialer.DialContext(ctx, "tcp", ep.Addr())
			if err != nil {
				return nil, err
			}
			c = smtp.NewClient(nc)
		}

		c.CommandTimeout = ep.Timeout()
		c.SubmissionTimeout = ep.Timeout()

		if ep.Username != "" {
			if err := c.Auth(sasl.NewPlainClient("", ep.Username, ep.Password)); err != nil {
				c.Close()
				return nil, fmt.Errorf("auth %s: %w", ep.Username, err)
			}
		}
		return &smtpConn{transport: c}, nil
	}
}

// SenderOptions tune delivery. Zero values pick the defaults.
type SenderOptions struct {
	MaxAttempts int
	RetryDelays []time.Duration
	// RetryableCodes overrides the default policy of retrying every 4xx
	// reply. When set, only the listed codes are treated as transient.
	RetryableCodes map[int]bool
}

func (o SenderOptions) withDefaults() SenderOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if len(o.RetryDelays) == 0 {
		o.RetryDelays = defaultRetryDelays
	}
	return o
}

// Sender delivers outbound messages through pooled SMTP connections.
type Sender struct {
	pool     *pool.Pool
	endpoint models.Endpoint
	opts     SenderOptions
	logger   *slog.Logger

	// sleep is swappable so tests don't wait out the retry delays.
	sleep func(time.Duration)
}

// NewSender wraps the pool for one delivery endpoint.
func NewSender(p *pool.Pool, ep models.Endpoint, opts SenderOptions, logger *slog.Logger) *Sender {
	return &Sender{
		pool:     p,
		endpoint: ep,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "smtp", "endpoint", ep.Addr()),
		sleep:    time.Sleep,
	}
}

// Send validates and delivers the message. With retry enabled, transient
// failures are reattempted up to MaxAttempts with growing pauses; the
// returned result carries the status, per-recipient rejections and how
// many retries were spent.
func (s *Sender) Send(ctx context.Context, msg *models.OutboundMessage, retry bool) models.DeliveryResult {
	if err := Validate(msg); err != nil {
		s.logger.Warn("message rejected before delivery", "error", err)
		metrics.DeliveryResults.WithLabelValues(string(models.DeliveryInvalid)).Inc()
		return models.DeliveryResult{Status: models.DeliveryInvalid, ErrorMessage: err.Error()}
	}

	attempts := 1
	if retry {
		attempts = s.opts.MaxAttempts
	}

	var result models.DeliveryResult
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			s.sleep(s.retryDelay(attempt - 1))
			metrics.DeliveryRetries.Inc()
			s.logger.Info("retrying delivery", "attempt", attempt+1, "of", attempts)
		}

		result = s.attempt(ctx, msg)
		result.RetryCount = attempt
		if !result.Retryable {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	metrics.DeliveryResults.WithLabelValues(string(result.Status)).Inc()
	s.logger.Info("delivery finished",
		"status", result.Status, "code", result.Code,
		"retries", result.RetryCount, "message_id", result.MessageID)
	return result
}

func (s *Sender) attempt(ctx context.Context, msg *models.OutboundMessage) models.DeliveryResult {
	lease, err := s.pool.Acquire(ctx, s.endpoint)
	if err != nil {
		// No connection is always worth another try: the pool may free
		// up or the server may come back.
		return models.DeliveryResult{
			Status:       models.DeliveryTempFailed,
			ErrorMessage: err.Error(),
			Retryable:    true,
		}
	}

	tc, ok := lease.Conn().(*smtpConn)
	if !ok {
		s.pool.Discard(lease)
		return models.DeliveryResult{
			Status:       models.DeliveryFailed,
			ErrorMessage: "pool returned a non-SMTP connection",
		}
	}

	raw, messageID, err := buildMessage(msg, s.endpoint.Host)
	if err != nil {
		s.pool.Release(lease)
		return models.DeliveryResult{Status: models.DeliveryFailed, ErrorMessage: err.Error()}
	}

	if err := tc.Mail(msg.From, nil); err != nil {
		s.pool.Discard(lease)
		return s.classify(err, "MAIL FROM")
	}

	failures := make(map[string]string)
	accepted := 0
	for _, rcpt := range msg.Recipients() {
		err := tc.Rcpt(rcpt, nil)
		if err == nil {
			accepted++
			continue
		}
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			failures[rcpt] = fmt.Sprintf("%d %s", smtpErr.Code, smtpErr.Message)
			continue
		}
		s.pool.Discard(lease)
		return s.classify(err, "RCPT TO")
	}
	if accepted == 0 {
		s.pool.Discard(lease)
		return models.DeliveryResult{
			Status:            models.DeliveryRejected,
			ErrorMessage:      "all recipients rejected",
			RecipientFailures: failures,
		}
	}

	if err := s.writeData(tc, raw); err != nil {
		s.pool.Discard(lease)
		return s.classify(err, "DATA")
	}

	s.pool.Release(lease)
	result := models.DeliveryResult{
		Status:    models.DeliverySuccess,
		MessageID: messageID,
		SentAt:    time.Now(),
	}
	if len(failures) > 0 {
		// The message went out to the accepted recipients, but a
		// rejected address is a permanent per-address problem, so the
		// overall result is a rejection, never a retry.
		result.Status = models.DeliveryRejected
		result.RecipientFailures = failures
		result.ErrorMessage = fmt.Sprintf("%d recipient(s) rejected", len(failures))
	}
	return result
}

func (s *Sender) writeData(tc *smtpConn, raw []byte) error {
	w, err := tc.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// classify maps an SMTP failure to a delivery status. Replies with a
// retryable code come back as temp_failed; other replies are terminal.
// Transport-level errors always earn a retry on a fresh connection.
func (s *Sender) classify(err error, phase string) models.DeliveryResult {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		res := models.DeliveryResult{
			Code:         smtpErr.Code,
			ErrorMessage: fmt.Sprintf("%s: %d %s", phase, smtpErr.Code, smtpErr.Message),
		}
		if s.retryableCode(smtpErr.Code) {
			res.Status = models.DeliveryTempFailed
			res.Retryable = true
		} else if phase == "MAIL FROM" || phase == "RCPT TO" {
			res.Status = models.DeliveryRejected
		} else {
			res.Status = models.DeliveryFailed
		}
		return res
	}
	return models.DeliveryResult{
		Status:       models.DeliveryTempFailed,
		ErrorMessage: fmt.Sprintf("%s: %v", phase, err),
		Retryable:    true,
	}
}

func (s *Sender) retryableCode(code int) bool {
	if s.opts.RetryableCodes != nil {
		return s.opts.RetryableCodes[code]
	}
	return code >= 400 && code < 500
}

func (s *Sender) retryDelay(i int) time.Duration {
	if i >= len(s.opts.RetryDelays) {
		return s.opts.RetryDelays[len(s.opts.RetryDelays)-1]
	}
	return s.opts.RetryDelays[i]
}
