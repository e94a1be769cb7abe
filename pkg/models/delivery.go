package models

import "time"

// DeliveryStatus is the terminal classification of one send attempt.
type DeliveryStatus string

const (
	// DeliverySuccess means the server accepted the message for all
	// recipients.
	DeliverySuccess DeliveryStatus = "success"
	// DeliveryRejected means the sender or one or more recipients were
	// refused; retrying will not help.
	DeliveryRejected DeliveryStatus = "rejected"
	// DeliveryTempFailed is a transient failure (4xx reply, timeout,
	// reset); the same send may succeed if repeated.
	DeliveryTempFailed DeliveryStatus = "temp_failed"
	// DeliveryFailed is a terminal server-side failure (5xx reply).
	DeliveryFailed DeliveryStatus = "failed"
	// DeliveryInvalid means validation rejected the message before any
	// network I/O happened.
	DeliveryInvalid DeliveryStatus = "invalid"
)

// DeliveryResult reports the outcome of one SMTP send. It is created once
// per attempt chain and never mutated afterwards.
type DeliveryResult struct {
	Status            DeliveryStatus
	MessageID         string
	Code              int
	ErrorMessage      string
	RecipientFailures map[string]string
	SentAt            time.Time
	RetryCount        int
	Retryable         bool
}

// OutboundAttachment carries one attachment to be sent; Data is base64.
type OutboundAttachment struct {
	Filename    string
	ContentType string
	Data        string
}

// OutboundMessage is the compose-layer input to the SMTP handler.
type OutboundMessage struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []OutboundAttachment
	Headers     map[string]string
}

// Recipients returns the combined delivery list. Bcc addresses are included
// here but never appear in the message headers.
func (m *OutboundMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}
