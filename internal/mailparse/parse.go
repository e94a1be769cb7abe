// Package mailparse turns raw RFC822 payloads into the shared message
// model. It deliberately stops at headers, one level of text/html
// multipart separation, and attachment metadata; anything deeper stays on
// the server.
package mailparse

import (
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/atolye/mailwire/pkg/models"
)

// Parse reads one raw message and extracts headers, bodies and attachment
// metadata. Flag and folder fields are left zeroed; the protocol handler
// that fetched the message owns those.
func Parse(r io.Reader) (*models.Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("create mail reader: %w", err)
	}

	msg := &models.Message{}
	parseHeader(&mr.Header, msg)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken part does not void what was already parsed.
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ct, "text/html") && msg.HTMLBody == "":
				msg.HTMLBody = string(body)
			case strings.HasPrefix(ct, "text/plain") && msg.TextBody == "":
				msg.TextBody = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			n, _ := io.Copy(io.Discard, part.Body)
			msg.Attachments = append(msg.Attachments, models.Attachment{
				Filename:    filename,
				ContentType: ct,
				Size:        int(n),
			})
		}
	}

	if msg.TextBody == "" && msg.HTMLBody != "" {
		if text, err := HTMLToText(msg.HTMLBody); err == nil {
			msg.TextBody = text
		}
	}

	return msg, nil
}

func parseHeader(h *mail.Header, msg *models.Message) {
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		msg.MessageID = "<" + id + ">"
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = formatAddress(from[0])
	}
	msg.To = addressStrings(h, "To")
	msg.Cc = addressStrings(h, "Cc")
	msg.Bcc = addressStrings(h, "Bcc")

	if date, err := h.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date.UnixMilli()
	} else {
		msg.ReceivedAt = time.Now().UnixMilli()
	}
}

func addressStrings(h *mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Address != "" {
			out = append(out, a.Address)
		}
	}
	return out
}

func formatAddress(a *mail.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Address)
	}
	return a.Address
}
