package smtpout

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/atolye/mailwire/pkg/models"
)

// buildMessage renders the outbound message as a MIME document and returns
// the raw bytes along with the generated Message-ID. Bcc recipients are
// deliberately absent from the headers; they only appear in the envelope.
func buildMessage(msg *models.OutboundMessage, host string) ([]byte, string, error) {
	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), host)

	var h mail.Header
	h.SetDate(time.Now())
	h.SetMessageID(messageID)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	h.SetAddressList("To", toAddressList(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toAddressList(msg.Cc))
	}
	if msg.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: msg.ReplyTo}})
	}
	for k, v := range msg.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer
	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create mime writer: %w", err)
	}

	if err := writeBody(w, msg); err != nil {
		return nil, "", err
	}
	for _, att := range msg.Attachments {
		if err := writeAttachment(w, att); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finish mime document: %w", err)
	}

	return buf.Bytes(), messageID, nil
}

func writeBody(w *mail.Writer, msg *models.OutboundMessage) error {
	if msg.TextBody != "" && msg.HTMLBody != "" {
		iw, err := w.CreateInline()
		if err != nil {
			return fmt.Errorf("create alternative part: %w", err)
		}
		if err := writeInlinePart(iw, "text/plain", msg.TextBody); err != nil {
			return err
		}
		if err := writeInlinePart(iw, "text/html", msg.HTMLBody); err != nil {
			return err
		}
		return iw.Close()
	}

	contentType, body := "text/plain", msg.TextBody
	if msg.HTMLBody != "" {
		contentType, body = "text/html", msg.HTMLBody
	}
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreateSingleInline(th)
	if err != nil {
		return fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return pw.Close()
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

func writeAttachment(w *mail.Writer, att models.OutboundAttachment) error {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return fmt.Errorf("decode attachment %q: %w", att.Filename, err)
	}
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.SetFilename(att.Filename)
	ah.SetContentType(contentType, nil)
	aw, err := w.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create attachment %q: %w", att.Filename, err)
	}
	if _, err := aw.Write(data); err != nil {
		return fmt.Errorf("write attachment %q: %w", att.Filename, err)
	}
	return aw.Close()
}

func toAddressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}
