// Package smtpout validates and delivers outbound messages over SMTP,
// classifying every failure as retryable or terminal so callers can make
// retry decisions without parsing server replies themselves.
package smtpout

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/atolye/mailwire/pkg/mailerr"
	"github.com/atolye/mailwire/pkg/models"
)

const (
	maxAddressLength    = 254
	maxLocalPartLength  = 64
	maxSubjectLength    = 998
	maxRecipients       = 100
	maxAttachmentsBytes = 25 << 20
)

// Practical RFC 5321 address shape; the domain must carry a TLD.
var addressRe = regexp.MustCompile(
	`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// Validate checks the outbound message before any network I/O. Every
// violation is a mailerr.ErrValidation; validation failures are never
// retried.
func Validate(msg *models.OutboundMessage) error {
	if err := validateAddress(msg.From); err != nil {
		return mailerr.Validation("sender %q: %v", msg.From, err)
	}
	if msg.ReplyTo != "" {
		if err := validateAddress(msg.ReplyTo); err != nil {
			return mailerr.Validation("reply-to %q: %v", msg.ReplyTo, err)
		}
	}

	recipients := msg.Recipients()
	if len(recipients) == 0 {
		return mailerr.Validation("no recipients")
	}
	if len(recipients) > maxRecipients {
		return mailerr.Validation("%d recipients exceeds the maximum of %d", len(recipients), maxRecipients)
	}
	for _, addr := range recipients {
		if err := validateAddress(addr); err != nil {
			return mailerr.Validation("recipient %q: %v", addr, err)
		}
	}

	if msg.Subject == "" {
		return mailerr.Validation("subject is empty")
	}
	if len(msg.Subject) > maxSubjectLength {
		return mailerr.Validation("subject exceeds %d characters", maxSubjectLength)
	}

	if msg.TextBody == "" && msg.HTMLBody == "" {
		return mailerr.Validation("message has neither text nor html body")
	}

	return validateAttachments(msg.Attachments)
}

func validateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if len(addr) > maxAddressLength {
		return fmt.Errorf("address exceeds %d characters", maxAddressLength)
	}
	if strings.Count(addr, "@") != 1 {
		return fmt.Errorf("address must contain exactly one @")
	}
	local, domain, _ := strings.Cut(addr, "@")
	if local == "" || domain == "" {
		return fmt.Errorf("empty local part or domain")
	}
	if len(local) > maxLocalPartLength {
		return fmt.Errorf("local part exceeds %d characters", maxLocalPartLength)
	}
	if !strings.Contains(domain, ".") {
		return fmt.Errorf("domain has no top-level domain")
	}
	if !addressRe.MatchString(addr) {
		return fmt.Errorf("malformed address")
	}
	return nil
}

func validateAttachments(attachments []models.OutboundAttachment) error {
	total := 0
	for i, att := range attachments {
		if att.Filename == "" {
			return mailerr.Validation("attachment %d has no filename", i)
		}
		if att.Data == "" {
			return mailerr.Validation("attachment %q has no data", att.Filename)
		}
		decoded, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			return mailerr.Validation("attachment %q is not valid base64", att.Filename)
		}
		total += len(decoded)
		if total > maxAttachmentsBytes {
			return mailerr.Validation("attachments exceed %d bytes", maxAttachmentsBytes)
		}
	}
	return nil
}
