// Package notify renders and delivers the platform's outbound messages:
// check-in prompts, grace warnings, trustee verification and access mail,
// and final letters. Transports are pluggable behind small interfaces so
// the delivery workers never know which provider is wired in.
package notify

import (
	"context"
	"errors"
	"log"

	"github.com/eternalsentinel/sentinel/internal/pkg/logger"
)

// Email is one outbound email message, fully rendered.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// SMS is one outbound text message, fully rendered.
type SMS struct {
	To      string
	Message string
}

// ErrNoRecipient marks a message whose recipient cannot be resolved (a
// user with SMS enabled but no phone number). It is not retriable: the
// channel is dropped and audited rather than retried into the same wall.
var ErrNoRecipient = errors.New("no recipient")

// Mailer delivers email. Implementations return an error for transient
// transport failures; the email queue retries with backoff.
type Mailer interface {
	SendEmail(ctx context.Context, msg *Email) error
}

// Texter delivers SMS.
type Texter interface {
	SendSMS(ctx context.Context, msg *SMS) error
}

// LogMailer is the dev-mode mailer: it logs instead of sending, with the
// recipient redacted. Used when no email credentials are configured.
type LogMailer struct{}

func (LogMailer) SendEmail(ctx context.Context, msg *Email) error {
	log.Printf("[Notify] email transport disabled, dropping %q to %s",
		msg.Subject, logger.RedactEmail(msg.To))
	return nil
}

// LogTexter is the dev-mode SMS transport.
type LogTexter struct{}

func (LogTexter) SendSMS(ctx context.Context, msg *SMS) error {
	log.Printf("[Notify] sms transport disabled, dropping message to %s",
		logger.RedactPhone(msg.To))
	return nil
}
