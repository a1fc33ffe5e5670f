package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/notify"
	"github.com/eternalsentinel/sentinel/internal/pkg/seal"
	"github.com/eternalsentinel/sentinel/internal/queue"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// EmailDeliverer consumes the email queue. It re-reads the referenced
// record at send time and drops the job when the send no longer applies:
// a confirmed check-in, a revoked trustee, an already delivered letter.
type EmailDeliverer struct {
	store   *store.Store
	builder *notify.Builder
	mailer  notify.Mailer
	sealKey seal.Key
}

// NewEmailDeliverer creates the email delivery handler. sealKey unlocks
// final letter bodies for outbound rendering.
func NewEmailDeliverer(st *store.Store, b *notify.Builder, m notify.Mailer, key seal.Key) *EmailDeliverer {
	return &EmailDeliverer{store: st, builder: b, mailer: m, sealKey: key}
}

// Handle sends one email job.
func (d *EmailDeliverer) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("email payload: %w", err)
	}

	switch payload.Kind {
	case queue.KindCheckInPrompt, queue.KindGraceWarning:
		return d.sendCheckIn(ctx, &payload)
	case queue.KindTrusteeInvite:
		return d.sendTrusteeInvite(ctx, &payload)
	case queue.KindTrusteeAccess:
		return d.sendTrusteeAccess(ctx, &payload)
	case queue.KindLetterDelivery:
		return d.sendLetter(ctx, &payload)
	default:
		// Unknown kinds dead-letter immediately instead of burning retries.
		log.Printf("[EmailDeliverer] Unknown kind %q for job %s", payload.Kind, job.ID)
		return nil
	}
}

func (d *EmailDeliverer) sendCheckIn(ctx context.Context, p *queue.EmailPayload) error {
	checkIn, err := d.store.GetCheckIn(ctx, p.CheckInID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if checkIn.Status != domain.CheckInPending {
		return nil
	}

	user, err := d.store.GetUser(ctx, checkIn.UserID)
	if err != nil {
		return err
	}

	var msg *notify.Email
	if p.Kind == queue.KindGraceWarning {
		msg, err = d.builder.GraceWarningEmail(user, checkIn, d.store.Now())
	} else {
		msg, err = d.builder.CheckInEmail(user, checkIn, d.store.Now())
	}
	if err != nil {
		return d.handleBuildErr(ctx, err, checkIn.UserID, p.Kind, map[string]any{"check_in_id": checkIn.ID})
	}
	return d.mailer.SendEmail(ctx, msg)
}

func (d *EmailDeliverer) sendTrusteeInvite(ctx context.Context, p *queue.EmailPayload) error {
	trustee, err := d.store.GetTrustee(ctx, p.TrusteeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	// A trustee verified or revoked between enqueue and send has no use
	// for the invitation.
	if trustee.Status != domain.TrusteePending {
		return nil
	}

	user, err := d.store.GetUser(ctx, trustee.UserID)
	if err != nil {
		return err
	}

	msg, err := d.builder.TrusteeInviteEmail(user, trustee)
	if err != nil {
		return d.handleBuildErr(ctx, err, trustee.UserID, p.Kind, map[string]any{"trustee_id": trustee.ID})
	}
	return d.mailer.SendEmail(ctx, msg)
}

func (d *EmailDeliverer) sendTrusteeAccess(ctx context.Context, p *queue.EmailPayload) error {
	trustee, err := d.store.GetTrustee(ctx, p.TrusteeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if trustee.Status == domain.TrusteeRevoked || trustee.AccessToken == nil {
		return nil
	}

	user, err := d.store.GetUser(ctx, trustee.UserID)
	if err != nil {
		return err
	}

	msg, err := d.builder.TrusteeAccessEmail(user, trustee)
	if err != nil {
		return d.handleBuildErr(ctx, err, trustee.UserID, p.Kind, map[string]any{"trustee_id": trustee.ID})
	}
	if err := d.mailer.SendEmail(ctx, msg); err != nil {
		return err
	}

	// The reconciliation sweep keys off this entry: its absence means the
	// trustee was granted a token but never told, and the job gets
	// re-enqueued.
	return d.store.AppendAudit(ctx, &domain.AuditLog{
		UserID:    &trustee.UserID,
		EventType: domain.AuditTrusteeNotified,
		Details: map[string]any{
			"trustee_id": trustee.ID,
			"channel":    string(domain.ChannelEmail),
		},
	})
}

func (d *EmailDeliverer) sendLetter(ctx context.Context, p *queue.EmailPayload) error {
	letter, err := d.store.GetLetter(ctx, p.UserID, p.LetterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if letter.Status != domain.LetterReady {
		return nil
	}

	body, err := seal.Open(d.sealKey, letter.EncryptedBody, letter.BodyNonce)
	if err != nil {
		// Wrong key or corrupt ciphertext; retrying cannot fix it.
		log.Printf("[EmailDeliverer] Letter %s cannot be unsealed: %v", letter.ID, err)
		return d.auditSkip(ctx, p.UserID, p.Kind, map[string]any{
			"letter_id": letter.ID,
			"reason":    "letter body could not be unsealed",
		})
	}

	user, err := d.store.GetUser(ctx, p.UserID)
	if err != nil {
		return err
	}

	msg, err := d.builder.LetterEmail(user, letter, string(body))
	if err != nil {
		return d.handleBuildErr(ctx, err, p.UserID, p.Kind, map[string]any{"letter_id": letter.ID})
	}
	if err := d.mailer.SendEmail(ctx, msg); err != nil {
		return err
	}

	if err := d.store.MarkLetterDelivered(ctx, letter.ID); err != nil {
		return err
	}
	return d.store.AppendAudit(ctx, &domain.AuditLog{
		UserID:    &p.UserID,
		EventType: domain.AuditLetterDelivered,
		Details: map[string]any{
			"letter_id":       letter.ID,
			"recipient_email": letter.RecipientEmail,
		},
	})
}

// handleBuildErr completes jobs whose recipient is unresolvable and
// propagates everything else to retry.
func (d *EmailDeliverer) handleBuildErr(ctx context.Context, err error, userID, kind string, details map[string]any) error {
	if errors.Is(err, notify.ErrNoRecipient) {
		details["channel"] = string(domain.ChannelEmail)
		details["reason"] = "no email address on file"
		return d.auditSkip(ctx, userID, kind, details)
	}
	return err
}

func (d *EmailDeliverer) auditSkip(ctx context.Context, userID, kind string, details map[string]any) error {
	details["kind"] = kind
	return d.store.AppendAudit(ctx, &domain.AuditLog{
		UserID:    &userID,
		EventType: domain.AuditChannelSkipped,
		Details:   details,
	})
}

// SMSDeliverer consumes the sms queue. Same shape as EmailDeliverer with
// the trimmed-down message set SMS supports.
type SMSDeliverer struct {
	store   *store.Store
	builder *notify.Builder
	texter  notify.Texter
}

// NewSMSDeliverer creates the SMS delivery handler.
func NewSMSDeliverer(st *store.Store, b *notify.Builder, t notify.Texter) *SMSDeliverer {
	return &SMSDeliverer{store: st, builder: b, texter: t}
}

// Handle sends one SMS job.
func (d *SMSDeliverer) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.SMSPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("sms payload: %w", err)
	}

	switch payload.Kind {
	case queue.KindCheckInPrompt, queue.KindGraceWarning:
		return d.sendCheckIn(ctx, &payload)
	case queue.KindTrusteeAccess:
		return d.sendTrusteeAccess(ctx, &payload)
	default:
		log.Printf("[SMSDeliverer] Unknown kind %q for job %s", payload.Kind, job.ID)
		return nil
	}
}

func (d *SMSDeliverer) sendCheckIn(ctx context.Context, p *queue.SMSPayload) error {
	checkIn, err := d.store.GetCheckIn(ctx, p.CheckInID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if checkIn.Status != domain.CheckInPending {
		return nil
	}

	user, err := d.store.GetUser(ctx, checkIn.UserID)
	if err != nil {
		return err
	}

	var msg *notify.SMS
	if p.Kind == queue.KindGraceWarning {
		msg, err = d.builder.GraceWarningSMS(user, checkIn, d.store.Now())
	} else {
		msg, err = d.builder.CheckInSMS(user, checkIn, d.store.Now())
	}
	if err != nil {
		return d.handleBuildErr(ctx, err, checkIn.UserID, p.Kind, map[string]any{"check_in_id": checkIn.ID})
	}
	return d.texter.SendSMS(ctx, msg)
}

func (d *SMSDeliverer) sendTrusteeAccess(ctx context.Context, p *queue.SMSPayload) error {
	trustee, err := d.store.GetTrustee(ctx, p.TrusteeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if trustee.Status == domain.TrusteeRevoked || trustee.AccessToken == nil {
		return nil
	}

	user, err := d.store.GetUser(ctx, trustee.UserID)
	if err != nil {
		return err
	}

	msg, err := d.builder.TrusteeAccessSMS(user, trustee)
	if err != nil {
		return d.handleBuildErr(ctx, err, trustee.UserID, p.Kind, map[string]any{"trustee_id": trustee.ID})
	}
	return d.texter.SendSMS(ctx, msg)
}

func (d *SMSDeliverer) handleBuildErr(ctx context.Context, err error, userID, kind string, details map[string]any) error {
	if errors.Is(err, notify.ErrNoRecipient) {
		details["kind"] = kind
		details["channel"] = string(domain.ChannelSMS)
		details["reason"] = "no phone number on file"
		return d.store.AppendAudit(ctx, &domain.AuditLog{
			UserID:    &userID,
			EventType: domain.AuditChannelSkipped,
			Details:   details,
		})
	}
	return err
}
