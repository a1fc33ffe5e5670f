package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/queue"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// CheckInDispatcher consumes the checkin queue: for each freshly created
// check-in it fans out notification jobs to the enabled channels. It never
// mutates escalation state; confirmations arrive out of band through the
// HTTP path.
type CheckInDispatcher struct {
	store *store.Store
	queue *queue.Queue
}

// NewCheckInDispatcher creates the check-in dispatch handler.
func NewCheckInDispatcher(st *store.Store, q *queue.Queue) *CheckInDispatcher {
	return &CheckInDispatcher{store: st, queue: q}
}

// Handle dispatches one check-in. Idempotent: a check-in that already left
// pending, or whose owner paused, is acknowledged without effect, and the
// notification enqueues coalesce on the check-in id.
func (d *CheckInDispatcher) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.CheckInPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("checkin payload: %w", err)
	}

	checkIn, err := d.store.GetCheckIn(ctx, payload.CheckInID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The owning user was deleted after enqueue; nothing to do.
			return nil
		}
		return err
	}
	if checkIn.Status != domain.CheckInPending {
		return nil
	}

	cfg, err := d.store.GetPollingConfig(ctx, checkIn.UserID)
	if err != nil {
		return err
	}
	if cfg.Status == domain.PollingPaused || cfg.Status == domain.PollingTriggered {
		return nil
	}

	user, err := d.store.GetUser(ctx, checkIn.UserID)
	if err != nil {
		return err
	}

	kind := queue.KindCheckInPrompt
	if checkIn.GraceLevel > 0 {
		kind = queue.KindGraceWarning
	}

	var attempted []domain.Channel

	if cfg.EmailEnabled {
		_, err := d.queue.Enqueue(ctx, queue.QueueEmail, queue.EmailKey(kind, checkIn.ID),
			queue.EmailPayload{
				UserID:    checkIn.UserID,
				Kind:      kind,
				CheckInID: checkIn.ID,
				Level:     checkIn.GraceLevel,
			}, d.store.Now())
		if err != nil {
			return err
		}
		attempted = append(attempted, domain.ChannelEmail)
	}

	if cfg.SMSEnabled {
		if user.Phone == "" {
			// SMS enabled but no number on file: drop the channel and
			// leave a trace instead of retrying into the same wall.
			if err := d.auditChannelSkipped(ctx, checkIn); err != nil {
				return err
			}
		} else {
			_, err := d.queue.Enqueue(ctx, queue.QueueSMS, queue.SMSKey(kind, checkIn.ID),
				queue.SMSPayload{
					UserID:    checkIn.UserID,
					Kind:      kind,
					CheckInID: checkIn.ID,
					Level:     checkIn.GraceLevel,
				}, d.store.Now())
			if err != nil {
				return err
			}
			attempted = append(attempted, domain.ChannelSMS)
		}
	}

	if len(attempted) == 0 {
		log.Printf("[CheckInDispatcher] Check-in %s has no reachable channel", checkIn.ID)
		return nil
	}

	if err := d.store.MarkCheckInSent(ctx, checkIn.ID, attempted); err != nil {
		return err
	}

	via := make([]string, len(attempted))
	for i, ch := range attempted {
		via[i] = string(ch)
	}
	return d.store.AppendAudit(ctx, &domain.AuditLog{
		UserID:    &checkIn.UserID,
		EventType: domain.AuditCheckInSent,
		Details: map[string]any{
			"check_in_id": checkIn.ID,
			"grace_level": checkIn.GraceLevel,
			"sent_via":    via,
		},
	})
}

func (d *CheckInDispatcher) auditChannelSkipped(ctx context.Context, c *domain.CheckIn) error {
	return d.store.AppendAudit(ctx, &domain.AuditLog{
		UserID:    &c.UserID,
		EventType: domain.AuditChannelSkipped,
		Details: map[string]any{
			"check_in_id": c.ID,
			"channel":     string(domain.ChannelSMS),
			"reason":      "no phone number on file",
		},
	})
}
