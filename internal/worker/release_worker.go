package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/escalation"
	"github.com/eternalsentinel/sentinel/internal/pkg/distlock"
	"github.com/eternalsentinel/sentinel/internal/pkg/token"
	"github.com/eternalsentinel/sentinel/internal/queue"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// Releaser runs the death protocol: the one-shot procedure that activates
// a user's trustees with fresh access tokens and queues their final
// letters for delivery.
//
// At-most-once holds through three layers: the release queue is consumed
// with concurrency 1, the release-runner distributed lock serializes
// across deployed worker processes, and the transaction's first act is a
// row-locked check that the config has not already triggered.
type Releaser struct {
	store *store.Store
	queue *queue.Queue
	mint  token.Minter
	lock  distlock.DistLock
}

// NewReleaser creates the release handler. lock is the release-runner
// lease shared by every worker process.
func NewReleaser(st *store.Store, q *queue.Queue, mint token.Minter, lock distlock.DistLock) *Releaser {
	return &Releaser{store: st, queue: q, mint: mint, lock: lock}
}

// errReleaseBusy signals that another process holds the release lock; the
// queue retries with backoff.
var errReleaseBusy = errors.New("release runner busy")

// Handle executes one release job.
func (r *Releaser) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.ReleasePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("release payload: %w", err)
	}
	if payload.Cause == "" {
		payload.Cause = queue.ReleaseCauseGraceTimeout
	}

	if r.lock != nil {
		acquired, err := r.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire release lock: %w", err)
		}
		if !acquired {
			return errReleaseBusy
		}
		defer r.lock.Release(context.Background())
	}

	var (
		trustees []*domain.Trustee
		letters  []*domain.FinalLetter
		released bool
	)

	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		cfg, err := r.store.LockPollingConfigTx(ctx, tx, payload.UserID)
		if err != nil {
			return err
		}
		if cfg.Status == domain.PollingTriggered {
			// A previous run committed; notifications were enqueued then,
			// and the reconciliation sweep covers a crash between commit
			// and enqueue. Never provision twice.
			return nil
		}

		now := r.store.Now()
		var next domain.PollingConfig
		switch payload.Cause {
		case queue.ReleaseCauseAdmin:
			next, _ = escalation.Step(*cfg, escalation.AdminTrigger{}, now)
			if next.Status != domain.PollingTriggered {
				return r.auditSkip(ctx, tx, cfg, payload.Cause, domain.AuditReleaseSkippedStale,
					"admin trigger refused in state "+string(cfg.Status))
			}
		default:
			// A delayed release can outlive the grace window that created
			// it when the user confirmed and later re-escalated. The
			// deadline re-check under the row lock is what keeps such a
			// stale job from firing early.
			if cfg.Status != domain.PollingGrace3 {
				return r.auditSkip(ctx, tx, cfg, payload.Cause, domain.AuditReleaseSkippedStale,
					"config left grace_3 before release ran")
			}
			if !escalation.DueForRelease(cfg, now) {
				return r.auditSkip(ctx, tx, cfg, payload.Cause, domain.AuditReleaseSkippedNotDue,
					"final grace window still open")
			}
			next, _ = escalation.Step(*cfg, escalation.GraceTimeout{}, now)
		}

		if err := r.store.SavePollingConfigTx(ctx, tx, &next); err != nil {
			return err
		}

		trustees, err = r.store.EligibleTrusteesTx(ctx, tx, payload.UserID)
		if err != nil {
			return err
		}
		letters, err = r.store.ReadyLettersTx(ctx, tx, payload.UserID)
		if err != nil {
			return err
		}

		grantedAt := now
		expiresAt := now.Add(domain.TrusteeAccessTTL)
		for _, t := range trustees {
			accessToken, err := r.mint.Access()
			if err != nil {
				return err
			}
			if err := r.store.GrantTrusteeAccessTx(ctx, tx, t.ID, accessToken, grantedAt, expiresAt); err != nil {
				return err
			}
			t.Status = domain.TrusteeActive
			t.AccessToken = &accessToken
			t.AccessGrantedAt = &grantedAt
			t.AccessExpiresAt = &expiresAt

			if err := r.store.AppendTrusteeAccessTx(ctx, tx, &domain.TrusteeAccessLog{
				TrusteeID: t.ID,
				UserID:    payload.UserID,
				EventType: domain.AuditAccessGranted,
			}); err != nil {
				return err
			}
		}

		released = true
		return r.store.AppendAuditTx(ctx, tx, &domain.AuditLog{
			UserID:    &payload.UserID,
			EventType: domain.AuditDeathProtocolTriggered,
			Details: map[string]any{
				"cause":             payload.Cause,
				"trustees_notified": len(trustees),
				"letters_queued":    len(letters),
			},
		})
	})
	if err != nil {
		return err
	}
	if !released {
		return nil
	}

	log.Printf("[Releaser] Death protocol committed for user %s: %d trustees, %d letters",
		payload.UserID, len(trustees), len(letters))

	// Post-commit fan-out. A crash in here loses jobs, not state: the
	// reconciliation sweep re-enqueues notifications for any trustee with
	// a token but no TRUSTEE_NOTIFIED audit entry, and deliveries for any
	// letter still marked ready.
	return r.enqueueNotifications(ctx, payload.UserID, trustees, letters)
}

func (r *Releaser) enqueueNotifications(ctx context.Context, userID string,
	trustees []*domain.Trustee, letters []*domain.FinalLetter) error {

	now := r.store.Now()
	for _, t := range trustees {
		_, err := r.queue.Enqueue(ctx, queue.QueueEmail,
			queue.EmailKey(queue.KindTrusteeAccess, t.ID),
			queue.EmailPayload{UserID: userID, Kind: queue.KindTrusteeAccess, TrusteeID: t.ID}, now)
		if err != nil {
			return err
		}
		if t.Phone != "" {
			_, err := r.queue.Enqueue(ctx, queue.QueueSMS,
				queue.SMSKey(queue.KindTrusteeAccess, t.ID),
				queue.SMSPayload{UserID: userID, Kind: queue.KindTrusteeAccess, TrusteeID: t.ID, To: t.Phone}, now)
			if err != nil {
				return err
			}
		}
	}

	for _, l := range letters {
		_, err := r.queue.Enqueue(ctx, queue.QueueEmail,
			queue.EmailKey(queue.KindLetterDelivery, l.ID),
			queue.EmailPayload{UserID: userID, Kind: queue.KindLetterDelivery, LetterID: l.ID}, now)
		if err != nil {
			return err
		}
	}
	return nil
}

// auditSkip records why a release job declined to run. Returned as the
// transaction body's result: nil, so the job completes.
func (r *Releaser) auditSkip(ctx context.Context, tx *sql.Tx, cfg *domain.PollingConfig,
	cause, event, reason string) error {
	return r.store.AppendAuditTx(ctx, tx, &domain.AuditLog{
		UserID:    &cfg.UserID,
		EventType: event,
		Details: map[string]any{
			"cause":  cause,
			"status": string(cfg.Status),
			"reason": reason,
		},
	})
}
