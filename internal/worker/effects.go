package worker

import (
	"context"
	"database/sql"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/escalation"
	"github.com/eternalsentinel/sentinel/internal/pkg/token"
	"github.com/eternalsentinel/sentinel/internal/queue"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// ApplyEvent drives one event through the state machine under the user's
// row lock and executes the returned effects in the same transaction:
// state save, grace check-in creation, release scheduling, and audit. The
// escalation worker and the management API share this path so a pause from
// the dashboard and a miss from the sweep can never interleave.
func ApplyEvent(ctx context.Context, st *store.Store, q *queue.Queue, mint token.Minter,
	userID string, ev escalation.Event, obs domain.Observer) (*domain.PollingConfig, error) {

	var out *domain.PollingConfig
	err := st.WithTx(ctx, func(tx *sql.Tx) error {
		cfg, err := st.LockPollingConfigTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cfg.Status == domain.PollingTriggered {
			out = cfg
			return store.ErrAlreadyTriggered
		}

		now := st.Now()
		next, effects := escalation.Step(*cfg, ev, now)

		if next != *cfg {
			if err := st.SavePollingConfigTx(ctx, tx, &next); err != nil {
				return err
			}
		}
		out = &next

		// A reset back to active orphans any outstanding prompts; cancel
		// them so their later expiry cannot fake a fresh miss. The reset
		// can enter from paused or a grace level, or be an active-to-active
		// confirmation forced while a prompt is still open.
		reactivated := cfg.Status != domain.PollingActive && next.Status == domain.PollingActive
		switch ev.(type) {
		case escalation.Confirm, escalation.AdminForceCheckIn:
			reactivated = next.Status == domain.PollingActive
		}
		if reactivated {
			if _, err := st.CancelPendingCheckInsTx(ctx, tx, userID, ""); err != nil {
				return err
			}
		}

		return applyEffects(ctx, tx, st, q, mint, userID, obs, effects)
	})
	return out, err
}

// applyEffects executes the machine's side-effect descriptors inside the
// caller's transaction.
func applyEffects(ctx context.Context, tx *sql.Tx, st *store.Store, q *queue.Queue,
	mint token.Minter, userID string, obs domain.Observer, effects []escalation.Effect) error {

	for _, ef := range effects {
		switch e := ef.(type) {
		case escalation.CreateGraceCheckIn:
			tok, err := mint.CheckIn()
			if err != nil {
				return err
			}
			checkIn := &domain.CheckIn{
				UserID:     userID,
				Token:      tok,
				GraceLevel: e.Level,
				ExpiresAt:  e.ExpiresAt,
			}
			if err := st.CreateCheckInTx(ctx, tx, checkIn); err != nil {
				return err
			}
			_, err = q.EnqueueTx(ctx, tx, queue.QueueCheckIn, queue.CheckInKey(checkIn.ID),
				queue.CheckInPayload{CheckInID: checkIn.ID, UserID: userID}, st.Now())
			if err != nil {
				return err
			}

		case escalation.EnqueueRelease:
			_, err := q.EnqueueTx(ctx, tx, queue.QueueRelease, queue.ReleaseKey(userID),
				queue.ReleasePayload{UserID: userID, Cause: queue.ReleaseCauseGraceTimeout}, e.RunAt)
			if err != nil {
				return err
			}

		case escalation.Audit:
			entry := &domain.AuditLog{
				UserID:    &userID,
				EventType: e.Event,
				Details:   e.Details,
				IPAddress: obs.IPAddress,
				UserAgent: obs.UserAgent,
			}
			if err := st.AppendAuditTx(ctx, tx, entry); err != nil {
				return err
			}
		}
	}
	return nil
}
