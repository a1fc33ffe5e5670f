package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/escalation"
	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
	"github.com/eternalsentinel/sentinel/internal/queue"
	"github.com/eternalsentinel/sentinel/internal/worker"
)

// handleAdminForceCheckIn resets a user's escalation state on their
// behalf, for support cases where the user is alive but locked out of
// every channel. Goes through the same state machine as a real
// confirmation, so the reset is audited and cancels pending prompts.
func (s *Server) handleAdminForceCheckIn(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	cfg, err := worker.ApplyEvent(r.Context(), s.store, s.queue, s.mint,
		userID, escalation.AdminForceCheckIn{}, observerFrom(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, cfg)
}

// handleAdminTrigger requests an immediate release for a user with a
// confirmed death certificate. The request only enqueues: the release
// worker applies the trigger under the user's row lock, and the queue's
// idempotency key coalesces this with any scheduled grace-timeout job,
// pulling it forward rather than running twice.
func (s *Server) handleAdminTrigger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	// Reject obviously bad requests before anything is queued.
	if _, err := s.store.GetPollingConfig(r.Context(), userID); err != nil {
		respondStoreError(w, err)
		return
	}

	sess := sessionFrom(r.Context())
	obs := observerFrom(r)
	if err := s.store.AppendAudit(r.Context(), &domain.AuditLog{
		UserID:    &userID,
		EventType: domain.AuditAdminTriggerRequested,
		Details:   map[string]any{"admin_user_id": sess.UserID},
		IPAddress: obs.IPAddress,
		UserAgent: obs.UserAgent,
	}); err != nil {
		respondStoreError(w, err)
		return
	}

	jobID, err := s.queue.Enqueue(r.Context(), queue.QueueRelease, queue.ReleaseKey(userID),
		queue.ReleasePayload{UserID: userID, Cause: queue.ReleaseCauseAdmin}, s.store.Now())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	httputil.JSON(w, http.StatusAccepted, map[string]any{
		"queued": true,
		"job_id": jobID,
	})
}
