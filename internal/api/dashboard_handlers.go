package api

import (
	"net/http"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
)

// handleDashboard aggregates everything the dashboard needs in one call.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	ctx := r.Context()

	cfg, err := s.store.GetPollingConfig(ctx, sess.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	trustees, err := s.store.ListTrustees(ctx, sess.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	letters, err := s.store.ListLetters(ctx, sess.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	checkIns, err := s.store.ListCheckIns(ctx, sess.UserID, 10)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	audit, err := s.store.ListAuditLog(ctx, sess.UserID, 20)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	verified := 0
	for _, t := range trustees {
		if t.ReleaseEligible() {
			verified++
		}
	}
	ready := 0
	for _, l := range letters {
		if l.Status == domain.LetterReady {
			ready++
		}
	}
	if trustees == nil {
		trustees = []*domain.Trustee{}
	}
	if checkIns == nil {
		checkIns = []*domain.CheckIn{}
	}
	if audit == nil {
		audit = []*domain.AuditLog{}
	}

	httputil.OK(w, map[string]any{
		"polling":           cfg,
		"trustees":          trustees,
		"trustees_verified": verified,
		"letters_total":     len(letters),
		"letters_ready":     ready,
		"recent_check_ins":  checkIns,
		"recent_audit":      audit,
	})
}

// handleListAudit returns the user's audit trail, newest first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	entries, err := s.store.ListAuditLog(r.Context(), sess.UserID, 100)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []*domain.AuditLog{}
	}
	httputil.OK(w, map[string]any{"audit": entries})
}
