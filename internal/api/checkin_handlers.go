package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
	"github.com/eternalsentinel/sentinel/internal/store"
)

func observerFrom(r *http.Request) domain.Observer {
	return domain.Observer{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// handleCheckInStatus lets the check-in page show state before the user
// commits. Token-addressed, no session.
func (s *Server) handleCheckInStatus(w http.ResponseWriter, r *http.Request) {
	checkIn, err := s.store.GetCheckInByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	user, err := s.store.GetUser(r.Context(), checkIn.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	now := s.store.Now()
	httputil.OK(w, map[string]any{
		"status":      checkIn.Status,
		"user_name":   user.DisplayName,
		"grace_level": checkIn.GraceLevel,
		"expires_at":  checkIn.ExpiresAt,
		"answerable":  checkIn.Answerable(now),
	})
}

// handleCheckInConfirm is the link target in every prompt and warning the
// platform sends. Confirming resets the escalation ladder; confirming a
// check-in that was already confirmed replays the success response so a
// double-clicked email link never shows the user an error.
func (s *Server) handleCheckInConfirm(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")

	checkIn, cfg, err := s.store.ConfirmCheckIn(r.Context(), tok, observerFrom(r))
	if err != nil {
		if errors.Is(err, store.ErrAlreadyResolved) &&
			checkIn != nil && checkIn.Status == domain.CheckInConfirmed {
			httputil.OK(w, map[string]any{
				"confirmed": true,
				"status":    cfg.Status,
				"replayed":  true,
			})
			return
		}
		respondStoreError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"confirmed":         true,
		"status":            cfg.Status,
		"next_check_in_due": cfg.NextCheckInDue,
	})
}

// handleManualCheckIn confirms from the dashboard, without a token. Every
// pending prompt the user has is resolved at once.
func (s *Server) handleManualCheckIn(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	confirmed, cfg, err := s.store.ConfirmPendingForUser(r.Context(), sess.UserID, observerFrom(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"confirmed":         confirmed,
		"status":            cfg.Status,
		"next_check_in_due": cfg.NextCheckInDue,
	})
}

// handleListCheckIns returns the user's recent check-in history.
func (s *Server) handleListCheckIns(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	checkIns, err := s.store.ListCheckIns(r.Context(), sess.UserID, 50)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if checkIns == nil {
		checkIns = []*domain.CheckIn{}
	}
	httputil.OK(w, map[string]any{"check_ins": checkIns})
}
