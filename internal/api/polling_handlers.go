package api

import (
	"net/http"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/escalation"
	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
	"github.com/eternalsentinel/sentinel/internal/worker"
)

func (s *Server) handleGetPolling(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	cfg, err := s.store.GetPollingConfig(r.Context(), sess.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, cfg)
}

type updatePollingRequest struct {
	Interval            domain.CheckInterval `json:"interval"`
	EmailEnabled        bool                 `json:"email_enabled"`
	SMSEnabled          bool                 `json:"sms_enabled"`
	GracePeriod1Days    int                  `json:"grace_period_1_days"`
	GracePeriod2Days    int                  `json:"grace_period_2_days"`
	GracePeriod3Days    int                  `json:"grace_period_3_days"`
	MissedBeforeTrigger int                  `json:"missed_before_trigger"`
}

// handleUpdatePolling replaces the user-editable settings. Escalation
// state (status, missed count, due times) is never writable through here;
// only the state machine moves those.
func (s *Server) handleUpdatePolling(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req updatePollingRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	cfg := &domain.PollingConfig{
		UserID:              sess.UserID,
		Interval:            req.Interval,
		EmailEnabled:        req.EmailEnabled,
		SMSEnabled:          req.SMSEnabled,
		GracePeriod1Days:    req.GracePeriod1Days,
		GracePeriod2Days:    req.GracePeriod2Days,
		GracePeriod3Days:    req.GracePeriod3Days,
		MissedBeforeTrigger: req.MissedBeforeTrigger,
	}
	if err := cfg.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if err := s.store.UpdatePollingSettings(r.Context(), cfg); err != nil {
		respondStoreError(w, err)
		return
	}

	obs := observerFrom(r)
	if err := s.store.AppendAudit(r.Context(), &domain.AuditLog{
		UserID:    &sess.UserID,
		EventType: domain.AuditPollingConfigUpdated,
		Details: map[string]any{
			"interval":              req.Interval,
			"email_enabled":         req.EmailEnabled,
			"sms_enabled":           req.SMSEnabled,
			"missed_before_trigger": req.MissedBeforeTrigger,
		},
		IPAddress: obs.IPAddress,
		UserAgent: obs.UserAgent,
	}); err != nil {
		respondStoreError(w, err)
		return
	}

	updated, err := s.store.GetPollingConfig(r.Context(), sess.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, updated)
}

// handlePause suspends polling. Paused users get no prompts and cannot
// escalate; the trade-off is theirs to make.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.applyPollingEvent(w, r, escalation.Pause{})
}

// handleResume re-arms polling with a fresh cycle from now.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.applyPollingEvent(w, r, escalation.Resume{})
}

func (s *Server) applyPollingEvent(w http.ResponseWriter, r *http.Request, ev escalation.Event) {
	sess := sessionFrom(r.Context())

	cfg, err := worker.ApplyEvent(r.Context(), s.store, s.queue, s.mint,
		sess.UserID, ev, observerFrom(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, cfg)
}
