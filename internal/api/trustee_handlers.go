package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
	"github.com/eternalsentinel/sentinel/internal/queue"
)

func (s *Server) handleListTrustees(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	trustees, err := s.store.ListTrustees(r.Context(), sess.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if trustees == nil {
		trustees = []*domain.Trustee{}
	}
	httputil.OK(w, map[string]any{"trustees": trustees})
}

type createTrusteeRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// handleCreateTrustee registers a trustee and mails them a verification
// link. The trustee stays pending until they follow it; pending trustees
// never receive vault access.
func (s *Server) handleCreateTrustee(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req createTrusteeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" {
		httputil.BadRequest(w, "name and email are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		httputil.BadRequest(w, "invalid email address")
		return
	}

	verifyTok, err := s.mint.Verification()
	if err != nil {
		respondStoreError(w, err)
		return
	}

	trustee := &domain.Trustee{
		UserID:            sess.UserID,
		Name:              req.Name,
		Email:             req.Email,
		Phone:             strings.TrimSpace(req.Phone),
		Relationship:      strings.TrimSpace(req.Relationship),
		VerificationToken: &verifyTok,
	}
	if err := s.store.CreateTrustee(r.Context(), trustee); err != nil {
		respondStoreError(w, err)
		return
	}

	obs := observerFrom(r)
	if err := s.store.AppendAudit(r.Context(), &domain.AuditLog{
		UserID:    &sess.UserID,
		EventType: domain.AuditTrusteeAdded,
		Details:   map[string]any{"trustee_id": trustee.ID, "email": trustee.Email},
		IPAddress: obs.IPAddress,
		UserAgent: obs.UserAgent,
	}); err != nil {
		respondStoreError(w, err)
		return
	}

	_, err = s.queue.Enqueue(r.Context(), queue.QueueEmail,
		queue.EmailKey(queue.KindTrusteeInvite, trustee.ID),
		queue.EmailPayload{
			UserID:    sess.UserID,
			Kind:      queue.KindTrusteeInvite,
			TrusteeID: trustee.ID,
		}, s.store.Now())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	httputil.Created(w, trustee)
}

// handleRevokeTrustee removes a trustee from the release set and voids any
// access they already hold.
func (s *Server) handleRevokeTrustee(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	err := s.store.RevokeTrustee(r.Context(), sess.UserID, chi.URLParam(r, "trusteeID"), observerFrom(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.NoContent(w)
}

// handleTrusteeVerifyStatus lets the verification page render before the
// trustee commits.
func (s *Server) handleTrusteeVerifyStatus(w http.ResponseWriter, r *http.Request) {
	trustee, err := s.store.GetTrusteeByVerificationToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"name":   trustee.Name,
		"status": trustee.Status,
	})
}

// handleTrusteeVerify consumes the single-use verification token.
func (s *Server) handleTrusteeVerify(w http.ResponseWriter, r *http.Request) {
	trustee, err := s.store.VerifyTrustee(r.Context(), chi.URLParam(r, "token"), observerFrom(r))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"verified": true,
		"name":     trustee.Name,
		"status":   trustee.Status,
	})
}

// handleTrusteeAccessStatus reports whether an access token is still
// live, without exposing vault contents on a GET.
func (s *Server) handleTrusteeAccessStatus(w http.ResponseWriter, r *http.Request) {
	trustee, err := s.store.GetTrusteeByAccessToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	now := s.store.Now()
	httputil.OK(w, map[string]any{
		"valid":             trustee.AccessValid(now),
		"access_expires_at": trustee.AccessExpiresAt,
	})
}

// handleTrusteeAccess returns the released vault to a trustee holding a
// live access token. Every use lands in the trustee access log.
func (s *Server) handleTrusteeAccess(w http.ResponseWriter, r *http.Request) {
	trustee, err := s.store.GetTrusteeByAccessToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if trustee.Status == domain.TrusteeRevoked {
		httputil.NotFound(w, "not found")
		return
	}
	now := s.store.Now()
	if !trustee.AccessValid(now) {
		httputil.JSON(w, http.StatusBadRequest, map[string]any{
			"error":   "expired",
			"expired": true,
		})
		return
	}

	vault, err := s.store.GetVault(r.Context(), trustee.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	items, err := s.store.ListVaultItems(r.Context(), vault.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if items == nil {
		items = []*domain.VaultItem{}
	}

	obs := observerFrom(r)
	if err := s.store.AppendTrusteeAccess(r.Context(), &domain.TrusteeAccessLog{
		TrusteeID: trustee.ID,
		UserID:    trustee.UserID,
		EventType: domain.AuditAccessViewed,
		IPAddress: obs.IPAddress,
		UserAgent: obs.UserAgent,
	}); err != nil {
		respondStoreError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"vault":             vault,
		"items":             items,
		"access_expires_at": trustee.AccessExpiresAt,
	})
}
