package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
	"github.com/eternalsentinel/sentinel/internal/pkg/seal"
)

type letterRequest struct {
	RecipientName  string              `json:"recipient_name"`
	RecipientEmail string              `json:"recipient_email"`
	Subject        string              `json:"subject"`
	Body           string              `json:"body"`
	Status         domain.LetterStatus `json:"status"`
}

func (req *letterRequest) validate() string {
	req.RecipientName = strings.TrimSpace(req.RecipientName)
	req.RecipientEmail = strings.TrimSpace(req.RecipientEmail)
	req.Subject = strings.TrimSpace(req.Subject)
	if req.RecipientEmail == "" || !strings.Contains(req.RecipientEmail, "@") {
		return "a valid recipient email is required"
	}
	if req.Subject == "" {
		return "subject is required"
	}
	if req.Status == "" {
		req.Status = domain.LetterDraft
	}
	if req.Status != domain.LetterDraft && req.Status != domain.LetterReady {
		return "status must be draft or ready"
	}
	return ""
}

// letterView is the owner's read model: the stored ciphertext is opened
// and returned as plaintext, since the owner wrote it.
type letterView struct {
	*domain.FinalLetter
	Body string `json:"body"`
}

func (s *Server) letterView(l *domain.FinalLetter) (*letterView, error) {
	body, err := seal.Open(s.sealKey, l.EncryptedBody, l.BodyNonce)
	if err != nil {
		return nil, err
	}
	return &letterView{FinalLetter: l, Body: string(body)}, nil
}

func (s *Server) handleListLetters(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	letters, err := s.store.ListLetters(r.Context(), sess.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	views := make([]*letterView, 0, len(letters))
	for _, l := range letters {
		v, err := s.letterView(l)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		views = append(views, v)
	}
	httputil.OK(w, map[string]any{"letters": views})
}

// handleCreateLetter stores a new letter. Bodies are sealed before they
// touch the database; plaintext exists only in the request and response.
func (s *Server) handleCreateLetter(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req letterRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	ciphertext, nonce, err := seal.Seal(s.sealKey, []byte(req.Body))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	letter := &domain.FinalLetter{
		UserID:         sess.UserID,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		Subject:        req.Subject,
		EncryptedBody:  ciphertext,
		BodyNonce:      nonce,
		Status:         req.Status,
	}
	if err := s.store.CreateLetter(r.Context(), letter); err != nil {
		respondStoreError(w, err)
		return
	}

	httputil.Created(w, &letterView{FinalLetter: letter, Body: req.Body})
}

func (s *Server) handleGetLetter(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	letter, err := s.store.GetLetter(r.Context(), sess.UserID, chi.URLParam(r, "letterID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	view, err := s.letterView(letter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, view)
}

// handleUpdateLetter rewrites an undelivered letter. Delivered letters
// are frozen; the store reports touching one as a conflict.
func (s *Server) handleUpdateLetter(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req letterRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	ciphertext, nonce, err := seal.Seal(s.sealKey, []byte(req.Body))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	letter := &domain.FinalLetter{
		ID:             chi.URLParam(r, "letterID"),
		UserID:         sess.UserID,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		Subject:        req.Subject,
		EncryptedBody:  ciphertext,
		BodyNonce:      nonce,
		Status:         req.Status,
	}
	if err := s.store.UpdateLetter(r.Context(), letter); err != nil {
		respondStoreError(w, err)
		return
	}

	updated, err := s.store.GetLetter(r.Context(), sess.UserID, letter.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, &letterView{FinalLetter: updated, Body: req.Body})
}

func (s *Server) handleDeleteLetter(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	err := s.store.DeleteLetter(r.Context(), sess.UserID, chi.URLParam(r, "letterID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.NoContent(w)
}
