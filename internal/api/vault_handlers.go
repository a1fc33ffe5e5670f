package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// Vault payloads are opaque to the server: items arrive already encrypted
// under the user's client-side master key, and the master key itself is
// stored wrapped. The server never holds material that decrypts either.

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	vault, err := s.store.GetVault(r.Context(), sess.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, vault)
}

type updateVaultRequest struct {
	EncryptedMasterKey []byte `json:"encrypted_master_key"`
	MasterKeySalt      []byte `json:"master_key_salt"`
	MasterKeyNonce     []byte `json:"master_key_nonce"`
}

func (s *Server) handleUpdateVault(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req updateVaultRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.EncryptedMasterKey) == 0 || len(req.MasterKeySalt) == 0 || len(req.MasterKeyNonce) == 0 {
		httputil.BadRequest(w, "encrypted_master_key, master_key_salt, and master_key_nonce are required")
		return
	}

	vault := &domain.Vault{
		UserID:             sess.UserID,
		EncryptedMasterKey: req.EncryptedMasterKey,
		MasterKeySalt:      req.MasterKeySalt,
		MasterKeyNonce:     req.MasterKeyNonce,
	}
	if err := s.store.UpsertVault(r.Context(), vault); err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.OK(w, vault)
}

// userVault resolves the session's vault, creating an implicit lookup
// error as 404 when the user has not initialized one yet.
func (s *Server) userVault(w http.ResponseWriter, r *http.Request) *domain.Vault {
	sess := sessionFrom(r.Context())

	vault, err := s.store.GetVault(r.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "vault not initialized")
			return nil
		}
		respondStoreError(w, err)
		return nil
	}
	return vault
}

type createVaultItemRequest struct {
	Type          domain.VaultItemType `json:"type"`
	Name          string               `json:"name"`
	EncryptedData []byte               `json:"encrypted_data"`
	Nonce         []byte               `json:"nonce"`
	Metadata      map[string]any       `json:"metadata"`
}

func (s *Server) handleCreateVaultItem(w http.ResponseWriter, r *http.Request) {
	vault := s.userVault(w, r)
	if vault == nil {
		return
	}

	var req createVaultItemRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	switch req.Type {
	case domain.VaultItemPassword, domain.VaultItemNote, domain.VaultItemDocument, domain.VaultItemKey:
	default:
		httputil.BadRequest(w, "type must be password, note, document, or key")
		return
	}
	if len(req.EncryptedData) == 0 || len(req.Nonce) == 0 {
		httputil.BadRequest(w, "encrypted_data and nonce are required")
		return
	}

	item := &domain.VaultItem{
		VaultID:       vault.ID,
		Type:          req.Type,
		Name:          req.Name,
		EncryptedData: req.EncryptedData,
		Nonce:         req.Nonce,
		Metadata:      req.Metadata,
	}
	if err := s.store.CreateVaultItem(r.Context(), item); err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.Created(w, item)
}

func (s *Server) handleListVaultItems(w http.ResponseWriter, r *http.Request) {
	vault := s.userVault(w, r)
	if vault == nil {
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
	httputil.OK(w, map[string]any{"items": items})
}

func (s *Server) handleDeleteVaultItem(w http.ResponseWriter, r *http.Request) {
	vault := s.userVault(w, r)
	if vault == nil {
		return
	}

	err := s.store.DeleteVaultItem(r.Context(), vault.ID, chi.URLParam(r, "itemID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.NoContent(w)
}
