package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

// UpsertVault creates or replaces a user's vault key material. The blobs
// are opaque; encryption happens client-side.
func (s *Store) UpsertVault(ctx context.Context, v *domain.Vault) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	now := s.now()
	v.CreatedAt = now
	v.UpdatedAt = now

	query := `INSERT INTO vaults (id, user_id, encrypted_master_key, master_key_salt, master_key_nonce, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			encrypted_master_key = EXCLUDED.encrypted_master_key,
			master_key_salt = EXCLUDED.master_key_salt,
			master_key_nonce = EXCLUDED.master_key_nonce,
			updated_at = NOW()
		RETURNING id, created_at`
	err := s.db.QueryRowContext(ctx, query, v.ID, v.UserID, v.EncryptedMasterKey,
		v.MasterKeySalt, v.MasterKeyNonce, v.CreatedAt, v.UpdatedAt).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return unavailable("upsert vault", err)
	}
	return nil
}

// GetVault retrieves a user's vault.
func (s *Store) GetVault(ctx context.Context, userID string) (*domain.Vault, error) {
	query := `SELECT id, user_id, encrypted_master_key, master_key_salt, master_key_nonce, created_at, updated_at
		FROM vaults WHERE user_id = $1`

	v := &domain.Vault{}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&v.ID, &v.UserID,
		&v.EncryptedMasterKey, &v.MasterKeySalt, &v.MasterKeyNonce, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get vault", err)
	}
	return v, nil
}

// CreateVaultItem inserts one encrypted record into a vault.
func (s *Store) CreateVaultItem(ctx context.Context, item *domain.VaultItem) error {
	item.ID = uuid.New().String()
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt

	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO vault_items (id, vault_id, item_type, name, encrypted_data, nonce, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.db.ExecContext(ctx, query, item.ID, item.VaultID, item.Type, item.Name,
		item.EncryptedData, item.Nonce, meta, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return unavailable("create vault item", err)
	}
	return nil
}

// ListVaultItems returns every item in a vault.
func (s *Store) ListVaultItems(ctx context.Context, vaultID string) ([]*domain.VaultItem, error) {
	query := `SELECT id, vault_id, item_type, name, encrypted_data, nonce, metadata, created_at, updated_at
		FROM vault_items WHERE vault_id = $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, vaultID)
	if err != nil {
		return nil, unavailable("list vault items", err)
	}
	defer rows.Close()

	var out []*domain.VaultItem
	for rows.Next() {
		item := &domain.VaultItem{}
		var meta []byte
		if err := rows.Scan(&item.ID, &item.VaultID, &item.Type, &item.Name,
			&item.EncryptedData, &item.Nonce, &meta, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &item.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// DeleteVaultItem removes one item, scoped through the owning vault.
func (s *Store) DeleteVaultItem(ctx context.Context, vaultID, itemID string) error {
	query := `DELETE FROM vault_items WHERE id = $1 AND vault_id = $2`
	res, err := s.db.ExecContext(ctx, query, itemID, vaultID)
	if err != nil {
		return unavailable("delete vault item", err)
	}
	return requireRow(res)
}
