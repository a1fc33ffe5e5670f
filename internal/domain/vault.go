package domain

import "time"

// Vault holds a user's client-side-encrypted key material. The platform
// stores opaque blobs only; decryption happens on the user's or trustee's
// own device.
type Vault struct {
	ID                 string    `json:"id" db:"id"`
	UserID             string    `json:"user_id" db:"user_id"`
	EncryptedMasterKey []byte    `json:"encrypted_master_key" db:"encrypted_master_key"`
	MasterKeySalt      []byte    `json:"master_key_salt" db:"master_key_salt"`
	MasterKeyNonce     []byte    `json:"master_key_nonce" db:"master_key_nonce"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// VaultItemType categorizes vault entries for display.
type VaultItemType string

const (
	VaultItemPassword VaultItemType = "password"
	VaultItemNote     VaultItemType = "note"
	VaultItemDocument VaultItemType = "document"
	VaultItemKey      VaultItemType = "key"
)

// VaultItem is one encrypted record in a user's vault.
type VaultItem struct {
	ID            string         `json:"id" db:"id"`
	VaultID       string         `json:"vault_id" db:"vault_id"`
	Type          VaultItemType  `json:"type" db:"item_type"`
	Name          string         `json:"name" db:"name"`
	EncryptedData []byte         `json:"encrypted_data" db:"encrypted_data"`
	Nonce         []byte         `json:"nonce" db:"nonce"`
	Metadata      map[string]any `json:"metadata" db:"metadata"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}
