package domain

import "time"

// LetterStatus enumerates the lifecycle of a final letter.
// Only ready letters are delivered at release; delivered is terminal.
type LetterStatus string

const (
	LetterDraft     LetterStatus = "draft"
	LetterReady     LetterStatus = "ready"
	LetterDelivered LetterStatus = "delivered"
)

// FinalLetter is a message composed in advance, held sealed, and delivered
// to its recipient only when the death protocol fires. The body is stored
// encrypted; the core never reads plaintext.
type FinalLetter struct {
	ID             string       `json:"id" db:"id"`
	UserID         string       `json:"user_id" db:"user_id"`
	RecipientName  string       `json:"recipient_name" db:"recipient_name"`
	RecipientEmail string       `json:"recipient_email" db:"recipient_email"`
	Subject        string       `json:"subject" db:"subject"`
	EncryptedBody  []byte       `json:"-" db:"encrypted_body"`
	BodyNonce      []byte       `json:"-" db:"body_nonce"`
	Status         LetterStatus `json:"status" db:"status"`
	DeliveredAt    *time.Time   `json:"delivered_at" db:"delivered_at"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// Editable reports whether the letter can still be modified or deleted.
func (l *FinalLetter) Editable() bool {
	return l.Status != LetterDelivered
}
