package domain

import "time"

// TrusteeStatus enumerates a trustee's standing.
type TrusteeStatus string

const (
	TrusteePending  TrusteeStatus = "pending"
	TrusteeVerified TrusteeStatus = "verified"
	TrusteeActive   TrusteeStatus = "active"
	TrusteeRevoked  TrusteeStatus = "revoked"
)

// How long a minted trustee access grant stays valid.
const TrusteeAccessTTL = 30 * 24 * time.Hour

// Trustee is a person the user has designated to receive access when the
// death protocol fires. Only verified or active trustees are eligible at
// release time.
type Trustee struct {
	ID           string        `json:"id" db:"id"`
	UserID       string        `json:"user_id" db:"user_id"`
	Name         string        `json:"name" db:"name"`
	Email        string        `json:"email" db:"email"`
	Phone        string        `json:"phone" db:"phone"`
	Relationship string        `json:"relationship" db:"relationship"`
	Status       TrusteeStatus `json:"status" db:"status"`

	VerificationToken *string    `json:"-" db:"verification_token"`
	VerifiedAt        *time.Time `json:"verified_at" db:"verified_at"`

	AccessToken     *string    `json:"-" db:"access_token"`
	AccessGrantedAt *time.Time `json:"access_granted_at" db:"access_granted_at"`
	AccessExpiresAt *time.Time `json:"access_expires_at" db:"access_expires_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReleaseEligible reports whether the trustee receives access when the
// release procedure runs.
func (t *Trustee) ReleaseEligible() bool {
	return t.Status == TrusteeVerified || t.Status == TrusteeActive
}

// AccessValid reports whether a previously minted access grant is still
// usable at now.
func (t *Trustee) AccessValid(now time.Time) bool {
	return t.AccessToken != nil && t.AccessExpiresAt != nil && now.Before(*t.AccessExpiresAt)
}
