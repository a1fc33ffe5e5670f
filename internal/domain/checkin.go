package domain

import "time"

// CheckInStatus enumerates the lifecycle of a single check-in prompt.
type CheckInStatus string

const (
	CheckInPending   CheckInStatus = "pending"
	CheckInConfirmed CheckInStatus = "confirmed"
	CheckInMissed    CheckInStatus = "missed"
	CheckInCancelled CheckInStatus = "cancelled"
)

// Terminal returns true once a check-in can no longer change state.
func (s CheckInStatus) Terminal() bool {
	return s != CheckInPending
}

// Channel is a notification transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// CheckIn is one "are you alive?" prompt sent to a user. The token is a
// single-use bearer secret embedded in the confirmation link; whoever
// presents it confirms the check-in, no session required.
type CheckIn struct {
	ID          string        `json:"id" db:"id"`
	UserID      string        `json:"user_id" db:"user_id"`
	Token       string        `json:"-" db:"token"`
	Status      CheckInStatus `json:"status" db:"status"`
	GraceLevel  int           `json:"grace_level" db:"grace_level"`
	SentVia     []Channel     `json:"sent_via" db:"sent_via"`
	SentAt      *time.Time    `json:"sent_at" db:"sent_at"`
	RespondedAt *time.Time    `json:"responded_at" db:"responded_at"`
	ExpiresAt   time.Time     `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// Answerable reports whether the check-in can still be confirmed at now.
// The boundary is strict: a check-in expiring exactly at now is expired.
func (c *CheckIn) Answerable(now time.Time) bool {
	return c.Status == CheckInPending && now.Before(c.ExpiresAt)
}
