package domain

import (
	"fmt"
	"time"
)

// Audit event types. The audit log is append-only and records every state
// transition, administrative override, escalation, release, and trustee
// access grant. Rows are never mutated or deleted.
const (
	AuditCheckInSent      = "CHECK_IN_SENT"
	AuditCheckInConfirmed = "CHECK_IN_CONFIRMED"
	AuditCheckInMissed    = "CHECK_IN_MISSED"

	AuditEscalationSkippedStale = "ESCALATION_SKIPPED_STALE"
	AuditReleaseSkippedStale    = "RELEASE_SKIPPED_STALE"
	AuditReleaseSkippedNotDue   = "RELEASE_SKIPPED_NOT_DUE"

	AuditDeathProtocolTriggered = "DEATH_PROTOCOL_TRIGGERED"
	AuditTrusteeNotified        = "TRUSTEE_NOTIFIED"
	AuditLetterDelivered        = "LETTER_DELIVERED"
	AuditChannelSkipped         = "CHANNEL_SKIPPED"
	AuditJobFailed              = "JOB_FAILED"

	AuditPollingPaused        = "POLLING_PAUSED"
	AuditPollingResumed       = "POLLING_RESUMED"
	AuditPollingConfigUpdated = "POLLING_CONFIG_UPDATED"

	AuditAdminForceCheckIn     = "ADMIN_FORCE_CHECK_IN"
	AuditAdminTriggerRequested = "ADMIN_TRIGGER_REQUESTED"

	AuditTrusteeAdded    = "TRUSTEE_ADDED"
	AuditTrusteeVerified = "TRUSTEE_VERIFIED"
	AuditTrusteeRevoked  = "TRUSTEE_REVOKED"

	// Trustee access log events.
	AuditAccessGranted = "ACCESS_GRANTED"
	AuditAccessViewed  = "ACCESS_VIEWED"
)

// EscalationLevelEvent returns the audit event name for reaching grace
// level k (ESCALATION_LEVEL_1 .. ESCALATION_LEVEL_3).
func EscalationLevelEvent(level int) string {
	return fmt.Sprintf("ESCALATION_LEVEL_%d", level)
}

// AuditLog is one append-only audit record.
type AuditLog struct {
	ID        string         `json:"id" db:"id"`
	UserID    *string        `json:"user_id" db:"user_id"`
	EventType string         `json:"event_type" db:"event_type"`
	Details   map[string]any `json:"details" db:"details"`
	IPAddress string         `json:"ip_address" db:"ip_address"`
	UserAgent string         `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// TrusteeAccessLog records grants and uses of trustee vault access.
type TrusteeAccessLog struct {
	ID        string    `json:"id" db:"id"`
	TrusteeID string    `json:"trustee_id" db:"trustee_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	EventType string    `json:"event_type" db:"event_type"`
	IPAddress string    `json:"ip_address" db:"ip_address"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Observer carries the request metadata recorded alongside audit entries.
type Observer struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}
