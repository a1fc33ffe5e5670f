package queue

import "fmt"

// Release causes carried in the release payload. The worker refuses to
// run a grace-timeout release for a config that has since recovered, but
// an admin release fires regardless of the current escalation level.
const (
	ReleaseCauseGraceTimeout = "grace_timeout"
	ReleaseCauseAdmin        = "admin"
)

// Notification kinds carried in email and SMS payloads, used for logging
// and for reconciliation lookups.
const (
	KindCheckInPrompt  = "checkin_prompt"
	KindGraceWarning   = "grace_warning"
	KindTrusteeInvite  = "trustee_invite"
	KindTrusteeAccess  = "trustee_access"
	KindLetterDelivery = "letter_delivery"
)

// CheckInPayload dispatches notifications for a freshly created check-in.
type CheckInPayload struct {
	CheckInID string `json:"check_in_id"`
	UserID    string `json:"user_id"`
}

// EscalationPayload applies one missed check-in to a user's escalation
// state. ExpectedMissedCount is the missed counter at enqueue time; the
// worker drops the job as stale when the counter has since moved.
type EscalationPayload struct {
	UserID              string `json:"user_id"`
	Level               int    `json:"level"`
	ExpectedMissedCount int    `json:"expected_missed_count"`
}

// ReleasePayload runs the death protocol for one user.
type ReleasePayload struct {
	UserID string `json:"user_id"`
	Cause  string `json:"cause"`
}

// EmailPayload is one outbound email. Recipient fields are resolved at
// send time only when To is empty.
type EmailPayload struct {
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	To        string `json:"to,omitempty"`
	TrusteeID string `json:"trustee_id,omitempty"`
	LetterID  string `json:"letter_id,omitempty"`
	CheckInID string `json:"check_in_id,omitempty"`
	Level     int    `json:"level,omitempty"`
}

// SMSPayload is one outbound text message.
type SMSPayload struct {
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	To        string `json:"to,omitempty"`
	TrusteeID string `json:"trustee_id,omitempty"`
	CheckInID string `json:"check_in_id,omitempty"`
	Level     int    `json:"level,omitempty"`
}

// CheckInKey coalesces duplicate dispatches for one check-in.
func CheckInKey(checkInID string) string {
	return "checkin:" + checkInID
}

// EscalationKey coalesces duplicate escalations for one (user, level,
// missed-count) transition. The count is the value before the transition
// increments it, so a re-enqueued sweep finds the in-flight job.
func EscalationKey(userID string, level, missedCount int) string {
	return fmt.Sprintf("escalation:%s:%d:%d", userID, level, missedCount)
}

// ReleaseKey coalesces every release path for one user onto one job, so
// the grace-timeout job and an admin trigger can never both run.
func ReleaseKey(userID string) string {
	return "release:" + userID
}

// EmailKey and SMSKey coalesce duplicate notification dispatches. The ref
// is the strongest identifier the notification has: a check-in id, a
// trustee id, or a letter id.
func EmailKey(kind, ref string) string {
	return fmt.Sprintf("email:%s:%s", kind, ref)
}

func SMSKey(kind, ref string) string {
	return fmt.Sprintf("sms:%s:%s", kind, ref)
}
