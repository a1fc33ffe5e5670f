package domain

import (
	"fmt"
	"time"
)

// PollingStatus enumerates the escalation states of a user's config.
// The grace states form a ladder: each missed check-in climbs one rung,
// and "triggered" is terminal.
type PollingStatus string

const (
	PollingActive    PollingStatus = "active"
	PollingPaused    PollingStatus = "paused"
	PollingGrace1    PollingStatus = "grace_1"
	PollingGrace2    PollingStatus = "grace_2"
	PollingGrace3    PollingStatus = "grace_3"
	PollingTriggered PollingStatus = "triggered"
)

// IsGrace returns true for any of the three grace rungs.
func (s PollingStatus) IsGrace() bool {
	return s == PollingGrace1 || s == PollingGrace2 || s == PollingGrace3
}

// GraceLevel returns 1..3 for a grace status and 0 otherwise.
func (s PollingStatus) GraceLevel() int {
	switch s {
	case PollingGrace1:
		return 1
	case PollingGrace2:
		return 2
	case PollingGrace3:
		return 3
	}
	return 0
}

// CheckInterval is how often the scheduler prompts the user to confirm
// they are alive.
type CheckInterval string

const (
	IntervalWeekly   CheckInterval = "weekly"
	IntervalBiweekly CheckInterval = "biweekly"
	IntervalMonthly  CheckInterval = "monthly"
)

// Duration returns the wall-clock length of one check-in cycle.
// Monthly is a fixed 30 days so due times stay arithmetic.
func (i CheckInterval) Duration() time.Duration {
	switch i {
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	case IntervalBiweekly:
		return 14 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// ResponseWindow returns how long a prompted check-in stays answerable
// before it counts as missed. Longer cycles get longer windows.
func (i CheckInterval) ResponseWindow() time.Duration {
	switch i {
	case IntervalWeekly:
		return 3 * 24 * time.Hour
	case IntervalBiweekly:
		return 5 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Valid reports whether the interval is one of the supported cycles.
func (i CheckInterval) Valid() bool {
	return i == IntervalWeekly || i == IntervalBiweekly || i == IntervalMonthly
}

// Grace period bounds and defaults, in days.
const (
	GraceDaysMin = 1
	GraceDaysMax = 30

	DefaultGracePeriod1Days = 7
	DefaultGracePeriod2Days = 14
	DefaultGracePeriod3Days = 7

	DefaultMissedBeforeTrigger = 3
)

// PollingConfig is the per-user liveness contract: how often to ask,
// which channels to use, and how much grace each missed answer buys.
// Exactly one row exists per user.
type PollingConfig struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Interval     CheckInterval `json:"interval" db:"interval"`
	EmailEnabled bool          `json:"email_enabled" db:"email_enabled"`
	SMSEnabled   bool          `json:"sms_enabled" db:"sms_enabled"`

	GracePeriod1Days    int `json:"grace_period_1_days" db:"grace_period_1_days"`
	GracePeriod2Days    int `json:"grace_period_2_days" db:"grace_period_2_days"`
	GracePeriod3Days    int `json:"grace_period_3_days" db:"grace_period_3_days"`
	MissedBeforeTrigger int `json:"missed_before_trigger" db:"missed_before_trigger"`

	CurrentMissedCheckIns int           `json:"current_missed_check_ins" db:"current_missed_check_ins"`
	Status                PollingStatus `json:"status" db:"status"`
	LastCheckInAt         *time.Time    `json:"last_check_in_at" db:"last_check_in_at"`
	NextCheckInDue        *time.Time    `json:"next_check_in_due" db:"next_check_in_due"`
	TriggeredAt           *time.Time    `json:"triggered_at" db:"triggered_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// GracePeriod returns the duration of the given grace level (1..3).
func (c *PollingConfig) GracePeriod(level int) time.Duration {
	days := c.GracePeriod3Days
	switch level {
	case 1:
		days = c.GracePeriod1Days
	case 2:
		days = c.GracePeriod2Days
	}
	return time.Duration(days) * 24 * time.Hour
}

// Validate checks the user-editable fields of the config.
func (c *PollingConfig) Validate() error {
	if !c.Interval.Valid() {
		return fmt.Errorf("interval must be weekly, biweekly, or monthly")
	}
	if !c.EmailEnabled && !c.SMSEnabled {
		return fmt.Errorf("at least one notification channel must be enabled")
	}
	for i, days := range []int{c.GracePeriod1Days, c.GracePeriod2Days, c.GracePeriod3Days} {
		if days < GraceDaysMin || days > GraceDaysMax {
			return fmt.Errorf("grace period %d must be between %d and %d days", i+1, GraceDaysMin, GraceDaysMax)
		}
	}
	if c.MissedBeforeTrigger < 1 {
		return fmt.Errorf("missed_before_trigger must be at least 1")
	}
	return nil
}

// Channels returns the enabled notification channels in delivery order.
func (c *PollingConfig) Channels() []Channel {
	var out []Channel
	if c.EmailEnabled {
		out = append(out, ChannelEmail)
	}
	if c.SMSEnabled {
		out = append(out, ChannelSMS)
	}
	return out
}

// NewPollingConfig returns a config with platform defaults applied.
func NewPollingConfig(userID string) *PollingConfig {
	return &PollingConfig{
		UserID:              userID,
		Interval:            IntervalMonthly,
		EmailEnabled:        true,
		GracePeriod1Days:    DefaultGracePeriod1Days,
		GracePeriod2Days:    DefaultGracePeriod2Days,
		GracePeriod3Days:    DefaultGracePeriod3Days,
		MissedBeforeTrigger: DefaultMissedBeforeTrigger,
		Status:              PollingActive,
	}
}
