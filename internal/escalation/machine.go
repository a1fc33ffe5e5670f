// Package escalation implements the pure state machine that decides how a
// user's polling config moves between active, grace, and triggered states.
//
// Step is a pure function: no store, no queue, no clock reads. Workers load
// the config under a row lock, call Step, persist the returned config, and
// execute the returned effects. Keeping the decision pure means every
// transition is unit-testable with a pinned clock and the same inputs always
// produce the same outputs.
package escalation

import (
	"time"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

// Event is a closed set of inputs to the machine.
type Event interface {
	eventName() string
}

// Confirm records that the user acknowledged a check-in in time.
type Confirm struct{}

// Miss records that a check-in expired unacknowledged. ExpectedMissedCount
// is the user's counter observed when the escalation was enqueued; if the
// counter has moved since (the user confirmed, or an admin intervened), the
// event is stale and must not transition anything.
type Miss struct {
	ExpectedMissedCount int
}

// GraceTimeout records that the final grace window has fully elapsed.
type GraceTimeout struct{}

// Pause suspends polling without losing escalation state.
type Pause struct{}

// Resume reactivates a paused config with a fresh cycle.
type Resume struct{}

// AdminForceCheckIn is an operator override equivalent to a confirmation,
// valid even from the paused state.
type AdminForceCheckIn struct{}

// AdminTrigger is an operator override that fires the release procedure
// immediately.
type AdminTrigger struct{}

func (Confirm) eventName() string           { return "confirm" }
func (Miss) eventName() string              { return "miss" }
func (GraceTimeout) eventName() string      { return "grace_timeout" }
func (Pause) eventName() string             { return "pause" }
func (Resume) eventName() string            { return "resume" }
func (AdminForceCheckIn) eventName() string { return "admin_force_check_in" }
func (AdminTrigger) eventName() string      { return "admin_trigger" }

// Effect is a side-effect descriptor returned by Step for the caller to
// execute inside its transaction.
type Effect interface {
	effectName() string
}

// CreateGraceCheckIn asks the caller to create a new pending check-in that
// serves as the warning prompt for the given grace level.
type CreateGraceCheckIn struct {
	Level     int
	ExpiresAt time.Time
}

// EnqueueRelease asks the caller to schedule the release job. RunAt is the
// moment the final grace window ends.
type EnqueueRelease struct {
	RunAt time.Time
}

// Audit asks the caller to append an audit log entry.
type Audit struct {
	Event   string
	Details map[string]any
}

func (CreateGraceCheckIn) effectName() string { return "create_grace_check_in" }
func (EnqueueRelease) effectName() string     { return "enqueue_release" }
func (Audit) effectName() string              { return "append_audit" }

// Step applies one event to a config and returns the updated config plus the
// effects to execute. It is total: any event in any state returns a result,
// and unspecified combinations return the config unchanged with no effects.
// The triggered state is terminal; nothing moves a config out of it.
func Step(cfg domain.PollingConfig, ev Event, now time.Time) (domain.PollingConfig, []Effect) {
	if cfg.Status == domain.PollingTriggered {
		return cfg, nil
	}

	switch e := ev.(type) {
	case Confirm:
		if cfg.Status == domain.PollingPaused {
			return cfg, nil
		}
		cfg = reset(cfg, now)
		t := now
		cfg.LastCheckInAt = &t
		return cfg, []Effect{Audit{Event: domain.AuditCheckInConfirmed}}

	case Miss:
		if cfg.Status == domain.PollingPaused {
			return cfg, nil
		}
		return stepMiss(cfg, e, now)

	case GraceTimeout:
		if cfg.Status != domain.PollingGrace3 {
			return cfg, nil
		}
		return trigger(cfg, now)

	case Pause:
		if cfg.Status == domain.PollingPaused {
			return cfg, nil
		}
		cfg.Status = domain.PollingPaused
		return cfg, []Effect{Audit{Event: domain.AuditPollingPaused}}

	case Resume:
		if cfg.Status != domain.PollingPaused {
			return cfg, nil
		}
		cfg = reset(cfg, now)
		return cfg, []Effect{Audit{Event: domain.AuditPollingResumed}}

	case AdminForceCheckIn:
		cfg = reset(cfg, now)
		t := now
		cfg.LastCheckInAt = &t
		return cfg, []Effect{Audit{Event: domain.AuditAdminForceCheckIn}}

	case AdminTrigger:
		if cfg.Status == domain.PollingPaused {
			return cfg, nil
		}
		return trigger(cfg, now)
	}

	return cfg, nil
}

func stepMiss(cfg domain.PollingConfig, ev Miss, now time.Time) (domain.PollingConfig, []Effect) {
	if ev.ExpectedMissedCount != cfg.CurrentMissedCheckIns {
		// The counter moved since this escalation was enqueued: the user
		// confirmed or an operator intervened. Stale, so no transition.
		return cfg, []Effect{Audit{
			Event: domain.AuditEscalationSkippedStale,
			Details: map[string]any{
				"expected_missed_count": ev.ExpectedMissedCount,
				"current_missed_count":  cfg.CurrentMissedCheckIns,
			},
		}}
	}

	cfg.CurrentMissedCheckIns++

	if cfg.Status == domain.PollingGrace3 {
		// Already at the last rung: count the miss, keep the existing
		// release deadline. No new warning window is opened.
		return cfg, []Effect{Audit{
			Event:   domain.EscalationLevelEvent(3),
			Details: map[string]any{"missed_check_ins": cfg.CurrentMissedCheckIns},
		}}
	}

	level := cfg.Status.GraceLevel() + 1
	deadline := now.Add(cfg.GracePeriod(level))
	cfg.Status = graceStatus(level)
	cfg.NextCheckInDue = &deadline

	effects := []Effect{
		CreateGraceCheckIn{Level: level, ExpiresAt: deadline},
		Audit{
			Event: domain.EscalationLevelEvent(level),
			Details: map[string]any{
				"missed_check_ins": cfg.CurrentMissedCheckIns,
				"deadline":         deadline.Format(time.RFC3339),
			},
		},
	}
	if cfg.Status == domain.PollingGrace3 {
		effects = append(effects, EnqueueRelease{RunAt: deadline})
	}
	return cfg, effects
}

func trigger(cfg domain.PollingConfig, now time.Time) (domain.PollingConfig, []Effect) {
	t := now
	cfg.Status = domain.PollingTriggered
	cfg.TriggeredAt = &t
	return cfg, nil
}

// reset returns the config to a fresh active cycle: counter cleared and the
// next check-in due one full interval from now.
func reset(cfg domain.PollingConfig, now time.Time) domain.PollingConfig {
	due := now.Add(cfg.Interval.Duration())
	cfg.Status = domain.PollingActive
	cfg.CurrentMissedCheckIns = 0
	cfg.NextCheckInDue = &due
	return cfg
}

func graceStatus(level int) domain.PollingStatus {
	switch level {
	case 1:
		return domain.PollingGrace1
	case 2:
		return domain.PollingGrace2
	}
	return domain.PollingGrace3
}

// DueForRelease reports whether a config's final grace window has elapsed.
// The deadline lives in NextCheckInDue while the config sits in a grace
// state, so counter bumps at the last rung never push the release out.
func DueForRelease(cfg *domain.PollingConfig, now time.Time) bool {
	return cfg.Status == domain.PollingGrace3 &&
		cfg.NextCheckInDue != nil &&
		!now.Before(*cfg.NextCheckInDue)
}
