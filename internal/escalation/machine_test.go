package escalation

import (
	"reflect"
	"testing"
	"time"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig(status domain.PollingStatus, missed int) domain.PollingConfig {
	return domain.PollingConfig{
		ID:                    "cfg-1",
		UserID:                "user-1",
		Interval:              domain.IntervalMonthly,
		EmailEnabled:          true,
		GracePeriod1Days:      7,
		GracePeriod2Days:      14,
		GracePeriod3Days:      7,
		MissedBeforeTrigger:   3,
		Status:                status,
		CurrentMissedCheckIns: missed,
	}
}

// =============================================================================
// TRANSITION TABLE TESTS
// =============================================================================

func TestStep_ConfirmResets(t *testing.T) {
	for _, status := range []domain.PollingStatus{
		domain.PollingActive, domain.PollingGrace1, domain.PollingGrace2, domain.PollingGrace3,
	} {
		t.Run(string(status), func(t *testing.T) {
			cfg := testConfig(status, 2)
			got, effects := Step(cfg, Confirm{}, t0)

			if got.Status != domain.PollingActive {
				t.Errorf("status = %s, want active", got.Status)
			}
			if got.CurrentMissedCheckIns != 0 {
				t.Errorf("missed = %d, want 0", got.CurrentMissedCheckIns)
			}
			if got.LastCheckInAt == nil || !got.LastCheckInAt.Equal(t0) {
				t.Errorf("lastCheckInAt = %v, want %v", got.LastCheckInAt, t0)
			}
			wantDue := t0.Add(30 * 24 * time.Hour)
			if got.NextCheckInDue == nil || !got.NextCheckInDue.Equal(wantDue) {
				t.Errorf("nextCheckInDue = %v, want %v", got.NextCheckInDue, wantDue)
			}
			if len(effects) != 1 {
				t.Fatalf("effects = %d, want 1", len(effects))
			}
			audit, ok := effects[0].(Audit)
			if !ok || audit.Event != domain.AuditCheckInConfirmed {
				t.Errorf("effect = %+v, want CHECK_IN_CONFIRMED audit", effects[0])
			}
		})
	}
}

func TestStep_MissLadder(t *testing.T) {
	tests := []struct {
		name       string
		from       domain.PollingStatus
		missed     int
		wantStatus domain.PollingStatus
		wantLevel  int
		wantGrace  time.Duration
	}{
		{"active to grace_1", domain.PollingActive, 0, domain.PollingGrace1, 1, 7 * 24 * time.Hour},
		{"grace_1 to grace_2", domain.PollingGrace1, 1, domain.PollingGrace2, 2, 14 * 24 * time.Hour},
		{"grace_2 to grace_3", domain.PollingGrace2, 2, domain.PollingGrace3, 3, 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.from, tt.missed)
			got, effects := Step(cfg, Miss{ExpectedMissedCount: tt.missed}, t0)

			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.CurrentMissedCheckIns != tt.missed+1 {
				t.Errorf("missed = %d, want %d", got.CurrentMissedCheckIns, tt.missed+1)
			}
			wantDeadline := t0.Add(tt.wantGrace)
			if got.NextCheckInDue == nil || !got.NextCheckInDue.Equal(wantDeadline) {
				t.Errorf("deadline = %v, want %v", got.NextCheckInDue, wantDeadline)
			}

			var create *CreateGraceCheckIn
			var release *EnqueueRelease
			var auditEvent string
			for _, e := range effects {
				switch ef := e.(type) {
				case CreateGraceCheckIn:
					c := ef
					create = &c
				case EnqueueRelease:
					r := ef
					release = &r
				case Audit:
					auditEvent = ef.Event
				}
			}

			if create == nil {
				t.Fatal("missing CreateGraceCheckIn effect")
			}
			if create.Level != tt.wantLevel {
				t.Errorf("check-in level = %d, want %d", create.Level, tt.wantLevel)
			}
			if !create.ExpiresAt.Equal(wantDeadline) {
				t.Errorf("check-in expiry = %v, want %v", create.ExpiresAt, wantDeadline)
			}
			if auditEvent != domain.EscalationLevelEvent(tt.wantLevel) {
				t.Errorf("audit = %s, want ESCALATION_LEVEL_%d", auditEvent, tt.wantLevel)
			}

			if tt.wantStatus == domain.PollingGrace3 {
				if release == nil {
					t.Fatal("entering grace_3 must enqueue release")
				}
				if !release.RunAt.Equal(wantDeadline) {
					t.Errorf("release runAt = %v, want %v", release.RunAt, wantDeadline)
				}
			} else if release != nil {
				t.Errorf("unexpected release enqueue from %s", tt.from)
			}
		})
	}
}

func TestStep_MissStaleIsNoop(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		expected int
	}{
		{"expected below current", 2, 1},
		{"expected above current", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(domain.PollingGrace1, tt.current)
			got, effects := Step(cfg, Miss{ExpectedMissedCount: tt.expected}, t0)

			if got.Status != domain.PollingGrace1 || got.CurrentMissedCheckIns != tt.current {
				t.Errorf("stale miss changed state: %s missed=%d", got.Status, got.CurrentMissedCheckIns)
			}
			if len(effects) != 1 {
				t.Fatalf("effects = %d, want 1 audit", len(effects))
			}
			audit, ok := effects[0].(Audit)
			if !ok || audit.Event != domain.AuditEscalationSkippedStale {
				t.Errorf("effect = %+v, want ESCALATION_SKIPPED_STALE", effects[0])
			}
		})
	}
}

func TestStep_Grace3SelfLoopKeepsDeadline(t *testing.T) {
	deadline := t0.Add(7 * 24 * time.Hour)
	cfg := testConfig(domain.PollingGrace3, 3)
	cfg.NextCheckInDue = &deadline

	got, effects := Step(cfg, Miss{ExpectedMissedCount: 3}, t0.Add(8*24*time.Hour))

	if got.Status != domain.PollingGrace3 {
		t.Errorf("status = %s, want grace_3", got.Status)
	}
	if got.CurrentMissedCheckIns != 4 {
		t.Errorf("missed = %d, want 4", got.CurrentMissedCheckIns)
	}
	if got.NextCheckInDue == nil || !got.NextCheckInDue.Equal(deadline) {
		t.Errorf("deadline moved to %v, want %v", got.NextCheckInDue, deadline)
	}
	for _, e := range effects {
		switch e.(type) {
		case CreateGraceCheckIn, EnqueueRelease:
			t.Errorf("self-loop emitted %T, want audit only", e)
		}
	}
}

func TestStep_GraceTimeout(t *testing.T) {
	t.Run("grace_3 triggers", func(t *testing.T) {
		cfg := testConfig(domain.PollingGrace3, 3)
		got, _ := Step(cfg, GraceTimeout{}, t0)

		if got.Status != domain.PollingTriggered {
			t.Errorf("status = %s, want triggered", got.Status)
		}
		if got.TriggeredAt == nil || !got.TriggeredAt.Equal(t0) {
			t.Errorf("triggeredAt = %v, want %v", got.TriggeredAt, t0)
		}
	})

	for _, status := range []domain.PollingStatus{
		domain.PollingActive, domain.PollingGrace1, domain.PollingGrace2, domain.PollingPaused,
	} {
		t.Run(string(status)+" is noop", func(t *testing.T) {
			cfg := testConfig(status, 1)
			got, effects := Step(cfg, GraceTimeout{}, t0)
			if got.Status != status || len(effects) != 0 {
				t.Errorf("GraceTimeout from %s: got %s with %d effects, want noop", status, got.Status, len(effects))
			}
		})
	}
}

func TestStep_PauseResume(t *testing.T) {
	for _, status := range []domain.PollingStatus{
		domain.PollingActive, domain.PollingGrace1, domain.PollingGrace2, domain.PollingGrace3,
	} {
		t.Run("pause from "+string(status), func(t *testing.T) {
			cfg := testConfig(status, 2)
			got, _ := Step(cfg, Pause{}, t0)
			if got.Status != domain.PollingPaused {
				t.Errorf("status = %s, want paused", got.Status)
			}
			if got.CurrentMissedCheckIns != 2 {
				t.Errorf("pause must freeze counter, got %d", got.CurrentMissedCheckIns)
			}
		})
	}

	t.Run("resume resets and reschedules", func(t *testing.T) {
		cfg := testConfig(domain.PollingPaused, 2)
		resumeAt := t0.Add(48 * time.Hour)
		got, effects := Step(cfg, Resume{}, resumeAt)

		if got.Status != domain.PollingActive {
			t.Errorf("status = %s, want active", got.Status)
		}
		if got.CurrentMissedCheckIns != 0 {
			t.Errorf("missed = %d, want 0", got.CurrentMissedCheckIns)
		}
		wantDue := resumeAt.Add(30 * 24 * time.Hour)
		if got.NextCheckInDue == nil || !got.NextCheckInDue.Equal(wantDue) {
			t.Errorf("nextCheckInDue = %v, want %v", got.NextCheckInDue, wantDue)
		}
		if got.LastCheckInAt != nil {
			t.Error("resume must not stamp lastCheckInAt")
		}
		if len(effects) != 1 {
			t.Fatalf("effects = %d, want 1", len(effects))
		}
		if audit, ok := effects[0].(Audit); !ok || audit.Event != domain.AuditPollingResumed {
			t.Errorf("effect = %+v, want POLLING_RESUMED audit", effects[0])
		}
	})

	t.Run("resume from active is noop", func(t *testing.T) {
		cfg := testConfig(domain.PollingActive, 0)
		got, effects := Step(cfg, Resume{}, t0)
		if got.Status != domain.PollingActive || len(effects) != 0 {
			t.Error("Resume from active should be a noop")
		}
	})
}

func TestStep_AdminEvents(t *testing.T) {
	t.Run("force check-in works from paused", func(t *testing.T) {
		cfg := testConfig(domain.PollingPaused, 3)
		got, _ := Step(cfg, AdminForceCheckIn{}, t0)
		if got.Status != domain.PollingActive || got.CurrentMissedCheckIns != 0 {
			t.Errorf("force check-in: %s missed=%d, want active/0", got.Status, got.CurrentMissedCheckIns)
		}
		if got.LastCheckInAt == nil {
			t.Error("force check-in must stamp lastCheckInAt")
		}
	})

	t.Run("trigger from active", func(t *testing.T) {
		cfg := testConfig(domain.PollingActive, 0)
		got, _ := Step(cfg, AdminTrigger{}, t0)
		if got.Status != domain.PollingTriggered {
			t.Errorf("status = %s, want triggered", got.Status)
		}
	})

	t.Run("trigger from paused is noop", func(t *testing.T) {
		cfg := testConfig(domain.PollingPaused, 0)
		got, effects := Step(cfg, AdminTrigger{}, t0)
		if got.Status != domain.PollingPaused || len(effects) != 0 {
			t.Error("AdminTrigger from paused should be a noop")
		}
	})
}

func TestStep_PausedIgnoresLivenessEvents(t *testing.T) {
	for _, ev := range []Event{Confirm{}, Miss{ExpectedMissedCount: 2}, GraceTimeout{}} {
		t.Run(ev.eventName(), func(t *testing.T) {
			cfg := testConfig(domain.PollingPaused, 2)
			got, effects := Step(cfg, ev, t0)
			if got.Status != domain.PollingPaused || got.CurrentMissedCheckIns != 2 || len(effects) != 0 {
				t.Errorf("%s from paused: got %s missed=%d effects=%d, want noop",
					ev.eventName(), got.Status, got.CurrentMissedCheckIns, len(effects))
			}
		})
	}
}

func TestStep_TriggeredIsTerminal(t *testing.T) {
	events := []Event{
		Confirm{}, Miss{ExpectedMissedCount: 3}, GraceTimeout{},
		Pause{}, Resume{}, AdminForceCheckIn{}, AdminTrigger{},
	}
	triggeredAt := t0.Add(-time.Hour)

	for _, ev := range events {
		t.Run(ev.eventName(), func(t *testing.T) {
			cfg := testConfig(domain.PollingTriggered, 3)
			cfg.TriggeredAt = &triggeredAt
			got, effects := Step(cfg, ev, t0)

			if got.Status != domain.PollingTriggered || len(effects) != 0 {
				t.Errorf("%s moved a triggered config", ev.eventName())
			}
			if got.TriggeredAt == nil || !got.TriggeredAt.Equal(triggeredAt) {
				t.Error("triggeredAt must never change")
			}
		})
	}
}

// =============================================================================
// DETERMINISM AND GUARD TESTS
// =============================================================================

func TestStep_Deterministic(t *testing.T) {
	events := []Event{
		Confirm{}, Miss{ExpectedMissedCount: 1}, GraceTimeout{},
		Pause{}, Resume{}, AdminForceCheckIn{}, AdminTrigger{},
	}
	states := []domain.PollingStatus{
		domain.PollingActive, domain.PollingPaused, domain.PollingGrace1,
		domain.PollingGrace2, domain.PollingGrace3, domain.PollingTriggered,
	}

	for _, status := range states {
		for _, ev := range events {
			cfg := testConfig(status, 1)
			got1, eff1 := Step(cfg, ev, t0)
			got2, eff2 := Step(cfg, ev, t0)

			if !reflect.DeepEqual(got1, got2) || !reflect.DeepEqual(eff1, eff2) {
				t.Errorf("Step(%s, %s) is not deterministic", status, ev.eventName())
			}
		}
	}
}

func TestDueForRelease(t *testing.T) {
	deadline := t0.Add(7 * 24 * time.Hour)

	tests := []struct {
		name   string
		status domain.PollingStatus
		due    *time.Time
		now    time.Time
		want   bool
	}{
		{"before deadline", domain.PollingGrace3, &deadline, deadline.Add(-time.Second), false},
		{"exactly at deadline", domain.PollingGrace3, &deadline, deadline, true},
		{"past deadline", domain.PollingGrace3, &deadline, deadline.Add(time.Second), true},
		{"wrong status", domain.PollingActive, &deadline, deadline.Add(time.Hour), false},
		{"no deadline", domain.PollingGrace3, nil, deadline, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.status, 3)
			cfg.NextCheckInDue = tt.due
			if got := DueForRelease(&cfg, tt.now); got != tt.want {
				t.Errorf("DueForRelease() = %v, want %v", got, tt.want)
			}
		})
	}
}
