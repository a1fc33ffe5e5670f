package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

var testObserver = domain.Observer{IPAddress: "203.0.113.9", UserAgent: "test-agent"}

func addPendingCheckIn(rows *sqlmock.Rows, expiresAt time.Time) *sqlmock.Rows {
	return rows.AddRow("ci-1", "u-1", "tok-1", "pending", 0, []byte(`{email}`),
		storeTestNow.Add(-time.Hour), nil, expiresAt, storeTestNow.Add(-time.Hour))
}

// =============================================================================
// CONFIRM CHECK-IN
// =============================================================================

func TestConfirmCheckInResetsConfig(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	expires := storeTestNow.Add(2 * 24 * time.Hour)

	mock.ExpectBegin()
	// Peek by token, then lock the config, then re-read the row under the lock.
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1$`).
		WithArgs("tok-1").
		WillReturnRows(addPendingCheckIn(checkInRows(), expires))
	mock.ExpectQuery(`FROM polling_configs WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(addConfigRow(configRows(), "grace_2", 2, storeTestNow.Add(5*24*time.Hour)))
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1 FOR UPDATE`).
		WithArgs("tok-1").
		WillReturnRows(addPendingCheckIn(checkInRows(), expires))

	mock.ExpectExec(`UPDATE check_ins SET status = \$2, responded_at = \$3`).
		WithArgs("ci-1", "confirmed", storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE check_ins SET status = 'cancelled'`).
		WithArgs("u-1", "ci-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE polling_configs SET current_missed_check_ins`).
		WithArgs("cfg-1", 0, "active", storeTestNow, storeTestNow.Add(7*24*time.Hour), nil, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(sqlmock.AnyArg(), "u-1", "CHECK_IN_CONFIRMED", sqlmock.AnyArg(),
			testObserver.IPAddress, testObserver.UserAgent, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	checkIn, cfg, err := s.ConfirmCheckIn(context.Background(), "tok-1", testObserver)
	if err != nil {
		t.Fatalf("ConfirmCheckIn() error = %v", err)
	}
	if checkIn.Status != domain.CheckInConfirmed {
		t.Errorf("check-in status = %s, want confirmed", checkIn.Status)
	}
	if checkIn.RespondedAt == nil || !checkIn.RespondedAt.Equal(storeTestNow) {
		t.Errorf("check-in responded_at = %v, want %v", checkIn.RespondedAt, storeTestNow)
	}
	if cfg.Status != domain.PollingActive {
		t.Errorf("config status = %s, want active after confirmation from grace", cfg.Status)
	}
	if cfg.CurrentMissedCheckIns != 0 {
		t.Errorf("config missed count = %d, want 0 after reset", cfg.CurrentMissedCheckIns)
	}
	if cfg.LastCheckInAt == nil || !cfg.LastCheckInAt.Equal(storeTestNow) {
		t.Errorf("config last_check_in_at = %v, want %v", cfg.LastCheckInAt, storeTestNow)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConfirmCheckInAlreadyResolved(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	resolved := checkInRows().AddRow("ci-1", "u-1", "tok-1", "confirmed", 0, []byte(`{email}`),
		storeTestNow.Add(-2*time.Hour), storeTestNow.Add(-time.Hour),
		storeTestNow.Add(24*time.Hour), storeTestNow.Add(-2*time.Hour))
	resolvedAgain := checkInRows().AddRow("ci-1", "u-1", "tok-1", "confirmed", 0, []byte(`{email}`),
		storeTestNow.Add(-2*time.Hour), storeTestNow.Add(-time.Hour),
		storeTestNow.Add(24*time.Hour), storeTestNow.Add(-2*time.Hour))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1$`).WithArgs("tok-1").WillReturnRows(resolved)
	mock.ExpectQuery(`FROM polling_configs WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(addConfigRow(configRows(), "active", 0, storeTestNow.Add(6*24*time.Hour)))
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1 FOR UPDATE`).WithArgs("tok-1").WillReturnRows(resolvedAgain)
	mock.ExpectRollback()

	checkIn, _, err := s.ConfirmCheckIn(context.Background(), "tok-1", testObserver)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("ConfirmCheckIn() error = %v, want ErrAlreadyResolved", err)
	}
	if checkIn == nil || checkIn.Status != domain.CheckInConfirmed {
		t.Error("ConfirmCheckIn() should return the resolved check-in for idempotent responses")
	}
}

func TestConfirmCheckInAtDeadlineIsExpired(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	// expires_at == now is already expired; validity is strictly before.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1$`).
		WithArgs("tok-1").
		WillReturnRows(addPendingCheckIn(checkInRows(), storeTestNow))
	mock.ExpectQuery(`FROM polling_configs WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(addConfigRow(configRows(), "active", 0, storeTestNow.Add(6*24*time.Hour)))
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1 FOR UPDATE`).
		WithArgs("tok-1").
		WillReturnRows(addPendingCheckIn(checkInRows(), storeTestNow))
	mock.ExpectRollback()

	_, _, err := s.ConfirmCheckIn(context.Background(), "tok-1", testObserver)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("ConfirmCheckIn() at deadline error = %v, want ErrExpired", err)
	}
}

func TestConfirmCheckInAfterTrigger(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	expires := storeTestNow.Add(24 * time.Hour)
	triggered := configRows().AddRow("cfg-1", "u-1", "weekly", true, false, 7, 14, 7, 3,
		3, "triggered", nil, nil, storeTestNow.Add(-time.Hour),
		storeTestNow.Add(-30*24*time.Hour), storeTestNow.Add(-time.Hour))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1$`).
		WithArgs("tok-1").
		WillReturnRows(addPendingCheckIn(checkInRows(), expires))
	mock.ExpectQuery(`FROM polling_configs WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(triggered)
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1 FOR UPDATE`).
		WithArgs("tok-1").
		WillReturnRows(addPendingCheckIn(checkInRows(), expires))
	mock.ExpectRollback()

	_, _, err := s.ConfirmCheckIn(context.Background(), "tok-1", testObserver)
	if !errors.Is(err, ErrAlreadyTriggered) {
		t.Errorf("ConfirmCheckIn() after trigger error = %v, want ErrAlreadyTriggered", err)
	}
}

func TestConfirmCheckInWhilePaused(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	expires := storeTestNow.Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1$`).
		WithArgs("tok-1").
		WillReturnRows(addPendingCheckIn(checkInRows(), expires))
	mock.ExpectQuery(`FROM polling_configs WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(addConfigRow(configRows(), "paused", 1, nil))
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1 FOR UPDATE`).
		WithArgs("tok-1").
		WillReturnRows(addPendingCheckIn(checkInRows(), expires))

	// The check-in resolves but the paused config must not move.
	mock.ExpectExec(`UPDATE check_ins SET status = \$2, responded_at = \$3`).
		WithArgs("ci-1", "confirmed", storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE check_ins SET status = 'cancelled'`).
		WithArgs("u-1", "ci-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(sqlmock.AnyArg(), "u-1", "CHECK_IN_CONFIRMED", sqlmock.AnyArg(),
			testObserver.IPAddress, testObserver.UserAgent, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	checkIn, cfg, err := s.ConfirmCheckIn(context.Background(), "tok-1", testObserver)
	if err != nil {
		t.Fatalf("ConfirmCheckIn() error = %v", err)
	}
	if checkIn.Status != domain.CheckInConfirmed {
		t.Errorf("check-in status = %s, want confirmed", checkIn.Status)
	}
	if cfg.Status != domain.PollingPaused {
		t.Errorf("config status = %s, want paused to stay paused", cfg.Status)
	}
	if cfg.CurrentMissedCheckIns != 1 {
		t.Errorf("config missed count = %d, want frozen at 1", cfg.CurrentMissedCheckIns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConfirmCheckInUnknownToken(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM check_ins WHERE token = \$1$`).
		WithArgs("nope").
		WillReturnRows(checkInRows())
	mock.ExpectRollback()

	_, _, err := s.ConfirmCheckIn(context.Background(), "nope", testObserver)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ConfirmCheckIn() unknown token error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// SWEEP READS
// =============================================================================

func TestExpiredPendingCheckIns(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	rows := checkInRows().
		AddRow("ci-1", "u-1", "tok-1", "pending", 0, []byte(`{email,sms}`),
			storeTestNow.Add(-8*24*time.Hour), nil, storeTestNow.Add(-24*time.Hour), storeTestNow.Add(-8*24*time.Hour)).
		AddRow("ci-2", "u-2", "tok-2", "pending", 1, []byte(`{email}`),
			storeTestNow.Add(-2*24*time.Hour), nil, storeTestNow.Add(-time.Hour), storeTestNow.Add(-2*24*time.Hour))

	mock.ExpectQuery(`FROM check_ins\s+WHERE status = 'pending' AND expires_at <`).
		WithArgs(storeTestNow, 100).
		WillReturnRows(rows)

	expired, err := s.ExpiredPendingCheckIns(context.Background(), 100)
	if err != nil {
		t.Fatalf("ExpiredPendingCheckIns() error = %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("ExpiredPendingCheckIns() returned %d, want 2", len(expired))
	}
	if expired[0].ID != "ci-1" {
		t.Errorf("expired order: first = %s, want ci-1 (oldest deadline first)", expired[0].ID)
	}
	if len(expired[0].SentVia) != 2 || expired[0].SentVia[0] != domain.ChannelEmail || expired[0].SentVia[1] != domain.ChannelSMS {
		t.Errorf("sent_via = %v, want [email sms]", expired[0].SentVia)
	}
	if expired[1].GraceLevel != 1 {
		t.Errorf("grace_level = %d, want 1", expired[1].GraceLevel)
	}
}

// =============================================================================
// MANUAL CONFIRMATION
// =============================================================================

func TestConfirmPendingForUser(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM polling_configs WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(addConfigRow(configRows(), "grace_1", 1, storeTestNow.Add(3*24*time.Hour)))
	mock.ExpectExec(`UPDATE check_ins SET status = 'confirmed'`).
		WithArgs("u-1", storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE polling_configs SET current_missed_check_ins`).
		WithArgs("cfg-1", 0, "active", storeTestNow, storeTestNow.Add(7*24*time.Hour), nil, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(sqlmock.AnyArg(), "u-1", "CHECK_IN_CONFIRMED", sqlmock.AnyArg(),
			testObserver.IPAddress, testObserver.UserAgent, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	confirmed, cfg, err := s.ConfirmPendingForUser(context.Background(), "u-1", testObserver)
	if err != nil {
		t.Fatalf("ConfirmPendingForUser() error = %v", err)
	}
	if confirmed != 2 {
		t.Errorf("ConfirmPendingForUser() confirmed = %d, want 2", confirmed)
	}
	if cfg.Status != domain.PollingActive || cfg.CurrentMissedCheckIns != 0 {
		t.Errorf("config after manual confirm = %s/%d, want active/0", cfg.Status, cfg.CurrentMissedCheckIns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConfirmPendingForUserAfterTrigger(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	triggered := configRows().AddRow("cfg-1", "u-1", "weekly", true, false, 7, 14, 7, 3,
		3, "triggered", nil, nil, storeTestNow.Add(-time.Hour),
		storeTestNow.Add(-30*24*time.Hour), storeTestNow.Add(-time.Hour))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM polling_configs WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("u-1").
		WillReturnRows(triggered)
	mock.ExpectRollback()

	_, _, err := s.ConfirmPendingForUser(context.Background(), "u-1", testObserver)
	if !errors.Is(err, ErrAlreadyTriggered) {
		t.Errorf("ConfirmPendingForUser() after trigger error = %v, want ErrAlreadyTriggered", err)
	}
}
