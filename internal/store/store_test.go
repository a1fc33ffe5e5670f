package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var storeTestNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	s := New(db)
	s.SetClock(func() time.Time { return storeTestNow })
	return s, mock, func() { db.Close() }
}

func checkInRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "token", "status", "grace_level", "sent_via",
		"sent_at", "responded_at", "expires_at", "created_at",
	})
}

func configRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "check_interval", "email_enabled", "sms_enabled",
		"grace_period_1_days", "grace_period_2_days", "grace_period_3_days",
		"missed_before_trigger", "current_missed_check_ins", "status",
		"last_check_in_at", "next_check_in_due", "triggered_at",
		"created_at", "updated_at",
	})
}

func addConfigRow(rows *sqlmock.Rows, status string, missed int, nextDue any) *sqlmock.Rows {
	return rows.AddRow("cfg-1", "u-1", "weekly", true, false, 7, 14, 7, 3,
		missed, status, nil, nextDue, nil, storeTestNow.Add(-30*24*time.Hour), storeTestNow.Add(-time.Hour))
}

func trusteeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "name", "email", "phone", "relationship", "status",
		"verification_token", "verified_at", "access_token", "access_granted_at",
		"access_expires_at", "created_at", "updated_at",
	})
}

func letterRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "recipient_name", "recipient_email", "subject",
		"encrypted_body", "body_nonce", "status", "delivered_at", "created_at", "updated_at",
	})
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func TestUnavailableWrapsConnectionErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"closed connection", sql.ErrConnDone, true},
		{"bad connection", driver.ErrBadConn, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"constraint violation", errors.New("pq: check constraint"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := unavailable("test op", tt.err)
			if got := errors.Is(wrapped, ErrUnavailable); got != tt.transient {
				t.Errorf("errors.Is(unavailable(%v), ErrUnavailable) = %v, want %v", tt.err, got, tt.transient)
			}
		})
	}
}

// =============================================================================
// USER + CONFIG CREATION
// =============================================================================

func TestCreateUserInsertsConfigAtomically(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "alice@example.com", "+15551234567", "Alice", "user", storeTestNow, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO polling_configs`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "monthly", true, false, 7, 14, 7, 3,
			0, "active", storeTestNow.Add(30*24*time.Hour), storeTestNow, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user := &domain.User{
		Email:       "  Alice@Example.COM ",
		Phone:       "+15551234567",
		DisplayName: "Alice",
	}
	if err := s.CreateUser(context.Background(), user, nil); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	if user.Role != domain.RoleUser {
		t.Errorf("CreateUser() role = %s, want %s", user.Role, domain.RoleUser)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("CreateUser() email = %q, want normalized lowercase", user.Email)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.CreateUser(context.Background(), &domain.User{Email: "alice@example.com"}, nil)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("CreateUser() duplicate error = %v, want ErrConflict", err)
	}
}

func TestCreateUserRejectsInvalidConfig(t *testing.T) {
	s, _, cleanup := setupTestStore(t)
	defer cleanup()

	cfg := domain.NewPollingConfig("")
	cfg.GracePeriod1Days = 0 // below the allowed range

	err := s.CreateUser(context.Background(), &domain.User{Email: "bob@example.com"}, cfg)
	if err == nil {
		t.Fatal("CreateUser() accepted a config with an out-of-range grace period")
	}
}

func TestGetUserNotFound(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUser(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser() error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// DUE SCANS
// =============================================================================

func TestDuePollingConfigUserIDs(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id FROM polling_configs\s+WHERE status = 'active'`).
		WithArgs(storeTestNow, 50).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u-1").AddRow("u-2"))

	ids, err := s.DuePollingConfigUserIDs(context.Background(), 50)
	if err != nil {
		t.Fatalf("DuePollingConfigUserIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "u-1" || ids[1] != "u-2" {
		t.Errorf("DuePollingConfigUserIDs() = %v, want [u-1 u-2]", ids)
	}
}

func TestReleaseDueUserIDs(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id FROM polling_configs\s+WHERE status = 'grace_3'`).
		WithArgs(storeTestNow, 50).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u-3"))

	ids, err := s.ReleaseDueUserIDs(context.Background(), 50)
	if err != nil {
		t.Fatalf("ReleaseDueUserIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "u-3" {
		t.Errorf("ReleaseDueUserIDs() = %v, want [u-3]", ids)
	}
}
