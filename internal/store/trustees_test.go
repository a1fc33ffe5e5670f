package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

// =============================================================================
// TRUSTEE VERIFICATION
// =============================================================================

func TestVerifyTrusteeConsumesToken(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	verified := trusteeRows().AddRow("tr-1", "u-1", "Bob", "bob@example.com", "", "brother",
		"verified", nil, storeTestNow, nil, nil, nil,
		storeTestNow.Add(-24*time.Hour), storeTestNow)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE trustees\s+SET status = 'verified'`).
		WithArgs("vt-123", storeTestNow).
		WillReturnRows(verified)
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(sqlmock.AnyArg(), "u-1", "TRUSTEE_VERIFIED", sqlmock.AnyArg(),
			testObserver.IPAddress, testObserver.UserAgent, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	trustee, err := s.VerifyTrustee(context.Background(), "vt-123", testObserver)
	if err != nil {
		t.Fatalf("VerifyTrustee() error = %v", err)
	}
	if trustee.Status != domain.TrusteeVerified {
		t.Errorf("VerifyTrustee() status = %s, want verified", trustee.Status)
	}
	if trustee.VerificationToken != nil {
		t.Error("VerifyTrustee() should clear the verification token")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestVerifyTrusteeTokenIsSingleUse(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	// The consuming UPDATE matched nothing: token already used or unknown.
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE trustees\s+SET status = 'verified'`).
		WithArgs("vt-123", storeTestNow).
		WillReturnRows(trusteeRows())
	mock.ExpectRollback()

	_, err := s.VerifyTrustee(context.Background(), "vt-123", testObserver)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("VerifyTrustee() second use error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// TRUSTEE LIFECYCLE
// =============================================================================

func TestCreateTrusteeDuplicateEmail(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO trustees`).
		WillReturnError(&pq.Error{Code: "23505"})

	token := "vt-fresh"
	trustee := &domain.Trustee{
		UserID:            "u-1",
		Name:              "Bob",
		Email:             "bob@example.com",
		VerificationToken: &token,
	}
	err := s.CreateTrustee(context.Background(), trustee)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("CreateTrustee() duplicate error = %v, want ErrConflict", err)
	}
}

func TestRevokeTrustee(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE trustees\s+SET status = 'revoked'`).
		WithArgs("tr-1", "u-1", storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(sqlmock.AnyArg(), "u-1", "TRUSTEE_REVOKED", sqlmock.AnyArg(),
			testObserver.IPAddress, testObserver.UserAgent, storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.RevokeTrustee(context.Background(), "u-1", "tr-1", testObserver); err != nil {
		t.Fatalf("RevokeTrustee() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRevokeTrusteeMissing(t *testing.T) {
	s, mock, cleanup := setupTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE trustees\s+SET status = 'revoked'`).
		WithArgs("tr-9", "u-1", storeTestNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RevokeTrustee(context.Background(), "u-1", "tr-9", testObserver)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("RevokeTrustee() missing error = %v, want ErrNotFound", err)
	}
}
