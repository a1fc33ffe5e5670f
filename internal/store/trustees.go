package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

const trusteeColumns = `id, user_id, name, email, phone, relationship, status,
	verification_token, verified_at, access_token, access_granted_at, access_expires_at,
	created_at, updated_at`

func scanTrustee(row interface{ Scan(...any) error }) (*domain.Trustee, error) {
	t := &domain.Trustee{}
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Email, &t.Phone, &t.Relationship,
		&t.Status, &t.VerificationToken, &t.VerifiedAt, &t.AccessToken,
		&t.AccessGrantedAt, &t.AccessExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan trustee", err)
	}
	return t, nil
}

// CreateTrustee inserts a new trustee in pending state. The caller mints
// the verification token; a duplicate (user, email) pair is a conflict.
func (s *Store) CreateTrustee(ctx context.Context, t *domain.Trustee) error {
	t.ID = uuid.New().String()
	t.Email = strings.ToLower(strings.TrimSpace(t.Email))
	t.Status = domain.TrusteePending
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt

	query := `INSERT INTO trustees (id, user_id, name, email, phone, relationship, status,
		verification_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.ExecContext(ctx, query, t.ID, t.UserID, t.Name, t.Email, t.Phone,
		t.Relationship, t.Status, t.VerificationToken, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return unavailable("create trustee", err)
	}
	return nil
}

// GetTrustee retrieves a trustee by ID.
func (s *Store) GetTrustee(ctx context.Context, id string) (*domain.Trustee, error) {
	query := `SELECT ` + trusteeColumns + ` FROM trustees WHERE id = $1`
	return scanTrustee(s.db.QueryRowContext(ctx, query, id))
}

// GetTrusteeByVerificationToken resolves a pending verification link.
func (s *Store) GetTrusteeByVerificationToken(ctx context.Context, token string) (*domain.Trustee, error) {
	query := `SELECT ` + trusteeColumns + ` FROM trustees WHERE verification_token = $1`
	return scanTrustee(s.db.QueryRowContext(ctx, query, token))
}

// GetTrusteeByAccessToken resolves a trustee access link.
func (s *Store) GetTrusteeByAccessToken(ctx context.Context, token string) (*domain.Trustee, error) {
	query := `SELECT ` + trusteeColumns + ` FROM trustees WHERE access_token = $1`
	return scanTrustee(s.db.QueryRowContext(ctx, query, token))
}

// ListTrustees returns all trustees of a user.
func (s *Store) ListTrustees(ctx context.Context, userID string) ([]*domain.Trustee, error) {
	query := `SELECT ` + trusteeColumns + ` FROM trustees WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("list trustees", err)
	}
	defer rows.Close()

	var out []*domain.Trustee
	for rows.Next() {
		t, err := scanTrustee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// VerifyTrustee consumes a verification token: the trustee moves from
// pending to verified and the token is cleared in the same statement, so a
// second use finds nothing. Strictly single-use.
func (s *Store) VerifyTrustee(ctx context.Context, token string, obs domain.Observer) (*domain.Trustee, error) {
	var trustee *domain.Trustee
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE trustees
			SET status = 'verified', verified_at = $2, verification_token = NULL, updated_at = $2
			WHERE verification_token = $1 AND status = 'pending'
			RETURNING ` + trusteeColumns
		var err error
		trustee, err = scanTrustee(tx.QueryRowContext(ctx, query, token, s.now()))
		if err != nil {
			return err
		}
		return s.AppendAuditTx(ctx, tx, &domain.AuditLog{
			UserID:    &trustee.UserID,
			EventType: domain.AuditTrusteeVerified,
			Details:   map[string]any{"trustee_id": trustee.ID},
			IPAddress: obs.IPAddress,
			UserAgent: obs.UserAgent,
		})
	})
	return trustee, err
}

// RevokeTrustee removes a trustee from a user's circle. Any outstanding
// access grant dies with the revocation.
func (s *Store) RevokeTrustee(ctx context.Context, userID, trusteeID string, obs domain.Observer) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE trustees
			SET status = 'revoked', verification_token = NULL, access_token = NULL, updated_at = $3
			WHERE id = $1 AND user_id = $2 AND status <> 'revoked'`
		res, err := tx.ExecContext(ctx, query, trusteeID, userID, s.now())
		if err != nil {
			return unavailable("revoke trustee", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		return s.AppendAuditTx(ctx, tx, &domain.AuditLog{
			UserID:    &userID,
			EventType: domain.AuditTrusteeRevoked,
			Details:   map[string]any{"trustee_id": trusteeID},
			IPAddress: obs.IPAddress,
			UserAgent: obs.UserAgent,
		})
	})
}

// EligibleTrusteesTx loads and locks the trustees that receive access when
// the release procedure runs: verified or already active.
func (s *Store) EligibleTrusteesTx(ctx context.Context, tx *sql.Tx, userID string) ([]*domain.Trustee, error) {
	query := `SELECT ` + trusteeColumns + ` FROM trustees
		WHERE user_id = $1 AND status IN ('verified', 'active')
		ORDER BY created_at ASC FOR UPDATE`
	rows, err := tx.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("select eligible trustees", err)
	}
	defer rows.Close()

	var out []*domain.Trustee
	for rows.Next() {
		t, err := scanTrustee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GrantTrusteeAccessTx activates a trustee with a freshly minted access
// token inside the release transaction.
func (s *Store) GrantTrusteeAccessTx(ctx context.Context, tx *sql.Tx, trusteeID, token string, grantedAt time.Time, expiresAt time.Time) error {
	query := `UPDATE trustees
		SET status = 'active', access_token = $2, access_granted_at = $3, access_expires_at = $4, updated_at = $3
		WHERE id = $1`
	res, err := tx.ExecContext(ctx, query, trusteeID, token, grantedAt, expiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return unavailable("grant trustee access", err)
	}
	return requireRow(res)
}

// TrusteesWithAccess returns trustees holding a minted access token. The
// reconciliation sweep walks these to find lost notifications.
func (s *Store) TrusteesWithAccess(ctx context.Context, userID string) ([]*domain.Trustee, error) {
	query := `SELECT ` + trusteeColumns + ` FROM trustees
		WHERE user_id = $1 AND access_token IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("select trustees with access", err)
	}
	defer rows.Close()

	var out []*domain.Trustee
	for rows.Next() {
		t, err := scanTrustee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
