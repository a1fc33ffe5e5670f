package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

// CreateUser inserts a user together with their polling config in one
// transaction. Every user owns exactly one config; creating them as a pair
// keeps that invariant out of application code.
func (s *Store) CreateUser(ctx context.Context, user *domain.User, cfg *domain.PollingConfig) error {
	user.ID = uuid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = s.now()
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = domain.RoleUser
	}

	if cfg == nil {
		cfg = domain.NewPollingConfig(user.ID)
	}
	cfg.ID = uuid.New().String()
	cfg.UserID = user.ID
	cfg.CreatedAt = user.CreatedAt
	cfg.UpdatedAt = user.CreatedAt
	if cfg.Status == "" {
		cfg.Status = domain.PollingActive
	}
	if cfg.NextCheckInDue == nil {
		due := s.now().Add(cfg.Interval.Duration())
		cfg.NextCheckInDue = &due
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO users (id, email, phone, display_name, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.ExecContext(ctx, query, user.ID, user.Email, user.Phone,
			user.DisplayName, user.Role, user.CreatedAt, user.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return unavailable("create user", err)
		}

		query = `INSERT INTO polling_configs (id, user_id, check_interval, email_enabled, sms_enabled,
			grace_period_1_days, grace_period_2_days, grace_period_3_days, missed_before_trigger,
			current_missed_check_ins, status, next_check_in_due, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		_, err := tx.ExecContext(ctx, query, cfg.ID, cfg.UserID, cfg.Interval,
			cfg.EmailEnabled, cfg.SMSEnabled, cfg.GracePeriod1Days, cfg.GracePeriod2Days,
			cfg.GracePeriod3Days, cfg.MissedBeforeTrigger, cfg.CurrentMissedCheckIns,
			cfg.Status, cfg.NextCheckInDue, cfg.CreatedAt, cfg.UpdatedAt)
		if err != nil {
			return unavailable("create polling config", err)
		}
		return nil
	})
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT id, email, phone, display_name, role, created_at, updated_at
		FROM users WHERE id = $1`

	user := &domain.User{}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.Email, &user.Phone, &user.DisplayName, &user.Role,
		&user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get user", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT id, email, phone, display_name, role, created_at, updated_at
		FROM users WHERE email = $1`

	user := &domain.User{}
	err := s.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID, &user.Email, &user.Phone, &user.DisplayName, &user.Role,
		&user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get user by email", err)
	}
	return user, nil
}

// UpdateUser updates the mutable profile fields.
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = s.now()
	query := `UPDATE users SET phone = $2, display_name = $3, updated_at = $4 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, user.ID, user.Phone, user.DisplayName, user.UpdatedAt)
	if err != nil {
		return unavailable("update user", err)
	}
	return requireRow(res)
}

// DeleteUser removes a user; dependent rows cascade at the schema level.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return unavailable("delete user", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
