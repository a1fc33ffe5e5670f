package store

import (
	"context"
	"database/sql"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

const pollingColumns = `id, user_id, check_interval, email_enabled, sms_enabled,
	grace_period_1_days, grace_period_2_days, grace_period_3_days, missed_before_trigger,
	current_missed_check_ins, status, last_check_in_at, next_check_in_due, triggered_at,
	created_at, updated_at`

func scanPollingConfig(row interface{ Scan(...any) error }) (*domain.PollingConfig, error) {
	cfg := &domain.PollingConfig{}
	err := row.Scan(
		&cfg.ID, &cfg.UserID, &cfg.Interval, &cfg.EmailEnabled, &cfg.SMSEnabled,
		&cfg.GracePeriod1Days, &cfg.GracePeriod2Days, &cfg.GracePeriod3Days,
		&cfg.MissedBeforeTrigger, &cfg.CurrentMissedCheckIns, &cfg.Status,
		&cfg.LastCheckInAt, &cfg.NextCheckInDue, &cfg.TriggeredAt,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan polling config", err)
	}
	return cfg, nil
}

// GetPollingConfig retrieves a user's config without locking.
func (s *Store) GetPollingConfig(ctx context.Context, userID string) (*domain.PollingConfig, error) {
	query := `SELECT ` + pollingColumns + ` FROM polling_configs WHERE user_id = $1`
	return scanPollingConfig(s.db.QueryRowContext(ctx, query, userID))
}

// LockPollingConfigTx loads a user's config under FOR UPDATE. Every
// read-modify-write across the config and its check-ins must go through
// this lock; it is the per-user serialization point.
func (s *Store) LockPollingConfigTx(ctx context.Context, tx *sql.Tx, userID string) (*domain.PollingConfig, error) {
	query := `SELECT ` + pollingColumns + ` FROM polling_configs WHERE user_id = $1 FOR UPDATE`
	return scanPollingConfig(tx.QueryRowContext(ctx, query, userID))
}

// SavePollingConfigTx persists the mutable state-machine fields.
func (s *Store) SavePollingConfigTx(ctx context.Context, tx *sql.Tx, cfg *domain.PollingConfig) error {
	cfg.UpdatedAt = s.now()
	query := `UPDATE polling_configs SET current_missed_check_ins = $2, status = $3,
		last_check_in_at = $4, next_check_in_due = $5, triggered_at = $6, updated_at = $7
		WHERE id = $1`
	res, err := tx.ExecContext(ctx, query, cfg.ID, cfg.CurrentMissedCheckIns, cfg.Status,
		cfg.LastCheckInAt, cfg.NextCheckInDue, cfg.TriggeredAt, cfg.UpdatedAt)
	if err != nil {
		return unavailable("save polling config", err)
	}
	return requireRow(res)
}

// UpdatePollingSettings persists the user-editable fields. The escalation
// fields (status, counter, deadlines) are untouchable from this path.
func (s *Store) UpdatePollingSettings(ctx context.Context, cfg *domain.PollingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = s.now()
	query := `UPDATE polling_configs SET check_interval = $2, email_enabled = $3, sms_enabled = $4,
		grace_period_1_days = $5, grace_period_2_days = $6, grace_period_3_days = $7,
		missed_before_trigger = $8, updated_at = $9
		WHERE user_id = $1`
	res, err := s.db.ExecContext(ctx, query, cfg.UserID, cfg.Interval, cfg.EmailEnabled,
		cfg.SMSEnabled, cfg.GracePeriod1Days, cfg.GracePeriod2Days, cfg.GracePeriod3Days,
		cfg.MissedBeforeTrigger, cfg.UpdatedAt)
	if err != nil {
		return unavailable("update polling settings", err)
	}
	return requireRow(res)
}

// DuePollingConfigUserIDs returns users whose active config has a check-in
// due. The scheduler re-checks the condition under the row lock before
// acting, so this read needs no locking of its own.
func (s *Store) DuePollingConfigUserIDs(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT user_id FROM polling_configs
		WHERE status = 'active' AND next_check_in_due <= $1
		ORDER BY next_check_in_due ASC
		LIMIT $2`
	return s.userIDQuery(ctx, query, s.now(), limit)
}

// ReleaseDueUserIDs returns users sitting at the last grace rung past their
// deadline. The deadline lives in next_check_in_due while a config is in a
// grace state.
func (s *Store) ReleaseDueUserIDs(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT user_id FROM polling_configs
		WHERE status = 'grace_3' AND next_check_in_due < $1
		ORDER BY next_check_in_due ASC
		LIMIT $2`
	return s.userIDQuery(ctx, query, s.now(), limit)
}

func (s *Store) userIDQuery(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("select user ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
