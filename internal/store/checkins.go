package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/escalation"
)

const checkInColumns = `id, user_id, token, status, grace_level, sent_via,
	sent_at, responded_at, expires_at, created_at`

func scanCheckIn(row interface{ Scan(...any) error }) (*domain.CheckIn, error) {
	c := &domain.CheckIn{}
	var sentVia pq.StringArray
	err := row.Scan(&c.ID, &c.UserID, &c.Token, &c.Status, &c.GraceLevel, &sentVia,
		&c.SentAt, &c.RespondedAt, &c.ExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan check-in", err)
	}
	for _, v := range sentVia {
		c.SentVia = append(c.SentVia, domain.Channel(v))
	}
	return c, nil
}

func channelStrings(channels []domain.Channel) pq.StringArray {
	out := make(pq.StringArray, 0, len(channels))
	for _, ch := range channels {
		out = append(out, string(ch))
	}
	return out
}

// CreateCheckInTx inserts a new pending check-in inside the caller's
// transaction.
func (s *Store) CreateCheckInTx(ctx context.Context, tx *sql.Tx, c *domain.CheckIn) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = s.now()
	if c.Status == "" {
		c.Status = domain.CheckInPending
	}

	query := `INSERT INTO check_ins (id, user_id, token, status, grace_level, sent_via, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.ExecContext(ctx, query, c.ID, c.UserID, c.Token, c.Status, c.GraceLevel,
		channelStrings(c.SentVia), c.ExpiresAt, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return unavailable("create check-in", err)
	}
	return nil
}

// GetCheckIn retrieves a check-in by ID.
func (s *Store) GetCheckIn(ctx context.Context, id string) (*domain.CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM check_ins WHERE id = $1`
	return scanCheckIn(s.db.QueryRowContext(ctx, query, id))
}

// GetCheckInByToken retrieves a check-in by its confirmation token.
func (s *Store) GetCheckInByToken(ctx context.Context, token string) (*domain.CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM check_ins WHERE token = $1`
	return scanCheckIn(s.db.QueryRowContext(ctx, query, token))
}

// ListCheckIns returns a user's check-in history, newest first.
func (s *Store) ListCheckIns(ctx context.Context, userID string, limit int) ([]*domain.CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM check_ins
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, unavailable("list check-ins", err)
	}
	defer rows.Close()

	var out []*domain.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ExpiredPendingCheckIns returns check-ins past their deadline that nobody
// answered, oldest first. The scheduler resolves each under the owning
// config's row lock, so this is a plain read.
func (s *Store) ExpiredPendingCheckIns(ctx context.Context, limit int) ([]*domain.CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM check_ins
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, s.now(), limit)
	if err != nil {
		return nil, unavailable("select expired check-ins", err)
	}
	defer rows.Close()

	var out []*domain.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveCheckInTx moves a pending check-in to a terminal status. Returns
// ErrAlreadyResolved if the row had already left pending; resolved rows
// are frozen forever.
func (s *Store) ResolveCheckInTx(ctx context.Context, tx *sql.Tx, id string, to domain.CheckInStatus, respondedAt *time.Time) error {
	query := `UPDATE check_ins SET status = $2, responded_at = $3
		WHERE id = $1 AND status = 'pending'`
	res, err := tx.ExecContext(ctx, query, id, to, respondedAt)
	if err != nil {
		return unavailable("resolve check-in", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// CancelPendingCheckInsTx cancels every pending check-in for a user except
// the given one. Called whenever the config resets so a leftover prompt
// cannot expire later and fake a fresh miss.
func (s *Store) CancelPendingCheckInsTx(ctx context.Context, tx *sql.Tx, userID, exceptID string) (int, error) {
	query := `UPDATE check_ins SET status = 'cancelled'
		WHERE user_id = $1 AND status = 'pending' AND id <> $2`
	res, err := tx.ExecContext(ctx, query, userID, exceptID)
	if err != nil {
		return 0, unavailable("cancel pending check-ins", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkCheckInSent records which channels a check-in prompt went out on.
func (s *Store) MarkCheckInSent(ctx context.Context, id string, via []domain.Channel) error {
	query := `UPDATE check_ins SET sent_via = $2, sent_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, channelStrings(via), s.now())
	if err != nil {
		return unavailable("mark check-in sent", err)
	}
	return requireRow(res)
}

// ConfirmCheckIn is the atomic confirmation path behind the public
// check-in link. It locates the check-in by token, validates it is still
// answerable, resolves it, cancels any other outstanding prompts, and
// resets the owning config through the same transition logic the workers
// use. All writes commit together or not at all.
//
// On ErrAlreadyResolved the current check-in is returned so callers can
// answer repeated confirmations idempotently.
func (s *Store) ConfirmCheckIn(ctx context.Context, token string, obs domain.Observer) (*domain.CheckIn, *domain.PollingConfig, error) {
	var (
		checkIn *domain.CheckIn
		cfg     *domain.PollingConfig
	)

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		// Resolve the token to its owner first; the config row lock is the
		// per-user serialization point and is always taken before any
		// check-in row is touched.
		peek, err := scanCheckIn(tx.QueryRowContext(ctx,
			`SELECT `+checkInColumns+` FROM check_ins WHERE token = $1`, token))
		if err != nil {
			return err
		}

		cfg, err = s.LockPollingConfigTx(ctx, tx, peek.UserID)
		if err != nil {
			return err
		}

		checkIn, err = scanCheckIn(tx.QueryRowContext(ctx,
			`SELECT `+checkInColumns+` FROM check_ins WHERE token = $1 FOR UPDATE`, token))
		if err != nil {
			return err
		}

		now := s.now()
		if checkIn.Status != domain.CheckInPending {
			return ErrAlreadyResolved
		}
		if !now.Before(checkIn.ExpiresAt) {
			return ErrExpired
		}
		if cfg.Status == domain.PollingTriggered {
			return ErrAlreadyTriggered
		}

		if err := s.ResolveCheckInTx(ctx, tx, checkIn.ID, domain.CheckInConfirmed, &now); err != nil {
			return err
		}
		checkIn.Status = domain.CheckInConfirmed
		checkIn.RespondedAt = &now

		if _, err := s.CancelPendingCheckInsTx(ctx, tx, checkIn.UserID, checkIn.ID); err != nil {
			return err
		}

		next, effects := escalation.Step(*cfg, escalation.Confirm{}, now)
		if len(effects) == 0 {
			// Paused configs accept the confirmation but stay paused.
			return s.AppendAuditTx(ctx, tx, &domain.AuditLog{
				UserID:    &checkIn.UserID,
				EventType: domain.AuditCheckInConfirmed,
				Details:   map[string]any{"check_in_id": checkIn.ID, "config_reset": false},
				IPAddress: obs.IPAddress,
				UserAgent: obs.UserAgent,
			})
		}

		if err := s.SavePollingConfigTx(ctx, tx, &next); err != nil {
			return err
		}
		*cfg = next

		for _, ef := range effects {
			audit, ok := ef.(escalation.Audit)
			if !ok {
				continue
			}
			details := map[string]any{"check_in_id": checkIn.ID}
			for k, v := range audit.Details {
				details[k] = v
			}
			entry := &domain.AuditLog{
				UserID:    &checkIn.UserID,
				EventType: audit.Event,
				Details:   details,
				IPAddress: obs.IPAddress,
				UserAgent: obs.UserAgent,
			}
			if err := s.AppendAuditTx(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	return checkIn, cfg, err
}

// ConfirmPendingForUser is the authenticated manual confirmation: every
// pending check-in the user has is confirmed and the config resets once.
// Returns the number of check-ins confirmed.
func (s *Store) ConfirmPendingForUser(ctx context.Context, userID string, obs domain.Observer) (int, *domain.PollingConfig, error) {
	var (
		confirmed int
		cfg       *domain.PollingConfig
	)

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		cfg, err = s.LockPollingConfigTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cfg.Status == domain.PollingTriggered {
			return ErrAlreadyTriggered
		}

		now := s.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE check_ins SET status = 'confirmed', responded_at = $2
			WHERE user_id = $1 AND status = 'pending'`, userID, now)
		if err != nil {
			return unavailable("confirm pending check-ins", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		confirmed = int(n)

		next, effects := escalation.Step(*cfg, escalation.Confirm{}, now)
		if len(effects) == 0 {
			return nil
		}
		if err := s.SavePollingConfigTx(ctx, tx, &next); err != nil {
			return err
		}
		*cfg = next

		return s.AppendAuditTx(ctx, tx, &domain.AuditLog{
			UserID:    &userID,
			EventType: domain.AuditCheckInConfirmed,
			Details:   map[string]any{"manual": true, "confirmed": confirmed},
			IPAddress: obs.IPAddress,
			UserAgent: obs.UserAgent,
		})
	})
	return confirmed, cfg, err
}
