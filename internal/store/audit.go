package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

// AppendAuditTx appends one audit entry inside the caller's transaction.
// The audit log is append-only; there is no update or delete path.
func (s *Store) AppendAuditTx(ctx context.Context, tx *sql.Tx, entry *domain.AuditLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = s.now()

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}

	query := `INSERT INTO audit_log (id, user_id, event_type, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, query, entry.ID, entry.UserID, entry.EventType,
		details, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return unavailable("append audit", err)
	}
	return nil
}

// AppendAudit appends one audit entry in its own transaction.
func (s *Store) AppendAudit(ctx context.Context, entry *domain.AuditLog) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.AppendAuditTx(ctx, tx, entry)
	})
}

// ListAuditLog returns a user's audit history, newest first.
func (s *Store) ListAuditLog(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	query := `SELECT id, user_id, event_type, details, ip_address, user_agent, created_at
		FROM audit_log WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, unavailable("list audit log", err)
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		entry := &domain.AuditLog{}
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.EventType, &details,
			&entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// HasAuditEvent reports whether an audit entry of the given type exists for
// a user with a matching detail field. The reconciliation sweep uses this
// to find trustees whose notification never went out.
func (s *Store) HasAuditEvent(ctx context.Context, userID, eventType, detailKey, detailValue string) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM audit_log
		WHERE user_id = $1 AND event_type = $2 AND details->>$3 = $4)`
	var exists bool
	err := s.db.QueryRowContext(ctx, query, userID, eventType, detailKey, detailValue).Scan(&exists)
	if err != nil {
		return false, unavailable("check audit event", err)
	}
	return exists, nil
}

// AppendTrusteeAccessTx records a trustee access grant or use inside the
// caller's transaction.
func (s *Store) AppendTrusteeAccessTx(ctx context.Context, tx *sql.Tx, entry *domain.TrusteeAccessLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = s.now()

	query := `INSERT INTO trustee_access_log (id, trustee_id, user_id, event_type, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.ExecContext(ctx, query, entry.ID, entry.TrusteeID, entry.UserID,
		entry.EventType, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return unavailable("append trustee access log", err)
	}
	return nil
}

// AppendTrusteeAccess records one access-log entry in its own transaction.
func (s *Store) AppendTrusteeAccess(ctx context.Context, entry *domain.TrusteeAccessLog) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.AppendTrusteeAccessTx(ctx, tx, entry)
	})
}

// CountTrusteeAccessEvents counts access-log entries of one type for a
// trustee. Release idempotency tests lean on this.
func (s *Store) CountTrusteeAccessEvents(ctx context.Context, trusteeID, eventType string) (int, error) {
	query := `SELECT COUNT(*) FROM trustee_access_log WHERE trustee_id = $1 AND event_type = $2`
	var n int
	err := s.db.QueryRowContext(ctx, query, trusteeID, eventType).Scan(&n)
	if err != nil {
		return 0, unavailable("count trustee access events", err)
	}
	return n, nil
}
