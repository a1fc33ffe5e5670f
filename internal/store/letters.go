package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

const letterColumns = `id, user_id, recipient_name, recipient_email, subject,
	encrypted_body, body_nonce, status, delivered_at, created_at, updated_at`

func scanLetter(row interface{ Scan(...any) error }) (*domain.FinalLetter, error) {
	l := &domain.FinalLetter{}
	err := row.Scan(&l.ID, &l.UserID, &l.RecipientName, &l.RecipientEmail, &l.Subject,
		&l.EncryptedBody, &l.BodyNonce, &l.Status, &l.DeliveredAt, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan letter", err)
	}
	return l, nil
}

// CreateLetter inserts a new final letter, draft by default.
func (s *Store) CreateLetter(ctx context.Context, l *domain.FinalLetter) error {
	l.ID = uuid.New().String()
	l.CreatedAt = s.now()
	l.UpdatedAt = l.CreatedAt
	if l.Status == "" {
		l.Status = domain.LetterDraft
	}

	query := `INSERT INTO final_letters (id, user_id, recipient_name, recipient_email, subject,
		encrypted_body, body_nonce, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.ExecContext(ctx, query, l.ID, l.UserID, l.RecipientName, l.RecipientEmail,
		l.Subject, l.EncryptedBody, l.BodyNonce, l.Status, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return unavailable("create letter", err)
	}
	return nil
}

// GetLetter retrieves one letter scoped to its owner.
func (s *Store) GetLetter(ctx context.Context, userID, letterID string) (*domain.FinalLetter, error) {
	query := `SELECT ` + letterColumns + ` FROM final_letters WHERE id = $1 AND user_id = $2`
	return scanLetter(s.db.QueryRowContext(ctx, query, letterID, userID))
}

// ListLetters returns all letters of a user.
func (s *Store) ListLetters(ctx context.Context, userID string) ([]*domain.FinalLetter, error) {
	query := `SELECT ` + letterColumns + ` FROM final_letters WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("list letters", err)
	}
	defer rows.Close()

	var out []*domain.FinalLetter
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateLetter rewrites an undelivered letter. Delivered letters are
// immutable; touching one is a conflict.
func (s *Store) UpdateLetter(ctx context.Context, l *domain.FinalLetter) error {
	l.UpdatedAt = s.now()
	query := `UPDATE final_letters
		SET recipient_name = $3, recipient_email = $4, subject = $5,
			encrypted_body = $6, body_nonce = $7, status = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2 AND status <> 'delivered'`
	res, err := s.db.ExecContext(ctx, query, l.ID, l.UserID, l.RecipientName, l.RecipientEmail,
		l.Subject, l.EncryptedBody, l.BodyNonce, l.Status, l.UpdatedAt)
	if err != nil {
		return unavailable("update letter", err)
	}
	return s.letterWriteResult(ctx, res, l.UserID, l.ID)
}

// DeleteLetter removes an undelivered letter.
func (s *Store) DeleteLetter(ctx context.Context, userID, letterID string) error {
	query := `DELETE FROM final_letters WHERE id = $1 AND user_id = $2 AND status <> 'delivered'`
	res, err := s.db.ExecContext(ctx, query, letterID, userID)
	if err != nil {
		return unavailable("delete letter", err)
	}
	return s.letterWriteResult(ctx, res, userID, letterID)
}

// letterWriteResult distinguishes "letter is delivered and frozen" from
// "letter does not exist" after a guarded write matched nothing.
func (s *Store) letterWriteResult(ctx context.Context, res sql.Result, userID, letterID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetLetter(ctx, userID, letterID); err != nil {
		return err
	}
	return ErrConflict
}

// ReadyLettersTx loads and locks the letters release will deliver.
func (s *Store) ReadyLettersTx(ctx context.Context, tx *sql.Tx, userID string) ([]*domain.FinalLetter, error) {
	query := `SELECT ` + letterColumns + ` FROM final_letters
		WHERE user_id = $1 AND status = 'ready'
		ORDER BY created_at ASC FOR UPDATE`
	rows, err := tx.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("select ready letters", err)
	}
	defer rows.Close()

	var out []*domain.FinalLetter
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ReadyLetters is the unlocked variant used by the reconciliation sweep.
func (s *Store) ReadyLetters(ctx context.Context, userID string) ([]*domain.FinalLetter, error) {
	query := `SELECT ` + letterColumns + ` FROM final_letters
		WHERE user_id = $1 AND status = 'ready' ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("select ready letters", err)
	}
	defer rows.Close()

	var out []*domain.FinalLetter
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkLetterDelivered freezes a ready letter as delivered. Keyed by letter
// id and idempotent: a letter that is already delivered is left alone.
func (s *Store) MarkLetterDelivered(ctx context.Context, letterID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE final_letters SET status = 'delivered', delivered_at = $2, updated_at = $2
			WHERE id = $1 AND status = 'ready'`
		res, err := tx.ExecContext(ctx, query, letterID, s.now())
		if err != nil {
			return unavailable("mark letter delivered", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		var status domain.LetterStatus
		err = tx.QueryRowContext(ctx, `SELECT status FROM final_letters WHERE id = $1`, letterID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return unavailable("mark letter delivered", err)
		}
		if status == domain.LetterDelivered {
			return nil
		}
		return ErrConflict
	})
}
