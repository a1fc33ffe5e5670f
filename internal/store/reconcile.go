package store

import (
	"context"

	"github.com/eternalsentinel/sentinel/internal/domain"
)

// UnnotifiedActiveTrustees returns trustees who hold a minted access token
// but have no TRUSTEE_NOTIFIED audit entry: the release committed, then the
// worker died before its notification went out. The reconciliation sweep
// re-enqueues these.
func (s *Store) UnnotifiedActiveTrustees(ctx context.Context, limit int) ([]*domain.Trustee, error) {
	query := `SELECT ` + trusteeColumns + ` FROM trustees t
		WHERE t.access_token IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM audit_log a
			WHERE a.user_id = t.user_id
			  AND a.event_type = 'TRUSTEE_NOTIFIED'
			  AND a.details->>'trustee_id' = t.id
		  )
		ORDER BY t.access_granted_at ASC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, unavailable("select unnotified trustees", err)
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

// StrandedReadyLetters returns letters still marked ready although their
// owner's config has already triggered. Their delivery jobs were lost to a
// crash or dead-lettering; the reconciliation sweep re-enqueues them.
func (s *Store) StrandedReadyLetters(ctx context.Context, limit int) ([]*domain.FinalLetter, error) {
	query := `SELECT ` + letterQualified + ` FROM final_letters l
		JOIN polling_configs p ON p.user_id = l.user_id
		WHERE l.status = 'ready' AND p.status = 'triggered'
		ORDER BY p.triggered_at ASC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, unavailable("select stranded letters", err)
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

const letterQualified = `l.id, l.user_id, l.recipient_name, l.recipient_email, l.subject,
	l.encrypted_body, l.body_nonce, l.status, l.delivered_at, l.created_at, l.updated_at`
