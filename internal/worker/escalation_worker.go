package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/escalation"
	"github.com/eternalsentinel/sentinel/internal/pkg/token"
	"github.com/eternalsentinel/sentinel/internal/queue"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// Escalator consumes the escalation queue. Each job carries one missed
// check-in observation; the machine decides whether it still matters. A
// stale job (the user confirmed after it was enqueued) commits only an
// audit entry.
type Escalator struct {
	store *store.Store
	queue *queue.Queue
	mint  token.Minter
}

// NewEscalator creates the escalation handler.
func NewEscalator(st *store.Store, q *queue.Queue, mint token.Minter) *Escalator {
	return &Escalator{store: st, queue: q, mint: mint}
}

// Handle applies one Miss event under the user's row lock.
func (e *Escalator) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.EscalationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("escalation payload: %w", err)
	}

	ev := escalation.Miss{ExpectedMissedCount: payload.ExpectedMissedCount}
	_, err := ApplyEvent(ctx, e.store, e.queue, e.mint, payload.UserID, ev, domain.Observer{})
	if err != nil {
		// A user deleted or already triggered after enqueue is not a
		// failure; the job's purpose is simply gone.
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAlreadyTriggered) {
			return nil
		}
		return err
	}
	return nil
}
