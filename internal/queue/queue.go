// Package queue is the durable delayed job queue behind the sentinel
// pipeline. Jobs live in Postgres so multi-day delays survive restarts;
// claims use FOR UPDATE SKIP LOCKED so parallel workers never double-claim;
// and a partial unique index on (queue, idempotency_key) coalesces
// duplicate enqueues while a logical job is still in flight.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logical queues.
const (
	QueueCheckIn    = "checkin"
	QueueEscalation = "escalation"
	QueueRelease    = "release"
	QueueEmail      = "email"
	QueueSMS        = "sms"
)

// Job statuses.
const (
	StatusPending    = "pending"
	StatusClaimed    = "claimed"
	StatusCompleted  = "completed"
	StatusDeadLetter = "dead_letter"
)

// Job is one unit of queued work.
type Job struct {
	ID             string          `json:"id" db:"id"`
	Queue          string          `json:"queue" db:"queue"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	RunAt          time.Time       `json:"run_at" db:"run_at"`
	Attempts       int             `json:"attempts" db:"attempts"`
	MaxAttempts    int             `json:"max_attempts" db:"max_attempts"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	Status         string          `json:"status" db:"status"`
	WorkerID       *string         `json:"worker_id" db:"worker_id"`
	ClaimedAt      *time.Time      `json:"claimed_at" db:"claimed_at"`
	LastError      *string         `json:"last_error" db:"last_error"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// MaxAttemptsFor returns the retry budget for a queue. Release gets extra
// headroom; everything else gives up after three tries and leans on the
// scheduler sweep to regenerate work that still matters.
func MaxAttemptsFor(queue string) int {
	if queue == QueueRelease {
		return 5
	}
	return 3
}

// backoffBase returns the first retry delay for a queue. State-transition
// queues back off harder than notification queues.
func backoffBase(queue string) time.Duration {
	switch queue {
	case QueueEscalation, QueueRelease:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// BackoffDelay returns the exponential delay before retry n (1-based).
func BackoffDelay(queue string, attempt int) time.Duration {
	d := backoffBase(queue)
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Queue provides enqueue, claim, and retry operations over the jobs table.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a queue on the given database.
func New(db *sql.DB) *Queue {
	return &Queue{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the queue's time source for deterministic tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

const enqueueQuery = `INSERT INTO jobs
	(id, queue, payload, run_at, attempts, max_attempts, idempotency_key, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 0, $5, $6, 'pending', $7, $7)
	ON CONFLICT (queue, idempotency_key) WHERE status IN ('pending', 'claimed')
	DO UPDATE SET
		run_at = LEAST(jobs.run_at, EXCLUDED.run_at),
		payload = CASE WHEN EXCLUDED.run_at < jobs.run_at THEN EXCLUDED.payload ELSE jobs.payload END,
		updated_at = EXCLUDED.updated_at
	RETURNING id`

// Enqueue inserts a job, or coalesces with an in-flight job carrying the
// same idempotency key. A coalesced enqueue can only pull the run time
// earlier, never push it later, so an admin trigger always wins against a
// scheduled release. Returns the id of the job that will actually run.
func (q *Queue) Enqueue(ctx context.Context, queue, key string, payload any, runAt time.Time) (string, error) {
	return q.enqueue(ctx, q.db, queue, key, payload, runAt)
}

// EnqueueTx is Enqueue inside the caller's transaction, so a state change
// and the job it schedules commit atomically.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, queue, key string, payload any, runAt time.Time) (string, error) {
	return q.enqueue(ctx, tx, queue, key, payload, runAt)
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (q *Queue) enqueue(ctx context.Context, db execer, queue, key string, payload any, runAt time.Time) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if runAt.IsZero() {
		runAt = q.now()
	}

	var id string
	err = db.QueryRowContext(ctx, enqueueQuery,
		uuid.New().String(), queue, body, runAt, MaxAttemptsFor(queue), key, q.now()).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return id, nil
}

const claimQuery = `WITH claimed AS (
	UPDATE jobs
	SET status = 'claimed', worker_id = $1, claimed_at = $4, updated_at = $4
	WHERE id IN (
		SELECT id FROM jobs
		WHERE queue = $2 AND status = 'pending' AND run_at <= $4
		ORDER BY run_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, queue, payload, run_at, attempts, max_attempts, idempotency_key, claimed_at
)
SELECT id, queue, payload, run_at, attempts, max_attempts, idempotency_key, claimed_at FROM claimed`

// Claim atomically takes up to limit due jobs from a queue for this
// worker. Skip-locked selection keeps parallel workers from colliding.
func (q *Queue) Claim(ctx context.Context, queue, workerID string, limit int) ([]*Job, error) {
	rows, err := q.db.QueryContext(ctx, claimQuery, workerID, queue, limit, q.now())
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", queue, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job := &Job{Status: StatusClaimed, WorkerID: &workerID}
		if err := rows.Scan(&job.ID, &job.Queue, &job.Payload, &job.RunAt,
			&job.Attempts, &job.MaxAttempts, &job.IdempotencyKey, &job.ClaimedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Complete marks a claimed job done.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	query := `UPDATE jobs SET status = 'completed', updated_at = $2 WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, jobID, q.now())
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail records a failed attempt. The job goes back to pending with
// exponential backoff until its attempts run out, then moves to the dead
// letter state with a JOB_FAILED audit entry so operators can see it.
// Returns true when the job was dead-lettered.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	job.Attempts++
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}

	if job.Attempts >= job.MaxAttempts {
		query := `UPDATE jobs SET status = 'dead_letter', attempts = $2, last_error = $3, updated_at = $4
			WHERE id = $1`
		if _, err := q.db.ExecContext(ctx, query, job.ID, job.Attempts, msg, q.now()); err != nil {
			return false, fmt.Errorf("dead-letter job: %w", err)
		}
		if err := q.auditJobFailed(ctx, job, msg); err != nil {
			return true, err
		}
		return true, nil
	}

	retryAt := q.now().Add(BackoffDelay(job.Queue, job.Attempts))
	query := `UPDATE jobs SET status = 'pending', attempts = $2, last_error = $3, run_at = $4,
		worker_id = NULL, claimed_at = NULL, updated_at = $5
		WHERE id = $1`
	if _, err := q.db.ExecContext(ctx, query, job.ID, job.Attempts, msg, retryAt, q.now()); err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	return false, nil
}

// auditJobFailed writes the operator-facing audit entry for a dead-lettered
// job. The payload's user_id, when present, links the entry to the user.
func (q *Queue) auditJobFailed(ctx context.Context, job *Job, msg string) error {
	var ref struct {
		UserID string `json:"user_id"`
	}
	_ = json.Unmarshal(job.Payload, &ref)

	var userID *string
	if ref.UserID != "" {
		userID = &ref.UserID
	}

	details, err := json.Marshal(map[string]any{
		"job_id":          job.ID,
		"queue":           job.Queue,
		"idempotency_key": job.IdempotencyKey,
		"attempts":        job.Attempts,
		"error":           msg,
	})
	if err != nil {
		return err
	}

	query := `INSERT INTO audit_log (id, user_id, event_type, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, 'JOB_FAILED', $3, '', '', $4)`
	if _, err := q.db.ExecContext(ctx, query, uuid.New().String(), userID, details, q.now()); err != nil {
		return fmt.Errorf("audit job failure: %w", err)
	}
	return nil
}

// RequeueStuck returns jobs whose worker disappeared mid-claim to the
// pending state, burning one attempt, and dead-letters the ones that are
// out of attempts. Returns (requeued, deadLettered).
func (q *Queue) RequeueStuck(ctx context.Context, staleAfter time.Duration, limit int) (int, int, error) {
	cutoff := q.now().Add(-staleAfter)

	requeueQuery := `UPDATE jobs
		SET status = 'pending', attempts = attempts + 1, worker_id = NULL, claimed_at = NULL,
			last_error = 'reclaimed from stale worker', updated_at = $3
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'claimed' AND claimed_at < $1 AND attempts + 1 < max_attempts
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`
	res, err := q.db.ExecContext(ctx, requeueQuery, cutoff, limit, q.now())
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stuck: %w", err)
	}
	requeued, _ := res.RowsAffected()

	deadQuery := `UPDATE jobs
		SET status = 'dead_letter', attempts = attempts + 1,
			last_error = 'exceeded max attempts after stale claim', updated_at = $3
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'claimed' AND claimed_at < $1 AND attempts + 1 >= max_attempts
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, payload, idempotency_key, attempts`
	rows, err := q.db.QueryContext(ctx, deadQuery, cutoff, limit, q.now())
	if err != nil {
		return int(requeued), 0, fmt.Errorf("dead-letter stuck: %w", err)
	}
	defer rows.Close()

	dead := 0
	for rows.Next() {
		job := &Job{}
		if err := rows.Scan(&job.ID, &job.Queue, &job.Payload, &job.IdempotencyKey, &job.Attempts); err != nil {
			return int(requeued), dead, err
		}
		dead++
		if err := q.auditJobFailed(ctx, job, "stale claim exceeded max attempts"); err != nil {
			return int(requeued), dead, err
		}
	}
	return int(requeued), dead, rows.Err()
}

// DeleteFinished prunes completed jobs older than keepCompleted and
// dead-lettered jobs older than keepDead. Audit entries stay forever.
func (q *Queue) DeleteFinished(ctx context.Context, keepCompleted, keepDead time.Duration) (int64, error) {
	query := `DELETE FROM jobs
		WHERE (status = 'completed' AND updated_at < $1)
		   OR (status = 'dead_letter' AND updated_at < $2)`
	res, err := q.db.ExecContext(ctx, query, q.now().Add(-keepCompleted), q.now().Add(-keepDead))
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return res.RowsAffected()
}

// Depths returns pending counts per queue for the health surface.
func (q *Queue) Depths(ctx context.Context) (map[string]int, error) {
	query := `SELECT queue, COUNT(*) FROM jobs WHERE status = 'pending' GROUP BY queue`
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue depths: %w", err)
	}
	defer rows.Close()

	depths := make(map[string]int)
	for rows.Next() {
		var queue string
		var n int
		if err := rows.Scan(&queue, &n); err != nil {
			return nil, err
		}
		depths[queue] = n
	}
	return depths, rows.Err()
}
