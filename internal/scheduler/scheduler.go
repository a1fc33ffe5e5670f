// Package scheduler runs the liveness sweep: the periodic scan that
// creates due check-ins, resolves expired ones into misses, catches
// overdue releases, and re-enqueues notifications lost to crashes. One
// instance sweeps at a time; a distributed lease keeps replicas passive.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalsentinel/sentinel/internal/domain"
	"github.com/eternalsentinel/sentinel/internal/pkg/distlock"
	"github.com/eternalsentinel/sentinel/internal/pkg/token"
	"github.com/eternalsentinel/sentinel/internal/queue"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// Config tunes the sweep loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	LeaseTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 90 * time.Second
	}
	return c
}

// Scheduler drives the sweep. The subscans only ever read unlocked
// candidate lists and then re-validate each candidate under the owning
// config's row lock, so a stale candidate costs one no-op transaction,
// never a wrong transition.
type Scheduler struct {
	store *store.Store
	queue *queue.Queue
	mint  token.Minter
	lease distlock.DistLock
	cfg   Config

	workerID string

	sweeps    int64
	prompted  int64
	missed    int64
	releases  int64
	recovered int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// New creates a scheduler. lease is the sweep lease shared across
// replicas; pass nil to sweep unconditionally (tests, single node dev).
func New(st *store.Store, q *queue.Queue, mint token.Minter, lease distlock.DistLock, cfg Config) *Scheduler {
	host, _ := os.Hostname()
	if host == "" {
		host = "sentinel"
	}
	return &Scheduler{
		store:    st,
		queue:    q,
		mint:     mint,
		lease:    lease,
		cfg:      cfg.withDefaults(),
		workerID: fmt.Sprintf("scheduler-%s-%d", host, time.Now().UnixNano()%10000),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting: poll=%v batch=%d", s.cfg.PollInterval, s.cfg.BatchSize)

	s.registerWorker()

	s.wg.Add(2)
	go s.heartbeatLoop()
	go s.loop()
	return nil
}

// Stop halts the sweep loop, letting an in-flight sweep finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("[Scheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
	s.deregisterWorker()
	log.Printf("[Scheduler] Stopped. Sweeps: %d, prompted: %d, missed: %d, releases: %d, recovered: %d",
		atomic.LoadInt64(&s.sweeps), atomic.LoadInt64(&s.prompted), atomic.LoadInt64(&s.missed),
		atomic.LoadInt64(&s.releases), atomic.LoadInt64(&s.recovered))
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// First sweep immediately so a restart catches up without waiting a
	// full poll interval.
	s.sweep()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one full pass under the lease.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.LeaseTTL)
	defer cancel()

	if s.lease != nil {
		acquired, err := s.lease.Acquire(ctx)
		if err != nil {
			log.Printf("[Scheduler] Lease error: %v", err)
			return
		}
		if !acquired {
			// Another replica is sweeping.
			return
		}
		defer s.lease.Release(context.Background())
	}

	atomic.AddInt64(&s.sweeps, 1)

	s.promptDue(ctx)
	s.expireMissed(ctx)
	s.catchOverdueReleases(ctx)
	s.reconcile(ctx)
}

// promptDue creates a check-in for every active config whose due time
// has arrived.
func (s *Scheduler) promptDue(ctx context.Context) {
	userIDs, err := s.store.DuePollingConfigUserIDs(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Printf("[Scheduler] Due scan failed: %v", err)
		return
	}

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		if err := s.promptOne(ctx, userID); err != nil {
			log.Printf("[Scheduler] Prompt for user %s failed: %v", userID, err)
		}
	}
}

func (s *Scheduler) promptOne(ctx context.Context, userID string) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		cfg, err := s.store.LockPollingConfigTx(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		now := s.store.Now()
		// Re-validate under the lock; the candidate list was unlocked and
		// the user may have paused or confirmed since.
		if cfg.Status != domain.PollingActive || cfg.NextCheckInDue == nil || now.Before(*cfg.NextCheckInDue) {
			return nil
		}

		tok, err := s.mint.CheckIn()
		if err != nil {
			return err
		}
		checkIn := &domain.CheckIn{
			UserID:    userID,
			Token:     tok,
			ExpiresAt: now.Add(cfg.Interval.ResponseWindow()),
		}
		if err := s.store.CreateCheckInTx(ctx, tx, checkIn); err != nil {
			return err
		}

		// Anchor the next cycle at now, not at the stored due time, so a
		// long outage produces one catch-up prompt instead of a backlog.
		due := now.Add(cfg.Interval.Duration())
		cfg.NextCheckInDue = &due
		if err := s.store.SavePollingConfigTx(ctx, tx, cfg); err != nil {
			return err
		}

		_, err = s.queue.EnqueueTx(ctx, tx, queue.QueueCheckIn, queue.CheckInKey(checkIn.ID),
			queue.CheckInPayload{CheckInID: checkIn.ID, UserID: userID}, now)
		if err != nil {
			return err
		}
		atomic.AddInt64(&s.prompted, 1)
		return nil
	})
}

// expireMissed resolves expired pending check-ins to missed and hands
// the resulting escalation to the escalation queue.
func (s *Scheduler) expireMissed(ctx context.Context) {
	expired, err := s.store.ExpiredPendingCheckIns(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Printf("[Scheduler] Expiry scan failed: %v", err)
		return
	}

	for _, checkIn := range expired {
		if ctx.Err() != nil {
			return
		}
		if err := s.expireOne(ctx, checkIn); err != nil {
			log.Printf("[Scheduler] Expiry of check-in %s failed: %v", checkIn.ID, err)
		}
	}
}

func (s *Scheduler) expireOne(ctx context.Context, checkIn *domain.CheckIn) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		cfg, err := s.store.LockPollingConfigTx(ctx, tx, checkIn.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}

		err = s.store.ResolveCheckInTx(ctx, tx, checkIn.ID, domain.CheckInMissed, nil)
		if errors.Is(err, store.ErrAlreadyResolved) {
			// Confirmed or cancelled between the scan and the lock.
			return nil
		}
		if err != nil {
			return err
		}
		atomic.AddInt64(&s.missed, 1)

		if err := s.store.AppendAuditTx(ctx, tx, &domain.AuditLog{
			UserID:    &checkIn.UserID,
			EventType: domain.AuditCheckInMissed,
			Details: map[string]any{
				"check_in_id": checkIn.ID,
				"grace_level": checkIn.GraceLevel,
			},
		}); err != nil {
			return err
		}

		// Paused and triggered configs record the miss but never escalate.
		if cfg.Status == domain.PollingPaused || cfg.Status == domain.PollingTriggered {
			return nil
		}

		nextLevel := cfg.Status.GraceLevel() + 1
		if nextLevel > 3 {
			nextLevel = 3
		}
		_, err = s.queue.EnqueueTx(ctx, tx, queue.QueueEscalation,
			queue.EscalationKey(checkIn.UserID, nextLevel, cfg.CurrentMissedCheckIns),
			queue.EscalationPayload{
				UserID:              checkIn.UserID,
				Level:               nextLevel,
				ExpectedMissedCount: cfg.CurrentMissedCheckIns,
			}, s.store.Now())
		return err
	})
}

// catchOverdueReleases is the backstop for the delayed release job: any
// config still at the last grace rung past its deadline gets a release
// enqueued. The enqueue coalesces with the scheduled job, so double
// coverage costs nothing.
func (s *Scheduler) catchOverdueReleases(ctx context.Context) {
	userIDs, err := s.store.ReleaseDueUserIDs(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Printf("[Scheduler] Release scan failed: %v", err)
		return
	}

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		_, err := s.queue.Enqueue(ctx, queue.QueueRelease, queue.ReleaseKey(userID),
			queue.ReleasePayload{UserID: userID, Cause: queue.ReleaseCauseGraceTimeout}, s.store.Now())
		if err != nil {
			log.Printf("[Scheduler] Release enqueue for user %s failed: %v", userID, err)
			continue
		}
		atomic.AddInt64(&s.releases, 1)
	}
}

// reconcile re-enqueues release notifications whose jobs were lost after
// commit: trustees holding a token nobody told them about, and letters
// still marked ready under a triggered config. Completed jobs do not
// block the idempotency index, so these enqueues insert fresh jobs.
func (s *Scheduler) reconcile(ctx context.Context) {
	trustees, err := s.store.UnnotifiedActiveTrustees(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Printf("[Scheduler] Trustee reconciliation scan failed: %v", err)
	}
	for _, t := range trustees {
		if ctx.Err() != nil {
			return
		}
		_, err := s.queue.Enqueue(ctx, queue.QueueEmail,
			queue.EmailKey(queue.KindTrusteeAccess, t.ID),
			queue.EmailPayload{UserID: t.UserID, Kind: queue.KindTrusteeAccess, TrusteeID: t.ID},
			s.store.Now())
		if err != nil {
			log.Printf("[Scheduler] Trustee %s re-enqueue failed: %v", t.ID, err)
			continue
		}
		atomic.AddInt64(&s.recovered, 1)
	}

	letters, err := s.store.StrandedReadyLetters(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Printf("[Scheduler] Letter reconciliation scan failed: %v", err)
	}
	for _, l := range letters {
		if ctx.Err() != nil {
			return
		}
		_, err := s.queue.Enqueue(ctx, queue.QueueEmail,
			queue.EmailKey(queue.KindLetterDelivery, l.ID),
			queue.EmailPayload{UserID: l.UserID, Kind: queue.KindLetterDelivery, LetterID: l.ID},
			s.store.Now())
		if err != nil {
			log.Printf("[Scheduler] Letter %s re-enqueue failed: %v", l.ID, err)
			continue
		}
		atomic.AddInt64(&s.recovered, 1)
	}
}

func (s *Scheduler) registerWorker() {
	_, err := s.store.DB().Exec(`
		INSERT INTO sentinel_workers (id, worker_type, hostname, status, started_at, last_heartbeat_at)
		VALUES ($1, 'scheduler', $2, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET status = 'running', last_heartbeat_at = NOW()
	`, s.workerID, hostname())
	if err != nil {
		log.Printf("[Scheduler] Warning: failed to register worker: %v", err)
	}
}

func (s *Scheduler) deregisterWorker() {
	_, err := s.store.DB().Exec(`UPDATE sentinel_workers SET status = 'stopped' WHERE id = $1`, s.workerID)
	if err != nil {
		log.Printf("[Scheduler] Warning: failed to deregister worker: %v", err)
	}
}

func (s *Scheduler) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.store.DB().Exec(`
				UPDATE sentinel_workers
				SET last_heartbeat_at = NOW(), total_processed = $2
				WHERE id = $1
			`, s.workerID, atomic.LoadInt64(&s.sweeps))
		}
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "sentinel"
	}
	return h
}
