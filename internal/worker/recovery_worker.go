package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/eternalsentinel/sentinel/internal/queue"
)

// RecoveryConfig tunes the queue janitor.
type RecoveryConfig struct {
	Interval      time.Duration
	StaleAfter    time.Duration
	Batch         int
	KeepCompleted time.Duration
	KeepDead      time.Duration
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.Batch <= 0 {
		c.Batch = 100
	}
	if c.KeepCompleted <= 0 {
		c.KeepCompleted = 7 * 24 * time.Hour
	}
	if c.KeepDead <= 0 {
		c.KeepDead = 30 * 24 * time.Hour
	}
	return c
}

// Recovery is the queue janitor: it reclaims jobs stranded by crashed
// workers and prunes finished rows so the jobs table stays small. Safe to
// run in every worker process; the skip-locked updates keep instances
// from stepping on each other.
type Recovery struct {
	queue *queue.Queue
	cfg   RecoveryConfig

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewRecovery creates the janitor.
func NewRecovery(q *queue.Queue, cfg RecoveryConfig) *Recovery {
	return &Recovery{queue: q, cfg: cfg.withDefaults()}
}

// Start launches the recovery loop.
func (r *Recovery) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	log.Printf("[Recovery] Starting: interval=%v stale_after=%v", r.cfg.Interval, r.cfg.StaleAfter)

	r.wg.Add(1)
	go r.loop()
}

// Stop halts the recovery loop.
func (r *Recovery) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	log.Printf("[Recovery] Stopped")
}

func (r *Recovery) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *Recovery) runOnce() {
	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	requeued, dead, err := r.queue.RequeueStuck(ctx, r.cfg.StaleAfter, r.cfg.Batch)
	if err != nil {
		log.Printf("[Recovery] Requeue pass failed: %v", err)
	} else if requeued > 0 || dead > 0 {
		log.Printf("[Recovery] Reclaimed %d stale jobs, dead-lettered %d", requeued, dead)
	}

	pruned, err := r.queue.DeleteFinished(ctx, r.cfg.KeepCompleted, r.cfg.KeepDead)
	if err != nil {
		log.Printf("[Recovery] Prune pass failed: %v", err)
	} else if pruned > 0 {
		log.Printf("[Recovery] Pruned %d finished jobs", pruned)
	}
}
