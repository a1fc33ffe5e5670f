// Package worker holds the queue consumers driving the sentinel pipeline:
// check-in dispatch, escalation, release, notification delivery, and queue
// recovery. Every consumer runs on the shared Pool, which claims jobs from
// one logical queue, applies a wall-clock budget per job, and feeds
// failures back to the queue's retry machinery.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalsentinel/sentinel/internal/queue"
)

// HandlerFunc processes one claimed job. Returning an error surrenders the
// job to retry with backoff; returning nil completes it. Handlers must be
// idempotent: the queue delivers at least once.
type HandlerFunc func(ctx context.Context, job *queue.Job) error

// PoolConfig tunes one consumer pool.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	return c
}

// Pool consumes one logical queue with a fixed number of goroutines.
type Pool struct {
	name   string
	queues string
	db     *sql.DB
	q      *queue.Queue
	cfg    PoolConfig
	handle HandlerFunc

	workerID string

	processed    int64
	failed       int64
	deadLettered int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewPool creates a consumer pool over one logical queue. name labels log
// lines and the worker registry row.
func NewPool(name, queueName string, db *sql.DB, q *queue.Queue, cfg PoolConfig, handle HandlerFunc) *Pool {
	return &Pool{
		name:     name,
		queues:   queueName,
		db:       db,
		q:        q,
		cfg:      cfg.withDefaults(),
		handle:   handle,
		workerID: fmt.Sprintf("%s-%s-%d", name, hostname(), time.Now().UnixNano()%10000),
	}
}

// Start launches the consumer goroutines.
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("%s pool already running", p.name)
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[%s] Starting: queue=%s concurrency=%d poll=%v",
		p.name, p.queues, p.cfg.Concurrency, p.cfg.PollInterval)

	p.registerWorker()

	p.wg.Add(1)
	go p.heartbeatLoop()

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.consumeLoop()
	}
	return nil
}

// Stop drains the pool: no new claims, in-flight jobs finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	log.Printf("[%s] Stopping...", p.name)
	p.cancel()
	p.wg.Wait()
	p.deregisterWorker()
	log.Printf("[%s] Stopped. Processed: %d, failed: %d, dead-lettered: %d",
		p.name, atomic.LoadInt64(&p.processed), atomic.LoadInt64(&p.failed),
		atomic.LoadInt64(&p.deadLettered))
}

func (p *Pool) consumeLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			// Drain everything due before sleeping again so a burst does
			// not crawl at one job per tick.
			for p.runOne() {
				if p.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// runOne claims and processes a single job. Returns true when a job was
// claimed, false when the queue was empty or claiming failed.
func (p *Pool) runOne() bool {
	claimCtx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	jobs, err := p.q.Claim(claimCtx, p.queues, p.workerID, 1)
	cancel()
	if err != nil {
		if p.ctx.Err() == nil {
			log.Printf("[%s] Claim error: %v", p.name, err)
		}
		return false
	}
	if len(jobs) == 0 {
		return false
	}
	job := jobs[0]

	// The job budget runs on a fresh context: a shutdown mid-job lets the
	// handler finish rather than aborting a half-applied transition.
	jobCtx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	err = p.handle(jobCtx, job)
	cancel()

	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		log.Printf("[%s] Job %s failed (attempt %d/%d): %v",
			p.name, job.ID, job.Attempts+1, job.MaxAttempts, err)
		dead, failErr := p.q.Fail(context.Background(), job, err)
		if failErr != nil {
			log.Printf("[%s] Could not record failure for job %s: %v", p.name, job.ID, failErr)
		}
		if dead {
			atomic.AddInt64(&p.deadLettered, 1)
			log.Printf("[%s] Job %s dead-lettered after %d attempts", p.name, job.ID, job.Attempts)
		}
		return true
	}

	if err := p.q.Complete(context.Background(), job.ID); err != nil {
		log.Printf("[%s] Could not complete job %s: %v", p.name, job.ID, err)
	}
	atomic.AddInt64(&p.processed, 1)
	return true
}

// registerWorker records this pool in the worker registry.
func (p *Pool) registerWorker() {
	_, err := p.db.Exec(`
		INSERT INTO sentinel_workers (id, worker_type, hostname, status, started_at, last_heartbeat_at)
		VALUES ($1, $2, $3, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET status = 'running', last_heartbeat_at = NOW()
	`, p.workerID, p.name, hostname())
	if err != nil {
		log.Printf("[%s] Warning: failed to register worker: %v", p.name, err)
	}
}

func (p *Pool) deregisterWorker() {
	_, err := p.db.Exec(`UPDATE sentinel_workers SET status = 'stopped' WHERE id = $1`, p.workerID)
	if err != nil {
		log.Printf("[%s] Warning: failed to deregister worker: %v", p.name, err)
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.db.Exec(`
				UPDATE sentinel_workers
				SET last_heartbeat_at = NOW(), total_processed = $2, total_errors = $3
				WHERE id = $1
			`, p.workerID, atomic.LoadInt64(&p.processed), atomic.LoadInt64(&p.failed))
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
