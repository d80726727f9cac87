// Package outbox delivers outbox entries to their handlers with claim-based
// leasing, exponential backoff and a dead-letter queue.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/aevon-lab/sliceflow/internal/metrics"
	"github.com/google/uuid"
)

// markTimeout bounds the store write that records an entry's outcome. It is
// detached from shutdown so finished work is still recorded while draining.
const markTimeout = 5 * time.Second

// Config tunes a Worker.
type Config struct {
	WorkerID       string
	BatchSize      int
	ActiveInterval time.Duration // poll delay after a non-empty claim
	IdleInterval   time.Duration // poll delay after an empty claim
	SweepInterval  time.Duration
	StaleTimeout   time.Duration // claims older than this are released by the sweep
	HandlerTimeout time.Duration
	DrainTimeout   time.Duration
	MaxRetries     int
	Backoff        Backoff
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		ActiveInterval: 100 * time.Millisecond,
		IdleInterval:   2 * time.Second,
		SweepInterval:  30 * time.Second,
		StaleTimeout:   5 * time.Minute,
		HandlerTimeout: 30 * time.Second,
		DrainTimeout:   30 * time.Second,
		MaxRetries:     5,
		Backoff:        DefaultBackoff(),
	}
}

// Worker polls the outbox. Several workers may share one store; they
// coordinate only through the claim columns.
type Worker struct {
	store   storage.OutboxStore
	handler Handler
	cfg     Config
	metrics *metrics.Metrics

	nowFn  func() time.Time
	randFn func() float64
}

// NewWorker creates a worker. An empty WorkerID gets a random one.
func NewWorker(store storage.OutboxStore, handler Handler, cfg Config, m *metrics.Metrics) *Worker {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.NewString()
	}
	return &Worker{
		store:   store,
		handler: handler,
		cfg:     cfg.normalized(),
		metrics: m,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
		randFn: rand.Float64,
	}
}

// normalized fills unset fields from DefaultConfig.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = d.ActiveInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = d.IdleInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = d.StaleTimeout
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.Backoff.InitialDelay <= 0 || c.Backoff.Multiplier < 1 {
		c.Backoff = d.Backoff
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = d.Backoff.MaxDelay
	}
	return c
}

// ID returns the worker's claim identity.
func (w *Worker) ID() string {
	return w.cfg.WorkerID
}

// Start polls until ctx is cancelled. In-flight entries get DrainTimeout to
// finish; claimed entries that have not started are released.
func (w *Worker) Start(ctx context.Context) error {
	slog.Info("[OutboxWorker] Starting",
		"worker_id", w.cfg.WorkerID,
		"batch_size", w.cfg.BatchSize,
		"active_interval", w.cfg.ActiveInterval,
		"idle_interval", w.cfg.IdleInterval,
	)

	sweep := time.NewTicker(w.cfg.SweepInterval)
	defer sweep.Stop()
	poll := time.NewTimer(0)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("[OutboxWorker] Stopped", "worker_id", w.cfg.WorkerID)
			return nil
		case <-sweep.C:
			if _, _, err := w.Sweep(ctx); err != nil {
				slog.Error("[OutboxWorker] Stale sweep failed", "worker_id", w.cfg.WorkerID, "error", err)
			}
		case <-poll.C:
			n, err := w.PollOnce(ctx)
			if err != nil && ctx.Err() == nil {
				slog.Error("[OutboxWorker] Poll failed", "worker_id", w.cfg.WorkerID, "error", err)
			}
			if n > 0 {
				poll.Reset(w.cfg.ActiveInterval)
			} else {
				poll.Reset(w.cfg.IdleInterval)
			}
		}
	}
}

// PollOnce claims one batch and handles it entry by entry, highest priority
// first. It returns the number of entries claimed.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := w.store.ClaimOutbox(ctx, w.cfg.WorkerID, w.cfg.BatchSize, w.nowFn())
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox entries: %w", err)
	}
	w.metrics.RecordClaimed(len(entries))
	if len(entries) == 0 {
		return 0, nil
	}

	procCtx, cancel := w.drainContext(ctx)
	defer cancel()

	for i, entry := range entries {
		if ctx.Err() != nil {
			w.release(entries[i:])
			break
		}
		w.process(procCtx, entry)
	}
	return len(entries), nil
}

// drainContext returns a context that outlives ctx by DrainTimeout.
func (w *Worker) drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(w.cfg.DrainTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-procCtx.Done():
		}
	})
	return procCtx, func() {
		stop()
		cancel()
	}
}

func (w *Worker) process(ctx context.Context, entry *v1.OutboxEntry) {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, w.cfg.HandlerTimeout)
	err := w.handler.Handle(hctx, entry)
	timedOut := err != nil && errors.Is(hctx.Err(), context.DeadlineExceeded)
	cancel()

	mctx, mcancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer mcancel()

	log := slog.With("worker_id", w.cfg.WorkerID, "entry_id", entry.ID, "event_type", entry.EventType)

	var outcome string
	switch {
	case err == nil:
		outcome = "processed"
		err = w.store.MarkOutboxProcessed(mctx, entry.ID, w.cfg.WorkerID, w.nowFn())

	case timedOut:
		// The entry stays PROCESSING; the stale sweep returns it to PENDING.
		outcome = "timeout"
		log.Warn("[OutboxWorker] Handler timed out", "timeout", w.cfg.HandlerTimeout, "error", err)
		err = nil

	case !coreerr.IsRetryable(err):
		outcome = "dlq"
		log.Error("[OutboxWorker] Non-retryable failure, moving to DLQ", "error", err)
		err = w.store.MoveOutboxToDLQ(mctx, entry.ID, w.cfg.WorkerID, entry.RetryCount, err.Error())

	default:
		retry := entry.RetryCount + 1
		if retry >= w.cfg.MaxRetries {
			outcome = "dlq"
			log.Error("[OutboxWorker] Retries exhausted, moving to DLQ", "retry_count", retry, "error", err)
			err = w.store.MoveOutboxToDLQ(mctx, entry.ID, w.cfg.WorkerID, retry, err.Error())
			break
		}
		outcome = "retry"
		delay := w.cfg.Backoff.Delay(retry, w.randFn())
		log.Warn("[OutboxWorker] Handler failed, scheduling retry", "retry_count", retry, "delay", delay, "error", err)
		err = w.store.MarkOutboxRetry(mctx, entry.ID, w.cfg.WorkerID, retry, w.nowFn().Add(delay), err.Error())
	}

	w.metrics.RecordOutbox(entry.EventType, outcome, time.Since(start))

	switch {
	case errors.Is(err, storage.ErrLeaseLost):
		log.Warn("[OutboxWorker] Claim lost before outcome was recorded", "outcome", outcome)
	case err != nil:
		log.Error("[OutboxWorker] Failed to record outcome", "outcome", outcome, "error", err)
	}
}

func (w *Worker) release(entries []*v1.OutboxEntry) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()
	if err := w.store.ReleaseOutbox(ctx, w.cfg.WorkerID, ids); err != nil {
		slog.Error("[OutboxWorker] Failed to release unstarted entries", "worker_id", w.cfg.WorkerID, "count", len(ids), "error", err)
		return
	}
	w.metrics.RecordReleased("shutdown", len(ids))
	slog.Info("[OutboxWorker] Released unstarted entries", "worker_id", w.cfg.WorkerID, "count", len(ids))
}

// Sweep returns entries claimed longer than StaleTimeout ago to PENDING,
// dead-lettering those that have used up their retries.
func (w *Worker) Sweep(ctx context.Context) (released, deadLettered int, err error) {
	released, deadLettered, err = w.store.ReleaseStaleOutbox(ctx, w.nowFn().Add(-w.cfg.StaleTimeout), w.cfg.MaxRetries)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to release stale entries: %w", err)
	}
	w.metrics.RecordReleased("stale", released)
	w.metrics.RecordReleased("stale_dlq", deadLettered)
	if released+deadLettered > 0 {
		slog.Warn("[OutboxWorker] Released stale claims",
			"worker_id", w.cfg.WorkerID, "released", released, "dead_lettered", deadLettered)
	}
	return released, deadLettered, nil
}
