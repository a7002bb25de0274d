package retry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WorkerConfig tunes the redelivery loop. Zero values fall back to the
// package defaults: a check every DefaultRetryInterval, batches of
// DefaultBatchSize, DefaultMaxAttempts attempts, and a DefaultTTL
// lifetime per item.
type WorkerConfig struct {
	// Interval is the pause between queue checks.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// BatchSize caps how many due items one check redelivers.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxAttempts is the per-item delivery attempt budget.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// TTL is the item lifetime before cleanup discards it.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// Backoff schedules the gaps between attempts.
	Backoff *BackoffConfig `yaml:"backoff" json:"backoff"`

	// Verbose enables console diagnostics.
	Verbose bool `yaml:"verbose" json:"verbose"`
}

// DefaultWorkerConfig returns a config with every field at its default.
func DefaultWorkerConfig() *WorkerConfig {
	cfg := &WorkerConfig{}
	cfg.normalize()
	return cfg
}

// normalize replaces out-of-range fields with the package defaults.
func (cfg *WorkerConfig) normalize() {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetryInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoffConfig()
	}
}

// WorkerStats counts the worker's lifetime delivery outcomes.
type WorkerStats struct {
	TotalAttempts   int64         `json:"total_attempts"`
	SuccessfulSends int64         `json:"successful_deliveries"`
	FailedAttempts  int64         `json:"failed_attempts"`
	ExhaustedItems  int64         `json:"exhausted_items"`
	TotalDuration   time.Duration `json:"total_duration"`
	LastProcessedAt time.Time     `json:"last_processed_at"`

	IsRunning   bool      `json:"is_running"`
	StartedAt   time.Time `json:"started_at"`
	LastCheckAt time.Time `json:"last_check_at"`
}

// Worker redelivers queued notifications. It can run as a background
// loop (Start/Stop) or be driven synchronously with ProcessNow, which
// is how the one-shot agent drains the queue after an analysis.
type Worker struct {
	queue   Queue
	sender  Sender
	backoff *BackoffConfig

	interval    time.Duration
	batchSize   int
	maxAttempts int
	ttl         time.Duration

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	onSuccess func(item *QueueItem, result *RetryResult)
	onFail    func(item *QueueItem, result *RetryResult)
	onExhaust func(item *QueueItem)

	stats   WorkerStats
	statsMu sync.RWMutex

	verbose bool
}

// NewWorker creates a retry worker over the queue and sender.
func NewWorker(cfg *WorkerConfig, queue Queue, sender Sender) *Worker {
	if cfg == nil {
		cfg = &WorkerConfig{}
	}
	cfg.normalize()

	return &Worker{
		queue:       queue,
		sender:      sender,
		backoff:     cfg.Backoff,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		ttl:         cfg.TTL,
		stopCh:      make(chan struct{}),
		verbose:     cfg.Verbose,
	}
}

// Start launches the background loop. The first batch runs right away.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})

	w.updateStats(func(s *WorkerStats) {
		s.IsRunning = true
		s.StartedAt = time.Now()
	})

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop shuts the loop down, waiting for the in-flight batch until the
// context expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop timed out: %w", ctx.Err())
	}

	w.updateStats(func(s *WorkerStats) { s.IsRunning = false })
	return nil
}

// IsRunning reports whether the background loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns a snapshot of the worker statistics.
func (w *Worker) Stats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

// ProcessNow synchronously processes one batch of due items.
func (w *Worker) ProcessNow(ctx context.Context) error {
	return w.processBatch(ctx)
}

// OnSuccess registers a hook observing each successful redelivery.
func (w *Worker) OnSuccess(fn func(item *QueueItem, result *RetryResult)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSuccess = fn
}

// OnFail registers a hook observing each failed redelivery.
func (w *Worker) OnFail(fn func(item *QueueItem, result *RetryResult)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onFail = fn
}

// OnExhaust registers a hook observing items that run out of attempts.
func (w *Worker) OnExhaust(fn func(item *QueueItem)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onExhaust = fn
}

// TriggerCleanup removes expired and aged-out failed items.
func (w *Worker) TriggerCleanup(ctx context.Context) (int, error) {
	return w.queue.Cleanup(ctx, w.ttl)
}

// QueueStats reads the current statistics from the underlying queue.
func (w *Worker) QueueStats(ctx context.Context) (*QueueStats, error) {
	return w.queue.Stats(ctx)
}

func (w *Worker) updateStats(fn func(*WorkerStats)) {
	w.statsMu.Lock()
	fn(&w.stats)
	w.statsMu.Unlock()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	w.tryBatch(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tryBatch(ctx)
		case <-cleanup.C:
			if removed, err := w.queue.Cleanup(ctx, w.ttl); err == nil && removed > 0 && w.verbose {
				fmt.Printf("[retry-worker] Removed %d expired items\n", removed)
			}
		}
	}
}

func (w *Worker) tryBatch(ctx context.Context) {
	if err := w.processBatch(ctx); err != nil && w.verbose {
		fmt.Printf("[retry-worker] Batch error: %v\n", err)
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	w.updateStats(func(s *WorkerStats) { s.LastCheckAt = time.Now() })

	items, err := w.queue.Peek(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("peek queue: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	if w.verbose {
		fmt.Printf("[retry-worker] Redelivering %d items\n", len(items))
	}

	for _, item := range items {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result := w.deliver(ctx, item)
		if result.Success {
			w.handleSuccess(ctx, item, result)
		} else {
			w.handleFailure(ctx, item, result)
		}

		w.updateStats(func(s *WorkerStats) {
			s.TotalAttempts++
			s.TotalDuration += result.Duration
		})
	}
	return nil
}

// deliver attempts one redelivery and records the outcome.
func (w *Worker) deliver(ctx context.Context, item *QueueItem) *RetryResult {
	start := time.Now()
	result := &RetryResult{
		ItemID:    item.ID,
		Channel:   item.Channel,
		Attempt:   item.Attempts + 1,
		Timestamp: start,
	}

	if item.Payload == nil {
		result.Error = "item has no payload"
		result.Duration = time.Since(start)
		return result
	}

	err := w.sender.SendTo(ctx, item.Channel, item.Payload)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

func (w *Worker) handleSuccess(ctx context.Context, item *QueueItem, result *RetryResult) {
	if err := w.queue.Delete(ctx, item.ID); err != nil && w.verbose {
		fmt.Printf("[retry-worker] Delete after delivery failed for %s: %v\n", item.ID[:8], err)
	}

	w.updateStats(func(s *WorkerStats) {
		s.SuccessfulSends++
		s.LastProcessedAt = time.Now()
	})
	if w.onSuccess != nil {
		w.onSuccess(item, result)
	}
	if w.verbose {
		fmt.Printf("[retry-worker] Delivered %s to %s on attempt %d\n",
			item.ID[:8], item.Channel, result.Attempt)
	}
}

// handleFailure either schedules the next attempt per the backoff or,
// when attempts are exhausted, marks the item permanently failed.
func (w *Worker) handleFailure(ctx context.Context, item *QueueItem, result *RetryResult) {
	item.Attempts++
	item.LastError = result.Error
	item.LastAttempt = result.Timestamp

	if item.HasExhaustedRetries() || item.Attempts >= w.maxAttempts {
		if err := w.queue.MarkFailed(ctx, item.ID, result.Error); err != nil && w.verbose {
			fmt.Printf("[retry-worker] MarkFailed for %s: %v\n", item.ID[:8], err)
		}
		w.updateStats(func(s *WorkerStats) { s.ExhaustedItems++ })
		if w.onExhaust != nil {
			w.onExhaust(item)
		}
		if w.verbose {
			fmt.Printf("[retry-worker] Item %s exhausted after %d attempts\n", item.ID[:8], item.Attempts)
		}
	} else {
		next := w.backoff.NextRetry(item.Attempts)
		if err := w.queue.Requeue(ctx, item.ID, next); err != nil && w.verbose {
			fmt.Printf("[retry-worker] Requeue for %s: %v\n", item.ID[:8], err)
		}
		if w.verbose {
			fmt.Printf("[retry-worker] Item %s retrying at %s (attempt %d/%d)\n",
				item.ID[:8], next.Format(time.RFC3339), item.Attempts, w.maxAttempts)
		}
	}

	w.updateStats(func(s *WorkerStats) { s.FailedAttempts++ })
	if w.onFail != nil {
		w.onFail(item, result)
	}
}
