// Package retry keeps notifications that cleared their threshold from
// being lost to a transient webhook or API outage. Failed deliveries
// land in a persistent store-and-forward queue; a worker redelivers
// them on an exponential backoff schedule.
//
//	queue, _ := retry.NewFileQueue(&retry.FileQueueConfig{
//	    Dir: "/var/lib/authwatch/retry-queue",
//	})
//
//	worker := retry.NewWorker(&retry.WorkerConfig{
//	    Interval: 5 * time.Minute,
//	}, queue, sender)
//
//	worker.Start(ctx)
//	defer worker.Stop(ctx)
package retry

import (
	"time"

	"github.com/authwatchio/authwatch/pkg/notify"
)

// Queue-wide defaults.
const (
	DefaultMaxAttempts   = 10
	DefaultTTL           = 7 * 24 * time.Hour
	DefaultRetryInterval = 5 * time.Minute
	DefaultBatchSize     = 10
	DefaultMaxQueueSize  = 1000
)

// ItemStatus tracks where a queue item is in its lifecycle: pending
// (waiting for its NextRetry), processing (handed to a worker), or
// failed (retries exhausted, kept for inspection until cleanup).
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusFailed     ItemStatus = "failed"
)

// QueueItem is one undelivered notification together with its retry
// bookkeeping. The fingerprint identifies the notification content so
// the queue can refuse duplicates.
type QueueItem struct {
	ID          string     `json:"id"`
	Channel     string     `json:"channel"`
	Fingerprint string     `json:"fingerprint"`
	Status      ItemStatus `json:"status"`

	Payload *notify.Payload `json:"payload"`

	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error"`
	LastAttempt time.Time `json:"last_attempt"`
	NextRetry   time.Time `json:"next_retry"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether the item is older than ttl.
func (item *QueueItem) IsExpired(ttl time.Duration) bool {
	return time.Since(item.CreatedAt) > ttl
}

// IsReadyForRetry reports whether the item is pending and due.
func (item *QueueItem) IsReadyForRetry() bool {
	return item.Status == ItemStatusPending && time.Now().After(item.NextRetry)
}

// HasExhaustedRetries reports whether no attempts remain.
func (item *QueueItem) HasExhaustedRetries() bool {
	return item.Attempts >= item.MaxAttempts
}

// QueueStats is a point-in-time summary of the queue contents.
type QueueStats struct {
	TotalItems      int       `json:"total_items"`
	PendingItems    int       `json:"pending_items"`
	ProcessingItems int       `json:"processing_items"`
	FailedItems     int       `json:"failed_items"`
	OldestItem      time.Time `json:"oldest_item"`
	NewestItem      time.Time `json:"newest_item"`
	LastRetry       time.Time `json:"last_retry"`
	TotalRetries    int64     `json:"total_retries"`
	SuccessfulSends int64     `json:"successful_deliveries"`
}

// RetryResult records the outcome of one redelivery attempt.
type RetryResult struct {
	ItemID    string        `json:"item_id"`
	Channel   string        `json:"channel"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Attempt   int           `json:"attempt"`
	Timestamp time.Time     `json:"timestamp"`
}
