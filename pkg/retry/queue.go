package retry

import (
	"context"
	"errors"
	"time"

	"github.com/authwatchio/authwatch/pkg/notify"
)

// Sentinel errors returned by queue operations.
var (
	ErrQueueFull     = errors.New("retry queue is full")
	ErrQueueClosed   = errors.New("retry queue is closed")
	ErrItemNotFound  = errors.New("queue item not found")
	ErrDuplicateItem = errors.New("duplicate item already in queue")
	ErrInvalidItem   = errors.New("invalid queue item")
)

// Queue stores undelivered notifications until a worker redelivers
// them. Implementations must be safe for concurrent use.
//
// Enqueue assigns the item an ID and returns it; it fails with
// ErrQueueFull at capacity and ErrDuplicateItem when deduplication
// matches an already-queued fingerprint. Dequeue hands out the next due
// item in processing state, or nil when nothing is due. Peek lists due
// items ordered by NextRetry without state changes. Delete discards an
// item after delivery, MarkFailed parks it permanently, and Requeue
// schedules another attempt. Once Close has run, every method fails
// with ErrQueueClosed.
type Queue interface {
	Enqueue(ctx context.Context, item *QueueItem) (string, error)
	Dequeue(ctx context.Context) (*QueueItem, error)
	Peek(ctx context.Context, limit int) ([]*QueueItem, error)
	Get(ctx context.Context, id string) (*QueueItem, error)
	Update(ctx context.Context, item *QueueItem) error
	Delete(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	Requeue(ctx context.Context, id string, nextRetry time.Time) error
	Size(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*QueueStats, error)
	Cleanup(ctx context.Context, ttl time.Duration) (int, error)
	List(ctx context.Context, filter ListFilter) ([]*QueueItem, error)
	Close() error
}

// ListFilter narrows List results. Zero values mean "no constraint":
// any status, any channel, every item, creation order.
type ListFilter struct {
	Status  ItemStatus
	Channel string
	Limit   int
	Offset  int

	// ReadyOnly restricts the listing to items whose NextRetry has
	// passed.
	ReadyOnly bool

	// OrderBy picks the sort field, "created_at" by default; OrderDesc
	// reverses it.
	OrderBy   string
	OrderDesc bool
}

// Sender delivers a queued payload to its channel. The worker uses it
// to redeliver; the agent wires it to the configured transports.
type Sender interface {
	SendTo(ctx context.Context, channel string, payload *notify.Payload) error
}

// RetryCallback observes the outcome of one redelivery attempt.
type RetryCallback func(result *RetryResult)

// QueueConfig holds the settings shared by queue implementations.
type QueueConfig struct {
	// MaxSize caps the queue, DefaultMaxQueueSize when zero.
	MaxSize int

	// Deduplication drops enqueues whose fingerprint is already queued.
	Deduplication bool

	// Verbose enables console diagnostics.
	Verbose bool
}

// DefaultQueueConfig returns the standard settings: a 1000-item cap
// with deduplication on.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxSize:       DefaultMaxQueueSize,
		Deduplication: true,
	}
}

// Validate normalizes out-of-range settings.
func (c *QueueConfig) Validate() error {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxQueueSize
	}
	return nil
}

// Enqueuer adapts a Queue to the dispatcher's enqueue hook.
type Enqueuer struct {
	queue       Queue
	maxAttempts int
}

// NewEnqueuer creates an Enqueuer. maxAttempts <= 0 uses the default.
func NewEnqueuer(queue Queue, maxAttempts int) *Enqueuer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Enqueuer{queue: queue, maxAttempts: maxAttempts}
}

// Enqueue stores a failed delivery for later retry. A duplicate of an
// already-queued delivery is not an error.
func (e *Enqueuer) Enqueue(channel string, payload *notify.Payload, cause error) error {
	item := &QueueItem{
		Channel:     channel,
		Payload:     payload,
		MaxAttempts: e.maxAttempts,
	}
	if cause != nil {
		item.LastError = cause.Error()
	}

	_, err := e.queue.Enqueue(context.Background(), item)
	if errors.Is(err, ErrDuplicateItem) {
		return nil
	}
	return err
}
