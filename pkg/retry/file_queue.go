package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/authwatchio/authwatch/pkg/shared/fingerprint"
)

// FileQueue implements Queue over a directory of JSON files, one per
// undelivered notification. A CI agent's queue is small and survives
// the process, which is all the durability this needs.
//
// Files are named {unixnano}_{id}.json so a directory listing sorts by
// creation time. Two in-memory indexes are built on open and kept in
// sync under the queue lock: item ID to file path, and fingerprint to
// item ID for deduplication.
type FileQueue struct {
	dir     string
	config  *QueueConfig
	backoff *BackoffConfig

	mu     sync.RWMutex
	closed bool

	paths        map[string]string // item ID -> file path
	fingerprints map[string]string // fingerprint -> item ID

	verbose bool
}

// FileQueueConfig configures the file-backed queue.
type FileQueueConfig struct {
	// Dir holds the queue files, ~/.authwatch/retry-queue by default.
	Dir string

	// MaxSize caps the queue, DefaultMaxQueueSize when zero.
	MaxSize int

	// Deduplication drops enqueues whose fingerprint is already queued.
	Deduplication bool

	// Backoff schedules the gaps between attempts.
	Backoff *BackoffConfig

	// Verbose enables console diagnostics.
	Verbose bool
}

// NewFileQueue opens (or creates) a file-based retry queue and indexes
// any items left over from previous runs.
func NewFileQueue(cfg *FileQueueConfig) (*FileQueue, error) {
	if cfg == nil {
		cfg = &FileQueueConfig{}
	}
	if cfg.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.Dir = filepath.Join(home, ".authwatch", "retry-queue")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxQueueSize
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	fq := &FileQueue{
		dir: cfg.Dir,
		config: &QueueConfig{
			MaxSize:       cfg.MaxSize,
			Deduplication: cfg.Deduplication,
			Verbose:       cfg.Verbose,
		},
		backoff:      cfg.Backoff,
		paths:        make(map[string]string),
		fingerprints: make(map[string]string),
		verbose:      cfg.Verbose,
	}
	if err := fq.buildIndex(); err != nil {
		return nil, err
	}
	return fq, nil
}

// buildIndex scans the directory once and fills both indexes. Corrupted
// files are skipped, not deleted; Cleanup handles those.
func (fq *FileQueue) buildIndex() error {
	entries, err := os.ReadDir(fq.dir)
	if err != nil {
		return fmt.Errorf("read queue directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(fq.dir, entry.Name())
		item, err := fq.readItem(path)
		if err != nil {
			if fq.verbose {
				fmt.Printf("[retry] Skipping unreadable queue file %s: %v\n", entry.Name(), err)
			}
			continue
		}
		fq.paths[item.ID] = path
		if item.Fingerprint != "" {
			fq.fingerprints[item.Fingerprint] = item.ID
		}
		loaded++
	}

	if fq.verbose {
		fmt.Printf("[retry] Indexed %d queued items\n", loaded)
	}
	return nil
}

// Enqueue adds an item to the queue, filling in ID, fingerprint,
// timestamps and defaults. New items are ready for immediate retry.
func (fq *FileQueue) Enqueue(ctx context.Context, item *QueueItem) (string, error) {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return "", ErrQueueClosed
	}
	if item == nil || item.Payload == nil || item.Channel == "" {
		return "", ErrInvalidItem
	}
	if len(fq.paths) >= fq.config.MaxSize {
		return "", ErrQueueFull
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Fingerprint == "" {
		item.Fingerprint = fingerprint.Notification(
			item.Payload.Repo, item.Payload.ChangeID, item.Channel)
	}

	// The same notification for the same channel is queued at most once.
	if fq.config.Deduplication {
		if existingID, ok := fq.fingerprints[item.Fingerprint]; ok {
			return existingID, ErrDuplicateItem
		}
	}

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = ItemStatusPending
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = DefaultMaxAttempts
	}
	if item.NextRetry.IsZero() {
		item.NextRetry = now
	}

	if err := fq.writeItem(item); err != nil {
		return "", err
	}
	fq.fingerprints[item.Fingerprint] = item.ID

	if fq.verbose {
		fmt.Printf("[retry] Enqueued %s for channel %s\n", item.ID[:8], item.Channel)
	}
	return item.ID, nil
}

// Dequeue returns the next item due for retry, marked processing.
// Returns nil, nil when nothing is due.
func (fq *FileQueue) Dequeue(ctx context.Context) (*QueueItem, error) {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}

	ready := fq.readyItems(1)
	if len(ready) == 0 {
		return nil, nil
	}

	item := ready[0]
	item.Status = ItemStatusProcessing
	item.UpdatedAt = time.Now()
	if err := fq.writeItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Peek returns up to limit due items without claiming them.
func (fq *FileQueue) Peek(ctx context.Context, limit int) ([]*QueueItem, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}
	return fq.readyItems(limit), nil
}

// Get retrieves an item by ID.
func (fq *FileQueue) Get(ctx context.Context, id string) (*QueueItem, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}
	return fq.get(id)
}

// Update rewrites an existing item.
func (fq *FileQueue) Update(ctx context.Context, item *QueueItem) error {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return ErrQueueClosed
	}
	if item == nil {
		return ErrInvalidItem
	}

	existing, err := fq.get(item.ID)
	if err != nil {
		return err
	}
	if existing.Fingerprint != item.Fingerprint {
		delete(fq.fingerprints, existing.Fingerprint)
		if item.Fingerprint != "" {
			fq.fingerprints[item.Fingerprint] = item.ID
		}
	}

	item.UpdatedAt = time.Now()
	return fq.writeItem(item)
}

// Delete removes an item, typically after successful redelivery.
func (fq *FileQueue) Delete(ctx context.Context, id string) error {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return ErrQueueClosed
	}
	return fq.remove(id)
}

// MarkFailed marks an item permanently failed after its attempts are
// exhausted. Failed items stay on disk until Cleanup for inspection.
func (fq *FileQueue) MarkFailed(ctx context.Context, id string, lastError string) error {
	return fq.transition(id, func(item *QueueItem) {
		item.Status = ItemStatusFailed
		item.LastError = lastError
	})
}

// Requeue schedules another attempt.
func (fq *FileQueue) Requeue(ctx context.Context, id string, nextRetry time.Time) error {
	return fq.transition(id, func(item *QueueItem) {
		item.Status = ItemStatusPending
		item.NextRetry = nextRetry
	})
}

func (fq *FileQueue) transition(id string, mutate func(*QueueItem)) error {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return ErrQueueClosed
	}
	item, err := fq.get(id)
	if err != nil {
		return err
	}
	mutate(item)
	item.UpdatedAt = time.Now()
	return fq.writeItem(item)
}

// Size returns the number of items in the queue.
func (fq *FileQueue) Size(ctx context.Context) (int, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return 0, ErrQueueClosed
	}
	return len(fq.paths), nil
}

// Stats aggregates per-status counts and age extremes.
func (fq *FileQueue) Stats(ctx context.Context) (*QueueStats, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}

	stats := &QueueStats{}
	for _, item := range fq.all() {
		stats.TotalItems++
		switch item.Status {
		case ItemStatusPending:
			stats.PendingItems++
		case ItemStatusProcessing:
			stats.ProcessingItems++
		case ItemStatusFailed:
			stats.FailedItems++
		}

		if stats.OldestItem.IsZero() || item.CreatedAt.Before(stats.OldestItem) {
			stats.OldestItem = item.CreatedAt
		}
		if item.CreatedAt.After(stats.NewestItem) {
			stats.NewestItem = item.CreatedAt
		}
		if item.LastAttempt.After(stats.LastRetry) {
			stats.LastRetry = item.LastAttempt
		}
		stats.TotalRetries += int64(item.Attempts)
	}
	return stats, nil
}

// Cleanup removes expired items, aged-out failed items, and files the
// index could not read. Returns the number removed.
func (fq *FileQueue) Cleanup(ctx context.Context, ttl time.Duration) (int, error) {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	if fq.closed {
		return 0, ErrQueueClosed
	}

	removed := 0
	now := time.Now()

	entries, err := os.ReadDir(fq.dir)
	if err != nil {
		return 0, fmt.Errorf("read queue directory: %w", err)
	}
	indexed := make(map[string]bool, len(fq.paths))
	for _, p := range fq.paths {
		indexed[p] = true
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(fq.dir, entry.Name())
		if !indexed[path] {
			// Unreadable at open time; drop it.
			if os.Remove(path) == nil {
				removed++
			}
		}
	}

	for id, path := range fq.paths {
		item, err := fq.readItem(path)
		if err != nil {
			if fq.remove(id) == nil {
				removed++
			}
			continue
		}
		expired := item.IsExpired(ttl)
		failedOut := item.Status == ItemStatusFailed && now.Sub(item.CreatedAt) > ttl/2
		if expired || failedOut {
			if fq.remove(id) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// List returns items matching the filter, ordered and paginated.
func (fq *FileQueue) List(ctx context.Context, filter ListFilter) ([]*QueueItem, error) {
	fq.mu.RLock()
	defer fq.mu.RUnlock()

	if fq.closed {
		return nil, ErrQueueClosed
	}

	now := time.Now()
	var items []*QueueItem
	for _, item := range fq.all() {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && item.Channel != filter.Channel {
			continue
		}
		if filter.ReadyOnly && (item.Status != ItemStatusPending || !now.After(item.NextRetry)) {
			continue
		}
		items = append(items, item)
	}

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = "created_at"
	}
	sort.Slice(items, func(i, j int) bool {
		var less bool
		switch orderBy {
		case "next_retry":
			less = items[i].NextRetry.Before(items[j].NextRetry)
		case "attempts":
			less = items[i].Attempts < items[j].Attempts
		default:
			less = items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		if filter.OrderDesc {
			return !less
		}
		return less
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return []*QueueItem{}, nil
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

// Close marks the queue closed. Files stay on disk for the next run.
func (fq *FileQueue) Close() error {
	fq.mu.Lock()
	defer fq.mu.Unlock()

	fq.closed = true
	fq.paths = nil
	fq.fingerprints = nil
	return nil
}

// Helpers below require the queue lock.

func (fq *FileQueue) get(id string) (*QueueItem, error) {
	path, ok := fq.paths[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return fq.readItem(path)
}

func (fq *FileQueue) remove(id string) error {
	path, ok := fq.paths[id]
	if !ok {
		return ErrItemNotFound
	}
	if item, err := fq.readItem(path); err == nil && item.Fingerprint != "" {
		delete(fq.fingerprints, item.Fingerprint)
	}
	delete(fq.paths, id)
	return os.Remove(path)
}

// all loads every indexed item, skipping ones that fail to read.
func (fq *FileQueue) all() []*QueueItem {
	items := make([]*QueueItem, 0, len(fq.paths))
	for _, path := range fq.paths {
		if item, err := fq.readItem(path); err == nil {
			items = append(items, item)
		}
	}
	return items
}

// readyItems returns due pending items, soonest NextRetry first and
// fewer attempts first among equally due items.
func (fq *FileQueue) readyItems(limit int) []*QueueItem {
	now := time.Now()
	var items []*QueueItem
	for _, item := range fq.all() {
		if item.IsReadyForRetry() {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].NextRetry.Before(items[j].NextRetry)
	})
	sort.SliceStable(items, func(i, j int) bool {
		if now.After(items[i].NextRetry) && now.After(items[j].NextRetry) {
			return items[i].Attempts < items[j].Attempts
		}
		return false
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (fq *FileQueue) readItem(path string) (*QueueItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queue item: %w", err)
	}
	var item QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode queue item: %w", err)
	}
	return &item, nil
}

// writeItem persists an item atomically via a temp file rename and
// records its path in the index.
func (fq *FileQueue) writeItem(item *QueueItem) error {
	path, ok := fq.paths[item.ID]
	if !ok {
		name := fmt.Sprintf("%d_%s.json", item.CreatedAt.UnixNano(), item.ID)
		path = filepath.Join(fq.dir, name)
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write queue item: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit queue item: %w", err)
	}

	fq.paths[item.ID] = path
	return nil
}

var _ Queue = (*FileQueue)(nil)
