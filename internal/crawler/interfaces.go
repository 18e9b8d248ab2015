package crawler

import (
	"context"
	"time"
)

// QueueStore is the durable FIFO of pending jobs plus the ongoing set used for
// crash recovery. Every mutator is a no-op while the session flag is unset.
type QueueStore interface {
	IsActive(ctx context.Context) (bool, error)
	SetActive(ctx context.Context, active bool) error
	Push(ctx context.Context, job Job) error
	// Pop atomically moves the head of the vendor's pending list into the
	// ongoing set. ok is false when nothing was dequeued.
	Pop(ctx context.Context, vendor string) (job Job, ok bool, err error)
	Restore(ctx context.Context, job Job) error
	Finish(ctx context.Context, job Job) error
	RestoreAll(ctx context.Context) (int, error)
	PeekHead(ctx context.Context, vendor string, n int) ([]Job, error)
	Size(ctx context.Context, vendor string) (int, error)
}

// ProgressFunc receives a fraction in [0,1] describing a job's progress.
type ProgressFunc func(fraction float64)

// Strategy is one vendor's extraction logic bound to a single job.
type Strategy interface {
	ListItems(ctx context.Context, params map[string]string) ([]string, error)
	// ProcessItem returns ErrItemGone when the vendor no longer lists the item.
	ProcessItem(ctx context.Context, job Job) (ItemData, error)
	Close() error
}

// StrategyFactory mints a fresh Strategy for every job.
type StrategyFactory interface {
	New(label string, report ProgressFunc) (Strategy, error)
}

// CatalogStore persists catalog entries owned by the surrounding system.
type CatalogStore interface {
	GetBySourceURL(ctx context.Context, url string) (Entry, error)
	Create(ctx context.Context, data ItemData) (Entry, error)
	Update(ctx context.Context, entry Entry, data ItemData) (Entry, error)
	Disable(ctx context.Context, entry Entry) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
