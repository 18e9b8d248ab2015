// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"time"
)

// JobKind selects which branch of the worker pipeline runs for a Job.
type JobKind string

// Job kinds understood by workers.
const (
	JobKindList        JobKind = "LIST"
	JobKindProcessItem JobKind = "PROCESS_ITEM"
	JobKindFollowup    JobKind = "FOLLOWUP"
)

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindList, JobKindProcessItem, JobKindFollowup:
		return true
	default:
		return false
	}
}

// Job is one schedulable unit of crawl work. Jobs are values; the ID is minted
// once by NewJob and survives every push/pop/restore round-trip.
type Job struct {
	ID     string            `json:"id"`
	Vendor string            `json:"vendor"`
	Kind   JobKind           `json:"kind"`
	Target string            `json:"target,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// NewJob builds a Job with a freshly generated ID.
func NewJob(ids IDGenerator, vendor string, kind JobKind, target string, params map[string]string) (Job, error) {
	if vendor == "" {
		return Job{}, errors.New("vendor is required")
	}
	if !kind.Valid() {
		return Job{}, ErrInvalidKind
	}
	id, err := ids.NewID()
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:     id,
		Vendor: vendor,
		Kind:   kind,
		Target: target,
		Params: cloneParams(params),
	}, nil
}

// Validate checks the fields required to persist a Job.
func (j Job) Validate() error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	if j.Vendor == "" {
		return errors.New("job vendor is required")
	}
	if !j.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

// Clone returns a copy that shares no maps with j.
func (j Job) Clone() Job {
	j.Params = cloneParams(j.Params)
	return j
}

func cloneParams(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// EntryStatus is the lifecycle state of a catalog entry.
type EntryStatus string

// Catalog entry statuses. LOCKED and PENDING are static: a re-scrape never
// overwrites them.
const (
	StatusActive   EntryStatus = "ACTIVE"
	StatusSoldOut  EntryStatus = "SOLD_OUT"
	StatusDisabled EntryStatus = "DISABLED"
	StatusLocked   EntryStatus = "LOCKED"
	StatusPending  EntryStatus = "PENDING"
)

// IsStatic reports whether the status must survive a re-scrape.
func (s EntryStatus) IsStatic() bool {
	return s == StatusLocked || s == StatusPending
}

// ItemData is the normalized result of scraping one item page.
type ItemData struct {
	SourceURL  string            `json:"source_url"`
	Vendor     string            `json:"vendor"`
	Status     EntryStatus       `json:"status"`
	Title      string            `json:"title,omitempty"`
	Price      string            `json:"price,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ScrapedAt  time.Time         `json:"scraped_at"`
}

// Entry is a catalog record keyed by its canonical source URL.
type Entry struct {
	ID            string            `json:"id"`
	SourceURL     string            `json:"source_url"`
	Vendor        string            `json:"vendor"`
	Status        EntryStatus       `json:"status"`
	Title         string            `json:"title,omitempty"`
	Price         string            `json:"price,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	LastScrapedAt time.Time         `json:"last_scraped_at"`
}

// WorkerState is the coarse activity of a worker.
type WorkerState string

// Worker states.
const (
	WorkerIdle    WorkerState = "idle"
	WorkerLoading WorkerState = "loading"
)

// WorkerSnapshot is a point-in-time copy of a worker's observable fields.
type WorkerSnapshot struct {
	ID       string      `json:"id"`
	Vendor   string      `json:"vendor"`
	Target   string      `json:"target,omitempty"`
	Progress *float64    `json:"progress"`
	State    WorkerState `json:"state"`
	Active   bool        `json:"active"`
}

// Sentinel errors shared across packages.
var (
	// ErrItemGone is returned by a Strategy when the item no longer exists at the vendor.
	ErrItemGone = errors.New("item no longer available")
	// ErrNotFound signals a catalog miss.
	ErrNotFound = errors.New("catalog entry not found")
	// ErrUnknownVendor signals a vendor without a registered strategy.
	ErrUnknownVendor = errors.New("unknown vendor")
	// ErrInvalidKind signals a job kind outside the known set.
	ErrInvalidKind = errors.New("invalid job kind")
)
