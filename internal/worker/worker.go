// Package worker executes one dequeued Job against a vendor strategy.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Fields reported through StateChange.
const (
	FieldState    = "state"
	FieldTarget   = "target"
	FieldProgress = "progress"
	FieldActive   = "active"
)

// Config controls Worker behavior.
type Config struct {
	// Freshness is the window inside which a static entry is not re-scraped.
	Freshness     time.Duration
	ArchivePrefix string
}

// StateChange is sent to the manager whenever an observable field changes.
type StateChange struct {
	WorkerID string
	Field    string
	Value    any
}

// Worker holds one vendor-bound actor's observable state and runs Jobs.
type Worker struct {
	id      string
	vendor  string
	factory crawler.StrategyFactory
	catalog crawler.CatalogStore
	clock   crawler.Clock
	ids     crawler.IDGenerator
	archive crawler.BlobStore
	hasher  crawler.Hasher
	cfg     Config
	updates chan<- StateChange
	logger  *zap.Logger

	mu       sync.Mutex
	state    crawler.WorkerState
	target   string
	progress *float64
	active   bool
}

// New constructs an active, idle Worker. archive and updates may be nil.
func New(
	id string,
	vendor string,
	factory crawler.StrategyFactory,
	catalog crawler.CatalogStore,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	archive crawler.BlobStore,
	hasher crawler.Hasher,
	cfg Config,
	updates chan<- StateChange,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		vendor:  vendor,
		factory: factory,
		catalog: catalog,
		clock:   clock,
		ids:     ids,
		archive: archive,
		hasher:  hasher,
		cfg:     cfg,
		updates: updates,
		logger:  logger.With(zap.String("worker_id", id), zap.String("vendor", vendor)),
		state:   crawler.WorkerIdle,
		active:  true,
	}
}

// ID returns the worker identifier.
func (w *Worker) ID() string { return w.id }

// Vendor returns the vendor this worker pulls for.
func (w *Worker) Vendor() string { return w.vendor }

// Active reports the pause flag.
func (w *Worker) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// SetActive toggles the pause flag. It does not interrupt a running Job.
func (w *Worker) SetActive(active bool) {
	w.mu.Lock()
	changed := w.active != active
	w.active = active
	w.mu.Unlock()
	if changed {
		w.emit(FieldActive, active)
	}
}

// Snapshot returns a copy of the observable fields. Inactive workers always
// report idle.
func (w *Worker) Snapshot() crawler.WorkerSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := crawler.WorkerSnapshot{
		ID:     w.id,
		Vendor: w.vendor,
		Target: w.target,
		State:  w.state,
		Active: w.active,
	}
	if w.progress != nil {
		p := *w.progress
		snap.Progress = &p
	}
	if !w.active {
		snap.State = crawler.WorkerIdle
	}
	return snap
}

// MarkIdle clears the current target and progress.
func (w *Worker) MarkIdle() {
	w.mu.Lock()
	wasIdle := w.state == crawler.WorkerIdle && w.target == "" && w.progress == nil
	w.state = crawler.WorkerIdle
	w.target = ""
	w.progress = nil
	w.mu.Unlock()
	if wasIdle {
		return
	}
	w.emit(FieldState, crawler.WorkerIdle)
	w.emit(FieldTarget, "")
	w.emit(FieldProgress, nil)
}

func (w *Worker) markLoading(target string) {
	w.mu.Lock()
	w.state = crawler.WorkerLoading
	w.target = target
	w.progress = nil
	w.mu.Unlock()
	w.emit(FieldState, crawler.WorkerLoading)
	w.emit(FieldTarget, target)
}

func (w *Worker) reportProgress(fraction float64) {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	w.mu.Lock()
	p := fraction
	w.progress = &p
	w.mu.Unlock()
	w.emit(FieldProgress, fraction)
}

func (w *Worker) emit(field string, value any) {
	if w.updates == nil {
		return
	}
	select {
	case w.updates <- StateChange{WorkerID: w.id, Field: field, Value: value}:
	default:
		w.logger.Debug("state change dropped", zap.String("field", field))
	}
}

// Execute runs one Job and returns the follow-up Jobs to enqueue. Errors are
// returned unhandled; restoring the Job is the caller's job.
func (w *Worker) Execute(ctx context.Context, job crawler.Job) (followups []crawler.Job, err error) {
	w.markLoading(job.Target)

	strategy, err := w.factory.New(w.id, w.reportProgress)
	if err != nil {
		return nil, fmt.Errorf("create strategy: %w", err)
	}
	defer func() {
		if closeErr := strategy.Close(); closeErr != nil {
			w.logger.Warn("strategy close failed", zap.String("job_id", job.ID), zap.Error(closeErr))
		}
	}()

	switch job.Kind {
	case crawler.JobKindList:
		return w.list(ctx, strategy, job)
	case crawler.JobKindProcessItem, crawler.JobKindFollowup:
		return w.processItem(ctx, strategy, job)
	default:
		return nil, fmt.Errorf("job %s: %w", job.ID, crawler.ErrInvalidKind)
	}
}

func (w *Worker) list(ctx context.Context, strategy crawler.Strategy, job crawler.Job) ([]crawler.Job, error) {
	urls, err := strategy.ListItems(ctx, job.Params)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	seen := make(map[string]struct{}, len(urls))
	jobs := make([]crawler.Job, 0, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		item, err := crawler.NewJob(w.ids, job.Vendor, crawler.JobKindProcessItem, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build item job: %w", err)
		}
		jobs = append(jobs, item)
	}
	w.logger.Debug("listing complete", zap.String("job_id", job.ID), zap.Int("items", len(jobs)))
	return jobs, nil
}

func (w *Worker) processItem(ctx context.Context, strategy crawler.Strategy, job crawler.Job) ([]crawler.Job, error) {
	if job.Target == "" {
		return nil, fmt.Errorf("job %s has no target", job.ID)
	}

	entry, found, err := w.lookup(ctx, job.Target)
	if err != nil {
		return nil, err
	}
	now := w.clock.Now()
	if found && entry.Status.IsStatic() && w.fresh(entry, now) {
		w.logger.Debug("entry fresh, skipping scrape",
			zap.String("job_id", job.ID),
			zap.String("url", job.Target),
			zap.String("status", string(entry.Status)),
		)
		followup, err := w.followup(job)
		if err != nil {
			return nil, err
		}
		return []crawler.Job{followup}, nil
	}

	data, err := strategy.ProcessItem(ctx, job)
	if errors.Is(err, crawler.ErrItemGone) {
		if !found {
			w.logger.Info("item gone before first scrape", zap.String("job_id", job.ID), zap.String("url", job.Target))
			return nil, nil
		}
		if err := w.catalog.Disable(ctx, entry); err != nil {
			return nil, fmt.Errorf("disable entry: %w", err)
		}
		w.logger.Info("entry disabled", zap.String("job_id", job.ID), zap.String("url", job.Target))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("process item: %w", err)
	}

	data = w.normalize(job, data, now)
	if found && entry.Status.IsStatic() {
		data.Status = entry.Status
	}
	if err := w.archiveSnapshot(ctx, data); err != nil {
		return nil, err
	}

	var saved crawler.Entry
	if found {
		saved, err = w.catalog.Update(ctx, entry, data)
		if err != nil {
			return nil, fmt.Errorf("update entry: %w", err)
		}
	} else {
		saved, err = w.catalog.Create(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("create entry: %w", err)
		}
	}

	if saved.Status != crawler.StatusActive {
		return nil, nil
	}
	followup, err := w.followup(job)
	if err != nil {
		return nil, err
	}
	return []crawler.Job{followup}, nil
}

func (w *Worker) lookup(ctx context.Context, url string) (crawler.Entry, bool, error) {
	entry, err := w.catalog.GetBySourceURL(ctx, url)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		return crawler.Entry{}, false, nil
	case err != nil:
		return crawler.Entry{}, false, fmt.Errorf("lookup entry: %w", err)
	default:
		return entry, true, nil
	}
}

func (w *Worker) fresh(entry crawler.Entry, now time.Time) bool {
	if w.cfg.Freshness <= 0 || entry.LastScrapedAt.IsZero() {
		return false
	}
	return now.Sub(entry.LastScrapedAt) < w.cfg.Freshness
}

func (w *Worker) followup(job crawler.Job) (crawler.Job, error) {
	next, err := crawler.NewJob(w.ids, job.Vendor, crawler.JobKindFollowup, job.Target, job.Params)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("build followup job: %w", err)
	}
	return next, nil
}

func (w *Worker) normalize(job crawler.Job, data crawler.ItemData, now time.Time) crawler.ItemData {
	if data.SourceURL == "" {
		data.SourceURL = job.Target
	}
	if data.Vendor == "" {
		data.Vendor = job.Vendor
	}
	if data.Status == "" {
		data.Status = crawler.StatusActive
	}
	data.ScrapedAt = now
	return data
}

func (w *Worker) archiveSnapshot(ctx context.Context, data crawler.ItemData) error {
	if w.archive == nil || w.hasher == nil {
		return nil
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	digest, err := w.hasher.Hash([]byte(data.SourceURL))
	if err != nil {
		return fmt.Errorf("hash source url: %w", err)
	}
	uri, err := w.archive.PutObject(ctx, w.snapshotPath(data.Vendor, digest), "application/json", body)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	w.logger.Debug("snapshot archived", zap.String("url", data.SourceURL), zap.String("blob_uri", uri))
	return nil
}

func (w *Worker) snapshotPath(vendor, digest string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", vendor, digest)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, vendor, digest)
}
