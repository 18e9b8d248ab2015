// Package dispatcher is the worker manager: it recovers orphaned jobs at boot,
// owns one pull loop per worker and wakes idle workers from the control
// channel and a wall-clock timer.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/control"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/vendors"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// DefaultWakeSchedule fires at the top of every minute.
const DefaultWakeSchedule = "* * * * *"

const (
	defaultHeadSize      = 5
	defaultUpdatesBuffer = 256
)

var tracer = otel.Tracer("github.com/JakeFAU/catalog-crawler/internal/dispatcher")

var (
	// ErrAlreadyStarted is returned by a second Init.
	ErrAlreadyStarted = errors.New("dispatcher already started")
	// ErrUnknownWorker is returned for a worker id the manager does not own.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrSessionInactive is returned by Seed while the session flag is unset.
	ErrSessionInactive = errors.New("queue session is not active")
)

// Config controls the manager.
type Config struct {
	WorkersPerVendor int
	// WakeSchedule is a standard five-field cron expression evaluated in UTC.
	WakeSchedule  string
	HeadSize      int
	UpdatesBuffer int
	Worker        worker.Config
}

// Deps are the collaborators shared by every worker.
type Deps struct {
	Store    crawler.QueueStore
	Bus      control.Bus
	Registry *vendor.Registry
	Catalog  crawler.CatalogStore
	Sink     progress.Emitter
	Clock    crawler.Clock
	IDs      crawler.IDGenerator
	// Archive and Hasher are optional; both must be set to archive snapshots.
	Archive crawler.BlobStore
	Hasher  crawler.Hasher
}

// VendorQueue is one vendor's pending list as seen by the admin surface.
type VendorQueue struct {
	Vendor string        `json:"vendor"`
	Size   int           `json:"size"`
	Head   []crawler.Job `json:"head"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

type slot struct {
	worker *worker.Worker
	wake   chan struct{}
}

// Manager owns all workers.
type Manager struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	started atomic.Bool
	mu      sync.RWMutex
	slots   []*slot
	byID    map[string]*slot

	updates chan worker.StateChange
	cron    *cron.Cron
	wg      sync.WaitGroup
}

// New validates deps and returns an unstarted Manager.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Manager, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("queue store is required")
	case deps.Registry == nil:
		return nil, errors.New("vendor registry is required")
	case deps.Catalog == nil:
		return nil, errors.New("catalog store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if deps.Bus == nil {
		deps.Bus = control.NoOpBus{}
	}
	if deps.Sink == nil {
		deps.Sink = progress.Discard
	}
	if cfg.WorkersPerVendor <= 0 {
		cfg.WorkersPerVendor = 1
	}
	if cfg.WakeSchedule == "" {
		cfg.WakeSchedule = DefaultWakeSchedule
	}
	if cfg.HeadSize <= 0 {
		cfg.HeadSize = defaultHeadSize
	}
	if cfg.UpdatesBuffer <= 0 {
		cfg.UpdatesBuffer = defaultUpdatesBuffer
	}
	if _, err := cron.ParseStandard(cfg.WakeSchedule); err != nil {
		return nil, fmt.Errorf("parse wake schedule %q: %w", cfg.WakeSchedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		byID:    make(map[string]*slot),
		updates: make(chan worker.StateChange, cfg.UpdatesBuffer),
	}, nil
}

// Init recovers orphaned jobs, builds the workers and starts their pull
// loops, the wake timer and the control subscription. Everything stops when
// ctx ends; Wait blocks until it has. Init may be called once.
func (m *Manager) Init(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if p, ok := m.deps.Store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("queue store unreachable: %w", err)
		}
	}
	vendors := m.deps.Registry.Vendors()
	if len(vendors) == 0 {
		return errors.New("no vendors registered")
	}

	restored, err := m.deps.Store.RestoreAll(ctx)
	if err != nil {
		return fmt.Errorf("restore ongoing jobs: %w", err)
	}
	m.logger.Info("recovered ongoing jobs", zap.Int("count", restored))
	m.emitLog("info", fmt.Sprintf("recovered %d ongoing jobs", restored), "", "")

	if err := m.buildWorkers(vendors); err != nil {
		return err
	}

	events, err := m.deps.Bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe control channel: %w", err)
	}

	m.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := m.cron.AddFunc(m.cfg.WakeSchedule, m.wakeAll); err != nil {
		return fmt.Errorf("schedule wake timer: %w", err)
	}

	m.mu.RLock()
	slots := append([]*slot(nil), m.slots...)
	m.mu.RUnlock()

	m.wg.Add(len(slots) + 2)
	for _, s := range slots {
		go m.loop(ctx, s)
	}
	go m.forwardStateChanges(ctx)
	go m.consumeControl(ctx, events)
	m.cron.Start()

	m.logger.Info("worker manager started",
		zap.Int("workers", len(slots)),
		zap.Strings("vendors", vendors),
		zap.String("wake_schedule", m.cfg.WakeSchedule),
	)
	m.wakeAll()
	return nil
}

// Run calls Init, blocks until ctx ends and then waits for in-flight jobs.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.Wait()
	return nil
}

// Wait stops the wake timer and blocks until every loop has exited. It only
// returns after the context given to Init is done.
func (m *Manager) Wait() {
	if m.cron != nil {
		m.wg.Wait()
		<-m.cron.Stop().Done()
		return
	}
	m.wg.Wait()
}

func (m *Manager) buildWorkers(vendors []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range vendors {
		factory, err := m.deps.Registry.Lookup(name)
		if err != nil {
			return err
		}
		for i := 1; i <= m.cfg.WorkersPerVendor; i++ {
			id := fmt.Sprintf("%s-%d", name, i)
			w := worker.New(
				id,
				name,
				factory,
				m.deps.Catalog,
				m.deps.Clock,
				m.deps.IDs,
				m.deps.Archive,
				m.deps.Hasher,
				m.cfg.Worker,
				m.updates,
				m.logger.Named("worker"),
			)
			s := &slot{worker: w, wake: make(chan struct{}, 1)}
			m.slots = append(m.slots, s)
			m.byID[id] = s
		}
	}
	return nil
}

func (m *Manager) loop(ctx context.Context, s *slot) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		m.runNextJob(ctx, s.worker)
	}
}

// runNextJob drains the worker's vendor queue until it is empty, the worker
// is paused, or the store fails.
func (m *Manager) runNextJob(ctx context.Context, w *worker.Worker) {
	for ctx.Err() == nil {
		if !w.Active() {
			w.MarkIdle()
			return
		}
		job, ok, err := m.deps.Store.Pop(ctx, w.Vendor())
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Error("pop failed", zap.String("worker_id", w.ID()), zap.Error(err))
				m.emitLog("error", "pop failed: "+err.Error(), w.ID(), w.Vendor())
			}
			w.MarkIdle()
			return
		}
		if !ok {
			w.MarkIdle()
			return
		}
		if !m.execute(ctx, w, job) {
			w.MarkIdle()
			return
		}
	}
}

// execute runs one job and settles it in the store. It returns false when the
// loop must halt: shutdown or a store failure.
func (m *Manager) execute(ctx context.Context, w *worker.Worker, job crawler.Job) bool {
	logger := m.logger.With(
		zap.String("worker_id", w.ID()),
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
	)
	ctx, span := tracer.Start(ctx, "crawler.job", trace.WithAttributes(
		attribute.String("crawler.job_id", job.ID),
		attribute.String("crawler.vendor", job.Vendor),
		attribute.String("crawler.kind", string(job.Kind)),
		attribute.String("crawler.worker_id", w.ID()),
	))
	defer span.End()

	m.emitJob(w, job, progress.OutcomeStarted, 0, 0, "")
	start := time.Now()

	followups, err := m.safeExecute(ctx, w, job)
	if ctx.Err() != nil {
		logger.Info("shutdown during job, leaving it ongoing for recovery")
		return false
	}
	if err == nil {
		err = m.pushAll(ctx, followups)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		logger.Warn("job failed, restoring", zap.Error(err))
		m.emitJob(w, job, progress.OutcomeFailed, 0, time.Since(start), err.Error())
		if rerr := m.deps.Store.Restore(ctx, job); rerr != nil {
			logger.Error("restore failed", zap.Error(rerr))
			m.emitLog("error", "restore failed: "+rerr.Error(), w.ID(), w.Vendor())
			return false
		}
		return true
	}

	if err := m.deps.Store.Finish(ctx, job); err != nil {
		logger.Error("finish failed", zap.Error(err))
		m.emitLog("error", "finish failed: "+err.Error(), w.ID(), w.Vendor())
		return false
	}
	span.SetAttributes(attribute.Int("crawler.followups", len(followups)))
	m.emitJob(w, job, progress.OutcomeSucceeded, len(followups), time.Since(start), "")
	return true
}

func (m *Manager) safeExecute(ctx context.Context, w *worker.Worker, job crawler.Job) (jobs []crawler.Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return w.Execute(ctx, job)
}

func (m *Manager) pushAll(ctx context.Context, jobs []crawler.Job) error {
	for _, job := range jobs {
		if err := m.deps.Store.Push(ctx, job); err != nil {
			return fmt.Errorf("push followup %s: %w", job.ID, err)
		}
	}
	return nil
}

func (m *Manager) forwardStateChanges(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-m.updates:
			m.deps.Sink.Emit(progress.Event{
				Kind:     progress.KindWorker,
				WorkerID: change.WorkerID,
				Field:    change.Field,
				Value:    change.Value,
			})
		}
	}
}

func (m *Manager) consumeControl(ctx context.Context, events <-chan control.Event) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				m.logger.Warn("control channel closed, relying on wake timer")
				return
			}
			if !evt.Wakes() {
				continue
			}
			m.wakeVendor(evt.Vendor)
			if evt.Vendor != "" {
				m.notifyQueue(ctx, evt.Vendor)
			}
		}
	}
}

func (m *Manager) notifyQueue(ctx context.Context, vendorName string) {
	size, err := m.deps.Store.Size(ctx, vendorName)
	if err != nil {
		m.logger.Debug("queue size for notification failed", zap.String("vendor", vendorName), zap.Error(err))
		return
	}
	head, err := m.deps.Store.PeekHead(ctx, vendorName, m.cfg.HeadSize)
	if err != nil {
		m.logger.Debug("queue head for notification failed", zap.String("vendor", vendorName), zap.Error(err))
		return
	}
	labels := make([]string, 0, len(head))
	for _, job := range head {
		label := job.Target
		if label == "" {
			label = string(job.Kind) + ":" + job.ID
		}
		labels = append(labels, label)
	}
	m.deps.Sink.Emit(progress.Event{
		Kind:   progress.KindQueue,
		Vendor: vendorName,
		Queue:  &progress.QueueState{Size: size, Head: labels},
	})
}

func (m *Manager) wakeAll() {
	m.wakeVendor("")
}

// wakeVendor nudges the active workers of vendorName, or of every vendor when
// it is empty. A worker that is mid-job keeps the token and re-polls once it
// finishes.
func (m *Manager) wakeVendor(vendorName string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		if vendorName != "" && s.worker.Vendor() != vendorName {
			continue
		}
		if !s.worker.Active() {
			continue
		}
		nudge(s)
	}
}

func nudge(s *slot) {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// PauseAll marks every worker inactive. Running jobs finish normally.
func (m *Manager) PauseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		s.worker.SetActive(false)
	}
	m.logger.Info("all workers paused")
}

// SetActive toggles one worker. Activating it re-runs its pull loop.
func (m *Manager) SetActive(workerID string, active bool) error {
	m.mu.RLock()
	s, ok := m.byID[workerID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	s.worker.SetActive(active)
	if active {
		nudge(s)
	}
	return nil
}

// Workers returns a snapshot of every worker in creation order.
func (m *Manager) Workers() []crawler.WorkerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]crawler.WorkerSnapshot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, s.worker.Snapshot())
	}
	return out
}

// Seed pushes a LIST job for vendorName. params["url"], when set, becomes the target.
func (m *Manager) Seed(ctx context.Context, vendorName string, params map[string]string) (crawler.Job, error) {
	if _, err := m.deps.Registry.Lookup(vendorName); err != nil {
		return crawler.Job{}, err
	}
	active, err := m.deps.Store.IsActive(ctx)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("check session: %w", err)
	}
	if !active {
		return crawler.Job{}, ErrSessionInactive
	}
	job, err := crawler.NewJob(m.deps.IDs, vendorName, crawler.JobKindList, params["url"], params)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("build seed job: %w", err)
	}
	if err := m.deps.Store.Push(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("push seed job: %w", err)
	}
	m.logger.Info("seeded listing", zap.String("vendor", vendorName), zap.String("job_id", job.ID))
	return job, nil
}

// QueueSnapshot reports size and head of every registered vendor's queue.
func (m *Manager) QueueSnapshot(ctx context.Context) ([]VendorQueue, error) {
	vendors := m.deps.Registry.Vendors()
	out := make([]VendorQueue, 0, len(vendors))
	for _, name := range vendors {
		size, err := m.deps.Store.Size(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("queue size %s: %w", name, err)
		}
		head, err := m.deps.Store.PeekHead(ctx, name, m.cfg.HeadSize)
		if err != nil {
			return nil, fmt.Errorf("queue head %s: %w", name, err)
		}
		out = append(out, VendorQueue{Vendor: name, Size: size, Head: head})
	}
	return out, nil
}

// SetSession toggles the queue's session flag and, when starting, wakes every worker.
func (m *Manager) SetSession(ctx context.Context, active bool) error {
	if err := m.deps.Store.SetActive(ctx, active); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	m.logger.Info("session toggled", zap.Bool("active", active))
	if active {
		m.wakeAll()
	}
	return nil
}

// Ping checks the queue store when it supports it.
func (m *Manager) Ping(ctx context.Context) error {
	if p, ok := m.deps.Store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("ping queue store: %w", err)
		}
	}
	return nil
}

func (m *Manager) emitJob(w *worker.Worker, job crawler.Job, outcome progress.Outcome, followups int, dur time.Duration, message string) {
	m.deps.Sink.Emit(progress.Event{
		Kind:      progress.KindJob,
		WorkerID:  w.ID(),
		Vendor:    job.Vendor,
		JobID:     job.ID,
		JobKind:   string(job.Kind),
		Outcome:   outcome,
		Followups: followups,
		Dur:       dur,
		Message:   message,
	})
}

func (m *Manager) emitLog(level, message, workerID, vendorName string) {
	m.deps.Sink.Emit(progress.Event{
		Kind:     progress.KindLog,
		Level:    level,
		Message:  message,
		WorkerID: workerID,
		Vendor:   vendorName,
	})
}
