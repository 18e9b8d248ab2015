// Package vendortest provides scriptable strategies and deterministic
// collaborators for tests that drive workers end to end.
package vendortest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Factory builds Strategy instances whose behavior is supplied by funcs.
// Nil funcs return an empty listing and an ACTIVE item respectively.
type Factory struct {
	List    func(ctx context.Context, params map[string]string) ([]string, error)
	Process func(ctx context.Context, job crawler.Job) (crawler.ItemData, error)
	// NewErr fails every New call when set.
	NewErr error

	mu        sync.Mutex
	created   int
	closed    int
	processed []string
	listed    int
	labels    []string
}

// New implements crawler.StrategyFactory.
func (f *Factory) New(label string, report crawler.ProgressFunc) (crawler.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	f.created++
	f.labels = append(f.labels, label)
	return &strategy{factory: f, report: report}, nil
}

// Created is the number of strategies handed out.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Closed is the number of strategies disposed.
func (f *Factory) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Processed returns the targets passed to ProcessItem, in call order.
func (f *Factory) Processed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

// Listed is the number of ListItems calls.
func (f *Factory) Listed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed
}

// Labels returns the labels strategies were created with.
func (f *Factory) Labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.labels...)
}

type strategy struct {
	factory *Factory
	report  crawler.ProgressFunc
	closed  bool
}

func (s *strategy) ListItems(ctx context.Context, params map[string]string) ([]string, error) {
	s.factory.mu.Lock()
	s.factory.listed++
	s.factory.mu.Unlock()
	if s.report != nil {
		s.report(0)
	}
	if s.factory.List == nil {
		return nil, nil
	}
	urls, err := s.factory.List(ctx, params)
	if s.report != nil {
		s.report(1)
	}
	return urls, err
}

func (s *strategy) ProcessItem(ctx context.Context, job crawler.Job) (crawler.ItemData, error) {
	s.factory.mu.Lock()
	s.factory.processed = append(s.factory.processed, job.Target)
	s.factory.mu.Unlock()
	if s.factory.Process == nil {
		return crawler.ItemData{SourceURL: job.Target, Status: crawler.StatusActive}, nil
	}
	return s.factory.Process(ctx, job)
}

func (s *strategy) Close() error {
	if s.closed {
		return fmt.Errorf("strategy closed twice")
	}
	s.closed = true
	s.factory.mu.Lock()
	s.factory.closed++
	s.factory.mu.Unlock()
	return nil
}

// Sequence mints ids "<prefix>-1", "<prefix>-2", ... safely across goroutines.
type Sequence struct {
	Prefix string

	mu sync.Mutex
	n  int
}

// NewID implements crawler.IDGenerator.
func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "job"
	}
	return fmt.Sprintf("%s-%d", prefix, s.n), nil
}

// Clock is a settable crawler.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock fixed at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now implements crawler.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
