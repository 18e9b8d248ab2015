// Package memory provides a queue store for local development and tests. It
// honors the same session gate, ordering and ongoing bookkeeping as the Redis
// store but keeps nothing across restarts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/control"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/queue"
)

// Store is an in-memory crawler.QueueStore.
type Store struct {
	mu        sync.Mutex
	active    bool
	pending   map[string][]crawler.Job
	ongoing   map[string]crawler.Job
	announcer *queue.Announcer
}

// NewStore builds an empty store that announces mutations through announcer.
func NewStore(announcer *queue.Announcer) *Store {
	return &Store{
		pending:   make(map[string][]crawler.Job),
		ongoing:   make(map[string]crawler.Job),
		announcer: announcer,
	}
}

// IsActive reports the session flag.
func (s *Store) IsActive(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

// SetActive toggles the session flag.
func (s *Store) SetActive(ctx context.Context, active bool) error {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
	evtType := control.EventBegin
	if !active {
		evtType = control.EventFinish
	}
	s.announcer.Announce(ctx, control.Event{Type: evtType})
	return nil
}

// Push appends job to the tail of its vendor's pending list.
func (s *Store) Push(ctx context.Context, job crawler.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.pending[job.Vendor] = append(s.pending[job.Vendor], job.Clone())
	size := len(s.pending[job.Vendor])
	s.mu.Unlock()

	s.announcer.Mutation(ctx, queue.OpPush, job.Vendor, size)
	return nil
}

// Pop moves the head of vendor's pending list into the ongoing set.
func (s *Store) Pop(ctx context.Context, vendor string) (crawler.Job, bool, error) {
	s.mu.Lock()
	list := s.pending[vendor]
	if !s.active || len(list) == 0 {
		s.mu.Unlock()
		return crawler.Job{}, false, nil
	}
	job := list[0]
	list[0] = crawler.Job{}
	s.pending[vendor] = list[1:]
	s.ongoing[job.ID] = job
	size := len(s.pending[vendor])
	s.mu.Unlock()

	s.announcer.Mutation(ctx, queue.OpPop, vendor, size)
	return job.Clone(), true, nil
}

// Restore puts job back at the head of its vendor's pending list and clears
// it from the ongoing set.
func (s *Store) Restore(ctx context.Context, job crawler.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	size := s.restoreLocked(job)
	s.mu.Unlock()

	s.announcer.Mutation(ctx, queue.OpRestore, job.Vendor, size)
	return nil
}

func (s *Store) restoreLocked(job crawler.Job) int {
	delete(s.ongoing, job.ID)
	list := s.pending[job.Vendor]
	next := make([]crawler.Job, 0, len(list)+1)
	next = append(next, job.Clone())
	for _, queued := range list {
		if queued.ID != job.ID {
			next = append(next, queued)
		}
	}
	s.pending[job.Vendor] = next
	return len(next)
}

// Finish drops job from the ongoing set.
func (s *Store) Finish(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	delete(s.ongoing, job.ID)
	return nil
}

// RestoreAll requeues every ongoing job. Older ids end up nearer the head.
func (s *Store) RestoreAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return 0, nil
	}
	ids := make([]string, 0, len(s.ongoing))
	for id := range s.ongoing {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	sizes := make(map[string]int)
	for _, id := range ids {
		job := s.ongoing[id]
		sizes[job.Vendor] = s.restoreLocked(job)
	}
	s.mu.Unlock()

	for vendor, size := range sizes {
		s.announcer.Mutation(ctx, queue.OpRestore, vendor, size)
	}
	return len(ids), nil
}

// PeekHead returns up to n jobs from the head of vendor's pending list.
func (s *Store) PeekHead(_ context.Context, vendor string, n int) ([]crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pending[vendor]
	if n > len(list) {
		n = len(list)
	}
	if n <= 0 {
		return []crawler.Job{}, nil
	}
	out := make([]crawler.Job, n)
	for i := 0; i < n; i++ {
		out[i] = list[i].Clone()
	}
	return out, nil
}

// Size returns the length of vendor's pending list.
func (s *Store) Size(_ context.Context, vendor string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[vendor]), nil
}

// Ongoing returns the number of dequeued but unfinished jobs.
func (s *Store) Ongoing(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ongoing), nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}
