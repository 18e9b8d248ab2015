// Package memory provides an in-memory catalog store for development/testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Store keeps catalog entries keyed by source URL.
type Store struct {
	mu      sync.RWMutex
	entries map[string]crawler.Entry
	nextID  int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]crawler.Entry)}
}

// Put inserts or replaces entry verbatim.
func (s *Store) Put(entry crawler.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		s.nextID++
		entry.ID = fmt.Sprintf("entry-%d", s.nextID)
	}
	s.entries[entry.SourceURL] = copyEntry(entry)
}

// GetBySourceURL returns crawler.ErrNotFound on a miss.
func (s *Store) GetBySourceURL(_ context.Context, url string) (crawler.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[url]
	if !ok {
		return crawler.Entry{}, crawler.ErrNotFound
	}
	return copyEntry(entry), nil
}

// Create stores a new entry built from data.
func (s *Store) Create(_ context.Context, data crawler.ItemData) (crawler.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[data.SourceURL]; exists {
		return crawler.Entry{}, fmt.Errorf("entry for %s already exists", data.SourceURL)
	}
	s.nextID++
	entry := apply(crawler.Entry{ID: fmt.Sprintf("entry-%d", s.nextID)}, data)
	s.entries[entry.SourceURL] = entry
	return copyEntry(entry), nil
}

// Update overwrites the scraped fields of an existing entry.
func (s *Store) Update(_ context.Context, entry crawler.Entry, data crawler.ItemData) (crawler.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[entry.SourceURL]
	if !ok {
		return crawler.Entry{}, crawler.ErrNotFound
	}
	data.SourceURL = current.SourceURL
	updated := apply(current, data)
	s.entries[updated.SourceURL] = updated
	return copyEntry(updated), nil
}

// Disable marks the entry as no longer available.
func (s *Store) Disable(_ context.Context, entry crawler.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[entry.SourceURL]
	if !ok {
		return crawler.ErrNotFound
	}
	current.Status = crawler.StatusDisabled
	s.entries[current.SourceURL] = current
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func apply(entry crawler.Entry, data crawler.ItemData) crawler.Entry {
	entry.SourceURL = data.SourceURL
	entry.Vendor = data.Vendor
	entry.Status = data.Status
	entry.Title = data.Title
	entry.Price = data.Price
	entry.Currency = data.Currency
	entry.Attributes = copyAttrs(data.Attributes)
	entry.LastScrapedAt = data.ScrapedAt
	return entry
}

func copyEntry(entry crawler.Entry) crawler.Entry {
	entry.Attributes = copyAttrs(entry.Attributes)
	return entry
}

func copyAttrs(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
