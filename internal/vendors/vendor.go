// Package vendor maps vendor names to the strategy factories that know how to
// crawl them.
package vendor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// FactoryFunc adapts a function to crawler.StrategyFactory.
type FactoryFunc func(label string, report crawler.ProgressFunc) (crawler.Strategy, error)

// New calls f.
func (f FactoryFunc) New(label string, report crawler.ProgressFunc) (crawler.Strategy, error) {
	return f(label, report)
}

// Registry is a concurrency-safe name → factory map.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]crawler.StrategyFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]crawler.StrategyFactory)}
}

// Register adds a factory. Names must be unique and non-empty.
func (r *Registry) Register(name string, factory crawler.StrategyFactory) error {
	if name == "" {
		return fmt.Errorf("vendor name is required")
	}
	if factory == nil {
		return fmt.Errorf("vendor %s: factory is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("vendor %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Lookup returns the factory for name or an error wrapping crawler.ErrUnknownVendor.
func (r *Registry) Lookup(name string) (crawler.StrategyFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("vendor %q: %w", name, crawler.ErrUnknownVendor)
	}
	return factory, nil
}

// Vendors lists registered names in lexical order.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
