// Package control implements the best-effort notification path that tells
// subscribers the queue changed. Delivery is never required for correctness:
// the queue store stays the single source of truth and workers re-poll on a
// timer regardless.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies a queue change.
type EventType string

// Event types published by queue stores.
const (
	EventBegin  EventType = "begin"
	EventUpdate EventType = "update"
	EventFinish EventType = "finish"
)

// Event describes one committed queue mutation.
type Event struct {
	Type   EventType `json:"type"`
	Vendor string    `json:"vendor,omitempty"`
	Size   int       `json:"size"`
	At     time.Time `json:"at"`
}

// Wakes reports whether the event should wake idle workers.
func (e Event) Wakes() bool {
	return e.Type == EventBegin || e.Type == EventUpdate
}

// Encode serializes the event for the wire.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal control event: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload.
func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("unmarshal control event: %w", err)
	}
	return evt, nil
}

// Bus publishes and subscribes to queue change events.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe returns a channel that is closed when ctx ends or the bus closes.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

// NoOpBus drops every event. Useful when only the timer should wake workers.
type NoOpBus struct{}

// Publish does nothing.
func (NoOpBus) Publish(context.Context, Event) error { return nil }

// Subscribe returns a channel closed when ctx ends.
func (NoOpBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// Close does nothing.
func (NoOpBus) Close() error { return nil }
