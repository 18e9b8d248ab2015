// Package queue holds the pieces shared by the queue store implementations:
// event classification and the best-effort announcement of committed
// mutations on the control channel.
package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/control"
)

// Op names a queue mutation for event classification.
type Op string

// Mutations that announce themselves.
const (
	OpPush    Op = "push"
	OpPop     Op = "pop"
	OpRestore Op = "restore"
)

// Classify maps a committed mutation to its control event type. Adding to an
// empty list begins work; draining a list finishes it.
func Classify(op Op, sizeAfter int) control.EventType {
	switch op {
	case OpPush, OpRestore:
		if sizeAfter == 1 {
			return control.EventBegin
		}
	case OpPop:
		if sizeAfter == 0 {
			return control.EventFinish
		}
	}
	return control.EventUpdate
}

// Announcer publishes queue events and swallows transport failures; the
// control channel is never allowed to fail a queue mutation.
type Announcer struct {
	bus    control.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewAnnouncer wraps bus. A nil bus disables announcements.
func NewAnnouncer(bus control.Bus, logger *zap.Logger) *Announcer {
	if bus == nil {
		bus = control.NoOpBus{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{bus: bus, logger: logger, now: time.Now}
}

// Mutation announces the result of op on vendor's pending list.
func (a *Announcer) Mutation(ctx context.Context, op Op, vendor string, sizeAfter int) {
	a.Announce(ctx, control.Event{Type: Classify(op, sizeAfter), Vendor: vendor, Size: sizeAfter})
}

// Announce publishes evt, logging instead of returning transport errors.
func (a *Announcer) Announce(ctx context.Context, evt control.Event) {
	if a == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = a.now().UTC()
	}
	if err := a.bus.Publish(ctx, evt); err != nil {
		a.logger.Warn("control event publish failed",
			zap.String("type", string(evt.Type)),
			zap.String("vendor", evt.Vendor),
			zap.Error(err),
		)
	}
}
