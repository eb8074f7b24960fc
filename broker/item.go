package broker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kart-io/dispatchrt/location"
)

// Hook is a before/after callback invoked by a Worker around an Item's
// payload. SerialQueue uses After to advance its own state machine. The
// context carries the executing Worker's identity, see worker.Decorate and
// Pool.InPool, so a hook running inside a worker can recognise its own
// pool without any goroutine-local storage.
type Hook func(context.Context, *Item)

// Item is an opaque unit of work flowing through the Broker: it is owned by
// the Broker while queued and by the executing Worker while running.
type Item struct {
	ID      string
	Payload func(context.Context)
	Before  Hook
	After   Hook
	Loc     location.Location

	PostedAt  time.Time
	StartedAt time.Time
}

// NewItem builds an Item ready to push into a Broker.
func NewItem(loc location.Location, payload func(context.Context)) *Item {
	return &Item{
		ID:       uuid.NewString(),
		Payload:  payload,
		Loc:      loc,
		PostedAt: time.Now(),
	}
}

// Handle is the non-owning cancellation token returned by Push{Back,Front}.
// It is safe to hold even after the referenced Item has been dispatched or
// dropped, Cancel is then simply a no-op.
type Handle struct {
	broker *Broker
	itemID string
}

// Cancel removes the referenced Item from the Broker if it is still queued.
// Effective only while the item has not yet been dequeued by a Worker.
func (h Handle) Cancel() {
	if h.broker == nil || h.itemID == "" {
		return
	}
	h.broker.cancelByID(h.itemID)
}

// Valid reports whether the handle refers to an item that was actually
// accepted by the broker (false when Push happened after break_queue).
func (h Handle) Valid() bool {
	return h.broker != nil && h.itemID != ""
}
