// Package broker implements the runtime's shared, thread-safe work channel:
// a mutex-protected item sequence with per-waiter targeted wake-up and
// cancellation, grounded on original_source/src/event_queue.h's
// event_queue<T> template, generalized from a single-type channel with
// condition-variable waiters to Go's sync.Cond.
package broker

import (
	"container/list"
	"runtime"
	"sync"
	"time"
)

// waiterState tracks one goroutine currently suspended in Wait/WaitFor.
// Setting live=false is how BreakWaiter targets exactly that goroutine
// without disturbing any other waiter blocked on the same Broker.
type waiterState struct {
	live bool
}

// Broker is the concurrent, cancellable, breakable work channel connecting
// SerialQueues to Workers.
type Broker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   *list.List // of *Item, front = next to dispatch
	waiters map[string]*waiterState
	open    bool
}

// New returns an open Broker ready to accept items and waiters.
func New() *Broker {
	b := &Broker{
		items:   list.New(),
		waiters: make(map[string]*waiterState),
		open:    true,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// PushBack appends item to the end of the sequence and wakes one waiter.
// If the broker has been broken, this is a silent no-op and the returned
// handle is invalid.
func (b *Broker) PushBack(item *Item) Handle {
	return b.push(item, false)
}

// PushFront inserts item at the head of the sequence, it will be the next
// one dispatched, and wakes one waiter.
func (b *Broker) PushFront(item *Item) Handle {
	return b.push(item, true)
}

func (b *Broker) push(item *Item, front bool) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return Handle{}
	}
	if item.PostedAt.IsZero() {
		item.PostedAt = time.Now()
	}
	if front {
		b.items.PushFront(item)
	} else {
		b.items.PushBack(item)
	}
	b.cond.Signal()
	return Handle{broker: b, itemID: item.ID}
}

// Wait blocks until an item is available for this waiter, this waiter is
// individually broken (BreakWaiter), or the broker itself is broken
// (BreakQueue). waiterID identifies the calling goroutine for targeted
// cancellation, callers that want to be individually breakable must use a
// stable, unique id for the lifetime of the wait.
func (b *Broker) Wait(waiterID string) *Item {
	return b.waitUntil(waiterID, nil)
}

// WaitFor is Wait with a deadline; it returns nil if timeout elapses with
// no item delivered, even if the broker never receives a push or a break.
func (b *Broker) WaitFor(waiterID string, timeout time.Duration) *Item {
	deadline := time.Now().Add(timeout)
	return b.waitUntil(waiterID, &deadline)
}

func (b *Broker) waitUntil(waiterID string, deadline *time.Time) *Item {
	var timer *time.Timer
	if deadline != nil {
		d := time.Until(*deadline)
		if d < 0 {
			d = 0
		}
		timer = time.AfterFunc(d, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		defer timer.Stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A BreakWaiter for this id may have already landed (and found nothing
	// to flip) before this call registered — see BreakWaiter's comment.
	// Don't stomp that pending break with a fresh live:true entry.
	if _, ok := b.waiters[waiterID]; !ok {
		b.waiters[waiterID] = &waiterState{live: true}
	}
	for {
		w := b.waiters[waiterID]
		if w.live && b.items.Len() > 0 {
			break
		}
		if !w.live || !b.open {
			delete(b.waiters, waiterID)
			return nil
		}
		if deadline != nil && !time.Now().Before(*deadline) {
			delete(b.waiters, waiterID)
			return nil
		}
		b.cond.Wait()
	}

	delete(b.waiters, waiterID)
	if !b.open || b.items.Len() == 0 {
		// Defensive only: the lock has been held since the predicate
		// check, so the item cannot have been taken by another waiter in
		// between. A waiter woken with nothing to take stays in the loop
		// above and waits again.
		return nil
	}
	front := b.items.Front()
	b.items.Remove(front)
	return front.Value.(*Item)
}

// CancelAll drops every queued item without waking any waiter. Waiters
// already blocked remain blocked awaiting future work.
func (b *Broker) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items.Init()
}

func (b *Broker) cancelByID(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.items.Front(); e != nil; e = e.Next() {
		if e.Value.(*Item).ID == id {
			b.items.Remove(e)
			return
		}
	}
}

// BreakWaiter marks the identified waiter's live flag false and wakes every
// waiter so the targeted one can observe it and return nil. Other waiters
// re-check their own predicate and resume waiting if nothing changed for
// them.
//
// A waiterID can be broken before it has ever registered: the caller that
// owns waiterID (e.g. a Worker about to stop) may call this the moment
// after deciding to stop, racing its own goroutine's first call into
// Wait/WaitFor. If no entry exists yet, a dead placeholder is planted so
// that registration later finds it already broken instead of silently
// starting a fresh, unbreakable wait.
func (b *Broker) BreakWaiter(waiterID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.waiters[waiterID]; ok {
		w.live = false
	} else {
		b.waiters[waiterID] = &waiterState{live: false}
	}
	b.cond.Broadcast()
}

// BreakQueue permanently closes the broker: open becomes false, all queued
// items are dropped, and every waiter is woken to return nil. Submissions
// after this point are silent no-ops.
func (b *Broker) BreakQueue() {
	b.mu.Lock()
	b.open = false
	b.items.Init()
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Close breaks the queue and then spins until every waiter has observed the
// break and left, mirroring event_queue::~event_queue's busy-wait so that
// no goroutine is left inside a Wait call referencing storage the caller is
// about to discard.
func (b *Broker) Close() {
	b.BreakQueue()
	for {
		b.mu.Lock()
		n := len(b.waiters)
		b.mu.Unlock()
		if n == 0 {
			return
		}
		runtime.Gosched()
	}
}

// WaiterCount returns the number of goroutines currently suspended in Wait
// or WaitFor.
func (b *Broker) WaiterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// PendingCount returns the number of items currently queued (neither
// dispatched nor executing).
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.Len()
}

// IsOpen reports whether the broker still accepts pushes.
func (b *Broker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
