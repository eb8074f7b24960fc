// Package serialqueue implements the per-client FIFO gate that funnels at
// most one in-flight Item into a shared Broker at a time, grounded on
// original_source/src/task_queue.cc/h's task_queue and generalized from its
// std::list<task>+weak-validity pattern to a Go container/list with an
// atomic.Bool guard (no weak pointers needed, the Go garbage collector
// already keeps the Queue alive for as long as a dispatched Item's After
// hook can reach it).
package serialqueue

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/kart-io/dispatchrt/broker"
	"github.com/kart-io/dispatchrt/location"
	"github.com/kart-io/dispatchrt/telemetry"
	"github.com/kart-io/dispatchrt/worker"
)

// Task is the user closure a Queue dispatches.
type Task func(context.Context)

type entry struct {
	loc location.Location
	fn  Task
}

// Queue is a serial (FIFO, one-at-a-time) task queue bound to a shared
// Broker and WorkerPool.
type Queue struct {
	mu      sync.Mutex
	pending *list.List // of *entry
	running bool

	br   *broker.Broker
	pool *worker.Pool
	tel  *telemetry.Provider

	valid atomic.Bool
}

// New binds a Queue to br (where its Items are dispatched) and pool (used
// by Sync to detect the size-one-worker fast path). Telemetry is off; use
// NewWithTelemetry to record posted-item and pending-depth metrics.
func New(br *broker.Broker, pool *worker.Pool) *Queue {
	q := &Queue{pending: list.New(), br: br, pool: pool}
	q.valid.Store(true)
	return q
}

// NewWithTelemetry is New with a Provider attached: every Post records
// dispatchrt_items_posted_total and adjusts the pending-items gauge,
// component "serialqueue".
func NewWithTelemetry(br *broker.Broker, pool *worker.Pool, tel *telemetry.Provider) *Queue {
	q := New(br, pool)
	q.tel = tel
	return q
}

// Post enqueues fn for asynchronous execution. If this is the only pending
// entry and nothing is currently running, it is dispatched onto the Broker
// immediately; otherwise it waits behind whatever is already in flight. A
// no-op once BreakQueue has been called.
func (q *Queue) Post(loc location.Location, fn Task) {
	q.post(loc, fn)
}

func (q *Queue) post(loc location.Location, fn Task) {
	if !q.valid.Load() {
		return
	}
	q.mu.Lock()
	q.pending.PushBack(&entry{loc: loc, fn: fn})
	q.mu.Unlock()
	if q.tel != nil {
		q.tel.RecordPosted(context.Background(), "serialqueue")
		q.tel.UpdatePendingDepth(context.Background(), "serialqueue", 1)
	}
	q.tryDispatchFront()
}

// tryDispatchFront claims the "running" slot and pushes the front entry
// onto the broker, mirroring post_task's "the only one in the queue is the
// current task" branch. It is a no-op if something is already running, the
// queue is empty, or the broker has since been broken, in the last case
// running is left false, matching task_queue.cc's failure to lock
// related_eq_, so a later Cancel on a queue whose broker died mid-backlog
// still clears the whole backlog rather than "preserving" an entry that
// will never run.
func (q *Queue) tryDispatchFront() {
	q.mu.Lock()
	if q.running || q.pending.Len() == 0 {
		q.mu.Unlock()
		return
	}
	q.running = true
	e := q.pending.Front().Value.(*entry)
	q.mu.Unlock()

	item := broker.NewItem(e.loc, e.fn)
	item.After = q.onItemDone
	h := q.br.PushBack(item)
	if !h.Valid() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}
}

// onItemDone is the chaining hook from task_queue.cc's post_task::after: it
// pops the just-finished entry, frees the running slot, and immediately
// tries to claim it again for whatever is now at the front, never letting
// the queue go idle while work remains.
func (q *Queue) onItemDone(context.Context, *broker.Item) {
	if !q.valid.Load() {
		return
	}
	q.mu.Lock()
	if q.pending.Len() > 0 {
		q.pending.Remove(q.pending.Front())
	}
	q.running = false
	q.mu.Unlock()

	if q.tel != nil {
		q.tel.UpdatePendingDepth(context.Background(), "serialqueue", -1)
	}
	q.tryDispatchFront()
}

// Sync runs fn and blocks until it (and every task already ahead of it in
// the queue) has completed. When the bound pool has exactly one Worker and
// the caller is running inside that very Worker, fn runs inline, posting
// it instead would deadlock the pool waiting on itself, mirroring
// task_queue::sync_task's wg->size()==1 && wg->in_worker_group() fast path.
func (q *Queue) Sync(ctx context.Context, loc location.Location, fn Task) {
	if !q.valid.Load() {
		return
	}
	if q.pool != nil && q.pool.Size() == 1 && q.pool.InPool(ctx) {
		fn(ctx)
		return
	}

	done := make(chan struct{})
	q.post(loc, func(taskCtx context.Context) {
		defer close(done)
		fn(taskCtx)
	})
	<-done
}

// Cancel drops queued-but-not-yet-started entries. If an entry is currently
// in flight on the broker, it is left to finish (its slot in the list is
// preserved), only the backlog behind it is cleared, per
// task_queue::cancel's running-vs-idle branch.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		for q.pending.Len() > 1 {
			q.pending.Remove(q.pending.Back())
		}
		return
	}
	q.pending.Init()
}

// BreakQueue permanently closes the queue: no further Post or Sync call has
// any effect. An entry already dispatched to the broker is not recalled.
func (q *Queue) BreakQueue() {
	q.valid.Store(false)
}

// IsValid reports whether the queue still accepts work.
func (q *Queue) IsValid() bool {
	return q.valid.Load()
}

// PendingCount returns the number of entries queued, including one in
// flight on the broker if any.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}
