// Package worker implements the thread (goroutine) that blocks on a Broker,
// dispatches one Item at a time, and invokes its before/after hooks, grounded
// on original_source/src/worker.cc and queue/worker/worker.go's
// goroutine-loop idiom.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/dispatchrt/broker"
	"github.com/kart-io/dispatchrt/errkind"
	"github.com/kart-io/dispatchrt/rtlog"
	"github.com/kart-io/dispatchrt/telemetry"
)

// FaultHandler receives a recovered panic from a payload or hook. The
// runtime never aborts a Worker over a user-task fault, it isolates the
// fault to that Item and keeps dispatching.
type FaultHandler func(*errkind.RuntimeError)

// Decorate wraps the base context handed to a dispatched Item's hooks and
// payload. A WorkerPool supplies one so that code running inside a task can
// ask the pool "am I one of your own workers?" (Pool.InPool) without any
// goroutine-local storage, the identity rides in ctx instead.
type Decorate func(ctx context.Context, workerID string) context.Context

// Options configures a Worker's diagnostics. A nil Logger or OnFault
// defaults to discarding. A nil Telemetry leaves tracing/metrics off.
type Options struct {
	Logger    rtlog.Logger
	OnFault   FaultHandler
	Decorate  Decorate
	Telemetry *telemetry.Provider
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = rtlog.Discard
	}
	if o.OnFault == nil {
		o.OnFault = func(*errkind.RuntimeError) {}
	}
	return o
}

// Worker is one goroutine blocked on a Broker's Wait, executing dequeued
// Items with their before/after hooks.
type Worker struct {
	id      string
	br      *broker.Broker
	opts    Options
	running atomic.Bool
	doneCh  chan struct{}
}

// New creates an idle Worker bound to br. Call Start to spawn its goroutine.
func New(br *broker.Broker, opts Options) *Worker {
	return &Worker{id: uuid.NewString(), br: br, opts: opts.withDefaults()}
}

// ID returns the waiter id this worker registers with the broker.
func (w *Worker) ID() string { return w.id }

// IsRunning reports whether the worker's goroutine is currently dispatching.
func (w *Worker) IsRunning() bool { return w.running.Load() }

// Start is idempotent: it spawns the service goroutine and blocks the
// caller until the goroutine has signalled readiness, mirroring
// original_source/src/worker.cc's worker::start synchronous spin-wait.
func (w *Worker) Start() {
	if w.running.Load() {
		return
	}
	ready := make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(ready)
	<-ready
}

// Stop clears the running flag, breaks this worker's waiter slot on the
// broker, and blocks until the goroutine has exited. BreakWaiter is the
// sole stop signal the loop observes: it is safe to call even if the
// goroutine hasn't registered its wait yet, since the broker persists the
// break for a not-yet-registered id (see Broker.BreakWaiter).
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.br.BreakWaiter(w.id)
	<-w.doneCh
}

func (w *Worker) loop(ready chan struct{}) {
	w.running.Store(true)
	close(ready)
	defer close(w.doneCh)

	for {
		// Wait is entered even after a Stop that landed mid-task, so the
		// dead placeholder BreakWaiter planted for this id is consumed
		// rather than left in the broker's waiter map.
		item := w.br.Wait(w.id)
		if item == nil {
			// Broken wait: either this worker was stopped (running is now
			// false and the loop exits) or the broker itself was broken
			// (Wait returns nil at once and the loop re-waits).
			if !w.running.Load() {
				return
			}
			continue
		}
		w.execute(item)
	}
}

func (w *Worker) execute(item *broker.Item) {
	ctx := context.Background()
	if w.opts.Decorate != nil {
		ctx = w.opts.Decorate(ctx, w.id)
	}
	item.StartedAt = time.Now()
	w.invokeHook(ctx, item, item.Before)
	w.invokePayload(ctx, item)
	w.invokeHook(ctx, item, item.After)
}

func (w *Worker) invokeHook(ctx context.Context, item *broker.Item, hook broker.Hook) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.reportFault(item, r)
		}
	}()
	hook(ctx, item)
}

func (w *Worker) invokePayload(ctx context.Context, item *broker.Item) {
	if item.Payload == nil {
		return
	}

	var span trace.Span
	if w.opts.Telemetry != nil {
		ctx, span = w.opts.Telemetry.TraceDispatch(ctx, item.Loc.String(), item.ID)
		defer span.End()
	}

	begin := time.Now()
	var faultErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err := errkind.Recovered(item.Loc, r)
				faultErr = err
				w.reportRuntimeError(err)
			}
		}()
		item.Payload(ctx)
	}()

	d := time.Since(begin)
	w.opts.Logger.TraceTask(begin, item.Loc.String(), faultErr)
	if w.opts.Telemetry != nil {
		if faultErr != nil {
			w.opts.Telemetry.RecordFaulted(ctx, "worker")
			w.opts.Telemetry.SetSpanError(span, faultErr)
		} else {
			w.opts.Telemetry.RecordDispatched(ctx, "worker", d)
			w.opts.Telemetry.SetSpanSuccess(span)
		}
	}
}

func (w *Worker) reportFault(item *broker.Item, r interface{}) {
	w.reportRuntimeError(errkind.Recovered(item.Loc, r))
}

func (w *Worker) reportRuntimeError(err *errkind.RuntimeError) {
	w.opts.Logger.Error(err.Error(), "kind", err.Kind, "loc", err.Loc.String())
	w.opts.OnFault(err)
}
