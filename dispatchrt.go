// Package dispatchrt is the runtime's entry point: a process-wide default
// Broker and WorkerPool, and factory functions for SerialQueues and Timers
// bound either to that shared default pair or to caller-supplied ones,
// grounded on original_source/src/task_queue_manager.cc/h's
// global_event_queue/global_worker_group singletons and
// task_queue_manager::create_task_queue.
package dispatchrt

import (
	"context"
	"sync"

	"github.com/kart-io/dispatchrt/broker"
	"github.com/kart-io/dispatchrt/errkind"
	"github.com/kart-io/dispatchrt/rtconfig"
	"github.com/kart-io/dispatchrt/serialqueue"
	"github.com/kart-io/dispatchrt/telemetry"
	"github.com/kart-io/dispatchrt/timer"
	"github.com/kart-io/dispatchrt/worker"
)

var (
	defaultMu        sync.Mutex
	defaultBroker    *broker.Broker
	defaultPool      *worker.Pool
	defaultCfg       *rtconfig.Config
	defaultTelemetry *telemetry.Provider
	defaultStarted   bool
)

// initDefault lazily builds the process-wide default Broker/WorkerPool on
// first use, if Configure has not already done so explicitly.
func initDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStarted {
		return
	}
	buildDefaultLocked(rtconfig.Build())
}

func buildDefaultLocked(cfg *rtconfig.Config) {
	if defaultPool != nil {
		defaultPool.Shutdown()
	}
	if defaultTelemetry != nil {
		defaultTelemetry.Shutdown(context.Background())
	}
	defaultCfg = cfg

	provider, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		cfg.Logger.Error("dispatchrt: telemetry init failed, continuing without it", "error", err.Error())
		provider, _ = telemetry.New(nil)
	}
	defaultTelemetry = provider

	if defaultBroker == nil {
		defaultBroker = broker.New()
	}
	defaultPool = worker.NewPool(defaultBroker, cfg.PoolSize, worker.Options{
		Logger:    cfg.Logger,
		OnFault:   wrapFault(cfg),
		Telemetry: defaultTelemetry,
	})
	defaultStarted = true
}

// DefaultTelemetry returns the process-wide default Provider, initializing
// the default Broker/WorkerPool (and the telemetry bound to them) on first
// use.
func DefaultTelemetry() *telemetry.Provider {
	initDefault()
	return defaultTelemetry
}

func wrapFault(cfg *rtconfig.Config) worker.FaultHandler {
	return func(err *errkind.RuntimeError) {
		if cfg.OnWorkerFault != nil {
			cfg.OnWorkerFault(err)
		}
	}
}

// Configure rebuilds the process-wide default WorkerPool and telemetry from
// opts, shutting down any previously-running default pool first; an
// existing default Broker is kept and the new pool is bound to it. The Go
// counterpart to adjust_default_worker_count's effect of resizing the
// shared worker_group in place, generalized to every Config field.
func Configure(opts ...rtconfig.Option) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	buildDefaultLocked(rtconfig.Build(opts...))
}

// SetDefaultPoolSize adjusts the process-wide default pool to exactly n
// Workers, growing or shrinking it in place, the Go counterpart to
// task_queue_manager::adjust_default_worker_count.
func SetDefaultPoolSize(n int) {
	initDefault()
	for defaultPool.Size() > n {
		defaultPool.Decrease()
	}
	for defaultPool.Size() < n {
		defaultPool.Increase()
	}
}

// DefaultBroker returns the process-wide default Broker, initializing it
// (and its paired default WorkerPool) on first use.
func DefaultBroker() *broker.Broker {
	initDefault()
	return defaultBroker
}

// DefaultPool returns the process-wide default WorkerPool.
func DefaultPool() *worker.Pool {
	initDefault()
	return defaultPool
}

// CreateSerialQueue returns a new SerialQueue bound to the process-wide
// default Broker and WorkerPool, the Go counterpart to
// task_queue_manager::create_task_queue().
func CreateSerialQueue() *serialqueue.Queue {
	initDefault()
	return serialqueue.NewWithTelemetry(defaultBroker, defaultPool, defaultTelemetry)
}

// CreateSerialQueueWith returns a new SerialQueue bound to caller-supplied
// br and pool instead of the process-wide defaults, the Go counterpart to
// task_queue_manager::create_task_queue(eq_st, wg_st). It carries no
// telemetry since it is not bound to the process-wide default Provider;
// build one with serialqueue.NewWithTelemetry directly if needed.
func CreateSerialQueueWith(br *broker.Broker, pool *worker.Pool) *serialqueue.Queue {
	return serialqueue.New(br, pool)
}

// NewTimer returns a Timer that posts onto queue.
func NewTimer(queue *serialqueue.Queue) *timer.Timer {
	return timer.New(queue)
}
