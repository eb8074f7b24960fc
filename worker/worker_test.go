package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/dispatchrt/broker"
	"github.com/kart-io/dispatchrt/errkind"
	"github.com/kart-io/dispatchrt/location"
	"github.com/kart-io/dispatchrt/worker"
)

func TestWorkerDispatchesPushedItem(t *testing.T) {
	br := broker.New()
	w := worker.New(br, worker.Options{})
	w.Start()
	defer w.Stop()

	done := make(chan struct{})
	item := broker.NewItem(location.Here(), func(context.Context) {
		close(done)
	})
	br.PushBack(item)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker never dispatched the item")
	}
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	br := broker.New()
	w := worker.New(br, worker.Options{})
	w.Start()
	w.Start()
	defer w.Stop()
	assert.True(t, w.IsRunning())
}

func TestWorkerStopUnblocksWaitAndExits(t *testing.T) {
	br := broker.New()
	w := worker.New(br, worker.Options{})
	w.Start()
	w.Stop()
	assert.False(t, w.IsRunning())
}

func TestWorkerRecoversPanicAndKeepsDispatching(t *testing.T) {
	br := broker.New()
	var faults []*errkind.RuntimeError
	faultCh := make(chan struct{}, 2)
	w := worker.New(br, worker.Options{
		OnFault: func(e *errkind.RuntimeError) {
			faults = append(faults, e)
			faultCh <- struct{}{}
		},
	})
	w.Start()
	defer w.Stop()

	br.PushBack(broker.NewItem(location.Here(), func(context.Context) {
		panic("boom")
	}))

	select {
	case <-faultCh:
	case <-time.After(time.Second):
		t.Fatal("panic was never reported as a fault")
	}
	require.Len(t, faults, 1)
	assert.Equal(t, errkind.UserTaskFault, faults[0].Kind)

	done := make(chan struct{})
	br.PushBack(broker.NewItem(location.Here(), func(context.Context) {
		close(done)
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stopped dispatching after a faulted task")
	}
}

func TestWorkerRunsBeforeAndAfterHooksAroundPayload(t *testing.T) {
	br := broker.New()
	w := worker.New(br, worker.Options{})
	w.Start()
	defer w.Stop()

	var order []string
	done := make(chan struct{})
	item := broker.NewItem(location.Here(), func(context.Context) {
		order = append(order, "payload")
	})
	item.Before = func(context.Context, *broker.Item) {
		order = append(order, "before")
	}
	item.After = func(context.Context, *broker.Item) {
		order = append(order, "after")
		close(done)
	}
	br.PushBack(item)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("after hook never ran")
	}
	assert.Equal(t, []string{"before", "payload", "after"}, order)
}
