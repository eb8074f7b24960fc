package broker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/dispatchrt/broker"
	"github.com/kart-io/dispatchrt/location"
)

// Scenario 1: infinite wait unblocks on push.
func TestWaitUnblocksOnPush(t *testing.T) {
	b := broker.New()
	result := make(chan *broker.Item, 1)

	go func() {
		result <- b.Wait("waiter-a")
	}()

	time.Sleep(100 * time.Millisecond)
	item := broker.NewItem(location.Here(), func(context.Context) {})
	b.PushBack(item)

	select {
	case got := <-result:
		require.NotNil(t, got)
		assert.Equal(t, item.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("wait never returned")
	}
}

// Scenario 2: per-waiter break.
func TestBreakWaiterUnblocksOnlyThatWaiter(t *testing.T) {
	b := broker.New()
	resultA := make(chan *broker.Item, 1)
	var waiterAID string = "waiter-a"

	go func() {
		resultA <- b.Wait(waiterAID)
	}()

	time.Sleep(100 * time.Millisecond)
	b.BreakWaiter(waiterAID)

	select {
	case got := <-resultA:
		assert.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("break_waiter never unblocked the waiter")
	}
}

// Scenario 3: cancel-all then repost.
func TestCancelAllThenRepost(t *testing.T) {
	b := broker.New()
	x := broker.NewItem(location.Here(), func(context.Context) {})
	b.PushBack(x)
	b.CancelAll()
	y := broker.NewItem(location.Here(), func(context.Context) {})
	b.PushBack(y)

	got := b.Wait("solo-waiter")
	require.NotNil(t, got)
	assert.Equal(t, y.ID, got.ID)
}

// Scenario 4: emplace ordering, push_back, push_back, push_front, push_front.
func TestEmplaceOrdering(t *testing.T) {
	b := broker.New()
	one := broker.NewItem(location.Here(), func(context.Context) {})
	two := broker.NewItem(location.Here(), func(context.Context) {})
	three := broker.NewItem(location.Here(), func(context.Context) {})
	four := broker.NewItem(location.Here(), func(context.Context) {})

	b.PushBack(one)
	b.PushBack(two)
	b.PushFront(three)
	b.PushFront(four)

	var got []string
	for i := 0; i < 4; i++ {
		it := b.Wait("solo-waiter")
		require.NotNil(t, it)
		got = append(got, it.ID)
	}
	assert.Equal(t, []string{four.ID, three.ID, one.ID, two.ID}, got)
}

func TestWaitForHonoursTimeoutOnEmptyBroker(t *testing.T) {
	b := broker.New()
	start := time.Now()
	got := b.WaitFor("solo-waiter", 50*time.Millisecond)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestCancelRemovesQueuedItem(t *testing.T) {
	b := broker.New()
	item := broker.NewItem(location.Here(), func(context.Context) {})
	h := b.PushBack(item)
	h.Cancel()
	assert.Equal(t, 0, b.PendingCount())
}

func TestBreakQueueRejectsFurtherWork(t *testing.T) {
	b := broker.New()
	b.BreakQueue()

	h := b.PushBack(broker.NewItem(location.Here(), func(context.Context) {}))
	assert.False(t, h.Valid())
	assert.Equal(t, 0, b.PendingCount())

	got := b.Wait("solo-waiter")
	assert.Nil(t, got)
}

func TestWaiterCountAndPendingCount(t *testing.T) {
	b := broker.New()
	assert.Equal(t, 0, b.WaiterCount())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Wait("w1")
	}()

	require.Eventually(t, func() bool {
		return b.WaiterCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, b.PendingCount())

	b.PushBack(broker.NewItem(location.Here(), func(context.Context) {}))
	wg.Wait()
	assert.Equal(t, 0, b.WaiterCount())
	assert.Equal(t, 0, b.PendingCount())
}

// After break_queue() completes, all subsequent waits return empty
// immediately.
func TestWaitsAfterBreakReturnImmediately(t *testing.T) {
	b := broker.New()
	b.BreakQueue()

	start := time.Now()
	got := b.Wait("solo-waiter")
	assert.Nil(t, got)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
