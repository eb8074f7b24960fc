package dispatchrt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispatchrt "github.com/kart-io/dispatchrt"
	"github.com/kart-io/dispatchrt/location"
	"github.com/kart-io/dispatchrt/rtconfig"
)

func TestConfigureResizesDefaultPool(t *testing.T) {
	dispatchrt.Configure(rtconfig.WithPoolSize(3))
	require.Equal(t, 3, dispatchrt.DefaultPool().Size())

	dispatchrt.SetDefaultPoolSize(5)
	assert.Equal(t, 5, dispatchrt.DefaultPool().Size())

	dispatchrt.SetDefaultPoolSize(1)
	assert.Equal(t, 1, dispatchrt.DefaultPool().Size())
}

func TestCreateSerialQueueDispatchesOnDefaultPool(t *testing.T) {
	dispatchrt.Configure(rtconfig.WithPoolSize(2))
	q := dispatchrt.CreateSerialQueue()

	done := make(chan struct{})
	q.Post(location.Here(), func(context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue created via the default pool never dispatched")
	}
}

func TestDefaultTelemetryIsAlwaysUsable(t *testing.T) {
	dispatchrt.Configure(rtconfig.WithPoolSize(1))
	tel := dispatchrt.DefaultTelemetry()
	require.NotNil(t, tel)

	ctx, span := tel.TraceDispatch(context.Background(), "dispatchrt_test.go:1", "item-1")
	require.NotNil(t, span)
	span.End()
	_ = ctx
}

func TestNewTimerFiresOnCreatedQueue(t *testing.T) {
	dispatchrt.Configure(rtconfig.WithPoolSize(2))
	q := dispatchrt.CreateSerialQueue()
	tm := dispatchrt.NewTimer(q)
	defer tm.Stop()

	fired := make(chan struct{})
	tm.StartOnceAfter(location.Here(), func(context.Context) {
		close(fired)
	}, 10*time.Millisecond, nil)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer created via the facade never fired")
	}
}
