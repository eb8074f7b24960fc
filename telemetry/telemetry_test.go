package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/dispatchrt/telemetry"
)

func TestNewNilConfigIsNoOp(t *testing.T) {
	p, err := telemetry.New(nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, span := p.TraceDispatch(context.Background(), "file.go:1", "item-1")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	// None of these should panic on a disabled Provider.
	p.RecordPosted(ctx, "broker")
	p.RecordDispatched(ctx, "worker", time.Millisecond)
	p.RecordFaulted(ctx, "worker")
	p.UpdatePendingDepth(ctx, "broker", 1)
	p.SetSpanSuccess(span)
	p.SetSpanError(span, assert.AnError)
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewDisabledConfigIsNoOp(t *testing.T) {
	p, err := telemetry.New(&telemetry.Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	_, span := p.TraceDispatch(context.Background(), "file.go:1", "item-1")
	require.NotNil(t, span)
	span.End()
}

func TestNewMetricsEnabledBuildsInstruments(t *testing.T) {
	p, err := telemetry.New(&telemetry.Config{
		ServiceName:    "dispatchrt-test",
		ServiceVersion: "0.0.0",
		Environment:    "test",
		Enabled:        true,
		MetricsEnabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx := context.Background()
	p.RecordPosted(ctx, "serialqueue")
	p.RecordDispatched(ctx, "worker", 5*time.Millisecond)
	p.RecordFaulted(ctx, "worker")
	p.UpdatePendingDepth(ctx, "serialqueue", 1)
	p.UpdatePendingDepth(ctx, "serialqueue", -1)
}
