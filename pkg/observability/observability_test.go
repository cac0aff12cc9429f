package observability

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kaizencorps/stache/pkg/custody"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{Enabled: false})
	require.NoError(t, err)

	_, done := p.Track(ctx, "withdraw")
	done(nil)
	_, done = p.Track(ctx, "withdraw")
	done(custody.ErrVaultLocked)

	assert.NoError(t, p.Shutdown(ctx))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestTrackRecordsRED(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	p, err := NewWithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	_, done := p.Track(ctx, "approve_action", attribute.String("stache.treasury", "beards/acme"))
	done(nil)
	_, done = p.Track(ctx, "approve_action")
	done(fmt.Errorf("approve: %w", custody.ErrAlreadyApproved))

	metrics := collect(t, reader)

	ops, ok := metrics["stache.operations.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range ops.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	errs, ok := metrics["stache.errors.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	kind, _ := errs.DataPoints[0].Attributes.Value("error.kind")
	code, _ := errs.DataPoints[0].Attributes.Value("error.code")
	assert.Equal(t, string(custody.KindConsensus), kind.AsString())
	assert.Equal(t, "AlreadyApproved", code.AsString())

	hist, ok := metrics["stache.operation.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}
