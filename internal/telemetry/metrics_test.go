package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))

	m, err := New(provider.Meter("razorfs-test"))
	require.NoError(t, err)
	return m, reader
}

func collectSum(t *testing.T, reader *metric.ManualReader, name string) (float64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				return float64(total), true
			case metricdata.Histogram[float64]:
				var total float64
				for _, dp := range data.DataPoints {
					total += float64(dp.Count)
				}
				return total, true
			}
		}
	}
	return 0, false
}

func TestOpCountAndLatency(t *testing.T) {
	m, reader := setupTestMetrics(t)
	ctx := context.Background()

	done := m.Track(ctx, "write")
	done(nil, "")
	done2 := m.Track(ctx, "write")
	done2(assertError{}, "io_error")

	count, ok := collectSum(t, reader, "razorfs/op_count")
	require.True(t, ok)
	assert.Equal(t, float64(2), count)

	errCount, ok := collectSum(t, reader, "razorfs/op_error_count")
	require.True(t, ok)
	assert.Equal(t, float64(1), errCount)

	latCount, ok := collectSum(t, reader, "razorfs/op_latency")
	require.True(t, ok)
	assert.Equal(t, float64(2), latCount)
}

func TestCheckpointMetrics(t *testing.T) {
	m, reader := setupTestMetrics(t)
	ctx := context.Background()

	m.CheckpointDone(ctx, 5*time.Millisecond)
	m.CheckpointDone(ctx, 7*time.Millisecond)

	count, ok := collectSum(t, reader, "razorfs/checkpoint_count")
	require.True(t, ok)
	assert.Equal(t, float64(2), count)
}

func TestWALBytesObservableSumsAppends(t *testing.T) {
	m, reader := setupTestMetrics(t)

	m.WALAppendBytes(128)
	m.WALAppendBytes(64)
	m.BlobBytesStored(4096)

	walBytes, ok := collectSum(t, reader, "razorfs/wal_bytes_written")
	require.True(t, ok)
	assert.Equal(t, float64(192), walBytes)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
