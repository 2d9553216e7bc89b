// Package telemetry is the engine's metrics surface: an OpenTelemetry
// meter backing a Prometheus registry, with per-metric counters/histograms
// and cached attribute.Set options, keyed by operation name.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// OpKey annotates the engine operation a metric event belongs to
	// (create, mkdir, unlink, read, write, ...).
	OpKey = "op"

	// ErrCategoryKey reduces error cardinality by grouping errs.Kind
	// values rather than raw error strings.
	ErrCategoryKey = "error_category"
)

var defaultLatencyBuckets = metric.WithExplicitBucketBoundaries(
	1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100,
	130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000,
)

// ErrCategory pairs an operation with the error kind it failed with, the
// same grouping otel_metrics.go's FSOpsErrorCategory does for gcsfuse.
type ErrCategory struct {
	Op       string
	Category string
}

func loadOrStore[K comparable](m *sync.Map, key K, gen func() attribute.Set) metric.MeasurementOption {
	if v, ok := m.Load(key); ok {
		return v.(metric.MeasurementOption)
	}
	v, _ := m.LoadOrStore(key, metric.WithAttributeSet(gen()))
	return v.(metric.MeasurementOption)
}

// Metrics holds every counter/histogram the engine reports. All methods
// are safe for concurrent use (otel instruments are themselves
// concurrency-safe; the attribute-set caches use sync.Map).
type Metrics struct {
	opAttrs    sync.Map
	errAttrs   sync.Map

	opCount   metric.Int64Counter
	opLatency metric.Float64Histogram
	opErrors  metric.Int64Counter

	walBytesAtomic   *atomic.Int64
	walAppendCount   metric.Int64Counter
	checkpointCount  metric.Int64Counter
	checkpointLatency metric.Float64Histogram

	blobBytesAtomic *atomic.Int64
}

func (m *Metrics) opAttributeSet(op string) metric.MeasurementOption {
	return loadOrStore(&m.opAttrs, op, func() attribute.Set {
		return attribute.NewSet(attribute.String(OpKey, op))
	})
}

func (m *Metrics) errAttributeSet(e ErrCategory) metric.MeasurementOption {
	return loadOrStore(&m.errAttrs, e, func() attribute.Set {
		return attribute.NewSet(attribute.String(OpKey, e.Op), attribute.String(ErrCategoryKey, e.Category))
	})
}

// OpCount increments the operation counter for op.
func (m *Metrics) OpCount(ctx context.Context, op string) {
	m.opCount.Add(ctx, 1, m.opAttributeSet(op))
}

// OpLatency records how long op took.
func (m *Metrics) OpLatency(ctx context.Context, op string, d time.Duration) {
	m.opLatency.Record(ctx, float64(d.Microseconds()), m.opAttributeSet(op))
}

// OpError increments the error counter for op, grouped by category (an
// errs.Kind's string name, so cardinality stays bounded).
func (m *Metrics) OpError(ctx context.Context, op, category string) {
	m.opErrors.Add(ctx, 1, m.errAttributeSet(ErrCategory{Op: op, Category: category}))
}

// Track is a convenience wrapper: call at the top of an operation, then
// defer the returned func with the eventual error (nil on success).
func (m *Metrics) Track(ctx context.Context, op string) func(err error, errCategory string) {
	start := time.Now()
	m.OpCount(ctx, op)
	return func(err error, errCategory string) {
		m.OpLatency(ctx, op, time.Since(start))
		if err != nil {
			m.OpError(ctx, op, errCategory)
		}
	}
}

// WALAppendBytes accumulates bytes written to the write-ahead log, backing
// an observable counter (the WAL package has no natural place to hold an
// otel instrument of its own).
func (m *Metrics) WALAppendBytes(n int64) {
	m.walBytesAtomic.Add(n)
	m.walAppendCount.Add(context.Background(), 1)
}

// CheckpointDone records one checkpoint's duration.
func (m *Metrics) CheckpointDone(ctx context.Context, d time.Duration) {
	m.checkpointCount.Add(ctx, 1)
	m.checkpointLatency.Record(ctx, float64(d.Milliseconds()))
}

// BlobBytesStored sets the observable gauge backing total file-data bytes
// on disk, refreshed by whoever calls engine.Statfs periodically.
func (m *Metrics) BlobBytesStored(n int64) {
	m.blobBytesAtomic.Store(n)
}

// New registers every instrument against meter (ordinarily
// otel.Meter("razorfs")), returning a ready-to-use Metrics.
func New(meter metric.Meter) (*Metrics, error) {
	opCount, err1 := meter.Int64Counter("razorfs/op_count",
		metric.WithDescription("Cumulative number of engine operations processed."))
	opLatency, err2 := meter.Float64Histogram("razorfs/op_latency",
		metric.WithDescription("Distribution of engine operation latencies."),
		metric.WithUnit("us"), defaultLatencyBuckets)
	opErrors, err3 := meter.Int64Counter("razorfs/op_error_count",
		metric.WithDescription("Cumulative number of engine operations that returned an error."))

	walAppendCount, err4 := meter.Int64Counter("razorfs/wal_append_count",
		metric.WithDescription("Cumulative number of WAL append calls."))
	var walBytes atomic.Int64
	_, err5 := meter.Int64ObservableCounter("razorfs/wal_bytes_written",
		metric.WithDescription("Cumulative bytes appended to the write-ahead log."),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(walBytes.Load())
			return nil
		}))

	checkpointCount, err6 := meter.Int64Counter("razorfs/checkpoint_count",
		metric.WithDescription("Cumulative number of checkpoints folded into the on-disk snapshot."))
	checkpointLatency, err7 := meter.Float64Histogram("razorfs/checkpoint_latency",
		metric.WithDescription("Distribution of checkpoint durations."), metric.WithUnit("ms"))

	var blobBytes atomic.Int64
	_, err8 := meter.Int64ObservableGauge("razorfs/blob_bytes_stored",
		metric.WithDescription("Total bytes of file-data content stored on disk."),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(blobBytes.Load())
			return nil
		}))

	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7, err8); err != nil {
		return nil, err
	}

	return &Metrics{
		opCount:           opCount,
		opLatency:         opLatency,
		opErrors:          opErrors,
		walBytesAtomic:    &walBytes,
		walAppendCount:    walAppendCount,
		checkpointCount:   checkpointCount,
		checkpointLatency: checkpointLatency,
		blobBytesAtomic:   &blobBytes,
	}, nil
}
