package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider bundles the otel SDK MeterProvider backing Metrics with the
// Prometheus registry it exports to, so a caller can both record
// instruments and serve /metrics from the same process.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Registry      *prometheus.Registry
	Metrics       *Metrics
}

// NewProvider wires an otel MeterProvider to a fresh Prometheus registry
// through the otel Prometheus exporter (go.opentelemetry.io/otel/exporters/
// prometheus bridges otel instruments into prometheus/client_golang's
// collector model), and registers every razorfs instrument against it.
func NewProvider() (*Provider, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := mp.Meter("razorfs")

	m, err := New(meter)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}

	return &Provider{MeterProvider: mp, Registry: reg, Metrics: m}, nil
}

// Handler returns the http.Handler a caller mounts at /metrics.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and releases the underlying MeterProvider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.MeterProvider.Shutdown(ctx)
}
