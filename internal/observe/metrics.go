// Package observe holds the OpenTelemetry instruments recorded by lire.
//
// Instruments are created from a [metric.MeterProvider]. [DefaultMetrics]
// uses the global provider, which is a no-op unless the binary installs
// one; tests should use [NewMetrics] with an SDK provider and a manual
// reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/metcalfc/lire"

// Metrics groups every instrument used by the worker and the gateway.
type Metrics struct {
	// ChunkingDuration tracks how long a full book takes to chunk.
	ChunkingDuration metric.Float64Histogram

	// ChunksProduced counts chunks emitted by successful requests.
	ChunksProduced metric.Int64Counter

	// ChunkingFailures counts requests that ended in an error response.
	ChunkingFailures metric.Int64Counter

	// StoreWrites counts persistence writes. Use with attributes:
	//   attribute.String("record", ...), attribute.String("status", ...)
	StoreWrites metric.Int64Counter
}

var chunkingBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunkingDuration, err = m.Float64Histogram("lire.chunking.duration",
		metric.WithDescription("Time spent chunking and timing a book."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(chunkingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunksProduced, err = m.Int64Counter("lire.chunks.produced",
		metric.WithDescription("Chunks produced by successful chunking requests."),
	); err != nil {
		return nil, err
	}
	if met.ChunkingFailures, err = m.Int64Counter("lire.chunking.failures",
		metric.WithDescription("Chunking requests that ended in an error."),
	); err != nil {
		return nil, err
	}
	if met.StoreWrites, err = m.Int64Counter("lire.store.writes",
		metric.WithDescription("Persistence writes by record and status."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordChunking records the outcome of one chunking request.
func (m *Metrics) RecordChunking(ctx context.Context, elapsed time.Duration, chunks int, err error) {
	m.ChunkingDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		m.ChunkingFailures.Add(ctx, 1)
		return
	}
	m.ChunksProduced.Add(ctx, int64(chunks))
}

// RecordWrite records one store write for record.
func (m *Metrics) RecordWrite(ctx context.Context, record string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("record", record),
		attribute.String("status", status),
	))
}
