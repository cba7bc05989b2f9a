package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/erain9/orderindex/pkg/otel"
)

var (
	indexMetrics     *IndexMetrics
	indexMetricsOnce sync.Once
)

// IndexMetrics holds the metrics instruments for order index operations
type IndexMetrics struct {
	// Latency of one operation including persistence
	opLatency metric.Float64Histogram

	// Traffic
	opsTotal metric.Int64Counter

	// Failures, by operation and error class
	errorsTotal metric.Int64Counter

	// Size of the books
	orders metric.Int64UpDownCounter
	levels metric.Int64UpDownCounter
}

// NewIndexMetrics creates a new IndexMetrics instance
func NewIndexMetrics(meter metric.Meter) (*IndexMetrics, error) {
	opLatency, err := meter.Float64Histogram(
		"orderindex.operation.duration",
		metric.WithDescription("Latency (seconds) of index operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	opsTotal, err := meter.Int64Counter(
		"orderindex.operations.total",
		metric.WithDescription("Total number of index operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"orderindex.errors.total",
		metric.WithDescription("Total number of failed index operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	orders, err := meter.Int64UpDownCounter(
		"orderindex.orders",
		metric.WithDescription("Number of orders resting in the index"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	levels, err := meter.Int64UpDownCounter(
		"orderindex.levels",
		metric.WithDescription("Number of active price keys"),
		metric.WithUnit("{price}"),
	)
	if err != nil {
		return nil, err
	}

	return &IndexMetrics{
		opLatency:   opLatency,
		opsTotal:    opsTotal,
		errorsTotal: errorsTotal,
		orders:      orders,
		levels:      levels,
	}, nil
}

// GetIndexMetrics returns a singleton built on the configured meter provider.
// It returns an empty, no-op instance when instruments cannot be created.
func GetIndexMetrics() *IndexMetrics {
	indexMetricsOnce.Do(func() {
		m, err := NewIndexMetrics(GetMeterProvider().Meter(instrumentationName))
		if err != nil {
			m = &IndexMetrics{}
		}
		indexMetrics = m
	})
	return indexMetrics
}

// RecordOperation records the latency and outcome of one operation
func (m *IndexMetrics) RecordOperation(ctx context.Context, book, op string, duration time.Duration, errClass string) {
	if m == nil || m.opsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(AttributeBook, book),
		attribute.String(AttributeOperation, op),
	)
	m.opsTotal.Add(ctx, 1, attrs)
	m.opLatency.Record(ctx, duration.Seconds(), attrs)

	if errClass != "" {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttributeBook, book),
			attribute.String(AttributeOperation, op),
			attribute.String(AttributeErrorClass, errClass),
		))
	}
}

// AddSize adjusts the order and level gauges of a book
func (m *IndexMetrics) AddSize(ctx context.Context, book string, orders, levels int64) {
	if m == nil || m.orders == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(AttributeBook, book))
	if orders != 0 {
		m.orders.Add(ctx, orders, attrs)
	}
	if levels != 0 {
		m.levels.Add(ctx, levels, attrs)
	}
}
