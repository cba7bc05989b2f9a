package otel

import (
	"time"

	hostmetrics "go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
)

// StartRuntimeMetrics starts Go runtime (heap, GC) and host (CPU, memory,
// network) metric collection on the configured meter provider.
func StartRuntimeMetrics(interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := runtime.Start(
		runtime.WithMeterProvider(GetMeterProvider()),
		runtime.WithMinimumReadMemStatsInterval(interval),
	); err != nil {
		return err
	}

	return hostmetrics.Start(hostmetrics.WithMeterProvider(GetMeterProvider()))
}
