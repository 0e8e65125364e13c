// Package telemetry records sync metrics through OpenTelemetry. Disabled by
// default; setting AZDEV_TELEMETRY=1 installs a periodic stdout exporter.
// When disabled every recording call is a no-op against the global provider.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/devpane/azdev/internal/debug"
)

const meterName = "github.com/devpane/azdev"

var (
	syncDuration metric.Float64Histogram
	syncTotal    metric.Int64Counter
	prunedRows   metric.Int64Counter
)

// Enabled reports whether metric export is turned on.
func Enabled() bool {
	return os.Getenv("AZDEV_TELEMETRY") == "1"
}

// Init installs the meter provider and creates the instruments. The returned
// shutdown flushes pending metrics; it is a no-op when telemetry is off.
func Init(ctx context.Context) (func(context.Context) error, error) {
	shutdown := func(context.Context) error { return nil }

	if Enabled() {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(time.Minute))),
		)
		otel.SetMeterProvider(provider)
		shutdown = provider.Shutdown
		debug.Logf("telemetry: metric export enabled")
	}

	meter := otel.Meter(meterName)
	var err error
	if syncDuration, err = meter.Float64Histogram("azdev.sync.duration",
		metric.WithDescription("Duration of one update dispatch"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if syncTotal, err = meter.Int64Counter("azdev.sync.total",
		metric.WithDescription("Update dispatches by kind and outcome")); err != nil {
		return nil, err
	}
	if prunedRows, err = meter.Int64Counter("azdev.prune.rows",
		metric.WithDescription("Cache rows removed by pruning")); err != nil {
		return nil, err
	}
	return shutdown, nil
}

// RecordSync records one finished dispatch.
func RecordSync(ctx context.Context, kind, outcome string, elapsed time.Duration) {
	if syncTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	syncTotal.Add(ctx, 1, attrs)
	syncDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordPrune records rows removed for one entity.
func RecordPrune(ctx context.Context, entity string, n int64) {
	if prunedRows == nil || n == 0 {
		return
	}
	prunedRows.Add(ctx, n, metric.WithAttributes(attribute.String("entity", entity)))
}
