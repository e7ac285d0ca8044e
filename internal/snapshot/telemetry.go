package snapshot

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

const instrumentationName = "vaultstate/snapshot"

// startSpan resolves the tracer on every call so a provider installed after
// package init is honoured.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

var (
	runMetricsOnce      sync.Once
	runCounter          metric.Int64Counter
	readErrorCounter    metric.Int64Counter
	runLatencyHistogram metric.Float64Histogram
)

func initRunMetrics() {
	runMetricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)

		var err error
		runCounter, err = meter.Int64Counter(
			"vaultstate.runs.total",
			metric.WithDescription("Total snapshot runs by outcome"),
		)
		if err != nil {
			log.Printf("observability: failed to create run counter: %v", err)
		}

		readErrorCounter, err = meter.Int64Counter(
			"vaultstate.read_errors.total",
			metric.WithDescription("Files whose content could not be read for hashing"),
		)
		if err != nil {
			log.Printf("observability: failed to create read error counter: %v", err)
		}

		runLatencyHistogram, err = meter.Float64Histogram(
			"vaultstate.run.duration",
			metric.WithDescription("Snapshot run duration (ms)"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			log.Printf("observability: failed to create run duration histogram: %v", err)
		}
	})
}

func recordRunMetrics(ctx context.Context, summary *types.RunSummary, duration time.Duration) {
	initRunMetrics()

	attrs := metric.WithAttributes(
		attribute.String("outcome", string(summary.Outcome)),
		attribute.Bool("consolidated", summary.Consolidated),
	)
	if runCounter != nil {
		runCounter.Add(ctx, 1, attrs)
	}
	if runLatencyHistogram != nil {
		runLatencyHistogram.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
	if readErrorCounter != nil && len(summary.ReadErrors) > 0 {
		readErrorCounter.Add(ctx, int64(len(summary.ReadErrors)))
	}
}

// resetRunMetricsForTesting drops cached instruments so a test meter provider takes effect
func resetRunMetricsForTesting() {
	runMetricsOnce = sync.Once{}
	runCounter = nil
	readErrorCounter = nil
	runLatencyHistogram = nil
}
