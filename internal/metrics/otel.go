package metrics

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

var (
	otelMetricsOnce       sync.Once
	otelRegistrationError error
)

// InitOTelMetrics registers an observable gauge reporting the recorded run
// totals from SQLite. Call it after observability.Init.
func InitOTelMetrics() error {
	otelMetricsOnce.Do(func() {
		meter := otel.Meter("vaultstate/metrics")

		_, err := meter.Int64ObservableGauge(
			"vaultstate.runs.recorded",
			metric.WithDescription("Recorded snapshot runs by outcome"),
			metric.WithUnit("{runs}"),
			metric.WithInt64Callback(runsCallback),
		)
		if err != nil {
			log.Printf("metrics: failed to create runs gauge: %v", err)
			otelRegistrationError = err
			return
		}
	})
	return otelRegistrationError
}

func runsCallback(_ context.Context, observer metric.Int64Observer) error {
	stats := GetStats()
	for _, outcome := range types.AllOutcomes {
		observer.Observe(stats[outcome], metric.WithAttributes(
			attribute.String("outcome", string(outcome)),
		))
	}
	return nil
}

// ResetOTelForTesting resets the OTel initialization state for testing purposes.
func ResetOTelForTesting() {
	otelMetricsOnce = sync.Once{}
	otelRegistrationError = nil
}
