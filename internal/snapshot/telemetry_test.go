package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

func TestRunMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	resetRunMetricsForTesting()
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetMeterProvider(prev)
		resetRunMetricsForTesting()
	})

	h := newHarness(t, "")
	h.vault.put("locked.md", "x", 1)
	h.vault.failRead["locked.md"] = true
	h.run(t)
	h.run(t)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	runs := map[string]int64{}
	var readErrors int64
	var durations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "vaultstate.runs.total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value("outcome")
					runs[v.AsString()] += dp.Value
				}
			case "vaultstate.read_errors.total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					readErrors += dp.Value
				}
			case "vaultstate.run.duration":
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					durations += dp.Count
				}
			}
		}
	}

	assert.Equal(t, int64(1), runs[string(types.OutcomeBaseCreated)])
	assert.Equal(t, int64(1), runs[string(types.OutcomeNoChanges)])
	assert.Equal(t, int64(1), readErrors)
	assert.Equal(t, uint64(2), durations)
}

func TestRunSpansRecorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	h := newHarness(t, "")
	h.vault.put("a.md", "alpha", 1)
	h.run(t)

	_, err := h.ctrl.ForceConsolidate(context.Background())
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "snapshot.run", spans[0].Name())
	assert.Equal(t, "snapshot.consolidate", spans[1].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, string(types.OutcomeBaseCreated), attrs["snapshot.outcome"])
	assert.NotEmpty(t, attrs["snapshot.run_id"])
	assert.NotEmpty(t, attrs["snapshot.period"])
}
