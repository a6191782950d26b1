package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestPaymentMetricsRecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	previous := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(previous) })
	ctx := context.Background()
	provider, err := NewProvider(ctx, Config{Environment: "test"}, WithReader(reader))
	require.NoError(t, err)
	require.True(t, provider.Exporting())
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m := NewPaymentMetrics()
	m.RecordConfirmation(ctx, "SUCCESS", "")
	m.RecordConfirmation(ctx, "FAILURE", "PaymentValidation")
	m.RecordPSPAttempt(ctx, ResultSuccess, 120*time.Millisecond)
	m.RecordDispatch(ctx, ResultDropped)
	m.RecordSweep(ctx, ResultSkipped)
	m.RecordRecoveryBatch(ctx, 3)
	m.RecordRecovery(ctx, "UNKNOWN", "Timeout")

	got := collectNames(t, reader)
	for _, name := range []string{
		MetricConfirmations,
		MetricPSPAttempts,
		MetricPSPConfirmDuration,
		MetricOutboxDispatch,
		MetricRelaySweeps,
		MetricRecoveryBatchSize,
		MetricRecoveryOutcomes,
	} {
		require.Contains(t, got, name)
	}

	sum, ok := got[MetricConfirmations].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2)
}

func TestNilPaymentMetricsIsSafe(t *testing.T) {
	var m *PaymentMetrics
	ctx := context.Background()
	m.RecordConfirmation(ctx, "SUCCESS", "")
	m.RecordPSPAttempt(ctx, ResultFailure, time.Second)
	m.RecordDispatch(ctx, ResultSent)
	m.RecordSweep(ctx, ResultCompleted)
	m.RecordRecoveryBatch(ctx, 1)
	m.RecordRecovery(ctx, "SUCCESS", "")
}

func TestEnvironmentDefaultsToDevelopment(t *testing.T) {
	t.Cleanup(func() { setEnvironment("") })
	setEnvironment("")
	require.Equal(t, "development", Environment())

	provider, err := NewProvider(context.Background(), Config{Enabled: false, Environment: " Staging "})
	require.NoError(t, err)
	require.False(t, provider.Exporting())
	require.NoError(t, provider.Shutdown(context.Background()))
	require.Equal(t, "staging", Environment())
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "https://collector:4318",
		"OTEL_SERVICE_NAME":           "paymentd",
		"OTEL_METRICS_ENABLED":        "false",
		"PAYGATE_ENV":                 "prod",
	}
	cfg := configFromEnv(func(k string) string { return env[k] })
	require.True(t, cfg.Enabled)
	require.False(t, cfg.EnableMetrics)
	require.Equal(t, "https://collector:4318", cfg.OTLPEndpoint)
	require.Equal(t, "paymentd", cfg.ServiceName)
	require.Equal(t, "prod", cfg.Environment)

	cfg = configFromEnv(func(string) string { return "" })
	require.Equal(t, "localhost:4318", cfg.OTLPEndpoint)
	require.Equal(t, "development", cfg.Environment)
}

func TestSplitEndpoint(t *testing.T) {
	host, insecure := splitEndpoint("http://otel:4318")
	require.Equal(t, "otel:4318", host)
	require.True(t, insecure)

	host, insecure = splitEndpoint("https://otel.example.com")
	require.Equal(t, "otel.example.com", host)
	require.False(t, insecure)

	host, insecure = splitEndpoint("localhost:4318")
	require.Equal(t, "localhost:4318", host)
	require.False(t, insecure)
}
