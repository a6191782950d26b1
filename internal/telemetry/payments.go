package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	MetricConfirmations      = "paygate_payment_confirmations_total"
	MetricPSPAttempts        = "paygate_psp_attempts_total"
	MetricPSPConfirmDuration = "paygate_psp_confirm_duration"
	MetricOutboxDispatch     = "paygate_outbox_dispatch_total"
	MetricRelaySweeps        = "paygate_relay_sweeps_total"
	MetricRecoveryOutcomes   = "paygate_recovery_outcomes_total"
	MetricRecoveryBatchSize  = "paygate_recovery_batch_size"
)

// PaymentMetrics groups the instruments recorded by the confirmation flow.
// A nil *PaymentMetrics records nothing.
type PaymentMetrics struct {
	environment string

	confirmations    metric.Int64Counter
	pspAttempts      metric.Int64Counter
	pspLatency       metric.Float64Histogram
	outboxDispatch   metric.Int64Counter
	relaySweeps      metric.Int64Counter
	recoveryOutcomes metric.Int64Counter
	recoveryBatch    metric.Int64Histogram
}

// NewPaymentMetrics registers instruments on the global meter provider.
func NewPaymentMetrics() *PaymentMetrics {
	meter := otel.Meter("paygate.payments")
	pm := &PaymentMetrics{environment: Environment()}

	pm.confirmations, _ = meter.Int64Counter(MetricConfirmations,
		metric.WithDescription("Confirmation outcomes returned to clients"),
		metric.WithUnit("{confirmation}"))

	pm.pspAttempts, _ = meter.Int64Counter(MetricPSPAttempts,
		metric.WithDescription("Individual PSP confirm calls by result"),
		metric.WithUnit("{attempt}"))

	pm.pspLatency, _ = meter.Float64Histogram(MetricPSPConfirmDuration,
		metric.WithDescription("PSP confirm round trip per attempt"),
		metric.WithUnit("ms"))

	pm.outboxDispatch, _ = meter.Int64Counter(MetricOutboxDispatch,
		metric.WithDescription("Outbox messages handed to the broker by result"),
		metric.WithUnit("{message}"))

	pm.relaySweeps, _ = meter.Int64Counter(MetricRelaySweeps,
		metric.WithDescription("Outbox relay sweeps by result"),
		metric.WithUnit("{sweep}"))

	pm.recoveryOutcomes, _ = meter.Int64Counter(MetricRecoveryOutcomes,
		metric.WithDescription("Recovery candidate outcomes by status"),
		metric.WithUnit("{candidate}"))

	pm.recoveryBatch, _ = meter.Int64Histogram(MetricRecoveryBatchSize,
		metric.WithDescription("Candidates loaded per recovery run"),
		metric.WithUnit("{candidate}"))

	return pm
}

// RecordConfirmation counts a confirmation outcome.
func (m *PaymentMetrics) RecordConfirmation(ctx context.Context, status, failureCode string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.Add(ctx, 1, metric.WithAttributes(StatusAttributes(m.environment, status, failureCode)...))
}

// RecordPSPAttempt counts one PSP call and its latency.
func (m *PaymentMetrics) RecordPSPAttempt(ctx context.Context, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(OperationResultAttributes(m.environment, "psp.confirm", result)...)
	if m.pspAttempts != nil {
		m.pspAttempts.Add(ctx, 1, attrs)
	}
	if m.pspLatency != nil {
		m.pspLatency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

// RecordDispatch counts an outbox handoff result (sent, failure or dropped).
func (m *PaymentMetrics) RecordDispatch(ctx context.Context, result string) {
	if m == nil || m.outboxDispatch == nil {
		return
	}
	m.outboxDispatch.Add(ctx, 1, metric.WithAttributes(OperationResultAttributes(m.environment, "outbox.dispatch", result)...))
}

// RecordSweep counts a relay sweep (completed, skipped or failure).
func (m *PaymentMetrics) RecordSweep(ctx context.Context, result string) {
	if m == nil || m.relaySweeps == nil {
		return
	}
	m.relaySweeps.Add(ctx, 1, metric.WithAttributes(OperationResultAttributes(m.environment, "relay.sweep", result)...))
}

// RecordRecoveryBatch records how many candidates a recovery run loaded.
func (m *PaymentMetrics) RecordRecoveryBatch(ctx context.Context, size int) {
	if m == nil || m.recoveryBatch == nil {
		return
	}
	m.recoveryBatch.Record(ctx, int64(size), metric.WithAttributes(AttrEnvironment.String(m.environment)))
}

// RecordRecovery counts the outcome of one recovery candidate.
func (m *PaymentMetrics) RecordRecovery(ctx context.Context, status, failureCode string) {
	if m == nil || m.recoveryOutcomes == nil {
		return
	}
	m.recoveryOutcomes.Add(ctx, 1, metric.WithAttributes(StatusAttributes(m.environment, status, failureCode)...))
}
