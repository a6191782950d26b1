package payment

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coachpo/paygate/internal/domain/payment"
)

var tracer = otel.Tracer("github.com/coachpo/paygate/internal/app/payment")

func startSpan(ctx context.Context, name string, cmd payment.ConfirmCommand, recovery bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("payment.order_id", cmd.OrderID),
		attribute.Int64("payment.amount", cmd.Amount),
		attribute.Bool("payment.recovery", recovery),
	))
}

func endSpan(span trace.Span, result payment.ConfirmationResult) {
	span.SetAttributes(attribute.String("payment.status", string(result.Status)))
	if result.Failure != nil {
		span.SetAttributes(attribute.String("payment.failure_code", result.Failure.Code))
		if result.Status != payment.StatusSuccess {
			span.SetStatus(codes.Error, result.Failure.Message)
		}
	}
	span.End()
}
