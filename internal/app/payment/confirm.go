package payment

import (
	"context"

	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/observability"
	"github.com/coachpo/paygate/internal/telemetry"
)

// Executor confirms a payment with the PSP.
type Executor interface {
	Execute(ctx context.Context, cmd payment.ConfirmCommand) (payment.ExecutionResult, error)
}

// pipeline validates, executes and commits one confirmation. Confirm and
// recovery share it.
type pipeline struct {
	committer *StatusCommitter
	validator Validator
	executor  Executor
	handler   *ErrorHandler
}

func (p pipeline) settle(ctx context.Context, cmd payment.ConfirmCommand, countFailure bool) (res payment.ConfirmationResult) {
	ctx, span := startSpan(ctx, "payment.settle", cmd, countFailure)
	defer func() { endSpan(span, res) }()

	ok, err := p.validator.IsValid(ctx, cmd.OrderID, cmd.Amount)
	if err != nil {
		return p.handler.Handle(ctx, cmd, err, countFailure)
	}
	if !ok {
		return p.handler.Handle(ctx, cmd, &payment.ValidationError{OrderID: cmd.OrderID, Amount: cmd.Amount}, countFailure)
	}
	result, err := p.executor.Execute(ctx, cmd)
	if err != nil {
		return p.handler.Handle(ctx, cmd, err, countFailure)
	}
	if result.OrderID == "" {
		result.OrderID = cmd.OrderID
	}
	if result.PaymentKey == "" {
		result.PaymentKey = cmd.PaymentKey
	}
	if err := p.committer.Commit(ctx, payment.UpdateFromResult(result, countFailure)); err != nil {
		return p.handler.Handle(ctx, cmd, err, countFailure)
	}
	return payment.ConfirmationResult{Status: result.Status, Failure: result.Failure}
}

// ConfirmOption configures a ConfirmService.
type ConfirmOption func(*ConfirmService)

// WithConfirmLogger overrides the service logger.
func WithConfirmLogger(logger observability.Logger) ConfirmOption {
	return func(s *ConfirmService) {
		s.logger = logger
	}
}

// WithConfirmMetrics records confirmation outcomes on m.
func WithConfirmMetrics(m *telemetry.PaymentMetrics) ConfirmOption {
	return func(s *ConfirmService) {
		s.metrics = m
	}
}

// ConfirmService serves interactive confirmation requests.
type ConfirmService struct {
	pipeline
	logger  observability.Logger
	metrics *telemetry.PaymentMetrics
}

// NewConfirmService wires the confirmation pipeline.
func NewConfirmService(committer *StatusCommitter, validator Validator, executor Executor, handler *ErrorHandler, opts ...ConfirmOption) *ConfirmService {
	s := &ConfirmService{pipeline: pipeline{
		committer: committer,
		validator: validator,
		executor:  executor,
		handler:   handler,
	}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = observability.Or(s.logger)
	return s
}

// Confirm marks the orders executing, confirms with the PSP and records the
// outcome. It always returns a definitive result; errors are classified into
// the returned status and failure.
func (s *ConfirmService) Confirm(ctx context.Context, cmd payment.ConfirmCommand) payment.ConfirmationResult {
	ctx, span := startSpan(ctx, "payment.confirm", cmd, false)
	result := s.confirm(ctx, cmd)
	endSpan(span, result)
	code := ""
	if result.Failure != nil {
		code = result.Failure.Code
	}
	s.metrics.RecordConfirmation(ctx, string(result.Status), code)
	s.logger.Info("payment confirmation finished",
		observability.F("order_id", cmd.OrderID),
		observability.F("status", result.Status),
		observability.F("failure_code", code))
	return result
}

func (s *ConfirmService) confirm(ctx context.Context, cmd payment.ConfirmCommand) payment.ConfirmationResult {
	if err := cmd.Validate(); err != nil {
		return payment.ConfirmationResult{
			Status:  payment.StatusFailure,
			Failure: &payment.Failure{Code: payment.FailureValidation, Message: err.Error()},
		}
	}
	if err := s.committer.MarkExecuting(ctx, cmd.PaymentKey, cmd.OrderID); err != nil {
		return s.handler.Handle(ctx, cmd, err, false)
	}
	return s.settle(ctx, cmd, false)
}
