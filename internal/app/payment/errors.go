package payment

import (
	"context"
	"errors"

	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/observability"
)

// ErrorHandler turns a confirmation error into a persisted, reportable outcome.
type ErrorHandler struct {
	committer *StatusCommitter
	logger    observability.Logger
}

// NewErrorHandler constructs an ErrorHandler committing through committer.
func NewErrorHandler(committer *StatusCommitter, logger observability.Logger) *ErrorHandler {
	return &ErrorHandler{committer: committer, logger: observability.Or(logger)}
}

// Handle classifies err, records the classified status for cmd.OrderID and
// returns the result the caller should see. countFailure increments the
// failed count when the outcome is UNKNOWN.
func (h *ErrorHandler) Handle(ctx context.Context, cmd payment.ConfirmCommand, err error, countFailure bool) payment.ConfirmationResult {
	class := payment.Classify(err)
	failure := class.Failure
	h.logger.Warn("payment confirmation failed",
		observability.F("order_id", cmd.OrderID),
		observability.F("status", class.Status),
		observability.F("failure_code", failure.Code),
		observability.Err(err))
	if !class.Persist || errors.Is(err, payment.ErrEventNotFound) {
		return payment.ConfirmationResult{Status: class.Status, Failure: &failure}
	}

	update := payment.StatusUpdate{
		PaymentKey:   cmd.PaymentKey,
		OrderID:      cmd.OrderID,
		Status:       class.Status,
		Failure:      &failure,
		CountFailure: countFailure,
	}
	if cerr := h.committer.Commit(ctx, update); cerr != nil {
		var already *payment.AlreadyProcessedError
		if errors.As(cerr, &already) {
			done := payment.Classify(already).Failure
			return payment.ConfirmationResult{Status: already.Status, Failure: &done}
		}
		h.logger.Error("payment outcome not persisted",
			observability.F("order_id", cmd.OrderID),
			observability.F("status", class.Status),
			observability.Err(cerr))
		return payment.ConfirmationResult{
			Status:  payment.StatusUnknown,
			Failure: &payment.Failure{Code: payment.FailureUnclassified, Message: cerr.Error()},
		}
	}
	return payment.ConfirmationResult{Status: class.Status, Failure: &failure}
}
