package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrDuplicateOrder reports a checkout whose order id already exists.
	ErrDuplicateOrder = errors.New("payment: duplicate order id")
	// ErrEventNotFound reports an order id with no stored payment event.
	ErrEventNotFound = errors.New("payment: event not found")
)

// Failure codes carried in ConfirmationResult.Failure.Code.
const (
	FailureAlreadyProcessed = "PaymentAlreadyProcessed"
	FailureValidation       = "PaymentValidation"
	FailurePSPConfirmation  = "PSPConfirmation"
	FailureTimeout          = "Timeout"
	FailureUnclassified     = "Unclassified"
)

// AlreadyProcessedError is returned when an order already sits in a terminal state.
type AlreadyProcessedError struct {
	Status  Status
	OrderID string
}

func (e *AlreadyProcessedError) Error() string {
	switch e.Status {
	case StatusSuccess:
		return fmt.Sprintf("payment %s already processed successfully", e.OrderID)
	case StatusFailure:
		return fmt.Sprintf("payment %s already processed as failed", e.OrderID)
	default:
		return fmt.Sprintf("payment %s already processed: %s", e.OrderID, e.Status)
	}
}

// ValidationError is returned when the requested amount does not match the stored order.
type ValidationError struct {
	OrderID string
	Amount  int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payment %s is not valid for amount %d", e.OrderID, e.Amount)
}

// PSPError is a classified error response from the payment service provider.
type PSPError struct {
	Code       string
	Message    string
	Status     Status
	Retryable  bool
	HTTPStatus int
	cause      error
}

// NewPSPError builds a PSPError. The status must be SUCCESS, FAILURE or UNKNOWN.
func NewPSPError(code, message string, status Status, retryable bool, httpStatus int, cause error) *PSPError {
	if !status.IsOutcome() {
		status = StatusUnknown
	}
	return &PSPError{
		Code:       code,
		Message:    message,
		Status:     status,
		Retryable:  retryable,
		HTTPStatus: httpStatus,
		cause:      cause,
	}
}

func (e *PSPError) Error() string {
	return fmt.Sprintf("psp confirmation failed: code=%s message=%q status=%s retryable=%t", e.Code, e.Message, e.Status, e.Retryable)
}

func (e *PSPError) Unwrap() error { return e.cause }

// TimeoutError reports a transport-level timeout with no PSP response.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return e.Op + ": timeout"
	}
	return fmt.Sprintf("%s: timeout: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout marks the error for net.Error style checks.
func (e *TimeoutError) Timeout() bool { return true }

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Retryable reports whether err may succeed when the PSP call is repeated.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PSPError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return IsTimeout(err)
}

// Classification is the terminal mapping of a confirmation error.
type Classification struct {
	Status  Status
	Failure Failure
	// Persist is false when the outcome is already stored and must not be rewritten.
	Persist bool
}

// Classify maps any confirmation error onto the status to persist and the
// failure cause to report. Unrecognised errors map to UNKNOWN so the order
// stays eligible for recovery.
func Classify(err error) Classification {
	var (
		already    *AlreadyProcessedError
		validation *ValidationError
		psp        *PSPError
	)
	switch {
	case errors.As(err, &already):
		return Classification{
			Status:  already.Status,
			Failure: Failure{Code: FailureAlreadyProcessed, Message: already.Error()},
			Persist: false,
		}
	case errors.As(err, &validation):
		return Classification{
			Status:  StatusFailure,
			Failure: Failure{Code: FailureValidation, Message: validation.Error()},
			Persist: true,
		}
	case errors.As(err, &psp):
		return Classification{
			Status:  psp.Status,
			Failure: Failure{Code: FailurePSPConfirmation, Message: fmt.Sprintf("%s: %s", psp.Code, psp.Message)},
			Persist: true,
		}
	case IsTimeout(err):
		return Classification{
			Status:  StatusUnknown,
			Failure: Failure{Code: FailureTimeout, Message: errorMessage(err)},
			Persist: true,
		}
	default:
		return Classification{
			Status:  StatusUnknown,
			Failure: Failure{Code: FailureUnclassified, Message: errorMessage(err)},
			Persist: true,
		}
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
