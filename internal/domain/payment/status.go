// Package payment defines the payment confirmation domain model.
package payment

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a payment order.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusExecuting  Status = "EXECUTING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
	StatusUnknown    Status = "UNKNOWN"
)

// ParseStatus converts a stored or wire value into a Status.
func ParseStatus(value string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(value))); s {
	case StatusNotStarted, StatusExecuting, StatusSuccess, StatusFailure, StatusUnknown:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported payment status %q", value)
	}
}

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// IsOutcome reports whether the status is a valid result of a confirmation attempt.
func (s Status) IsOutcome() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusUnknown
}

func (s Status) String() string { return string(s) }

const (
	// ReasonConfirmationStart is recorded on the transition to EXECUTING.
	ReasonConfirmationStart = "PAYMENT_CONFIRMATION_START"
	// ReasonConfirmationDone is recorded on the transition to SUCCESS.
	ReasonConfirmationDone = "PAYMENT_CONFIRMATION_DONE"
)
