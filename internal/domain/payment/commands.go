package payment

import (
	"fmt"
	"strings"
	"time"
)

// ConfirmCommand asks the PSP to confirm an authorized payment.
type ConfirmCommand struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// Validate checks the command is complete.
func (c ConfirmCommand) Validate() error {
	if strings.TrimSpace(c.PaymentKey) == "" {
		return fmt.Errorf("paymentKey required")
	}
	if strings.TrimSpace(c.OrderID) == "" {
		return fmt.Errorf("orderId required")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("amount must be >0")
	}
	return nil
}

// CheckoutCommand creates a new payment event from a cart.
type CheckoutCommand struct {
	CartID     int64
	BuyerID    int64
	ProductIDs []int64
	Seed       string
}

// CheckoutResult describes the created event to the client.
type CheckoutResult struct {
	OrderID   string `json:"orderId"`
	OrderName string `json:"orderName"`
	Amount    int64  `json:"amount"`
}

// ExtraDetails carries what the PSP reported about a confirmed payment.
type ExtraDetails struct {
	Type                  Type
	Method                Method
	ApprovedAt            time.Time
	OrderName             string
	PSPConfirmationStatus PSPConfirmationStatus
	TotalAmount           int64
	PSPRawData            string
}

// Failure is the structured cause attached to a non-successful outcome.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f Failure) String() string {
	return fmt.Sprintf("Failure(code=%s, message=%s)", f.Code, f.Message)
}

// ExecutionResult is what the PSP executor returns on a completed call.
type ExecutionResult struct {
	PaymentKey   string
	OrderID      string
	Status       Status
	ExtraDetails *ExtraDetails
	Failure      *Failure
	Retryable    bool
}

// ConfirmationResult is the definitive answer returned to the client.
type ConfirmationResult struct {
	Status  Status   `json:"status"`
	Failure *Failure `json:"failure"`
}

// StatusUpdate is the command that commits a confirmation outcome.
type StatusUpdate struct {
	PaymentKey   string
	OrderID      string
	Status       Status
	ExtraDetails *ExtraDetails
	Failure      *Failure
	// CountFailure increments failed_count when Status is UNKNOWN.
	CountFailure bool
}

// UpdateFromResult builds the commit command for an execution result.
func UpdateFromResult(result ExecutionResult, countFailure bool) StatusUpdate {
	return StatusUpdate{
		PaymentKey:   result.PaymentKey,
		OrderID:      result.OrderID,
		Status:       result.Status,
		ExtraDetails: result.ExtraDetails,
		Failure:      result.Failure,
		CountFailure: countFailure,
	}
}

// Reason renders the history reason recorded for this update.
func (u StatusUpdate) Reason() string {
	if u.Status == StatusSuccess {
		return ReasonConfirmationDone
	}
	if u.Failure != nil {
		return u.Failure.String()
	}
	return string(u.Status)
}
