package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is one checkout: the aggregate root owning its per-seller orders.
// OrderID is the idempotency key and is unique across events.
type Event struct {
	ID            int64
	BuyerID       int64
	OrderID       string
	OrderName     string
	PaymentKey    string
	Type          Type
	Method        Method
	ApprovedAt    *time.Time
	IsPaymentDone bool
	Orders        []Order
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TotalAmount sums the amounts of every order in the event.
func (e Event) TotalAmount() int64 {
	total := decimal.Zero
	for _, o := range e.Orders {
		total = total.Add(o.Amount)
	}
	return total.IntPart()
}

// IsSuccess reports whether every order reached SUCCESS.
func (e Event) IsSuccess() bool { return e.allIn(StatusSuccess) }

// IsFailure reports whether every order reached FAILURE.
func (e Event) IsFailure() bool { return e.allIn(StatusFailure) }

// IsUnknown reports whether every order is UNKNOWN.
func (e Event) IsUnknown() bool { return e.allIn(StatusUnknown) }

func (e Event) allIn(status Status) bool {
	if len(e.Orders) == 0 {
		return false
	}
	for _, o := range e.Orders {
		if o.Status != status {
			return false
		}
	}
	return true
}

// Order is a single seller line item within an Event.
type Order struct {
	ID             int64
	PaymentEventID int64
	SellerID       int64
	ProductID      int64
	OrderID        string
	Amount         decimal.Decimal
	Status         Status
	FailedCount    int
	Threshold      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusHistory is an append-only audit record of one order transition.
type StatusHistory struct {
	ID             int64
	PaymentOrderID int64
	PreviousStatus Status
	NewStatus      Status
	Reason         string
	CreatedAt      time.Time
}

// PendingEvent is the recovery projection of an event with retryable orders.
type PendingEvent struct {
	PaymentEventID int64
	PaymentKey     string
	OrderID        string
	Orders         []PendingOrder
}

// TotalAmount sums the pending order amounts.
func (e PendingEvent) TotalAmount() int64 {
	total := decimal.Zero
	for _, o := range e.Orders {
		total = total.Add(o.Amount)
	}
	return total.IntPart()
}

// PendingOrder is the recovery projection of one order.
type PendingOrder struct {
	PaymentOrderID int64
	Status         Status
	Amount         decimal.Decimal
	FailedCount    int
	Threshold      int
}

// Product is the catalog view used to build orders at checkout.
type Product struct {
	ID       int64
	Amount   decimal.Decimal
	Quantity int
	Name     string
	SellerID int64
}
