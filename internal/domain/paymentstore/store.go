// Package paymentstore defines persistence contracts for payment events,
// their orders and the status history.
package paymentstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/payment"
)

// OrderStatusRow is a locked view of one order's current status.
type OrderStatusRow struct {
	PaymentOrderID int64
	Status         payment.Status
}

// Tx exposes the writes that must happen atomically with a status change.
type Tx interface {
	// LockOrderStatuses returns every order under orderID, locking them until the transaction ends.
	LockOrderStatuses(ctx context.Context, orderID string) ([]OrderStatusRow, error)
	AppendHistory(ctx context.Context, entries []payment.StatusHistory) error
	// UpdateOrderStatus changes non-terminal orders only and returns the number changed.
	UpdateOrderStatus(ctx context.Context, orderID string, status payment.Status) (int64, error)
	UpdatePaymentKey(ctx context.Context, orderID, paymentKey string) error
	UpdateExtraDetails(ctx context.Context, orderID string, details payment.ExtraDetails) error
	IncrementFailedCount(ctx context.Context, orderID string) error
	// EnqueueOutbox inserts msg unless a row with the same key and type exists.
	EnqueueOutbox(ctx context.Context, msg outboxstore.Message) error
}

// PendingQuery selects orders for the recovery job.
type PendingQuery struct {
	// Limit caps the number of events; every qualifying order of a selected event is returned.
	Limit      int
	StaleAfter time.Duration
	Now        time.Time
}

// Store persists payment aggregates.
type Store interface {
	WithTransaction(ctx context.Context, fn func(context.Context, Tx) error) error
	// Save inserts the event and all of its orders. A reused order id yields payment.ErrDuplicateOrder.
	Save(ctx context.Context, event payment.Event) error
	// ListPending returns events with UNKNOWN orders, or EXECUTING orders idle
	// for StaleAfter, whose failed count is below their threshold.
	ListPending(ctx context.Context, query PendingQuery) ([]payment.PendingEvent, error)
	// SumOrderAmount returns the stored total for orderID and whether any order exists.
	SumOrderAmount(ctx context.Context, orderID string) (decimal.Decimal, bool, error)
	FindEvent(ctx context.Context, orderID string) (payment.Event, error)
	ListHistory(ctx context.Context, orderID string) ([]payment.StatusHistory, error)
}
