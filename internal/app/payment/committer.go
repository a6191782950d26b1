// Package payment orchestrates checkout, confirmation and recovery of payments.
package payment

import (
	"context"
	"fmt"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
	"github.com/coachpo/paygate/internal/observability"
)

// Dispatcher receives outbox messages once their transaction has committed.
type Dispatcher interface {
	Dispatch(msg outboxstore.Message) bool
}

// CommitterOption configures a StatusCommitter.
type CommitterOption func(*StatusCommitter)

// WithDispatcher hands committed success messages to d.
func WithDispatcher(d Dispatcher) CommitterOption {
	return func(c *StatusCommitter) {
		c.dispatcher = d
	}
}

// WithPartitions sets the partition count used for outbox partition keys.
func WithPartitions(n int) CommitterOption {
	return func(c *StatusCommitter) {
		if n > 0 {
			c.partitions = n
		}
	}
}

// WithCommitterLogger overrides the committer logger.
func WithCommitterLogger(logger observability.Logger) CommitterOption {
	return func(c *StatusCommitter) {
		c.logger = logger
	}
}

// StatusCommitter applies status transitions to every order of an event.
type StatusCommitter struct {
	store      paymentstore.Store
	dispatcher Dispatcher
	partitions int
	logger     observability.Logger
}

// NewStatusCommitter constructs a committer over store.
func NewStatusCommitter(store paymentstore.Store, opts ...CommitterOption) *StatusCommitter {
	c := &StatusCommitter{store: store, partitions: outboxstore.DefaultPartitions}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = observability.Or(c.logger)
	return c
}

func lockActive(ctx context.Context, tx paymentstore.Tx, orderID string) ([]paymentstore.OrderStatusRow, error) {
	rows, err := tx.LockOrderStatuses(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, payment.ErrEventNotFound
	}
	for _, status := range []payment.Status{payment.StatusSuccess, payment.StatusFailure} {
		for _, row := range rows {
			if row.Status == status {
				return nil, &payment.AlreadyProcessedError{Status: status, OrderID: orderID}
			}
		}
	}
	return rows, nil
}

func transitions(rows []paymentstore.OrderStatusRow, next payment.Status, reason string) []payment.StatusHistory {
	out := make([]payment.StatusHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, payment.StatusHistory{
			PaymentOrderID: row.PaymentOrderID,
			PreviousStatus: row.Status,
			NewStatus:      next,
			Reason:         reason,
		})
	}
	return out
}

// MarkExecuting moves every order of orderID to EXECUTING and stores the
// payment key. Terminal orders yield *payment.AlreadyProcessedError.
func (c *StatusCommitter) MarkExecuting(ctx context.Context, paymentKey, orderID string) error {
	err := c.store.WithTransaction(ctx, func(ctx context.Context, tx paymentstore.Tx) error {
		rows, err := lockActive(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, transitions(rows, payment.StatusExecuting, payment.ReasonConfirmationStart)); err != nil {
			return err
		}
		if _, err := tx.UpdateOrderStatus(ctx, orderID, payment.StatusExecuting); err != nil {
			return err
		}
		return tx.UpdatePaymentKey(ctx, orderID, paymentKey)
	})
	if err != nil {
		return fmt.Errorf("mark %s executing: %w", orderID, err)
	}
	return nil
}

// Commit records a confirmation outcome. A SUCCESS outcome enqueues the
// confirmation outbox message in the same transaction and dispatches it after
// the transaction commits.
func (c *StatusCommitter) Commit(ctx context.Context, update payment.StatusUpdate) error {
	if !update.Status.IsOutcome() {
		return fmt.Errorf("commit %s: status %s is not an outcome", update.OrderID, update.Status)
	}
	var msg *outboxstore.Message
	err := c.store.WithTransaction(ctx, func(ctx context.Context, tx paymentstore.Tx) error {
		rows, err := lockActive(ctx, tx, update.OrderID)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, transitions(rows, update.Status, update.Reason())); err != nil {
			return err
		}
		if _, err := tx.UpdateOrderStatus(ctx, update.OrderID, update.Status); err != nil {
			return err
		}
		switch update.Status {
		case payment.StatusSuccess:
			if update.ExtraDetails != nil {
				if err := tx.UpdateExtraDetails(ctx, update.OrderID, *update.ExtraDetails); err != nil {
					return err
				}
			}
			out := outboxstore.NewConfirmationSuccess(update.OrderID, c.partitions)
			if err := tx.EnqueueOutbox(ctx, out); err != nil {
				return err
			}
			msg = &out
		case payment.StatusUnknown:
			if update.CountFailure {
				return tx.IncrementFailedCount(ctx, update.OrderID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit %s %s: %w", update.OrderID, update.Status, err)
	}
	if msg != nil && c.dispatcher != nil && !c.dispatcher.Dispatch(*msg) {
		c.logger.Debug("confirmation event deferred to relay", observability.F("order_id", update.OrderID))
	}
	return nil
}
