package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coachpo/paygate/internal/domain/paymentstore"
)

// Validator checks a confirmation amount against the stored order.
type Validator interface {
	IsValid(ctx context.Context, orderID string, amount int64) (bool, error)
}

// StoreValidator compares the amount with the stored sum of order amounts.
type StoreValidator struct {
	store paymentstore.Store
}

// NewStoreValidator constructs a StoreValidator over store.
func NewStoreValidator(store paymentstore.Store) *StoreValidator {
	return &StoreValidator{store: store}
}

// IsValid reports whether orderID exists and totals exactly amount.
func (v *StoreValidator) IsValid(ctx context.Context, orderID string, amount int64) (bool, error) {
	sum, found, err := v.store.SumOrderAmount(ctx, orderID)
	if err != nil {
		return false, err
	}
	return found && sum.Equal(decimal.NewFromInt(amount)), nil
}

var _ Validator = (*StoreValidator)(nil)
