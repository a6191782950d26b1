package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
)

func TestOutboxStoreNilPool(t *testing.T) {
	store := NewOutboxStore(nil)
	ctx := context.Background()
	msg := outboxstore.NewConfirmationSuccess("order-1", outboxstore.DefaultPartitions)

	require.Error(t, store.Enqueue(ctx, msg))
	_, err := store.ListPending(ctx, outboxstore.PendingQuery{})
	require.Error(t, err)
	require.Error(t, store.MarkSent(ctx, "order-1", outboxstore.TypePaymentConfirmationSuccess))
	require.Error(t, store.MarkFailed(ctx, "order-1", outboxstore.TypePaymentConfirmationSuccess))
	_, err = store.Find(ctx, "order-1", outboxstore.TypePaymentConfirmationSuccess)
	require.Error(t, err)
}

func TestPaymentStoreNilPool(t *testing.T) {
	store := NewPaymentStore(nil)
	ctx := context.Background()

	require.Error(t, store.Save(ctx, payment.Event{OrderID: "o", Orders: []payment.Order{{}}}))
	require.Error(t, store.WithTransaction(ctx, func(context.Context, paymentstore.Tx) error { return nil }))
	_, err := store.ListPending(ctx, paymentstore.PendingQuery{})
	require.Error(t, err)
	_, _, err = store.SumOrderAmount(ctx, "o")
	require.Error(t, err)
	_, err = store.FindEvent(ctx, "o")
	require.Error(t, err)
	_, err = store.ListHistory(ctx, "o")
	require.Error(t, err)
}

func TestPaymentStoreSaveValidatesInput(t *testing.T) {
	store := NewPaymentStore(nil)
	require.ErrorContains(t, store.Save(context.Background(), payment.Event{}), "order id required")
	require.ErrorContains(t, store.Save(context.Background(), payment.Event{OrderID: "o"}), "at least one order")
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, 10, clampLimit(0, 10, 100))
	require.Equal(t, 100, clampLimit(1000, 10, 100))
	require.Equal(t, 42, clampLimit(42, 10, 100))
}

func TestNumericFromString(t *testing.T) {
	n, err := numericFromString("12.50")
	require.NoError(t, err)
	require.True(t, n.Valid)
	_, err = numericFromString(" ")
	require.Error(t, err)
}
