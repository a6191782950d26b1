package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
	"github.com/coachpo/paygate/internal/infra/persistence/migrations"
	pgstore "github.com/coachpo/paygate/internal/infra/persistence/postgres"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	setupErr = startDatabase(ctx)
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	}
	exitCode := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func startDatabase(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "paygate"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("start postgres container: %w", err)
	}
	pgContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/paygate?sslmode=disable", host, port.Port())

	if err := migrations.ApplyEmbedded(ctx, dsn, nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func requireDatabase(t *testing.T) {
	t.Helper()
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
}

func newEvent(amounts ...int64) payment.Event {
	orderID := uuid.NewString()
	event := payment.Event{
		BuyerID:   1,
		OrderID:   orderID,
		OrderName: "test_product_1",
	}
	for i, amount := range amounts {
		event.Orders = append(event.Orders, payment.Order{
			SellerID:  1,
			ProductID: int64(i + 1),
			OrderID:   orderID,
			Amount:    decimal.NewFromInt(amount),
			Status:    payment.StatusNotStarted,
		})
	}
	return event
}

func transition(t *testing.T, store *pgstore.PaymentStore, orderID string, next payment.Status, reason string) int64 {
	t.Helper()
	var changed int64
	err := store.WithTransaction(context.Background(), func(ctx context.Context, tx paymentstore.Tx) error {
		rows, err := tx.LockOrderStatuses(ctx, orderID)
		if err != nil {
			return err
		}
		history := make([]payment.StatusHistory, 0, len(rows))
		for _, row := range rows {
			if row.Status.IsTerminal() {
				continue
			}
			history = append(history, payment.StatusHistory{
				PaymentOrderID: row.PaymentOrderID,
				PreviousStatus: row.Status,
				NewStatus:      next,
				Reason:         reason,
			})
		}
		if err := tx.AppendHistory(ctx, history); err != nil {
			return err
		}
		changed, err = tx.UpdateOrderStatus(ctx, orderID, next)
		return err
	})
	require.NoError(t, err)
	return changed
}

func TestPaymentStoreSaveAndFind(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	store := pgstore.NewPaymentStore(testPool)

	event := newEvent(10000, 20000)
	require.NoError(t, store.Save(ctx, event))

	err := store.Save(ctx, event)
	require.ErrorIs(t, err, payment.ErrDuplicateOrder)

	total, found, err := store.SumOrderAmount(ctx, event.OrderID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, total.Equal(decimal.NewFromInt(30000)))

	_, found, err = store.SumOrderAmount(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	loaded, err := store.FindEvent(ctx, event.OrderID)
	require.NoError(t, err)
	require.Len(t, loaded.Orders, 2)
	require.Equal(t, int64(30000), loaded.TotalAmount())
	require.False(t, loaded.IsPaymentDone)
	for _, order := range loaded.Orders {
		require.Equal(t, payment.StatusNotStarted, order.Status)
		require.Zero(t, order.FailedCount)
		require.Equal(t, 5, order.Threshold)
	}

	_, err = store.FindEvent(ctx, "missing")
	require.ErrorIs(t, err, payment.ErrEventNotFound)
}

func TestPaymentStoreTerminalStatusIsFinal(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	store := pgstore.NewPaymentStore(testPool)

	event := newEvent(10000, 20000)
	require.NoError(t, store.Save(ctx, event))

	require.Equal(t, int64(2), transition(t, store, event.OrderID, payment.StatusExecuting, payment.ReasonConfirmationStart))
	require.Equal(t, int64(2), transition(t, store, event.OrderID, payment.StatusSuccess, payment.ReasonConfirmationDone))
	require.Zero(t, transition(t, store, event.OrderID, payment.StatusFailure, "late"))

	loaded, err := store.FindEvent(ctx, event.OrderID)
	require.NoError(t, err)
	require.True(t, loaded.IsSuccess())
	require.True(t, loaded.IsPaymentDone)

	history, err := store.ListHistory(ctx, event.OrderID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, payment.StatusNotStarted, history[0].PreviousStatus)
	require.Equal(t, payment.ReasonConfirmationStart, history[0].Reason)
}

func TestPaymentStoreExtraDetailsAndOutbox(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	store := pgstore.New(testPool)
	payments := store.Payments()

	event := newEvent(10000)
	require.NoError(t, payments.Save(ctx, event))

	approvedAt := time.Now().UTC().Truncate(time.Second)
	msg := outboxstore.NewConfirmationSuccess(event.OrderID, outboxstore.DefaultPartitions)
	err := payments.WithTransaction(ctx, func(ctx context.Context, tx paymentstore.Tx) error {
		if err := tx.UpdatePaymentKey(ctx, event.OrderID, "pk-1"); err != nil {
			return err
		}
		if err := tx.UpdateExtraDetails(ctx, event.OrderID, payment.ExtraDetails{
			Type:       payment.TypeNormal,
			Method:     payment.MethodCard,
			ApprovedAt: approvedAt,
			OrderName:  "renamed",
			PSPRawData: `{"status":"DONE"}`,
		}); err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, msg)
	})
	require.NoError(t, err)

	loaded, err := payments.FindEvent(ctx, event.OrderID)
	require.NoError(t, err)
	require.Equal(t, "pk-1", loaded.PaymentKey)
	require.Equal(t, payment.MethodCard, loaded.Method)
	require.Equal(t, "renamed", loaded.OrderName)
	require.NotNil(t, loaded.ApprovedAt)
	require.True(t, approvedAt.Equal(*loaded.ApprovedAt))

	stored, err := store.Outbox().Find(ctx, event.OrderID, outboxstore.TypePaymentConfirmationSuccess)
	require.NoError(t, err)
	require.Equal(t, outboxstore.StatusInit, stored.Status)
	require.Equal(t, event.OrderID, stored.OrderID())
	require.Equal(t, msg.PartitionKey, stored.Partition())
}

func TestPaymentStoreRollbackDiscardsWrites(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	store := pgstore.NewPaymentStore(testPool)

	event := newEvent(10000)
	require.NoError(t, store.Save(ctx, event))

	boom := errors.New("boom")
	err := store.WithTransaction(ctx, func(ctx context.Context, tx paymentstore.Tx) error {
		if _, err := tx.UpdateOrderStatus(ctx, event.OrderID, payment.StatusExecuting); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := store.FindEvent(ctx, event.OrderID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusNotStarted, loaded.Orders[0].Status)
}

func TestPaymentStoreListPending(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	store := pgstore.NewPaymentStore(testPool)

	unknown := newEvent(10000, 20000)
	require.NoError(t, store.Save(ctx, unknown))
	transition(t, store, unknown.OrderID, payment.StatusUnknown, "unknown")

	executing := newEvent(30000)
	require.NoError(t, store.Save(ctx, executing))
	transition(t, store, executing.OrderID, payment.StatusExecuting, payment.ReasonConfirmationStart)

	exhausted := newEvent(40000)
	require.NoError(t, store.Save(ctx, exhausted))
	transition(t, store, exhausted.OrderID, payment.StatusUnknown, "unknown")
	for i := 0; i < 5; i++ {
		require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context, tx paymentstore.Tx) error {
			return tx.IncrementFailedCount(ctx, exhausted.OrderID)
		}))
	}

	pending, err := store.ListPending(ctx, paymentstore.PendingQuery{Limit: 500, StaleAfter: 3 * time.Minute})
	require.NoError(t, err)
	byOrder := make(map[string]payment.PendingEvent)
	for _, event := range pending {
		byOrder[event.OrderID] = event
	}
	require.Contains(t, byOrder, unknown.OrderID)
	require.Len(t, byOrder[unknown.OrderID].Orders, 2)
	require.Equal(t, int64(30000), byOrder[unknown.OrderID].TotalAmount())
	require.NotContains(t, byOrder, executing.OrderID)
	require.NotContains(t, byOrder, exhausted.OrderID)

	later, err := store.ListPending(ctx, paymentstore.PendingQuery{
		Limit:      500,
		StaleAfter: 3 * time.Minute,
		Now:        time.Now().Add(4 * time.Minute),
	})
	require.NoError(t, err)
	found := false
	for _, event := range later {
		if event.OrderID == executing.OrderID {
			found = true
		}
	}
	require.True(t, found, "stale executing order should be recovered")
}

func TestPaymentStoreListPendingLimitsEvents(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	store := pgstore.NewPaymentStore(testPool)

	// Isolate from rows left by other tests: only events created here are inspected.
	saved := make(map[string]bool)
	for i := 0; i < 4; i++ {
		e := newEvent(10000, 20000, 30000)
		require.NoError(t, store.Save(ctx, e))
		transition(t, store, e.OrderID, payment.StatusUnknown, "unknown")
		saved[e.OrderID] = true
	}

	pending, err := store.ListPending(ctx, paymentstore.PendingQuery{Limit: 500, StaleAfter: 3 * time.Minute})
	require.NoError(t, err)
	seen := 0
	for _, event := range pending {
		if !saved[event.OrderID] {
			continue
		}
		seen++
		require.Len(t, event.Orders, 3)
		require.Equal(t, int64(60000), event.TotalAmount())
	}
	require.Equal(t, 4, seen)

	limited, err := store.ListPending(ctx, paymentstore.PendingQuery{Limit: 2, StaleAfter: 3 * time.Minute})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	for _, event := range limited {
		require.NotEmpty(t, event.Orders)
		stored, err := store.FindEvent(ctx, event.OrderID)
		require.NoError(t, err)
		pendingInStore := 0
		for _, o := range stored.Orders {
			if o.Status == payment.StatusUnknown && o.FailedCount < o.Threshold {
				pendingInStore++
			}
		}
		require.Len(t, event.Orders, pendingInStore)
	}
}

func TestOutboxStoreLifecycle(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	store := pgstore.NewOutboxStore(testPool)

	orderID := uuid.NewString()
	msg := outboxstore.NewConfirmationSuccess(orderID, outboxstore.DefaultPartitions)
	require.NoError(t, store.Enqueue(ctx, msg))

	pending, err := store.ListPending(ctx, outboxstore.PendingQuery{
		Type:      outboxstore.TypePaymentConfirmationSuccess,
		OlderThan: time.Now().Add(time.Minute),
		Limit:     1024,
	})
	require.NoError(t, err)
	require.True(t, containsKey(pending, orderID))

	fresh, err := store.ListPending(ctx, outboxstore.PendingQuery{
		Type:      outboxstore.TypePaymentConfirmationSuccess,
		OlderThan: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.False(t, containsKey(fresh, orderID))

	require.NoError(t, store.MarkFailed(ctx, orderID, outboxstore.TypePaymentConfirmationSuccess))
	stored, err := store.Find(ctx, orderID, outboxstore.TypePaymentConfirmationSuccess)
	require.NoError(t, err)
	require.Equal(t, outboxstore.StatusFailure, stored.Status)

	require.NoError(t, store.MarkSent(ctx, orderID, outboxstore.TypePaymentConfirmationSuccess))
	require.NoError(t, store.MarkFailed(ctx, orderID, outboxstore.TypePaymentConfirmationSuccess))
	stored, err = store.Find(ctx, orderID, outboxstore.TypePaymentConfirmationSuccess)
	require.NoError(t, err)
	require.Equal(t, outboxstore.StatusSuccess, stored.Status)

	err = store.MarkSent(ctx, "missing", outboxstore.TypePaymentConfirmationSuccess)
	require.ErrorIs(t, err, outboxstore.ErrNotFound)
	_, err = store.Find(ctx, "missing", outboxstore.TypePaymentConfirmationSuccess)
	require.ErrorIs(t, err, outboxstore.ErrNotFound)
}

func containsKey(messages []outboxstore.Message, key string) bool {
	for _, msg := range messages {
		if msg.IdempotencyKey == key {
			return true
		}
	}
	return false
}
