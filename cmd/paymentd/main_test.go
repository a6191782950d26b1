package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
	"github.com/coachpo/paygate/internal/infra/config"
	"github.com/coachpo/paygate/internal/infra/stream"
	"github.com/coachpo/paygate/internal/observability"
)

func TestResolveConfigPath(t *testing.T) {
	require.Equal(t, "config/app.yaml", resolveConfigPath(""))
	require.Equal(t, "/etc/paygate.yaml", resolveConfigPath("/etc/paygate.yaml"))
}

func TestOpenMemoryStoresAndBroker(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Database.Driver = config.DriverMemory
	cfg.Relay.Broker = config.BrokerMemory

	stores, closeStores, err := openStores(ctx, observability.NopLogger(), cfg)
	require.NoError(t, err)
	defer closeStores()
	require.NotNil(t, stores.payments)
	require.NotNil(t, stores.outbox)

	broker, closeBroker, err := openBroker(ctx, observability.NopLogger(), cfg)
	require.NoError(t, err)
	defer closeBroker()

	dispatcher, err := stream.NewDispatcher(broker, stores.outbox)
	require.NoError(t, err)
	msg := outboxstore.NewConfirmationSuccess("order-1", cfg.Relay.Partitions)
	require.NoError(t, stores.payments.WithTransaction(ctx, func(ctx context.Context, tx paymentstore.Tx) error {
		return tx.EnqueueOutbox(ctx, msg)
	}))
	require.True(t, dispatcher.Dispatch(msg))
	require.Eventually(t, func() bool {
		pending, err := stores.outbox.ListPending(ctx, outboxstore.PendingQuery{
			Type:      outboxstore.TypePaymentConfirmationSuccess,
			OlderThan: time.Now().Add(time.Hour),
			Limit:     10,
		})
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, dispatcher.Close(ctx))
}

func TestGracefulShutdownRunsEveryStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { <-ctx.Done() })

	flushed := false
	performGracefulShutdown(context.Background(), observability.NopLogger(), gracefulShutdownConfig{
		server:        &http.Server{},
		serverTimeout: time.Second,
		mainCancel:    cancel,
		lifecycle:     &lifecycle,
		tracing: func(context.Context) error {
			flushed = true
			return nil
		},
	})
	require.Error(t, ctx.Err())
	require.True(t, flushed)
}
