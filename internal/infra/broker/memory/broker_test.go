package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/paygate/internal/infra/stream"
)

func TestPublishRecordsAndDelivers(t *testing.T) {
	b := New()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	receipt, err := b.Publish(context.Background(), stream.Envelope{IdempotencyKey: "k", Partition: 3})
	require.NoError(t, err)
	require.Equal(t, "1-0", receipt.MessageID)
	require.Equal(t, 3, receipt.Partition)

	select {
	case d := <-sub:
		require.Equal(t, "k", d.IdempotencyKey)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
	require.Len(t, b.Published(), 1)
}

func TestFailNext(t *testing.T) {
	b := New()
	boom := errors.New("boom")
	b.FailNext(1, boom)
	_, err := b.Publish(context.Background(), stream.Envelope{IdempotencyKey: "k"})
	require.ErrorIs(t, err, boom)
	_, err = b.Publish(context.Background(), stream.Envelope{IdempotencyKey: "k"})
	require.NoError(t, err)
	require.Len(t, b.Published(), 1)
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	cancel()
	select {
	case _, ok := <-sub:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected subscription to close")
	}
}

func TestClosedBrokerRejectsPublish(t *testing.T) {
	b := New()
	b.Close()
	_, err := b.Publish(context.Background(), stream.Envelope{IdempotencyKey: "k"})
	require.Error(t, err)
}
