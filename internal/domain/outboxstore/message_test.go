package outboxstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionKeyIsDeterministicAndBounded(t *testing.T) {
	for _, id := range []string{"a", "order-1", "5d41402a-bc4b-3a76-b971-9d911017c592"} {
		k := PartitionKey(id, DefaultPartitions)
		require.GreaterOrEqual(t, k, 0)
		require.Less(t, k, DefaultPartitions)
		require.Equal(t, k, PartitionKey(id, DefaultPartitions))
	}
	require.Equal(t, PartitionKey("x", 0), PartitionKey("x", DefaultPartitions))
}

func TestNewConfirmationSuccessShape(t *testing.T) {
	msg := NewConfirmationSuccess("order-1", DefaultPartitions)
	require.Equal(t, "order-1", msg.IdempotencyKey)
	require.Equal(t, TypePaymentConfirmationSuccess, msg.Type)
	require.Equal(t, StatusInit, msg.Status)
	require.Equal(t, "order-1", msg.OrderID())
	require.Equal(t, msg.PartitionKey, msg.Partition())
}

func TestPartitionReadsDecodedMetadata(t *testing.T) {
	msg := Message{IdempotencyKey: "k", Metadata: map[string]any{"partitionKey": float64(4)}, PartitionKey: 1}
	require.Equal(t, 4, msg.Partition())
	msg.Metadata = nil
	require.Equal(t, 1, msg.Partition())
	require.Equal(t, "k", msg.OrderID())
}

func TestParseEnums(t *testing.T) {
	_, err := ParseMessageType("PAYMENT_CONFIRMATION_SUCCESS")
	require.NoError(t, err)
	_, err = ParseMessageType("OTHER")
	require.Error(t, err)
	s, err := ParseMessageStatus("FAILURE")
	require.NoError(t, err)
	require.Equal(t, StatusFailure, s)
}
