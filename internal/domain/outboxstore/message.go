package outboxstore

import (
	"github.com/cespare/xxhash/v2"
)

// DefaultPartitions is the broker partition count used for partition keys.
const DefaultPartitions = 6

const (
	payloadOrderIDKey    = "orderId"
	metadataPartitionKey = "partitionKey"
)

// PartitionKey maps an order id onto one of n partitions. The hash is stable
// across processes and releases.
func PartitionKey(orderID string, n int) int {
	if n <= 0 {
		n = DefaultPartitions
	}
	return int(xxhash.Sum64String(orderID) % uint64(n))
}

// NewConfirmationSuccess builds the INIT outbox row announcing a confirmed order.
func NewConfirmationSuccess(orderID string, partitions int) Message {
	key := PartitionKey(orderID, partitions)
	return Message{
		IdempotencyKey: orderID,
		Type:           TypePaymentConfirmationSuccess,
		PartitionKey:   key,
		Payload:        map[string]any{payloadOrderIDKey: orderID},
		Metadata:       map[string]any{metadataPartitionKey: key},
		Status:         StatusInit,
	}
}

// OrderID returns payload.orderId, falling back to the idempotency key.
func (m Message) OrderID() string {
	if v, ok := m.Payload[payloadOrderIDKey].(string); ok && v != "" {
		return v
	}
	return m.IdempotencyKey
}

// Partition returns metadata.partitionKey, falling back to PartitionKey.
// Stored metadata decodes numbers as float64.
func (m Message) Partition() int {
	switch v := m.Metadata[metadataPartitionKey].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return m.PartitionKey
}
