// Package outboxstore defines persistence contracts for durable event publishing.
package outboxstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound reports a missing outbox row.
var ErrNotFound = errors.New("outbox: message not found")

// MessageType identifies the kind of event carried by an outbox row.
type MessageType string

// TypePaymentConfirmationSuccess is published once an order set is confirmed.
const TypePaymentConfirmationSuccess MessageType = "PAYMENT_CONFIRMATION_SUCCESS"

// ParseMessageType converts a stored value into a MessageType.
func ParseMessageType(value string) (MessageType, error) {
	switch t := MessageType(strings.TrimSpace(value)); t {
	case TypePaymentConfirmationSuccess:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported outbox message type %q", value)
	}
}

// MessageStatus tracks delivery of an outbox row.
type MessageStatus string

const (
	StatusInit    MessageStatus = "INIT"
	StatusSuccess MessageStatus = "SUCCESS"
	StatusFailure MessageStatus = "FAILURE"
)

// ParseMessageStatus converts a stored value into a MessageStatus.
func ParseMessageStatus(value string) (MessageStatus, error) {
	switch s := MessageStatus(strings.TrimSpace(value)); s {
	case StatusInit, StatusSuccess, StatusFailure:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported outbox status %q", value)
	}
}

// Message is an outbox row. IdempotencyKey and Type identify it uniquely.
type Message struct {
	ID             int64
	IdempotencyKey string
	Type           MessageType
	PartitionKey   int
	Payload        map[string]any
	Metadata       map[string]any
	Status         MessageStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PendingQuery selects rows for redelivery.
type PendingQuery struct {
	Type      MessageType
	OlderThan time.Time
	Limit     int
}

// Store abstracts persistence operations for the outbox. Rows are inserted
// through the payment store transaction that commits the owning outcome.
type Store interface {
	// ListPending returns INIT or FAILURE rows of the given type created at or before OlderThan.
	ListPending(ctx context.Context, query PendingQuery) ([]Message, error)
	// MarkSent moves an INIT or FAILURE row to SUCCESS. It is a no-op for SUCCESS rows.
	MarkSent(ctx context.Context, idempotencyKey string, messageType MessageType) error
	// MarkFailed moves an INIT row to FAILURE. SUCCESS rows are never downgraded.
	MarkFailed(ctx context.Context, idempotencyKey string, messageType MessageType) error
	Find(ctx context.Context, idempotencyKey string, messageType MessageType) (Message, error)
}
