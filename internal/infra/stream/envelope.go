// Package stream hands committed outbox messages to the message broker.
package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
)

// Envelope is the broker representation of an outbox message.
type Envelope struct {
	// IdempotencyKey and Type identify the originating outbox row.
	IdempotencyKey string
	Type           string
	CorrelationID  string
	Partition      int
	Payload        []byte
	Metadata       []byte
	CreatedAt      time.Time
}

// Receipt is the broker's acknowledgement of a published envelope.
type Receipt struct {
	MessageID string
	Partition int
}

// Delivery is an envelope read back from the broker.
type Delivery struct {
	Envelope
	MessageID string
}

// Broker publishes envelopes.
type Broker interface {
	Publish(ctx context.Context, env Envelope) (Receipt, error)
}

// Ack reports the result of one publish.
type Ack struct {
	IdempotencyKey string
	Type           outboxstore.MessageType
	CorrelationID  string
	Partition      int
	MessageID      string
	Err            error
}

// NewEnvelope converts an outbox message into an envelope. The correlation id
// is payload.orderId and the partition is metadata.partitionKey.
func NewEnvelope(msg outboxstore.Message) (Envelope, error) {
	if strings.TrimSpace(msg.IdempotencyKey) == "" {
		return Envelope{}, fmt.Errorf("stream: idempotency key required")
	}
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("stream: encode payload: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return Envelope{}, fmt.Errorf("stream: encode metadata: %w", err)
	}
	return Envelope{
		IdempotencyKey: msg.IdempotencyKey,
		Type:           string(msg.Type),
		CorrelationID:  msg.OrderID(),
		Partition:      msg.Partition(),
		Payload:        payload,
		Metadata:       metadata,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// DecodePayload unmarshals the envelope payload into a map.
func (e Envelope) DecodePayload() (map[string]any, error) {
	var out map[string]any
	if len(e.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return nil, fmt.Errorf("stream: decode payload: %w", err)
	}
	return out, nil
}
