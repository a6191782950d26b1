package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
)

const defaultOutboxLimit = 128

// OutboxStore is the in-memory outbox repository.
type OutboxStore struct {
	db *DB
}

func enqueue(st *state, msg outboxstore.Message, now time.Time) error {
	if strings.TrimSpace(msg.IdempotencyKey) == "" {
		return fmt.Errorf("outbox store: idempotency key required")
	}
	key := outboxKey{idempotencyKey: msg.IdempotencyKey, messageType: msg.Type}
	if _, exists := st.outbox[key]; exists {
		return nil
	}
	st.outboxSeq++
	msg.ID = st.outboxSeq
	msg.Status = outboxstore.StatusInit
	msg.Payload = maps.Clone(msg.Payload)
	msg.Metadata = maps.Clone(msg.Metadata)
	msg.CreatedAt = now
	msg.UpdatedAt = now
	st.outbox[key] = msg
	return nil
}

// Enqueue inserts msg outside of a payment transaction. Duplicate keys are ignored.
func (s *OutboxStore) Enqueue(_ context.Context, msg outboxstore.Message) error {
	return s.db.update(func(st *state) error {
		return enqueue(st, msg, s.db.now())
	})
}

// ListPending returns INIT and FAILURE rows created at or before OlderThan.
func (s *OutboxStore) ListPending(_ context.Context, query outboxstore.PendingQuery) ([]outboxstore.Message, error) {
	olderThan := query.OlderThan
	if olderThan.IsZero() {
		olderThan = s.db.now()
	}
	messageType := query.Type
	if messageType == "" {
		messageType = outboxstore.TypePaymentConfirmationSuccess
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	var out []outboxstore.Message
	s.db.view(func(st *state) {
		for _, msg := range st.outbox {
			if msg.Type != messageType || msg.Status == outboxstore.StatusSuccess || msg.CreatedAt.After(olderThan) {
				continue
			}
			out = append(out, msg)
		}
	})
	slices.SortFunc(out, func(a, b outboxstore.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSent flags a row as delivered.
func (s *OutboxStore) MarkSent(_ context.Context, idempotencyKey string, messageType outboxstore.MessageType) error {
	return s.transition(idempotencyKey, messageType, outboxstore.StatusSuccess)
}

// MarkFailed flags a row for redelivery unless it was already delivered.
func (s *OutboxStore) MarkFailed(_ context.Context, idempotencyKey string, messageType outboxstore.MessageType) error {
	return s.transition(idempotencyKey, messageType, outboxstore.StatusFailure)
}

func (s *OutboxStore) transition(idempotencyKey string, messageType outboxstore.MessageType, next outboxstore.MessageStatus) error {
	return s.db.update(func(st *state) error {
		key := outboxKey{idempotencyKey: idempotencyKey, messageType: messageType}
		msg, ok := st.outbox[key]
		if !ok {
			return fmt.Errorf("outbox store: %s: %w", idempotencyKey, outboxstore.ErrNotFound)
		}
		if msg.Status == outboxstore.StatusSuccess {
			return nil
		}
		msg.Status = next
		msg.UpdatedAt = s.db.now()
		st.outbox[key] = msg
		return nil
	})
}

// Find returns the row for the key and type.
func (s *OutboxStore) Find(_ context.Context, idempotencyKey string, messageType outboxstore.MessageType) (outboxstore.Message, error) {
	var (
		msg outboxstore.Message
		ok  bool
	)
	s.db.view(func(st *state) {
		msg, ok = st.outbox[outboxKey{idempotencyKey: idempotencyKey, messageType: messageType}]
	})
	if !ok {
		return outboxstore.Message{}, fmt.Errorf("outbox store: find %s: %w", idempotencyKey, outboxstore.ErrNotFound)
	}
	return msg, nil
}

var _ outboxstore.Store = (*OutboxStore)(nil)
