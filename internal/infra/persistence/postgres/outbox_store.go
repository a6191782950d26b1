package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
)

// OutboxStore persists confirmation events awaiting broker delivery.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore constructs an OutboxStore backed by the provided pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

const (
	defaultOutboxLimit = 128
	maxOutboxLimit     = 1024
)

const (
	outboxColumns = `
    id,
    idempotency_key,
    type,
    partition_key,
    payload,
    metadata,
    status,
    created_at,
    updated_at`

	outboxListPendingSQL = `
SELECT` + outboxColumns + `
FROM outboxes
WHERE type = @type
  AND status IN ('INIT', 'FAILURE')
  AND created_at <= @older_than
ORDER BY created_at ASC, id ASC
LIMIT @limit;
`

	outboxFindSQL = `
SELECT` + outboxColumns + `
FROM outboxes
WHERE idempotency_key = @idempotency_key
  AND type = @type;
`

	outboxMarkSentSQL = `
UPDATE outboxes
SET status = 'SUCCESS',
    updated_at = NOW()
WHERE idempotency_key = @idempotency_key
  AND type = @type
  AND status <> 'SUCCESS';
`

	outboxMarkFailedSQL = `
UPDATE outboxes
SET status = 'FAILURE',
    updated_at = NOW()
WHERE idempotency_key = @idempotency_key
  AND type = @type
  AND status <> 'SUCCESS';
`

	outboxExistsSQL = `
SELECT EXISTS (
    SELECT 1 FROM outboxes WHERE idempotency_key = @idempotency_key AND type = @type
);
`
)

// Enqueue inserts msg outside of a payment transaction. Duplicate keys are ignored.
func (s *OutboxStore) Enqueue(ctx context.Context, msg outboxstore.Message) error {
	if s.pool == nil {
		return fmt.Errorf("outbox store: nil pool")
	}
	return enqueueOutboxWith(ctx, s.pool, msg)
}

// ListPending returns undelivered rows that are old enough to be replayed.
func (s *OutboxStore) ListPending(ctx context.Context, query outboxstore.PendingQuery) ([]outboxstore.Message, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("outbox store: nil pool")
	}
	olderThan := query.OlderThan
	if olderThan.IsZero() {
		olderThan = time.Now()
	}
	messageType := query.Type
	if messageType == "" {
		messageType = outboxstore.TypePaymentConfirmationSuccess
	}
	args := pgx.NamedArgs{
		"type":       string(messageType),
		"older_than": olderThan,
		"limit":      clampLimit(query.Limit, defaultOutboxLimit, maxOutboxLimit),
	}
	rows, err := s.pool.Query(ctx, outboxListPendingSQL, args)
	if err != nil {
		return nil, fmt.Errorf("outbox store: list pending: %w", err)
	}
	defer rows.Close()

	var messages []outboxstore.Message
	for rows.Next() {
		msg, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox store: iterate pending: %w", err)
	}
	return messages, nil
}

// MarkSent flags a row as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, idempotencyKey string, messageType outboxstore.MessageType) error {
	return s.transition(ctx, outboxMarkSentSQL, "mark sent", idempotencyKey, messageType)
}

// MarkFailed records a failed publish so the relay retries the row.
func (s *OutboxStore) MarkFailed(ctx context.Context, idempotencyKey string, messageType outboxstore.MessageType) error {
	return s.transition(ctx, outboxMarkFailedSQL, "mark failed", idempotencyKey, messageType)
}

func (s *OutboxStore) transition(ctx context.Context, sql, op, idempotencyKey string, messageType outboxstore.MessageType) error {
	if s.pool == nil {
		return fmt.Errorf("outbox store: nil pool")
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return fmt.Errorf("outbox store: %s: idempotency key required", op)
	}
	args := pgx.NamedArgs{"idempotency_key": key, "type": string(messageType)}
	tag, err := s.pool.Exec(ctx, sql, args)
	if err != nil {
		return fmt.Errorf("outbox store: %s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, outboxExistsSQL, args).Scan(&exists); err != nil {
		return fmt.Errorf("outbox store: %s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("outbox store: %s %s: %w", op, key, outboxstore.ErrNotFound)
	}
	return nil
}

// Find loads a single row by its idempotency key and type.
func (s *OutboxStore) Find(ctx context.Context, idempotencyKey string, messageType outboxstore.MessageType) (outboxstore.Message, error) {
	if s.pool == nil {
		return outboxstore.Message{}, fmt.Errorf("outbox store: nil pool")
	}
	row := s.pool.QueryRow(ctx, outboxFindSQL, pgx.NamedArgs{
		"idempotency_key": idempotencyKey,
		"type":            string(messageType),
	})
	msg, err := scanOutboxMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return outboxstore.Message{}, fmt.Errorf("outbox store: find %s: %w", idempotencyKey, outboxstore.ErrNotFound)
	}
	return msg, err
}

func scanOutboxMessage(row rowScanner) (outboxstore.Message, error) {
	var (
		msg          outboxstore.Message
		messageType  string
		status       string
		payloadJSON  []byte
		metadataJSON []byte
	)
	if err := row.Scan(
		&msg.ID,
		&msg.IdempotencyKey,
		&messageType,
		&msg.PartitionKey,
		&payloadJSON,
		&metadataJSON,
		&status,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return outboxstore.Message{}, fmt.Errorf("outbox store: scan message: %w", err)
	}
	var err error
	if msg.Type, err = outboxstore.ParseMessageType(messageType); err != nil {
		return outboxstore.Message{}, fmt.Errorf("outbox store: %w", err)
	}
	if msg.Status, err = outboxstore.ParseMessageStatus(status); err != nil {
		return outboxstore.Message{}, fmt.Errorf("outbox store: %w", err)
	}
	if msg.Payload, err = decodeJSON(payloadJSON); err != nil {
		return outboxstore.Message{}, fmt.Errorf("outbox store: decode payload: %w", err)
	}
	if msg.Metadata, err = decodeJSON(metadataJSON); err != nil {
		return outboxstore.Message{}, fmt.Errorf("outbox store: decode metadata: %w", err)
	}
	return msg, nil
}

var _ outboxstore.Store = (*OutboxStore)(nil)
