package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
)

// PaymentStore persists payment events, orders and their status history.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore constructs a PaymentStore backed by the provided pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

const (
	eventInsertSQL = `
INSERT INTO payment_events (
    buyer_id,
    order_id,
    order_name,
    payment_key,
    type,
    method,
    is_payment_done
)
VALUES (@buyer_id, @order_id, @order_name, @payment_key, @type, @method, FALSE)
RETURNING id;
`

	paymentOrderInsertSQL = `
INSERT INTO payment_orders (
    payment_event_id,
    seller_id,
    product_id,
    order_id,
    amount,
    payment_order_status,
    threshold
)
VALUES (@payment_event_id, @seller_id, @product_id, @order_id, @amount, @status, @threshold);
`

	lockOrderStatusesSQL = `
SELECT id, payment_order_status
FROM payment_orders
WHERE order_id = @order_id
ORDER BY id
FOR UPDATE;
`

	historyInsertSQL = `
INSERT INTO payment_order_histories (payment_order_id, previous_status, new_status, reason)
VALUES (@payment_order_id, @previous_status, @new_status, @reason);
`

	orderStatusUpdateSQL = `
UPDATE payment_orders
SET payment_order_status = @status,
    updated_at = NOW()
WHERE order_id = @order_id
  AND payment_order_status NOT IN ('SUCCESS', 'FAILURE');
`

	paymentDoneUpdateSQL = `
UPDATE payment_events
SET is_payment_done = TRUE,
    updated_at = NOW()
WHERE order_id = @order_id;
`

	paymentKeyUpdateSQL = `
UPDATE payment_events
SET payment_key = @payment_key,
    updated_at = NOW()
WHERE order_id = @order_id;
`

	extraDetailsUpdateSQL = `
UPDATE payment_events
SET order_name = COALESCE(@order_name, order_name),
    method = @method,
    type = @type,
    approved_at = @approved_at,
    psp_raw_data = COALESCE(@psp_raw_data::jsonb, psp_raw_data),
    updated_at = NOW()
WHERE order_id = @order_id;
`

	failedCountIncrementSQL = `
UPDATE payment_orders
SET failed_count = failed_count + 1
WHERE order_id = @order_id
  AND payment_order_status NOT IN ('SUCCESS', 'FAILURE');
`

	outboxEnqueueSQL = `
INSERT INTO outboxes (
    idempotency_key,
    type,
    partition_key,
    payload,
    metadata,
    status
)
VALUES (@idempotency_key, @type, @partition_key, @payload::jsonb, @metadata::jsonb, 'INIT')
ON CONFLICT (idempotency_key, type) DO NOTHING;
`

	pendingOrdersSQL = `
WITH pending_events AS (
    SELECT DISTINCT po.payment_event_id
    FROM payment_orders po
    WHERE (
            po.payment_order_status = 'UNKNOWN'
            OR (po.payment_order_status = 'EXECUTING' AND po.updated_at <= @stale_before)
        )
      AND po.failed_count < po.threshold
    ORDER BY po.payment_event_id
    LIMIT @limit
)
SELECT
    pe.id,
    COALESCE(pe.payment_key, ''),
    pe.order_id,
    po.id,
    po.payment_order_status,
    po.amount::text,
    po.failed_count::int,
    po.threshold::int
FROM pending_events ev
JOIN payment_orders po ON po.payment_event_id = ev.payment_event_id
JOIN payment_events pe ON pe.id = po.payment_event_id
WHERE (
        po.payment_order_status = 'UNKNOWN'
        OR (po.payment_order_status = 'EXECUTING' AND po.updated_at <= @stale_before)
    )
  AND po.failed_count < po.threshold
ORDER BY pe.id, po.id;
`

	sumOrderAmountSQL = `
SELECT COALESCE(SUM(amount), 0)::text, COUNT(*)
FROM payment_orders
WHERE order_id = @order_id;
`

	eventSelectSQL = `
SELECT
    id,
    buyer_id,
    order_id,
    order_name,
    COALESCE(payment_key, ''),
    COALESCE(type, ''),
    COALESCE(method, ''),
    approved_at,
    is_payment_done,
    created_at,
    updated_at
FROM payment_events
WHERE order_id = @order_id;
`

	eventOrdersSelectSQL = `
SELECT
    id,
    payment_event_id,
    seller_id,
    product_id,
    order_id,
    amount::text,
    payment_order_status,
    failed_count::int,
    threshold::int,
    created_at,
    updated_at
FROM payment_orders
WHERE payment_event_id = @payment_event_id
ORDER BY id;
`

	historySelectSQL = `
SELECT
    h.id,
    h.payment_order_id,
    COALESCE(h.previous_status, ''),
    h.new_status,
    COALESCE(h.reason, ''),
    h.created_at
FROM payment_order_histories h
JOIN payment_orders po ON po.id = h.payment_order_id
WHERE po.order_id = @order_id
ORDER BY h.id;
`

	defaultPendingLimit = 10
	maxPendingLimit     = 500
	defaultStaleAfter   = 3 * time.Minute
	defaultThreshold    = 5
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type querier interface {
	execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type paymentTx struct {
	tx    pgx.Tx
	store *PaymentStore
}

func (s *PaymentStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("payment store: nil pool")
	}
	return s.pool, nil
}

// Save inserts the event and every order in one transaction.
func (s *PaymentStore) Save(ctx context.Context, event payment.Event) error {
	if strings.TrimSpace(event.OrderID) == "" {
		return fmt.Errorf("payment store: order id required")
	}
	if len(event.Orders) == 0 {
		return fmt.Errorf("payment store: at least one order required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	return runInTx(ctx, pool, "payment store", func(tx pgx.Tx) error {
		args := pgx.NamedArgs{
			"buyer_id":    event.BuyerID,
			"order_id":    event.OrderID,
			"order_name":  event.OrderName,
			"payment_key": nullableString(event.PaymentKey),
			"type":        nullableString(string(event.Type)),
			"method":      nullableString(string(event.Method)),
		}
		var eventID int64
		if err := tx.QueryRow(ctx, eventInsertSQL, args).Scan(&eventID); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("payment store: insert event %s: %w", event.OrderID, payment.ErrDuplicateOrder)
			}
			return fmt.Errorf("payment store: insert event: %w", err)
		}
		for _, order := range event.Orders {
			amount, err := numericFromDecimal(order.Amount)
			if err != nil {
				return fmt.Errorf("payment store: order amount: %w", err)
			}
			status := order.Status
			if status == "" {
				status = payment.StatusNotStarted
			}
			threshold := order.Threshold
			if threshold <= 0 {
				threshold = defaultThreshold
			}
			orderArgs := pgx.NamedArgs{
				"payment_event_id": eventID,
				"seller_id":        order.SellerID,
				"product_id":       order.ProductID,
				"order_id":         event.OrderID,
				"amount":           amount,
				"status":           string(status),
				"threshold":        threshold,
			}
			if _, err := tx.Exec(ctx, paymentOrderInsertSQL, orderArgs); err != nil {
				return fmt.Errorf("payment store: insert order: %w", err)
			}
		}
		return nil
	})
}

// WithTransaction executes the supplied callback within a database transaction.
func (s *PaymentStore) WithTransaction(ctx context.Context, fn func(context.Context, paymentstore.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("payment store: transaction callback required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	return runInTx(ctx, pool, "payment store", func(tx pgx.Tx) error {
		return fn(ctx, &paymentTx{tx: tx, store: s})
	})
}

// ListPending returns recovery candidates grouped by payment event.
func (s *PaymentStore) ListPending(ctx context.Context, query paymentstore.PendingQuery) ([]payment.PendingEvent, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	now := query.Now
	if now.IsZero() {
		now = time.Now()
	}
	stale := query.StaleAfter
	if stale <= 0 {
		stale = defaultStaleAfter
	}
	args := pgx.NamedArgs{
		"stale_before": now.Add(-stale),
		"limit":        clampLimit(query.Limit, defaultPendingLimit, maxPendingLimit),
	}
	rows, err := pool.Query(ctx, pendingOrdersSQL, args)
	if err != nil {
		return nil, fmt.Errorf("payment store: list pending: %w", err)
	}
	defer rows.Close()

	var (
		events []payment.PendingEvent
		index  = make(map[int64]int)
	)
	for rows.Next() {
		var (
			eventID    int64
			paymentKey string
			orderID    string
			order      payment.PendingOrder
			status     string
			amount     string
		)
		if err := rows.Scan(
			&eventID,
			&paymentKey,
			&orderID,
			&order.PaymentOrderID,
			&status,
			&amount,
			&order.FailedCount,
			&order.Threshold,
		); err != nil {
			return nil, fmt.Errorf("payment store: scan pending: %w", err)
		}
		if order.Status, err = payment.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("payment store: %w", err)
		}
		if order.Amount, err = decimalFromText(amount); err != nil {
			return nil, fmt.Errorf("payment store: %w", err)
		}
		pos, ok := index[eventID]
		if !ok {
			pos = len(events)
			index[eventID] = pos
			events = append(events, payment.PendingEvent{
				PaymentEventID: eventID,
				PaymentKey:     paymentKey,
				OrderID:        orderID,
			})
		}
		events[pos].Orders = append(events[pos].Orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment store: iterate pending: %w", err)
	}
	return events, nil
}

// SumOrderAmount returns the stored total for orderID.
func (s *PaymentStore) SumOrderAmount(ctx context.Context, orderID string) (decimal.Decimal, bool, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return decimal.Zero, false, err
	}
	var (
		total string
		count int64
	)
	if err := pool.QueryRow(ctx, sumOrderAmountSQL, pgx.NamedArgs{"order_id": orderID}).Scan(&total, &count); err != nil {
		return decimal.Zero, false, fmt.Errorf("payment store: sum amount: %w", err)
	}
	amount, err := decimalFromText(total)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("payment store: %w", err)
	}
	return amount, count > 0, nil
}

// FindEvent loads the event for orderID together with its orders.
func (s *PaymentStore) FindEvent(ctx context.Context, orderID string) (payment.Event, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return payment.Event{}, err
	}
	var (
		event      payment.Event
		eventType  string
		method     string
		approvedAt pgtype.Timestamptz
	)
	err = pool.QueryRow(ctx, eventSelectSQL, pgx.NamedArgs{"order_id": orderID}).Scan(
		&event.ID,
		&event.BuyerID,
		&event.OrderID,
		&event.OrderName,
		&event.PaymentKey,
		&eventType,
		&method,
		&approvedAt,
		&event.IsPaymentDone,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Event{}, fmt.Errorf("payment store: find %s: %w", orderID, payment.ErrEventNotFound)
	}
	if err != nil {
		return payment.Event{}, fmt.Errorf("payment store: find event: %w", err)
	}
	event.Type = payment.Type(eventType)
	event.Method = payment.Method(method)
	if approvedAt.Valid {
		t := approvedAt.Time
		event.ApprovedAt = &t
	}
	orders, err := s.listOrders(ctx, pool, event.ID)
	if err != nil {
		return payment.Event{}, err
	}
	event.Orders = orders
	return event, nil
}

func (s *PaymentStore) listOrders(ctx context.Context, q querier, eventID int64) ([]payment.Order, error) {
	rows, err := q.Query(ctx, eventOrdersSelectSQL, pgx.NamedArgs{"payment_event_id": eventID})
	if err != nil {
		return nil, fmt.Errorf("payment store: list orders: %w", err)
	}
	defer rows.Close()

	var orders []payment.Order
	for rows.Next() {
		var (
			order  payment.Order
			amount string
			status string
		)
		if err := rows.Scan(
			&order.ID,
			&order.PaymentEventID,
			&order.SellerID,
			&order.ProductID,
			&order.OrderID,
			&amount,
			&status,
			&order.FailedCount,
			&order.Threshold,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("payment store: scan order: %w", err)
		}
		if order.Amount, err = decimalFromText(amount); err != nil {
			return nil, fmt.Errorf("payment store: %w", err)
		}
		if order.Status, err = payment.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("payment store: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment store: iterate orders: %w", err)
	}
	return orders, nil
}

// ListHistory returns the status history of every order under orderID, oldest first.
func (s *PaymentStore) ListHistory(ctx context.Context, orderID string) ([]payment.StatusHistory, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, historySelectSQL, pgx.NamedArgs{"order_id": orderID})
	if err != nil {
		return nil, fmt.Errorf("payment store: list history: %w", err)
	}
	defer rows.Close()

	var history []payment.StatusHistory
	for rows.Next() {
		var (
			entry    payment.StatusHistory
			previous string
			next     string
		)
		if err := rows.Scan(&entry.ID, &entry.PaymentOrderID, &previous, &next, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("payment store: scan history: %w", err)
		}
		entry.PreviousStatus = payment.Status(previous)
		entry.NewStatus = payment.Status(next)
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment store: iterate history: %w", err)
	}
	return history, nil
}

func (t *paymentTx) LockOrderStatuses(ctx context.Context, orderID string) ([]paymentstore.OrderStatusRow, error) {
	if t == nil {
		return nil, fmt.Errorf("payment store: nil transaction")
	}
	rows, err := t.tx.Query(ctx, lockOrderStatusesSQL, pgx.NamedArgs{"order_id": orderID})
	if err != nil {
		return nil, fmt.Errorf("payment store: lock statuses: %w", err)
	}
	defer rows.Close()

	var out []paymentstore.OrderStatusRow
	for rows.Next() {
		var (
			row    paymentstore.OrderStatusRow
			status string
		)
		if err := rows.Scan(&row.PaymentOrderID, &status); err != nil {
			return nil, fmt.Errorf("payment store: scan status: %w", err)
		}
		if row.Status, err = payment.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("payment store: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment store: iterate statuses: %w", err)
	}
	return out, nil
}

func (t *paymentTx) AppendHistory(ctx context.Context, entries []payment.StatusHistory) error {
	if t == nil {
		return fmt.Errorf("payment store: nil transaction")
	}
	for _, entry := range entries {
		args := pgx.NamedArgs{
			"payment_order_id": entry.PaymentOrderID,
			"previous_status":  nullableString(string(entry.PreviousStatus)),
			"new_status":       string(entry.NewStatus),
			"reason":           entry.Reason,
		}
		if _, err := t.tx.Exec(ctx, historyInsertSQL, args); err != nil {
			return fmt.Errorf("payment store: insert history: %w", err)
		}
	}
	return nil
}

func (t *paymentTx) UpdateOrderStatus(ctx context.Context, orderID string, status payment.Status) (int64, error) {
	if t == nil {
		return 0, fmt.Errorf("payment store: nil transaction")
	}
	tag, err := t.tx.Exec(ctx, orderStatusUpdateSQL, pgx.NamedArgs{"order_id": orderID, "status": string(status)})
	if err != nil {
		return 0, fmt.Errorf("payment store: update status: %w", err)
	}
	if status == payment.StatusSuccess && tag.RowsAffected() > 0 {
		if _, err := t.tx.Exec(ctx, paymentDoneUpdateSQL, pgx.NamedArgs{"order_id": orderID}); err != nil {
			return 0, fmt.Errorf("payment store: mark payment done: %w", err)
		}
	}
	return tag.RowsAffected(), nil
}

func (t *paymentTx) UpdatePaymentKey(ctx context.Context, orderID, paymentKey string) error {
	if t == nil {
		return fmt.Errorf("payment store: nil transaction")
	}
	tag, err := t.tx.Exec(ctx, paymentKeyUpdateSQL, pgx.NamedArgs{"order_id": orderID, "payment_key": paymentKey})
	if err != nil {
		return fmt.Errorf("payment store: update payment key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment store: update payment key %s: %w", orderID, payment.ErrEventNotFound)
	}
	return nil
}

func (t *paymentTx) UpdateExtraDetails(ctx context.Context, orderID string, details payment.ExtraDetails) error {
	if t == nil {
		return fmt.Errorf("payment store: nil transaction")
	}
	var approvedAt any
	if !details.ApprovedAt.IsZero() {
		approvedAt = details.ApprovedAt
	}
	args := pgx.NamedArgs{
		"order_id":     orderID,
		"order_name":   nullableString(details.OrderName),
		"method":       nullableString(string(details.Method)),
		"type":         nullableString(string(details.Type)),
		"approved_at":  approvedAt,
		"psp_raw_data": nullableString(details.PSPRawData),
	}
	if _, err := t.tx.Exec(ctx, extraDetailsUpdateSQL, args); err != nil {
		return fmt.Errorf("payment store: update extra details: %w", err)
	}
	return nil
}

func (t *paymentTx) IncrementFailedCount(ctx context.Context, orderID string) error {
	if t == nil {
		return fmt.Errorf("payment store: nil transaction")
	}
	if _, err := t.tx.Exec(ctx, failedCountIncrementSQL, pgx.NamedArgs{"order_id": orderID}); err != nil {
		return fmt.Errorf("payment store: increment failed count: %w", err)
	}
	return nil
}

func (t *paymentTx) EnqueueOutbox(ctx context.Context, msg outboxstore.Message) error {
	if t == nil {
		return fmt.Errorf("payment store: nil transaction")
	}
	return enqueueOutboxWith(ctx, t.tx, msg)
}

func enqueueOutboxWith(ctx context.Context, exec execer, msg outboxstore.Message) error {
	if strings.TrimSpace(msg.IdempotencyKey) == "" {
		return fmt.Errorf("outbox store: idempotency key required")
	}
	payload, err := encodeJSON(msg.Payload)
	if err != nil {
		return fmt.Errorf("outbox store: encode payload: %w", err)
	}
	metadata, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("outbox store: encode metadata: %w", err)
	}
	args := pgx.NamedArgs{
		"idempotency_key": msg.IdempotencyKey,
		"type":            string(msg.Type),
		"partition_key":   msg.PartitionKey,
		"payload":         payload,
		"metadata":        metadata,
	}
	if _, err := exec.Exec(ctx, outboxEnqueueSQL, args); err != nil {
		return fmt.Errorf("outbox store: enqueue: %w", err)
	}
	return nil
}

func runInTx(ctx context.Context, pool *pgxpool.Pool, component string, fn func(pgx.Tx) error) error {
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite
	txOptions.DeferrableMode = pgx.NotDeferrable

	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", component, err)
	}
	if runErr := fn(tx); runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%s: rollback tx: %w (original error: %v)", component, rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%s: commit tx: %w", component, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

var _ paymentstore.Store = (*PaymentStore)(nil)
