package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
)

const (
	defaultPendingLimit = 10
	defaultStaleAfter   = 3 * time.Minute
)

// PaymentStore is the in-memory payment repository.
type PaymentStore struct {
	db *DB
}

// Save inserts the event and its orders.
func (s *PaymentStore) Save(_ context.Context, event payment.Event) error {
	if strings.TrimSpace(event.OrderID) == "" {
		return fmt.Errorf("payment store: order id required")
	}
	if len(event.Orders) == 0 {
		return fmt.Errorf("payment store: at least one order required")
	}
	return s.db.update(func(st *state) error {
		if _, exists := st.events[event.OrderID]; exists {
			return fmt.Errorf("payment store: insert event %s: %w", event.OrderID, payment.ErrDuplicateOrder)
		}
		now := s.db.now()
		st.eventSeq++
		stored := event
		stored.ID = st.eventSeq
		stored.IsPaymentDone = false
		stored.CreatedAt = now
		stored.UpdatedAt = now
		stored.Orders = make([]payment.Order, 0, len(event.Orders))
		for _, order := range event.Orders {
			st.orderSeq++
			order.ID = st.orderSeq
			order.PaymentEventID = stored.ID
			order.OrderID = event.OrderID
			if order.Status == "" {
				order.Status = payment.StatusNotStarted
			}
			if order.Threshold <= 0 {
				order.Threshold = defaultThreshold
			}
			order.FailedCount = 0
			order.CreatedAt = now
			order.UpdatedAt = now
			stored.Orders = append(stored.Orders, order)
		}
		st.events[event.OrderID] = &stored
		return nil
	})
}

// WithTransaction runs fn against a private copy of the state. Transactions are
// serialised and fn must not call back into the store.
func (s *PaymentStore) WithTransaction(ctx context.Context, fn func(context.Context, paymentstore.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("payment store: transaction callback required")
	}
	return s.db.update(func(st *state) error {
		return fn(ctx, &paymentTx{st: st, now: s.db.now})
	})
}

// ListPending returns recovery candidates grouped by event, oldest event first.
func (s *PaymentStore) ListPending(_ context.Context, query paymentstore.PendingQuery) ([]payment.PendingEvent, error) {
	now := query.Now
	if now.IsZero() {
		now = s.db.now()
	}
	stale := query.StaleAfter
	if stale <= 0 {
		stale = defaultStaleAfter
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	staleBefore := now.Add(-stale)

	var out []payment.PendingEvent
	s.db.view(func(st *state) {
		for _, event := range sortedEvents(st) {
			if len(out) >= limit {
				break
			}
			var pending *payment.PendingEvent
			for _, order := range event.Orders {
				if !recoverable(order, staleBefore) {
					continue
				}
				if pending == nil {
					out = append(out, payment.PendingEvent{
						PaymentEventID: event.ID,
						PaymentKey:     event.PaymentKey,
						OrderID:        event.OrderID,
					})
					pending = &out[len(out)-1]
				}
				pending.Orders = append(pending.Orders, payment.PendingOrder{
					PaymentOrderID: order.ID,
					Status:         order.Status,
					Amount:         order.Amount,
					FailedCount:    order.FailedCount,
					Threshold:      order.Threshold,
				})
			}
		}
	})
	return out, nil
}

func recoverable(order payment.Order, staleBefore time.Time) bool {
	if order.FailedCount >= order.Threshold {
		return false
	}
	switch order.Status {
	case payment.StatusUnknown:
		return true
	case payment.StatusExecuting:
		return !order.UpdatedAt.After(staleBefore)
	default:
		return false
	}
}

func sortedEvents(st *state) []*payment.Event {
	events := make([]*payment.Event, 0, len(st.events))
	for _, event := range st.events {
		events = append(events, event)
	}
	slices.SortFunc(events, func(a, b *payment.Event) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return events
}

// SumOrderAmount returns the stored total for orderID.
func (s *PaymentStore) SumOrderAmount(_ context.Context, orderID string) (decimal.Decimal, bool, error) {
	total := decimal.Zero
	found := false
	s.db.view(func(st *state) {
		event, ok := st.events[orderID]
		if !ok || len(event.Orders) == 0 {
			return
		}
		found = true
		for _, order := range event.Orders {
			total = total.Add(order.Amount)
		}
	})
	return total, found, nil
}

// FindEvent returns a copy of the event for orderID.
func (s *PaymentStore) FindEvent(_ context.Context, orderID string) (payment.Event, error) {
	var (
		out   payment.Event
		found bool
	)
	s.db.view(func(st *state) {
		event, ok := st.events[orderID]
		if !ok {
			return
		}
		found = true
		out = *event
		out.Orders = slices.Clone(event.Orders)
	})
	if !found {
		return payment.Event{}, fmt.Errorf("payment store: find %s: %w", orderID, payment.ErrEventNotFound)
	}
	return out, nil
}

// ListHistory returns the status history for orderID, oldest first.
func (s *PaymentStore) ListHistory(_ context.Context, orderID string) ([]payment.StatusHistory, error) {
	var out []payment.StatusHistory
	s.db.view(func(st *state) {
		event, ok := st.events[orderID]
		if !ok {
			return
		}
		ids := make(map[int64]struct{}, len(event.Orders))
		for _, order := range event.Orders {
			ids[order.ID] = struct{}{}
		}
		for _, entry := range st.history {
			if _, ok := ids[entry.PaymentOrderID]; ok {
				out = append(out, entry)
			}
		}
	})
	return out, nil
}

type paymentTx struct {
	st  *state
	now func() time.Time
}

func (t *paymentTx) event(orderID string) (*payment.Event, error) {
	event, ok := t.st.events[orderID]
	if !ok {
		return nil, fmt.Errorf("payment store: %s: %w", orderID, payment.ErrEventNotFound)
	}
	return event, nil
}

func (t *paymentTx) LockOrderStatuses(_ context.Context, orderID string) ([]paymentstore.OrderStatusRow, error) {
	event, ok := t.st.events[orderID]
	if !ok {
		return nil, nil
	}
	rows := make([]paymentstore.OrderStatusRow, 0, len(event.Orders))
	for _, order := range event.Orders {
		rows = append(rows, paymentstore.OrderStatusRow{PaymentOrderID: order.ID, Status: order.Status})
	}
	return rows, nil
}

func (t *paymentTx) AppendHistory(_ context.Context, entries []payment.StatusHistory) error {
	now := t.now()
	for _, entry := range entries {
		t.st.histSeq++
		entry.ID = t.st.histSeq
		entry.CreatedAt = now
		t.st.history = append(t.st.history, entry)
	}
	return nil
}

func (t *paymentTx) UpdateOrderStatus(_ context.Context, orderID string, status payment.Status) (int64, error) {
	event, ok := t.st.events[orderID]
	if !ok {
		return 0, nil
	}
	now := t.now()
	var changed int64
	for i := range event.Orders {
		if event.Orders[i].Status.IsTerminal() {
			continue
		}
		event.Orders[i].Status = status
		event.Orders[i].UpdatedAt = now
		changed++
	}
	if status == payment.StatusSuccess && changed > 0 {
		event.IsPaymentDone = true
		event.UpdatedAt = now
	}
	return changed, nil
}

func (t *paymentTx) UpdatePaymentKey(_ context.Context, orderID, paymentKey string) error {
	event, err := t.event(orderID)
	if err != nil {
		return err
	}
	event.PaymentKey = paymentKey
	event.UpdatedAt = t.now()
	return nil
}

func (t *paymentTx) UpdateExtraDetails(_ context.Context, orderID string, details payment.ExtraDetails) error {
	event, err := t.event(orderID)
	if err != nil {
		return err
	}
	if details.OrderName != "" {
		event.OrderName = details.OrderName
	}
	event.Method = details.Method
	event.Type = details.Type
	if details.ApprovedAt.IsZero() {
		event.ApprovedAt = nil
	} else {
		approvedAt := details.ApprovedAt
		event.ApprovedAt = &approvedAt
	}
	event.UpdatedAt = t.now()
	return nil
}

func (t *paymentTx) IncrementFailedCount(_ context.Context, orderID string) error {
	event, ok := t.st.events[orderID]
	if !ok {
		return nil
	}
	for i := range event.Orders {
		if event.Orders[i].Status.IsTerminal() {
			continue
		}
		event.Orders[i].FailedCount++
	}
	return nil
}

func (t *paymentTx) EnqueueOutbox(_ context.Context, msg outboxstore.Message) error {
	return enqueue(t.st, msg, t.now())
}

var _ paymentstore.Store = (*PaymentStore)(nil)
