// Package memory provides in-process payment and outbox stores. Transactions
// run against a private copy of the state which replaces the shared state on
// success, so a failed callback leaves no trace.
package memory

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/payment"
)

const defaultThreshold = 5

type outboxKey struct {
	idempotencyKey string
	messageType    outboxstore.MessageType
}

type state struct {
	events    map[string]*payment.Event
	history   []payment.StatusHistory
	outbox    map[outboxKey]outboxstore.Message
	eventSeq  int64
	orderSeq  int64
	histSeq   int64
	outboxSeq int64
}

func (s *state) clone() *state {
	out := &state{
		events:    make(map[string]*payment.Event, len(s.events)),
		history:   slices.Clone(s.history),
		outbox:    maps.Clone(s.outbox),
		eventSeq:  s.eventSeq,
		orderSeq:  s.orderSeq,
		histSeq:   s.histSeq,
		outboxSeq: s.outboxSeq,
	}
	for id, event := range s.events {
		copied := *event
		copied.Orders = slices.Clone(event.Orders)
		out.events[id] = &copied
	}
	return out
}

// DB is the shared state behind the memory stores.
type DB struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// Option customises a DB.
type Option func(*DB)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		if now != nil {
			db.now = now
		}
	}
}

// New constructs an empty DB.
func New(opts ...Option) *DB {
	db := &DB{
		state: &state{
			events: make(map[string]*payment.Event),
			outbox: make(map[outboxKey]outboxstore.Message),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Payments returns the payment store view of db.
func (db *DB) Payments() *PaymentStore {
	return &PaymentStore{db: db}
}

// Outbox returns the outbox store view of db.
func (db *DB) Outbox() *OutboxStore {
	return &OutboxStore{db: db}
}

func (db *DB) view(fn func(*state)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(db.state)
}

func (db *DB) update(fn func(*state) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	draft := db.state.clone()
	if err := fn(draft); err != nil {
		return err
	}
	db.state = draft
	return nil
}
