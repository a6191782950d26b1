package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/paygate/internal/infra/persistence"
)

// Store exposes the PostgreSQL-backed payment and outbox repositories.
type Store struct {
	*persistence.Store
	payments *PaymentStore
	outbox   *OutboxStore
}

// New constructs a PostgreSQL persistence store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Store:    persistence.NewStore(pool),
		payments: NewPaymentStore(pool),
		outbox:   NewOutboxStore(pool),
	}
}

// Payments returns the payment repository.
func (s *Store) Payments() *PaymentStore {
	return s.payments
}

// Outbox returns the outbox repository.
func (s *Store) Outbox() *OutboxStore {
	return s.outbox
}
