// Package relay redelivers outbox messages that were not acknowledged by the broker.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/observability"
	"github.com/coachpo/paygate/internal/telemetry"
	"github.com/coachpo/paygate/lib/async"
)

const (
	defaultMinAge    = time.Minute
	defaultBatchSize = 1024
)

// ErrSweepInProgress is returned when Relay is called while a sweep is running.
var ErrSweepInProgress = errors.New("relay: sweep already in progress")

// Dispatcher accepts messages for publication.
type Dispatcher interface {
	Dispatch(msg outboxstore.Message) bool
}

// Option configures a Service.
type Option func(*Service)

// WithMinAge sets how old a row must be before a sweep picks it up.
func WithMinAge(age time.Duration) Option {
	return func(s *Service) {
		if age > 0 {
			s.minAge = age
		}
	}
}

// WithBatchSize bounds the rows loaded per sweep.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock overrides the clock used to compute the age cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records sweep outcomes on m.
func WithMetrics(m *telemetry.PaymentMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service sweeps pending outbox rows back into the dispatcher.
type Service struct {
	store      outboxstore.Store
	dispatcher Dispatcher
	minAge     time.Duration
	batchSize  int
	now        func() time.Time
	logger     observability.Logger
	metrics    *telemetry.PaymentMetrics

	running atomic.Bool
}

// NewService constructs a relay over store and dispatcher.
func NewService(store outboxstore.Store, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		minAge:     defaultMinAge,
		batchSize:  defaultBatchSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = observability.Or(s.logger)
	return s
}

// Relay dispatches every INIT or FAILURE confirmation row older than the
// minimum age and returns how many were accepted. Overlapping calls return
// ErrSweepInProgress without doing any work.
func (s *Service) Relay(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.RecordSweep(ctx, telemetry.ResultSkipped)
		return 0, ErrSweepInProgress
	}
	defer s.running.Store(false)

	msgs, err := s.store.ListPending(ctx, outboxstore.PendingQuery{
		Type:      outboxstore.TypePaymentConfirmationSuccess,
		OlderThan: s.now().Add(-s.minAge),
		Limit:     s.batchSize,
	})
	if err != nil {
		s.metrics.RecordSweep(ctx, telemetry.ResultFailure)
		return 0, fmt.Errorf("relay: list pending: %w", err)
	}
	accepted := 0
	for _, msg := range msgs {
		if s.dispatcher.Dispatch(msg) {
			accepted++
		}
	}
	s.metrics.RecordSweep(ctx, telemetry.ResultCompleted)
	if len(msgs) > 0 {
		s.logger.Info("outbox sweep dispatched messages",
			observability.F("pending", len(msgs)),
			observability.F("accepted", accepted))
	}
	return accepted, nil
}

// Run sweeps on a fixed delay until ctx is cancelled.
func (s *Service) Run(ctx context.Context, initialDelay, interval time.Duration) {
	async.FixedDelay(ctx, initialDelay, interval, func(ctx context.Context) {
		if _, err := s.Relay(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			s.logger.Error("outbox sweep failed", observability.Err(err))
		}
	})
}
