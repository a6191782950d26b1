package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
	"github.com/coachpo/paygate/internal/observability"
	"github.com/coachpo/paygate/internal/telemetry"
	"github.com/coachpo/paygate/lib/async"
)

const (
	defaultRecoveryBatch       = 10
	defaultRecoveryStaleAfter  = 3 * time.Minute
	defaultRecoveryParallelism = 2
)

// RecoveryConfig tunes the recovery job.
type RecoveryConfig struct {
	BatchSize   int
	StaleAfter  time.Duration
	Parallelism int
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultRecoveryBatch
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultRecoveryStaleAfter
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultRecoveryParallelism
	}
	return c
}

// RecoveryReport summarises one recovery run.
type RecoveryReport struct {
	Candidates int
	Succeeded  int
	Failed     int
	Unknown    int
	Panicked   int
	Err        error
}

func (r *RecoveryReport) add(status payment.Status) {
	switch status {
	case payment.StatusSuccess:
		r.Succeeded++
	case payment.StatusFailure:
		r.Failed++
	default:
		r.Unknown++
	}
}

// RecoveryOption configures a RecoveryService.
type RecoveryOption func(*RecoveryService)

// WithRecoveryLogger overrides the service logger.
func WithRecoveryLogger(logger observability.Logger) RecoveryOption {
	return func(s *RecoveryService) {
		s.logger = logger
	}
}

// WithRecoveryMetrics records recovery outcomes on m.
func WithRecoveryMetrics(m *telemetry.PaymentMetrics) RecoveryOption {
	return func(s *RecoveryService) {
		s.metrics = m
	}
}

// WithRecoveryClock overrides the clock used for staleness.
func WithRecoveryClock(now func() time.Time) RecoveryOption {
	return func(s *RecoveryService) {
		if now != nil {
			s.now = now
		}
	}
}

// RecoveryService retries orders left UNKNOWN or stuck EXECUTING.
type RecoveryService struct {
	pipeline
	store   paymentstore.Store
	cfg     RecoveryConfig
	now     func() time.Time
	logger  observability.Logger
	metrics *telemetry.PaymentMetrics
}

// NewRecoveryService wires the recovery job. It shares the confirmation
// pipeline but runs candidates on its own bounded goroutine pool.
func NewRecoveryService(store paymentstore.Store, committer *StatusCommitter, validator Validator, executor Executor, handler *ErrorHandler, cfg RecoveryConfig, opts ...RecoveryOption) *RecoveryService {
	s := &RecoveryService{
		pipeline: pipeline{
			committer: committer,
			validator: validator,
			executor:  executor,
			handler:   handler,
		},
		store: store,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = observability.Or(s.logger)
	return s
}

// Recover processes one batch of candidates. A failing or panicking
// candidate does not stop the others.
func (s *RecoveryService) Recover(ctx context.Context) RecoveryReport {
	events, err := s.store.ListPending(ctx, paymentstore.PendingQuery{
		Limit:      s.cfg.BatchSize,
		StaleAfter: s.cfg.StaleAfter,
		Now:        s.now(),
	})
	if err != nil {
		s.logger.Error("recovery candidates unavailable", observability.Err(err))
		return RecoveryReport{Err: fmt.Errorf("recovery: list pending: %w", err)}
	}
	report := RecoveryReport{Candidates: len(events)}
	s.metrics.RecordRecoveryBatch(ctx, len(events))
	if len(events) == 0 {
		return report
	}

	var (
		mu       sync.Mutex
		panicked []error
	)
	p := pool.New().WithMaxGoroutines(s.cfg.Parallelism)
	for _, event := range events {
		p.Go(func() {
			var catcher panics.Catcher
			var result payment.ConfirmationResult
			catcher.Try(func() { result = s.recoverOne(ctx, event) })
			mu.Lock()
			defer mu.Unlock()
			if r := catcher.Recovered(); r != nil {
				report.Panicked++
				panicked = append(panicked, fmt.Errorf("recover %s: %w", event.OrderID, r.AsError()))
				s.metrics.RecordRecovery(ctx, telemetry.ResultPanic, "")
				return
			}
			report.add(result.Status)
			code := ""
			if result.Failure != nil {
				code = result.Failure.Code
			}
			s.metrics.RecordRecovery(ctx, string(result.Status), code)
		})
	}
	p.Wait()

	report.Err = observability.AggregateErrors(s.logger, "payment recovery", panicked)
	s.logger.Info("recovery run finished",
		observability.F("candidates", report.Candidates),
		observability.F("succeeded", report.Succeeded),
		observability.F("failed", report.Failed),
		observability.F("unknown", report.Unknown),
		observability.F("panicked", report.Panicked))
	return report
}

func (s *RecoveryService) recoverOne(ctx context.Context, event payment.PendingEvent) payment.ConfirmationResult {
	cmd := payment.ConfirmCommand{
		PaymentKey: event.PaymentKey,
		OrderID:    event.OrderID,
		Amount:     event.TotalAmount(),
	}
	return s.settle(ctx, cmd, true)
}

// Run calls Recover on a fixed delay until ctx is cancelled.
func (s *RecoveryService) Run(ctx context.Context, initialDelay, interval time.Duration) {
	async.FixedDelay(ctx, initialDelay, interval, func(ctx context.Context) {
		s.Recover(ctx)
	})
}
