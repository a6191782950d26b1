package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coachpo/paygate/errs"
	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/observability"
	"github.com/coachpo/paygate/internal/telemetry"
	"github.com/coachpo/paygate/lib/async"
)

const (
	defaultBufferSize     = 1024
	defaultPublishTimeout = 10 * time.Second
	defaultAckTimeout     = 5 * time.Second
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBufferSize sets the handoff queue capacity.
func WithBufferSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.bufferSize = size
		}
	}
}

// WithPublishTimeout bounds a single broker publish.
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// WithLogger overrides the dispatcher logger.
func WithLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics records dispatch outcomes on m.
func WithMetrics(m *telemetry.PaymentMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher moves committed outbox messages to the broker off the caller's
// goroutine. Messages are queued without blocking; a full queue drops the
// message and leaves its row for the relay sweep. A single sender publishes in
// queue order and a single-worker pool records each result in the store.
type Dispatcher struct {
	broker Broker
	store  outboxstore.Store

	bufferSize     int
	publishTimeout time.Duration
	logger         observability.Logger
	metrics        *telemetry.PaymentMetrics

	queue chan outboxstore.Message
	acks  *async.Pool

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher starts the sender goroutine and the ack worker.
func NewDispatcher(broker Broker, store outboxstore.Store, opts ...DispatcherOption) (*Dispatcher, error) {
	if broker == nil {
		return nil, errs.New("stream/dispatcher", errs.CodeInvalid, errs.WithMessage("broker required"))
	}
	if store == nil {
		return nil, errs.New("stream/dispatcher", errs.CodeInvalid, errs.WithMessage("outbox store required"))
	}
	d := &Dispatcher{
		broker:         broker,
		store:          store,
		bufferSize:     defaultBufferSize,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = observability.Or(d.logger)
	acks, err := async.NewPool(1, d.bufferSize, async.WithErrorHandler(func(err error) {
		d.logger.Error("outbox ack failed", observability.Err(err))
	}))
	if err != nil {
		return nil, fmt.Errorf("stream/dispatcher: ack pool: %w", err)
	}
	d.acks = acks
	d.queue = make(chan outboxstore.Message, d.bufferSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.wg.Add(1)
	go d.send()
	return d, nil
}

// Dispatch queues msg for publication. It never blocks and reports whether the
// message was accepted.
func (d *Dispatcher) Dispatch(msg outboxstore.Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.metrics.RecordDispatch(d.ctx, telemetry.ResultDropped)
		d.logger.Warn("outbox dispatch queue full, message left for relay",
			observability.F("idempotency_key", msg.IdempotencyKey))
		return false
	}
}

// Close stops the sender and waits for pending acks. Messages still queued are
// not published; their rows stay pending for the relay sweep.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	if err := d.acks.Shutdown(ctx); err != nil {
		return fmt.Errorf("stream/dispatcher: %w", err)
	}
	return nil
}

func (d *Dispatcher) send() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case msg := <-d.queue:
			d.publish(msg)
		}
	}
}

func (d *Dispatcher) publish(msg outboxstore.Message) {
	ack := Ack{IdempotencyKey: msg.IdempotencyKey, Type: msg.Type, CorrelationID: msg.OrderID(), Partition: msg.Partition()}
	env, err := NewEnvelope(msg)
	if err != nil {
		ack.Err = err
	} else {
		ctx, cancel := context.WithTimeout(d.ctx, d.publishTimeout)
		receipt, perr := d.broker.Publish(ctx, env)
		cancel()
		ack.MessageID = receipt.MessageID
		ack.Err = perr
	}
	if err := d.acks.Submit(context.Background(), func(context.Context) error { return d.record(ack) }); err != nil {
		d.logger.Warn("outbox ack dropped, message left for relay",
			observability.F("idempotency_key", ack.IdempotencyKey),
			observability.Err(err))
	}
}

func (d *Dispatcher) record(ack Ack) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultAckTimeout)
	defer cancel()
	if ack.Err != nil {
		d.metrics.RecordDispatch(ctx, telemetry.ResultFailure)
		d.logger.Warn("outbox publish failed",
			observability.F("idempotency_key", ack.IdempotencyKey),
			observability.F("partition", ack.Partition),
			observability.Err(ack.Err))
		if err := d.store.MarkFailed(ctx, ack.IdempotencyKey, ack.Type); err != nil {
			return fmt.Errorf("mark outbox %s failed: %w", ack.IdempotencyKey, err)
		}
		return nil
	}
	d.metrics.RecordDispatch(ctx, telemetry.ResultSent)
	if err := d.store.MarkSent(ctx, ack.IdempotencyKey, ack.Type); err != nil {
		return fmt.Errorf("mark outbox %s sent: %w", ack.IdempotencyKey, err)
	}
	d.logger.Debug("outbox message published",
		observability.F("idempotency_key", ack.IdempotencyKey),
		observability.F("message_id", ack.MessageID))
	return nil
}
