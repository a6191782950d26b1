// Package memory provides an in-process broker for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/coachpo/paygate/errs"
	"github.com/coachpo/paygate/internal/infra/stream"
)

const defaultSubscriberBuffer = 64

// Broker records published envelopes and fans them out to subscribers.
type Broker struct {
	mu          sync.Mutex
	seq         uint64
	published   []stream.Delivery
	failNext    int
	failErr     error
	subscribers map[uint64]chan stream.Delivery
	nextSub     uint64
	closed      bool
}

// New constructs an empty Broker.
func New() *Broker {
	return &Broker{subscribers: make(map[uint64]chan stream.Delivery)}
}

// FailNext makes the next n publishes fail with err.
func (b *Broker) FailNext(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = errs.New("broker/memory", errs.CodeUnavailable, errs.WithMessage("publish rejected"))
	}
	b.failNext = n
	b.failErr = err
}

// Publish stores env and delivers it to subscribers without blocking.
func (b *Broker) Publish(ctx context.Context, env stream.Envelope) (stream.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return stream.Receipt{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return stream.Receipt{}, errs.New("broker/memory", errs.CodeUnavailable, errs.WithMessage("broker closed"))
	}
	if b.failNext > 0 {
		b.failNext--
		return stream.Receipt{}, fmt.Errorf("broker/memory: publish %s: %w", env.IdempotencyKey, b.failErr)
	}
	b.seq++
	delivery := stream.Delivery{Envelope: env, MessageID: strconv.FormatUint(b.seq, 10) + "-0"}
	b.published = append(b.published, delivery)
	for _, ch := range b.subscribers {
		select {
		case ch <- delivery:
		default:
		}
	}
	return stream.Receipt{MessageID: delivery.MessageID, Partition: env.Partition}, nil
}

// Published returns a copy of everything published so far.
func (b *Broker) Published() []stream.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published)
}

// Subscribe returns a channel receiving future deliveries until ctx ends.
func (b *Broker) Subscribe(ctx context.Context) <-chan stream.Delivery {
	ch := make(chan stream.Delivery, defaultSubscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.nextSub++
	id := b.nextSub
	b.subscribers[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

func (b *Broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Close closes every subscriber channel and rejects further publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

var _ stream.Broker = (*Broker)(nil)
