// Package redisstream publishes outbox envelopes to Redis Streams, one stream
// per partition.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coachpo/paygate/errs"
	"github.com/coachpo/paygate/internal/infra/stream"
)

const (
	// DefaultStream is the stream name prefix; partitions are appended as ":<n>".
	DefaultStream = "paygate:payment-confirmation"

	fieldIdempotencyKey = "idempotency_key"
	fieldCorrelationID  = "correlation_id"
	fieldType           = "type"
	fieldPayload        = "payload"
	fieldMetadata       = "metadata"
	fieldCreatedAt      = "created_at"

	defaultReadCount = 100
	defaultBlock     = 5 * time.Second
)

// Config describes the Redis connection and stream layout.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen approximately caps each partition stream. Zero keeps everything.
	MaxLen int64
}

// NewClient creates a Redis client for cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func streamPrefix(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return DefaultStream
}

// StreamKey returns the stream holding partition.
func StreamKey(prefix string, partition int) string {
	return streamPrefix(prefix) + ":" + strconv.Itoa(partition)
}

// Publisher appends envelopes with XADD.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewPublisher constructs a Publisher over client.
func NewPublisher(client *redis.Client, cfg Config) *Publisher {
	return &Publisher{client: client, stream: streamPrefix(cfg.Stream), maxLen: cfg.MaxLen}
}

// Publish appends env to its partition stream.
func (p *Publisher) Publish(ctx context.Context, env stream.Envelope) (stream.Receipt, error) {
	if p.client == nil {
		return stream.Receipt{}, errs.New("broker/redis", errs.CodeUnavailable, errs.WithMessage("nil client"))
	}
	args := &redis.XAddArgs{
		Stream: StreamKey(p.stream, env.Partition),
		Values: map[string]any{
			fieldIdempotencyKey: env.IdempotencyKey,
			fieldCorrelationID:  env.CorrelationID,
			fieldType:           env.Type,
			fieldPayload:        string(env.Payload),
			fieldMetadata:       string(env.Metadata),
			fieldCreatedAt:      env.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return stream.Receipt{}, errs.New("broker/redis", errs.CodeNetwork,
			errs.WithMessage("xadd"), errs.WithField("stream", args.Stream), errs.WithCause(err))
	}
	return stream.Receipt{MessageID: id, Partition: env.Partition}, nil
}

// Subscriber tails partition streams with XREAD.
type Subscriber struct {
	client *redis.Client
	stream string
	count  int64
	block  time.Duration
}

// NewSubscriber constructs a Subscriber over client.
func NewSubscriber(client *redis.Client, cfg Config) *Subscriber {
	return &Subscriber{client: client, stream: streamPrefix(cfg.Stream), count: defaultReadCount, block: defaultBlock}
}

// Consume reads new entries from the given partitions and calls handler for
// each, in stream order per partition. It starts after the current tail, or
// after from when it names an entry id, and returns when ctx is cancelled or
// handler fails.
func (s *Subscriber) Consume(ctx context.Context, partitions []int, from string, handler func(context.Context, stream.Delivery) error) error {
	if s.client == nil {
		return errs.New("broker/redis", errs.CodeUnavailable, errs.WithMessage("nil client"))
	}
	if len(partitions) == 0 {
		return errs.New("broker/redis", errs.CodeInvalid, errs.WithMessage("at least one partition required"))
	}
	start := strings.TrimSpace(from)
	if start == "" {
		start = "$"
	}
	keys := make([]string, len(partitions))
	lastIDs := make(map[string]string, len(partitions))
	for i, partition := range partitions {
		keys[i] = StreamKey(s.stream, partition)
		lastIDs[keys[i]] = start
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		args := make([]string, 0, len(keys)*2)
		args = append(args, keys...)
		for _, key := range keys {
			args = append(args, lastIDs[key])
		}
		result, err := s.client.XRead(ctx, &redis.XReadArgs{Streams: args, Count: s.count, Block: s.block}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("broker/redis: xread: %w", err)
		}
		for _, entries := range result {
			for _, msg := range entries.Messages {
				lastIDs[entries.Stream] = msg.ID
				delivery, err := decode(entries.Stream, msg)
				if err != nil {
					return err
				}
				if err := handler(ctx, delivery); err != nil {
					return fmt.Errorf("broker/redis: handle %s: %w", msg.ID, err)
				}
			}
		}
	}
}

func decode(key string, msg redis.XMessage) (stream.Delivery, error) {
	field := func(name string) string {
		v, _ := msg.Values[name].(string)
		return v
	}
	partition := 0
	if idx := strings.LastIndex(key, ":"); idx >= 0 {
		n, err := strconv.Atoi(key[idx+1:])
		if err != nil {
			return stream.Delivery{}, fmt.Errorf("broker/redis: partition from %q: %w", key, err)
		}
		partition = n
	}
	var createdAt time.Time
	if raw := field(fieldCreatedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil {
			createdAt = parsed
		}
	}
	return stream.Delivery{
		MessageID: msg.ID,
		Envelope: stream.Envelope{
			IdempotencyKey: field(fieldIdempotencyKey),
			Type:           field(fieldType),
			CorrelationID:  field(fieldCorrelationID),
			Partition:      partition,
			Payload:        []byte(field(fieldPayload)),
			Metadata:       []byte(field(fieldMetadata)),
			CreatedAt:      createdAt,
		},
	}, nil
}

var _ stream.Broker = (*Publisher)(nil)
