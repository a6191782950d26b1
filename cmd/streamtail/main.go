// Command streamtail prints payment confirmation events from the Redis stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coachpo/paygate/internal/infra/broker/redisstream"
	"github.com/coachpo/paygate/internal/infra/config"
	"github.com/coachpo/paygate/internal/infra/stream"
	"github.com/coachpo/paygate/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath    = flag.String("config", "config/app.yaml", "Path to application configuration file")
		partitions = flag.String("partitions", "", "Comma separated partitions to follow (default: all)")
		from       = flag.String("from", "$", "Stream id to start after; 0 replays the whole stream")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, err := config.LoadOrDefault(ctx, *cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	zl, err := observability.NewZapLogger(observability.DevelopmentMode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.With(observability.F("component", "streamtail"))

	selected, err := parsePartitions(*partitions, cfg.Relay.Partitions)
	if err != nil {
		return err
	}

	redisCfg := redisstream.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Stream:   cfg.Relay.Stream,
	}
	client := redisstream.NewClient(redisCfg)
	defer func() { _ = client.Close() }()

	logger.Info("following confirmation stream",
		observability.F("stream", cfg.Relay.Stream),
		observability.F("partitions", selected))
	sub := redisstream.NewSubscriber(client, redisCfg)
	return sub.Consume(ctx, selected, *from, func(_ context.Context, d stream.Delivery) error {
		logger.Info("event",
			observability.F("id", d.MessageID),
			observability.F("partition", d.Partition),
			observability.F("type", d.Type),
			observability.F("key", d.IdempotencyKey),
			observability.F("payload", string(d.Payload)))
		return nil
	})
}

func parsePartitions(raw string, total int) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n >= total {
			return nil, fmt.Errorf("invalid partition %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
