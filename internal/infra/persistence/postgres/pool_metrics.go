package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/paygate/internal/observability"
	"github.com/coachpo/paygate/internal/telemetry"
)

const poolMeterName = "paygate.postgres.pool"

// ObservePoolMetrics reports pgx pool connection counts and acquire pressure.
func ObservePoolMetrics(pool *pgxpool.Pool, poolName string) {
	if pool == nil {
		return
	}
	name := strings.TrimSpace(poolName)
	if name == "" {
		name = "primary"
	}
	base := []attribute.KeyValue{
		attribute.String("environment", telemetry.Environment()),
		attribute.String("db_pool", name),
	}
	withState := func(state string) metric.MeasurementOption {
		return metric.WithAttributes(append(base[:len(base):len(base)], attribute.String("state", state))...)
	}

	meter := otel.Meter(poolMeterName)
	conns, err := meter.Int64ObservableGauge("paygate_db_pool_connections",
		metric.WithDescription("Pool connections by state"),
		metric.WithUnit("{connection}"))
	if err != nil {
		observability.Log().Warn("pool metrics unavailable", observability.Err(err))
		return
	}
	maxConns, _ := meter.Int64ObservableGauge("paygate_db_pool_connections_max",
		metric.WithDescription("Configured pool size"),
		metric.WithUnit("{connection}"))
	emptyAcquires, _ := meter.Int64ObservableCounter("paygate_db_pool_empty_acquires",
		metric.WithDescription("Acquires that had to wait for a free connection"),
		metric.WithUnit("{acquire}"))
	acquireWait, _ := meter.Float64ObservableCounter("paygate_db_pool_acquire_wait",
		metric.WithDescription("Cumulative time spent acquiring connections"),
		metric.WithUnit("ms"))

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := pool.Stat()
		o.ObserveInt64(conns, int64(stat.IdleConns()), withState("idle"))
		o.ObserveInt64(conns, int64(stat.AcquiredConns()), withState("acquired"))
		o.ObserveInt64(conns, int64(stat.ConstructingConns()), withState("constructing"))
		o.ObserveInt64(maxConns, int64(stat.MaxConns()), metric.WithAttributes(base...))
		o.ObserveInt64(emptyAcquires, stat.EmptyAcquireCount(), metric.WithAttributes(base...))
		o.ObserveFloat64(acquireWait, float64(stat.AcquireDuration().Microseconds())/1000, metric.WithAttributes(base...))
		return nil
	}, conns, maxConns, emptyAcquires, acquireWait)
	if err != nil {
		observability.Log().Warn("pool metrics callback not registered", observability.Err(err))
	}
}
