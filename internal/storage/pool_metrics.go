package storage

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// RegisterPoolMetrics exposes pgxpool statistics as observable gauges on the
// global meter provider. Call after telemetry.Init so the gauges land on the
// configured provider. Registration failures are logged and ignored; pool
// metrics are never worth failing startup over.
func (db *DB) RegisterPoolMetrics() {
	meter := otel.Meter("mogi/storage")

	acquired, err := meter.Int64ObservableGauge("db.pool.acquired_conns",
		metric.WithDescription("Connections currently checked out of the pool"))
	if err != nil {
		db.logger.Warn("storage: register pool metrics", "error", err)
		return
	}
	idle, err := meter.Int64ObservableGauge("db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pool"))
	if err != nil {
		db.logger.Warn("storage: register pool metrics", "error", err)
		return
	}
	total, err := meter.Int64ObservableGauge("db.pool.total_conns",
		metric.WithDescription("Total connections managed by the pool"))
	if err != nil {
		db.logger.Warn("storage: register pool metrics", "error", err)
		return
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := db.pool.Stat()
		o.ObserveInt64(acquired, int64(stats.AcquiredConns()))
		o.ObserveInt64(idle, int64(stats.IdleConns()))
		o.ObserveInt64(total, int64(stats.TotalConns()))
		return nil
	}, acquired, idle, total)
	if err != nil {
		db.logger.Warn("storage: register pool metrics callback", "error", err)
	}
}
