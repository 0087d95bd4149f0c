package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// HealthStats describes connection pool state for the health endpoint.
type HealthStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	PingLatency     time.Duration `json:"ping_latency_ns"`
}

// Health pings the database and reports pool statistics.
func Health(ctx context.Context, db *sqlx.DB) (HealthStats, error) {
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return HealthStats{}, err
	}

	stats := db.Stats()
	return HealthStats{
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		PingLatency:     time.Since(start),
	}, nil
}
