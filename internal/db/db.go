// Package db provides database connection handling for the place store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// VersionQuery is the SQL query to verify PostGIS is available. PostGIS
// backs all proximity queries over place locations.
const VersionQuery = "SELECT PostGIS_Version()"

// Pool sizing defaults.
const (
	MaxOpenConns    = 25
	MaxIdleConns    = 5
	ConnMaxLifetime = 5 * time.Minute
)

// Open connects to PostgreSQL, verifies connectivity and the PostGIS
// extension, and returns the configured pool.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(MaxOpenConns)
	pool.SetMaxIdleConns(MaxIdleConns)
	pool.SetConnMaxLifetime(ConnMaxLifetime)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	var version string
	if err := pool.QueryRowContext(ctx, VersionQuery).Scan(&version); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgis extension check: %w", err)
	}

	return pool, nil
}
