package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/citypulse/ingestgw/internal/config"
)

// PoolOptions tunes the connection pool shared by every repository.
type PoolOptions struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// PoolOptionsFromStore derives pool settings from the store configuration.
// Idle connections are kept at roughly a third of the open limit.
func PoolOptionsFromStore(cfg config.StoreConfig) PoolOptions {
	idle := cfg.MaxConnections / 3
	if idle < 2 {
		idle = 2
	}
	return PoolOptions{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.MaxConnections,
		MaxIdleConns:    idle,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  cfg.CallTimeout,
	}
}

// Open connects to Postgres and verifies the connection before returning.
func Open(ctx context.Context, opts PoolOptions) (*sql.DB, error) {
	if opts.URL == "" {
		return nil, errors.New("database URL is required (set DATABASE_URL or INSTANCE_CONNECTION_NAME)")
	}

	db, err := sql.Open("postgres", opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := Ping(ctx, db, opts.ConnectTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Ping runs a trivial query bounded by timeout. Server-side failures are
// reported with their Postgres condition name.
func Ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("database ping failed (%s): %w", pqErr.Code.Name(), err)
		}
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// clampLimit applies the default and upper bound for history queries.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
