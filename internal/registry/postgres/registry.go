// Package postgres reads running instances from a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StatusRunning is the status value selected by RunningIDs.
const StatusRunning = "running"

// Config controls the connection pool used for registry queries.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type queryCloser interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Registry lists instance ids whose status column is "running".
type Registry struct {
	pool  queryCloser
	query string
}

// New connects to Postgres.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("registry.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	reg, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return reg, nil
}

// NewWithPool builds a registry from an existing pool (primarily for testing).
func NewWithPool(pool queryCloser, table string) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "instances"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Registry{
		pool:  pool,
		query: fmt.Sprintf("SELECT id FROM %s WHERE status = $1 ORDER BY id", table),
	}, nil
}

// RunningIDs returns running instance ids ordered by id.
func (r *Registry) RunningIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, r.query, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("query running instances: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan running instances: %w", err)
	}
	return ids, nil
}

// Close releases the pool.
func (r *Registry) Close() {
	r.pool.Close()
}
