package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/logger"
)

// PostgresExecutor runs statements on a PostGIS database through a pgx pool.
type PostgresExecutor struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// OpenPostgres creates a connection pool for cfg.DatabaseURL and verifies it.
func OpenPostgres(ctx context.Context, cfg Config) (*PostgresExecutor, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL not set", ErrUnavailable)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET application_name = 'geobrowse'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log := logger.OrNop(cfg.Logger)
	log.Infow("postgres pool ready", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return &PostgresExecutor{pool: pool, log: log}, nil
}

func (e *PostgresExecutor) Backend() Backend { return Postgres }

func (e *PostgresExecutor) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

func (e *PostgresExecutor) SpatialVersion(ctx context.Context) (string, error) {
	var v string
	if err := e.pool.QueryRow(ctx, "SELECT postgis_version()").Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func (e *PostgresExecutor) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	res := &Result{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

func (e *PostgresExecutor) Close() error {
	e.pool.Close()
	return nil
}
