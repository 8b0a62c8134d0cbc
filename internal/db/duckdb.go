package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/logger"
)

// DefaultExtensions are loaded into every DuckDB database.
var DefaultExtensions = []string{"spatial", "parquet"}

// DuckDBExecutor runs statements on an embedded DuckDB database.
type DuckDBExecutor struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// OpenDuckDB opens (creating if needed) the DuckDB database described by cfg
// and loads its extensions.
func OpenDuckDB(cfg Config) (*DuckDBExecutor, error) {
	log := logger.OrNop(cfg.Logger)

	dsn := ""
	if cfg.DBName != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		dsn = filepath.Join(duckdbDir, cfg.DBName+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	for _, ext := range cfg.Extensions {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			// Extensions might already be installed or be offline; keep going.
			log.Warnw("duckdb extension not loaded", "extension", ext, "error", err)
		}
	}

	log.Infow("duckdb opened", "path", dsn)
	return &DuckDBExecutor{db: conn, log: log}, nil
}

func (e *DuckDBExecutor) Backend() Backend { return DuckDB }

func (e *DuckDBExecutor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *DuckDBExecutor) SpatialVersion(ctx context.Context) (string, error) {
	var v sql.NullString
	err := e.db.QueryRowContext(ctx,
		"SELECT extension_version FROM duckdb_extensions() WHERE extension_name = 'spatial' AND loaded").Scan(&v)
	if err == sql.ErrNoRows || (err == nil && !v.Valid) {
		return "", fmt.Errorf("spatial extension not loaded")
	}
	if err != nil {
		return "", err
	}
	return v.String, nil
}

func (e *DuckDBExecutor) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	res := &Result{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

func (e *DuckDBExecutor) Close() error {
	return e.db.Close()
}
