// Package db runs SQL against the spatial database backing the query and
// catalog services. DuckDB (with the spatial extension) and PostGIS are
// supported behind the same Executor interface.
package db

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backend names a database engine.
type Backend string

const (
	DuckDB   Backend = "duckdb"
	Postgres Backend = "postgres"
)

// ErrUnavailable is returned when no database is configured or reachable.
var ErrUnavailable = errors.New("database not available")

// Result is a fully materialized query result.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Executor runs statements against one database.
type Executor interface {
	// Query runs a statement and materializes every row. Values are made JSON
	// friendly: binary columns become strings, UUIDs their canonical form.
	Query(ctx context.Context, sql string, args ...any) (*Result, error)
	Ping(ctx context.Context) error
	// SpatialVersion reports the version of the spatial extension.
	SpatialVersion(ctx context.Context) (string, error)
	Backend() Backend
	Close() error
}

// Config holds database configuration.
type Config struct {
	Backend     Backend
	DataDir     string   // DuckDB: directory holding the database file
	DBName      string   // DuckDB: file name without extension; empty means in-memory
	Extensions  []string // DuckDB: extensions to install and load
	DatabaseURL string   // Postgres: connection string
	MaxConns    int32    // Postgres: pool size, 0 keeps the default
	Logger      *zap.SugaredLogger
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Executor, error) {
	switch cfg.Backend {
	case DuckDB, "":
		return OpenDuckDB(cfg)
	case Postgres:
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

// normalize converts driver values into types that encode cleanly as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return hex.EncodeToString(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case *big.Int:
		if t.IsInt64() {
			return t.Int64()
		}
		return t.String()
	}
	return v
}
