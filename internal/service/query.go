package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/db"
	"github.com/joeblew999/geobrowse/internal/logger"
	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

// ErrEmptyStatement rejects blank SQL.
var ErrEmptyStatement = errors.New("sql is required")

// QueryService executes SQL statements and reports how long they took.
type QueryService struct {
	exec    db.Executor
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewQueryService creates a query service. A zero timeout means none.
func NewQueryService(exec db.Executor, timeout time.Duration, log *zap.SugaredLogger) *QueryService {
	return &QueryService{exec: exec, timeout: timeout, log: logger.OrNop(log)}
}

// Query runs sql and returns its rows. Database errors are returned unchanged
// so their message can be shown verbatim.
func (s *QueryService) Query(ctx context.Context, sql string) (*geoclient.QueryResponse, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, ErrEmptyStatement
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.exec.Query(ctx, sql)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		s.log.Debugw("query failed", "elapsed_ms", elapsed, "error", err)
		return nil, err
	}

	s.log.Debugw("query done", "rows", len(res.Rows), "elapsed_ms", elapsed)
	return &geoclient.QueryResponse{Rows: res.Rows, ElapsedMS: &elapsed}, nil
}
