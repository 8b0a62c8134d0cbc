package mapview

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/logger"
)

// DefaultQuietPeriod is how long viewport changes must settle before a reload.
const DefaultQuietPeriod = 350 * time.Millisecond

// Scheduler turns bursts of viewport-change notifications into one trailing
// reload. Only one reload is pending at a time; a new notification replaces it.
type Scheduler struct {
	surface Surface
	quiet   time.Duration
	reload  func(ctx context.Context) error
	log     *zap.SugaredLogger

	mu          sync.Mutex
	ctx         context.Context
	timer       *time.Timer
	seq         uint64
	unsubscribe func()
}

// NewScheduler creates a scheduler that calls reload after quiet has elapsed
// since the last viewport change reported by surface.
func NewScheduler(surface Surface, quiet time.Duration, reload func(ctx context.Context) error, log *zap.SugaredLogger) *Scheduler {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Scheduler{surface: surface, quiet: quiet, reload: reload, log: logger.OrNop(log)}
}

// Start subscribes to the surface. Reloads run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.ctx = ctx
	s.unsubscribe = s.surface.OnViewportChangeEnd(s.Notify)
}

// Notify records a viewport change and (re)arms the trailing timer.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	seq := s.seq
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.quiet, func() { s.fire(seq) })
}

func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	// Reload is best effort: errors are logged and dropped.
	if err := s.reload(ctx); err != nil {
		s.log.Warnw("viewport reload failed", "error", err)
	}
}

// Stop unsubscribes and cancels a pending reload.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}
