package mapview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/logger"
)

// Counters describe the last completed load.
type Counters struct {
	LayerID   LayerID
	Features  int
	ElapsedMS float64
}

// Notice is a message for the user.
type Notice struct {
	Level   string // "info", "warn" or "error"
	Message string
}

// Listener receives presentation updates from a session. Implementations
// must not call back into the session synchronously.
type Listener interface {
	LayersChanged(rows []LayerRow)
	CountersChanged(c Counters)
	Notify(n Notice)
}

// Config configures a Session.
type Config struct {
	QuietPeriod  time.Duration
	FeatureLimit int
	Dialect      Dialect
	Logger       *zap.SugaredLogger
	Listener     Listener
}

// Session wires the registry, engine, catalog loader and scheduler of one map.
type Session struct {
	reg      *Registry
	engine   *Engine
	loader   *CatalogLoader
	sched    *Scheduler
	surface  Surface
	queries  QueryRunner
	listener Listener
	log      *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	querySeq  atomic.Int64
}

// NewSession creates a session drawing into surface.
func NewSession(catalog CatalogSource, queries QueryRunner, surface Surface, cfg Config) *Session {
	log := logger.OrNop(cfg.Logger)
	reg := NewRegistry(surface)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		reg:      reg,
		engine:   NewEngine(reg, queries, surface, WithFeatureLimit(cfg.FeatureLimit), WithDialect(cfg.Dialect), WithLogger(log)),
		loader:   NewCatalogLoader(catalog, queries, log),
		surface:  surface,
		queries:  queries,
		listener: cfg.Listener,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.sched = NewScheduler(surface, cfg.QuietPeriod, s.reloadActive, log)
	return s
}

// Registry exposes the session state.
func (s *Session) Registry() *Registry { return s.reg }

// Engine exposes the viewport query engine.
func (s *Session) Engine() *Engine { return s.engine }

// Start loads the catalog, hydrates counts, picks the active layer, shows and
// loads it, and starts reacting to viewport changes. A missing catalog leaves
// the session empty. The returned error is the failure of the initial load,
// already rolled back.
func (s *Session) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() { err = s.start(ctx) })
	return err
}

func (s *Session) start(ctx context.Context) error {
	defer s.sched.Start(s.ctx)

	layers, err := s.loader.LoadCatalog(ctx)
	if err != nil {
		s.log.Warnw("catalog unavailable", "error", err)
		s.notify("warn", "No layers available: "+err.Error())
		s.publishLayers()
		return nil
	}
	s.loader.HydrateCounts(ctx, layers)

	s.reg.SetCatalog(layers)
	s.reg.EnsureOrderInitialized()

	active := ChooseActive(layers)
	if active == nil {
		s.notify("info", "No spatial tables found")
		s.publishLayers()
		return nil
	}
	_ = s.reg.SetActive(active.ID)
	if active.KnownEmpty() {
		s.publishLayers()
		return nil
	}
	return s.show(ctx, active)
}

// show marks layer visible and runs its first load, rolling visibility back
// when the load fails. A failure of a load that was superseded while it ran
// is left to the newer load and reported to nobody.
func (s *Session) show(ctx context.Context, layer *Layer) error {
	if err := s.reg.SetVisible(layer.ID, true); err != nil {
		s.publishLayers()
		return err
	}
	s.publishLayers()

	start := time.Now()
	fc, err := s.engine.LoadWithFallback(ctx, layer)
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	if err != nil {
		_ = s.reg.SetVisible(layer.ID, false)
		s.publishLayers()
		s.notify("error", err.Error())
		return err
	}
	s.publishCounters(layer.ID, fc, start)
	s.publishLayers()
	return nil
}

// Toggle shows or hides a layer on behalf of the user. Showing a layer that
// was never loaded loads it; a failed load hides it again and the error is
// returned with the remote detail as its message.
func (s *Session) Toggle(ctx context.Context, id LayerID, on bool) error {
	if !on {
		err := s.reg.SetVisible(id, false)
		s.publishLayers()
		return err
	}

	layer, cataloged := s.reg.Layer(id)
	if !cataloged || s.reg.IsLoaded(id) {
		err := s.reg.SetVisible(id, true)
		s.publishLayers()
		return err
	}
	return s.show(ctx, layer)
}

// Select makes id the active layer. A visible layer that was never loaded is
// loaded now.
func (s *Session) Select(ctx context.Context, id LayerID) error {
	if err := s.reg.SetActive(id); err != nil {
		return err
	}
	s.publishLayers()

	layer, ok := s.reg.Layer(id)
	if !ok || !s.reg.IsVisible(id) || s.reg.IsLoaded(id) {
		return nil
	}
	return s.show(ctx, layer)
}

// Move changes the stacking position of id.
func (s *Session) Move(id LayerID, dir Direction) bool {
	moved := s.reg.MoveLayer(id, dir)
	if moved {
		s.publishLayers()
	}
	return moved
}

// Clear wipes the session state and the surface; the catalog is kept.
func (s *Session) Clear() {
	s.reg.ClearAll()
	s.publishLayers()
}

// RunQuery executes an ad-hoc statement and draws its result as a new
// synthetic layer. Results without any drawable row return ErrNoShapes and
// leave the registry untouched.
func (s *Session) RunQuery(ctx context.Context, sql string) (LayerID, error) {
	start := time.Now()
	res, err := s.queries.Query(ctx, sql)
	if err != nil {
		qerr := newQueryError(err)
		s.notify("error", qerr.Error())
		return "", qerr
	}

	col, ok := DetectShapeColumn(res.Rows)
	if !ok {
		s.notify("warn", ErrNoShapes.Error())
		return "", ErrNoShapes
	}
	fc := RowsToFeatures(res.Rows, col)
	if len(fc.Features) == 0 {
		s.notify("warn", ErrNoShapes.Error())
		return "", ErrNoShapes
	}

	id := LayerID(fmt.Sprintf("query:%d", s.querySeq.Add(1)))
	s.reg.AddSyntheticLayer(id)
	tok := s.reg.beginLoad(id)
	s.reg.draw(tok, string(id), fc)

	s.publishCounters(id, fc, start)
	s.publishLayers()
	return id, nil
}

// reloadActive reloads the active layer in the current viewport if it is
// visible. It is driven by the scheduler.
func (s *Session) reloadActive(ctx context.Context) error {
	id := s.reg.Active()
	if id == "" || !s.reg.IsVisible(id) {
		return nil
	}
	layer, ok := s.reg.Layer(id)
	if !ok {
		return nil
	}

	start := time.Now()
	fc, err := s.engine.LoadInViewport(ctx, layer, s.surface.ViewportBounds())
	if err != nil {
		return err
	}
	s.publishCounters(id, fc, start)
	return nil
}

// Close stops viewport tracking and abandons background reloads.
func (s *Session) Close() {
	s.sched.Stop()
	s.cancel()
}

func (s *Session) publishLayers() {
	if s.listener != nil {
		s.listener.LayersChanged(Present(s.reg.Snapshot()))
	}
}

func (s *Session) publishCounters(id LayerID, fc *geojson.FeatureCollection, start time.Time) {
	if s.listener == nil {
		return
	}
	s.listener.CountersChanged(Counters{
		LayerID:   id,
		Features:  len(fc.Features),
		ElapsedMS: float64(time.Since(start).Microseconds()) / 1000,
	})
}

func (s *Session) notify(level, msg string) {
	if s.listener != nil {
		s.listener.Notify(Notice{Level: level, Message: msg})
	}
}

// IsUserError reports whether err should be shown to the user rather than
// treated as an internal failure.
func IsUserError(err error) bool {
	return errors.Is(err, ErrQueryFailed) || errors.Is(err, ErrEmptyLayer) ||
		errors.Is(err, ErrUnknownLayer) || errors.Is(err, ErrNoShapes)
}
