package mapview

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/geobrowse/internal/logger"
)

// Engine loads the features of a layer that fall inside a viewport.
//
// Loads of different layers run independently. Loads of the same layer may
// overlap; a completion is drawn only if no newer load of that layer has been
// drawn and the registry has not been cleared since the load started.
type Engine struct {
	reg     *Registry
	queries QueryRunner
	surface Surface
	limit   int
	dialect Dialect
	log     *zap.SugaredLogger
	lookups singleflight.Group
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFeatureLimit caps the number of rows per viewport query.
func WithFeatureLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithDialect selects the spatial SQL flavour. The default is PostGIS.
func WithDialect(d Dialect) EngineOption {
	return func(e *Engine) { e.dialect = d }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.SugaredLogger) EngineOption {
	return func(e *Engine) { e.log = logger.OrNop(l) }
}

// NewEngine creates an engine that records state in reg and draws into surface.
func NewEngine(reg *Registry, queries QueryRunner, surface Surface, opts ...EngineOption) *Engine {
	e := &Engine{
		reg:     reg,
		queries: queries,
		surface: surface,
		limit:   DefaultFeatureLimit,
		log:     logger.OrNop(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SRID returns the coordinate reference id of layer. The first call per layer
// issues one lookup query; concurrent first calls share it. A failed lookup
// falls back to NativeSRID without caching so a later call can retry.
func (e *Engine) SRID(ctx context.Context, layer *Layer) int {
	if srid, ok := e.reg.SRID(layer.ID); ok {
		return srid
	}

	v, err, _ := e.lookups.Do(string(layer.ID), func() (any, error) {
		if srid, ok := e.reg.SRID(layer.ID); ok {
			return srid, nil
		}
		stmt := e.dialect.SRIDSQL(layer.Ref())
		if stmt == "" {
			return e.reg.StoreSRID(layer.ID, NativeSRID), nil
		}
		res, err := e.queries.Query(ctx, stmt)
		if err != nil {
			return nil, err
		}
		var raw any
		if len(res.Rows) > 0 {
			raw = res.Rows[0]["srid"]
		}
		return e.reg.StoreSRID(layer.ID, parseSRID(raw)), nil
	})
	if err != nil {
		e.log.Warnw("srid lookup failed, assuming native", "layer", layer.ID, "srid", NativeSRID, "error", err)
		return NativeSRID
	}
	return v.(int)
}

// LoadInViewport queries the features of layer inside viewport, draws them
// and marks the layer loaded. Remote errors are returned as *QueryError; when
// a newer load of the layer was issued meanwhile, or the registry was
// cleared, the error also matches ErrSuperseded.
func (e *Engine) LoadInViewport(ctx context.Context, layer *Layer, viewport orb.Bound) (*geojson.FeatureCollection, error) {
	tok := e.reg.beginLoad(layer.ID)
	srid := e.SRID(ctx, layer)

	res, err := e.queries.Query(ctx, e.dialect.ViewportSQL(layer.Ref(), srid, viewport, e.limit))
	if err != nil {
		qerr := newQueryError(err)
		if !e.reg.isCurrent(tok) {
			e.log.Debugw("superseded load failed", "layer", layer.ID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrSuperseded, qerr)
		}
		return nil, qerr
	}

	fc := RowsToFeatures(res.Rows, ShapeColumn, layer.GeomColumn)
	if !e.reg.draw(tok, layer.Name(), fc) {
		e.log.Debugw("discarding superseded load", "layer", layer.ID, "features", len(fc.Features))
	}
	return fc, nil
}

// Extent4326 returns the NativeSRID bounding box of every geometry of layer.
// ok is false when the layer has no geometries.
func (e *Engine) Extent4326(ctx context.Context, layer *Layer) (orb.Bound, bool, error) {
	srid := e.SRID(ctx, layer)
	res, err := e.queries.Query(ctx, e.dialect.ExtentSQL(layer.Ref(), srid))
	if err != nil {
		return orb.Bound{}, false, newQueryError(err)
	}
	if len(res.Rows) == 0 {
		return orb.Bound{}, false, nil
	}

	row := res.Rows[0]
	var vals [4]float64
	for i, k := range []string{"west", "south", "east", "north"} {
		f, ok := toFloat(row[k])
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return orb.Bound{}, false, nil
		}
		vals[i] = f
	}
	return orb.Bound{
		Min: orb.Point{vals[0], vals[1]},
		Max: orb.Point{vals[2], vals[3]},
	}, true, nil
}
