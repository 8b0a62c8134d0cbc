package viewer

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/logger"
	"github.com/joeblew999/geobrowse/internal/mapview"
	"github.com/joeblew999/geobrowse/internal/templates"
)

// DefaultViewport is the initial viewport of a new map: the whole world.
var DefaultViewport = orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}

// Viewer is one map page: its session and the surface it draws into.
type Viewer struct {
	ID      string
	Session *mapview.Session
	Surface *Surface
}

// Close stops the viewer session.
func (v *Viewer) Close() { v.Session.Close() }

// StoreConfig configures a Store.
type StoreConfig struct {
	Size         int // maximum live viewers, least recently used are closed
	StartTimeout time.Duration
	DirectiveBuf int
	Session      mapview.Config
	Logger       *zap.SugaredLogger
}

// Store keeps the live viewers, bounded by an LRU cache.
type Store struct {
	catalog  mapview.CatalogSource
	queries  mapview.QueryRunner
	renderer *templates.Renderer
	cfg      StoreConfig
	log      *zap.SugaredLogger
	cache    *lru.Cache[string, *Viewer]
}

// NewStore creates a viewer store. Sessions query through catalog and queries
// and render their layer list with r.
func NewStore(catalog mapview.CatalogSource, queries mapview.QueryRunner, r *templates.Renderer, cfg StoreConfig) (*Store, error) {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = time.Minute
	}
	if cfg.DirectiveBuf <= 0 {
		cfg.DirectiveBuf = 256
	}
	log := logger.OrNop(cfg.Logger)

	cache, err := lru.NewWithEvict(cfg.Size, func(id string, v *Viewer) {
		log.Debugw("viewer closed", "viewer", id)
		v.Close()
	})
	if err != nil {
		return nil, err
	}
	return &Store{catalog: catalog, queries: queries, renderer: r, cfg: cfg, log: log, cache: cache}, nil
}

// Create starts a new viewer. Its session loads in the background; the page
// catches up through the stream.
func (s *Store) Create() *Viewer {
	id := uuid.NewString()
	surface := NewSurface(DefaultViewport, s.cfg.DirectiveBuf)

	cfg := s.cfg.Session
	cfg.Logger = s.log.With("viewer", id)
	cfg.Listener = newPageListener(id, surface, s.renderer, cfg.Logger)

	v := &Viewer{
		ID:      id,
		Session: mapview.NewSession(s.catalog, s.queries, surface, cfg),
		Surface: surface,
	}
	s.cache.Add(id, v)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StartTimeout)
		defer cancel()
		if err := v.Session.Start(ctx); err != nil {
			cfg.Logger.Warnw("initial load failed", "error", err)
		}
	}()
	return v
}

// Get returns a live viewer.
func (s *Store) Get(id string) (*Viewer, bool) {
	return s.cache.Get(id)
}

// Len returns the number of live viewers.
func (s *Store) Len() int { return s.cache.Len() }

// Close closes every viewer.
func (s *Store) Close() {
	s.cache.Purge()
}
