package mapview

import (
	"context"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

type fakeSurface struct {
	mu       sync.Mutex
	bounds   orb.Bound
	features map[LayerID]*geojson.FeatureCollection
	visible  map[LayerID]bool
	order    []LayerID
	fits     []orb.Bound
	clears   int
	pushes   int
	handlers map[int]func()
	nextID   int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		bounds:   orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}},
		features: make(map[LayerID]*geojson.FeatureCollection),
		visible:  make(map[LayerID]bool),
		handlers: make(map[int]func()),
	}
}

func (s *fakeSurface) ViewportBounds() orb.Bound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

func (s *fakeSurface) SetFeatures(fc *geojson.FeatureCollection, meta FeatureMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[meta.LayerID] = fc
	s.pushes++
}

func (s *fakeSurface) SetLayerVisible(id LayerID, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible[id] = visible
}

func (s *fakeSurface) ApplyOrder(ids []LayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = ids
}

func (s *fakeSurface) FitBounds(b orb.Bound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fits = append(s.fits, b)
}

func (s *fakeSurface) OnViewportChangeEnd(h func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *fakeSurface) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.features = make(map[LayerID]*geojson.FeatureCollection)
	s.visible = make(map[LayerID]bool)
	s.order = nil
}

// moveTo sets the viewport and fires the change handlers, like a user pan.
func (s *fakeSurface) moveTo(b orb.Bound) {
	s.mu.Lock()
	s.bounds = b
	hs := make([]func(), 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h()
	}
}

func (s *fakeSurface) featureCount(id LayerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc, ok := s.features[id]
	if !ok {
		return -1
	}
	return len(fc.Features)
}

func (s *fakeSurface) isVisible(id LayerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible[id]
}

func (s *fakeSurface) currentOrder() []LayerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LayerID(nil), s.order...)
}

func (s *fakeSurface) fitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fits)
}

// fakeQueries answers statements with a handler and records them.
type fakeQueries struct {
	mu      sync.Mutex
	handle  func(sql string) (*geoclient.QueryResponse, error)
	queries []string
}

func (q *fakeQueries) Query(ctx context.Context, sql string) (*geoclient.QueryResponse, error) {
	q.mu.Lock()
	q.queries = append(q.queries, sql)
	h := q.handle
	q.mu.Unlock()
	if h == nil {
		return &geoclient.QueryResponse{Rows: []map[string]any{}}, nil
	}
	return h(sql)
}

func (q *fakeQueries) count(substr string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.queries {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

type fakeCatalog struct {
	cat *geoclient.Catalog
	err error
}

func (c fakeCatalog) Catalog(ctx context.Context) (*geoclient.Catalog, error) {
	return c.cat, c.err
}

func rows(r ...map[string]any) *geoclient.QueryResponse {
	if r == nil {
		r = []map[string]any{}
	}
	return &geoclient.QueryResponse{Rows: r}
}

func pointRow(id int, x, y float64) map[string]any {
	return map[string]any{
		"id":        id,
		"geom":      "0101000020E6100000",
		ShapeColumn: `{"type":"Point","coordinates":[` + formatFloat(x) + `,` + formatFloat(y) + `]}`,
	}
}

func countPtr(n int64) *int64 { return &n }
