// Package viewer serves the map page and drives it over Datastar SSE: each
// browser tab gets a mapview.Session whose rendering surface streams draw
// directives to the page.
package viewer

import (
	"maps"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geobrowse/internal/mapview"
	"github.com/joeblew999/geobrowse/internal/service"
)

// DirectiveKind names a draw instruction sent to the page.
type DirectiveKind string

const (
	KindFeatures   DirectiveKind = "features"
	KindVisibility DirectiveKind = "visibility"
	KindOrder      DirectiveKind = "order"
	KindFit        DirectiveKind = "fit"
	KindClear      DirectiveKind = "clear"
	KindLayers     DirectiveKind = "layers"
	KindSignals    DirectiveKind = "signals"
)

// Directive is one instruction for the page. Only the fields of its kind are set.
type Directive struct {
	Kind      DirectiveKind
	LayerID   mapview.LayerID
	LayerName string
	Features  *geojson.FeatureCollection
	Visible   bool
	Order     []mapview.LayerID
	Bounds    orb.Bound
	HTML      string
	Signals   map[string]any
}

type drawnLayer struct {
	name     string
	features *geojson.FeatureCollection
	visible  bool
}

// Surface implements mapview.Surface for a browser page. It mirrors what the
// page should display so a page that connects late, or falls behind, can be
// brought up to date with Snapshot.
type Surface struct {
	mu       sync.Mutex
	bounds   orb.Bound
	layers   map[mapview.LayerID]*drawnLayer
	order    []mapview.LayerID
	html     string
	signals  map[string]any
	handlers map[int]func()
	nextID   int

	bus *service.EventBus[Directive]
}

// NewSurface creates a surface whose viewport starts at initial.
func NewSurface(initial orb.Bound, buffer int) *Surface {
	return &Surface{
		bounds:   initial,
		layers:   make(map[mapview.LayerID]*drawnLayer),
		signals:  make(map[string]any),
		handlers: make(map[int]func()),
		bus:      service.NewEventBus[Directive](buffer),
	}
}

func (s *Surface) layer(id mapview.LayerID) *drawnLayer {
	l, ok := s.layers[id]
	if !ok {
		l = &drawnLayer{name: string(id)}
		s.layers[id] = l
	}
	return l
}

func (s *Surface) ViewportBounds() orb.Bound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

func (s *Surface) SetFeatures(fc *geojson.FeatureCollection, meta mapview.FeatureMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.layer(meta.LayerID)
	l.name = meta.LayerName
	l.features = fc
	s.bus.Publish(Directive{Kind: KindFeatures, LayerID: meta.LayerID, LayerName: meta.LayerName, Features: fc})
}

func (s *Surface) SetLayerVisible(id mapview.LayerID, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layer(id).visible = visible
	s.bus.Publish(Directive{Kind: KindVisibility, LayerID: id, Visible: visible})
}

func (s *Surface) ApplyOrder(ids []mapview.LayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append([]mapview.LayerID(nil), ids...)
	s.bus.Publish(Directive{Kind: KindOrder, Order: s.order})
}

// FitBounds moves the page to b. The viewport is taken to be b until the page
// reports otherwise.
func (s *Surface) FitBounds(b orb.Bound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds = b
	s.bus.Publish(Directive{Kind: KindFit, Bounds: b})
}

func (s *Surface) OnViewportChangeEnd(h func()) func() {
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

func (s *Surface) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = make(map[mapview.LayerID]*drawnLayer)
	s.order = nil
	s.bus.Publish(Directive{Kind: KindClear})
}

// SetViewport records the viewport reported by the page after a pan or zoom
// and notifies the viewport-change handlers.
func (s *Surface) SetViewport(b orb.Bound) {
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

// ShowLayers replaces the layer list markup.
func (s *Surface) ShowLayers(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
	s.bus.Publish(Directive{Kind: KindLayers, HTML: html})
}

// PatchSignals merges signals into the page state.
func (s *Surface) PatchSignals(signals map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.signals, signals)
	s.bus.Publish(Directive{Kind: KindSignals, Signals: maps.Clone(signals)})
}

// Snapshot returns the directives that rebuild the current page state from a
// blank page.
func (s *Surface) Snapshot() []Directive {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Directive{{Kind: KindClear}}
	for _, id := range s.order {
		l, ok := s.layers[id]
		if !ok || l.features == nil {
			continue
		}
		out = append(out, Directive{Kind: KindFeatures, LayerID: id, LayerName: l.name, Features: l.features})
	}
	for _, id := range s.order {
		if l, ok := s.layers[id]; ok {
			out = append(out, Directive{Kind: KindVisibility, LayerID: id, Visible: l.visible})
		}
	}
	out = append(out,
		Directive{Kind: KindOrder, Order: append([]mapview.LayerID(nil), s.order...)},
		Directive{Kind: KindFit, Bounds: s.bounds},
	)
	if s.html != "" {
		out = append(out, Directive{Kind: KindLayers, HTML: s.html})
	}
	if len(s.signals) > 0 {
		out = append(out, Directive{Kind: KindSignals, Signals: maps.Clone(s.signals)})
	}
	return out
}

// Subscribe starts receiving live directives.
func (s *Surface) Subscribe() *service.Subscription[Directive] {
	return s.bus.Subscribe()
}

// Unsubscribe stops a subscription.
func (s *Surface) Unsubscribe(sub *service.Subscription[Directive]) {
	s.bus.Unsubscribe(sub)
}
