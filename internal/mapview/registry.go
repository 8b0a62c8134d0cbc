package mapview

import (
	"sync"

	"github.com/paulmach/orb/geojson"
)

// Registry holds the layer state of one map and is the only place it is
// mutated. Every change to visibility or order is mirrored to the surface
// while the lock is held, so the surface always reflects registry state.
//
// Invariants:
//   - visible never contains a layer with a known zero count
//   - order has no duplicates and contains every id that has been drawn
//   - an SRID, once stored for an id, does not change until ClearAll
//   - active is a cataloged layer or a synthetic layer present in order
type Registry struct {
	mu      sync.Mutex
	surface Surface

	layers    []*Layer
	byID      map[LayerID]*Layer
	synthetic map[LayerID]struct{}

	visible map[LayerID]struct{}
	loaded  map[LayerID]struct{}
	order   []LayerID
	active  LayerID
	srids   map[LayerID]int

	// issued and drawn are per-layer load generations; epoch changes on
	// ClearAll. Together they reject completions of superseded loads.
	issued map[LayerID]uint64
	drawn  map[LayerID]uint64
	epoch  uint64
}

// NewRegistry creates an empty registry drawing into surface.
func NewRegistry(surface Surface) *Registry {
	return &Registry{
		surface:   surface,
		byID:      make(map[LayerID]*Layer),
		synthetic: make(map[LayerID]struct{}),
		visible:   make(map[LayerID]struct{}),
		loaded:    make(map[LayerID]struct{}),
		srids:     make(map[LayerID]int),
		issued:    make(map[LayerID]uint64),
		drawn:     make(map[LayerID]uint64),
	}
}

// SetCatalog installs the cataloged layers. Visible layers that are now known
// to be empty are hidden.
func (r *Registry) SetCatalog(layers []*Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.layers = append([]*Layer(nil), layers...)
	r.byID = make(map[LayerID]*Layer, len(layers))
	for _, l := range layers {
		r.byID[l.ID] = l
	}
	for id := range r.visible {
		if l, ok := r.byID[id]; ok && l.KnownEmpty() {
			delete(r.visible, id)
			r.surface.SetLayerVisible(id, false)
		}
	}
}

// Layers returns the cataloged layers in catalog order.
func (r *Registry) Layers() []*Layer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Layer(nil), r.layers...)
}

// Layer returns a cataloged layer by id.
func (r *Registry) Layer(id LayerID) (*Layer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	return l, ok
}

func (r *Registry) knownLocked(id LayerID) bool {
	if _, ok := r.byID[id]; ok {
		return true
	}
	_, ok := r.synthetic[id]
	return ok
}

// SetVisible shows or hides a layer. Showing a layer with a known zero count
// returns ErrEmptyLayer and leaves the state unchanged.
func (r *Registry) SetVisible(id LayerID, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.knownLocked(id) {
		return unknownLayer(id)
	}
	if visible {
		if l, ok := r.byID[id]; ok && l.KnownEmpty() {
			return ErrEmptyLayer
		}
		r.visible[id] = struct{}{}
	} else {
		delete(r.visible, id)
	}
	r.surface.SetLayerVisible(id, visible)
	return nil
}

// IsVisible reports whether the user asked to display id.
func (r *Registry) IsVisible(id LayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.visible[id]
	return ok
}

// Visible returns the visible ids in stacking order, bottom first.
func (r *Registry) Visible() []LayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LayerID
	for _, id := range r.order {
		if _, ok := r.visible[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// IsLoaded reports whether at least one load of id has completed.
func (r *Registry) IsLoaded(id LayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[id]
	return ok
}

// SetActive makes id the layer reloaded on viewport changes. An empty id
// clears the active layer. It does not load anything.
func (r *Registry) SetActive(id LayerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" && !r.knownLocked(id) {
		return unknownLayer(id)
	}
	r.active = id
	return nil
}

// Active returns the active layer id, or "" when none is set.
func (r *Registry) Active() LayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Order returns a copy of the stacking order, bottom first.
func (r *Registry) Order() []LayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LayerID(nil), r.order...)
}

// EnsureOrderInitialized seeds an empty order with the catalog order.
func (r *Registry) EnsureOrderInitialized() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) > 0 || len(r.layers) == 0 {
		return
	}
	for _, l := range r.layers {
		r.order = append(r.order, l.ID)
	}
	r.applyOrderLocked()
}

// MoveLayer swaps id with its neighbour in dir. It reports whether the order
// changed; ids at the boundary or absent from the order are left alone.
func (r *Registry) MoveLayer(id LayerID, dir Direction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(id)
	if i < 0 {
		return false
	}
	j := i + 1
	if dir == Down {
		j = i - 1
	}
	if j < 0 || j >= len(r.order) {
		return false
	}
	r.order[i], r.order[j] = r.order[j], r.order[i]
	r.applyOrderLocked()
	return true
}

func (r *Registry) indexLocked(id LayerID) int {
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

func (r *Registry) applyOrderLocked() {
	r.surface.ApplyOrder(append([]LayerID(nil), r.order...))
}

// AddSyntheticLayer registers a layer that has no catalog entry, appends it
// to the top of the order and marks it visible and loaded.
func (r *Registry) AddSyntheticLayer(id LayerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.synthetic[id] = struct{}{}
	if r.indexLocked(id) < 0 {
		r.order = append(r.order, id)
	}
	r.visible[id] = struct{}{}
	r.loaded[id] = struct{}{}
	r.surface.SetLayerVisible(id, true)
	r.applyOrderLocked()
}

// ClearAll forgets visibility, loads, order, the active layer, synthetic
// layers and the SRID cache, and clears the surface. The catalog is kept.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.visible = make(map[LayerID]struct{})
	r.loaded = make(map[LayerID]struct{})
	r.synthetic = make(map[LayerID]struct{})
	r.srids = make(map[LayerID]int)
	r.order = nil
	r.active = ""
	r.epoch++
	r.surface.ClearAll()
}

// SRID returns the cached SRID of id.
func (r *Registry) SRID(id LayerID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	srid, ok := r.srids[id]
	return srid, ok
}

// StoreSRID caches srid for id unless a value is already cached, and returns
// the cached value.
func (r *Registry) StoreSRID(id LayerID, srid int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.srids[id]; ok {
		return cur
	}
	r.srids[id] = srid
	return srid
}

// loadToken identifies one load of one layer.
type loadToken struct {
	id    LayerID
	gen   uint64
	epoch uint64
}

func (r *Registry) beginLoad(id LayerID) loadToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued[id]++
	return loadToken{id: id, gen: r.issued[id], epoch: r.epoch}
}

// isCurrent reports whether tok is the newest load issued for its layer since
// the last ClearAll.
func (r *Registry) isCurrent(tok loadToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tok.epoch == r.epoch && tok.gen == r.issued[tok.id]
}

// draw pushes fc for the token's layer unless a newer load was already drawn
// or the registry was cleared meanwhile. It then reasserts visibility and
// order and marks the layer loaded. It reports whether fc was drawn.
func (r *Registry) draw(tok loadToken, name string, fc *geojson.FeatureCollection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tok.epoch != r.epoch || tok.gen <= r.drawn[tok.id] || !r.knownLocked(tok.id) {
		return false
	}
	r.drawn[tok.id] = tok.gen

	if r.indexLocked(tok.id) < 0 {
		r.order = append(r.order, tok.id)
	}
	r.surface.SetFeatures(fc, FeatureMeta{LayerID: tok.id, LayerName: name})
	_, visible := r.visible[tok.id]
	r.surface.SetLayerVisible(tok.id, visible)
	r.applyOrderLocked()
	r.loaded[tok.id] = struct{}{}
	return true
}

// State is a consistent copy of the registry used for presentation.
type State struct {
	Layers    []*Layer
	Synthetic map[LayerID]bool
	Visible   map[LayerID]bool
	Loaded    map[LayerID]bool
	Order     []LayerID
	Active    LayerID
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := State{
		Layers:    append([]*Layer(nil), r.layers...),
		Synthetic: make(map[LayerID]bool, len(r.synthetic)),
		Visible:   make(map[LayerID]bool, len(r.visible)),
		Loaded:    make(map[LayerID]bool, len(r.loaded)),
		Order:     append([]LayerID(nil), r.order...),
		Active:    r.active,
	}
	for id := range r.synthetic {
		s.Synthetic[id] = true
	}
	for id := range r.visible {
		s.Visible[id] = true
	}
	for id := range r.loaded {
		s.Loaded[id] = true
	}
	return s
}
