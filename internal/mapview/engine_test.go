package mapview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

func newTestEngine(t *testing.T, q *fakeQueries) (*Engine, *Registry, *fakeSurface, *Layer) {
	t.Helper()
	surf := newFakeSurface()
	reg := NewRegistry(surf)
	layer := NewLayer("public", "parcels", "geom")
	reg.SetCatalog([]*Layer{layer})
	reg.EnsureOrderInitialized()
	return NewEngine(reg, q, surf), reg, surf, layer
}

func TestEngineSRIDMemoized(t *testing.T) {
	q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
		return rows(map[string]any{"srid": 3857}), nil
	}}
	e, _, _, layer := newTestEngine(t, q)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, 3857, e.SRID(context.Background(), layer))
		}()
	}
	wg.Wait()
	assert.Equal(t, 3857, e.SRID(context.Background(), layer))
	assert.Equal(t, 1, q.count("ST_SRID"))
}

func TestEngineSRIDDefaults(t *testing.T) {
	tests := []struct {
		name string
		resp *geoclient.QueryResponse
	}{
		{"no rows", rows()},
		{"null", rows(map[string]any{"srid": nil})},
		{"zero", rows(map[string]any{"srid": 0})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueries{handle: func(string) (*geoclient.QueryResponse, error) { return tt.resp, nil }}
			e, reg, _, layer := newTestEngine(t, q)
			assert.Equal(t, NativeSRID, e.SRID(context.Background(), layer))
			srid, ok := reg.SRID(layer.ID)
			assert.True(t, ok)
			assert.Equal(t, NativeSRID, srid)
		})
	}
}

func TestEngineSRIDLookupErrorNotCached(t *testing.T) {
	q := &fakeQueries{handle: func(string) (*geoclient.QueryResponse, error) {
		return nil, errors.New("function st_srid does not exist")
	}}
	e, reg, _, layer := newTestEngine(t, q)

	assert.Equal(t, NativeSRID, e.SRID(context.Background(), layer))
	_, ok := reg.SRID(layer.ID)
	assert.False(t, ok)
}

func TestEngineLoadInViewport(t *testing.T) {
	q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
		switch {
		case strings.Contains(sql, "ST_SRID"):
			return rows(map[string]any{"srid": 3857}), nil
		case strings.Contains(sql, "ST_Intersects"):
			return rows(pointRow(1, 10, 20), pointRow(2, 11, 21), map[string]any{"id": 3}), nil
		}
		return rows(), nil
	}}
	e, reg, surf, layer := newTestEngine(t, q)
	require.NoError(t, reg.SetVisible(layer.ID, true))

	vp := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{30, 30}}
	fc, err := e.LoadInViewport(context.Background(), layer, vp)
	require.NoError(t, err)

	assert.Len(t, fc.Features, 2)
	assert.Equal(t, 2, surf.featureCount(layer.ID))
	assert.True(t, surf.isVisible(layer.ID))
	assert.Equal(t, []LayerID{layer.ID}, surf.currentOrder())
	assert.True(t, reg.IsLoaded(layer.ID))
	assert.Equal(t, 1, q.count(`ST_Intersects(ST_Transform("geom", 4326), ST_MakeEnvelope(0, 0, 30, 30, 4326)) LIMIT 600`))
	assert.NotContains(t, fc.Features[0].Properties, "geom")
}

func TestEngineLoadQueryError(t *testing.T) {
	q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
		if strings.Contains(sql, "ST_Intersects") {
			return nil, &geoclient.APIError{Status: 400, Detail: `permission denied for table parcels`}
		}
		return rows(map[string]any{"srid": 4326}), nil
	}}
	e, reg, surf, layer := newTestEngine(t, q)

	_, err := e.LoadInViewport(context.Background(), layer, surf.ViewportBounds())
	require.ErrorIs(t, err, ErrQueryFailed)
	assert.Equal(t, "permission denied for table parcels", err.Error())
	var apiErr *geoclient.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.False(t, reg.IsLoaded(layer.ID))
	assert.Equal(t, -1, surf.featureCount(layer.ID))
}

func TestEngineExtent(t *testing.T) {
	tests := []struct {
		name string
		resp *geoclient.QueryResponse
		ok   bool
		want orb.Bound
	}{
		{"found", rows(map[string]any{"west": 1.0, "south": 2.0, "east": 3.0, "north": 4.0}), true,
			orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}},
		{"null extent", rows(map[string]any{"west": nil, "south": nil, "east": nil, "north": nil}), false, orb.Bound{}},
		{"no rows", rows(), false, orb.Bound{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueries{handle: func(sql string) (*geoclient.QueryResponse, error) {
				if strings.Contains(sql, "ST_Extent") {
					return tt.resp, nil
				}
				return rows(map[string]any{"srid": 4326}), nil
			}}
			e, _, _, layer := newTestEngine(t, q)
			b, ok, err := e.Extent4326(context.Background(), layer)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, b)
		})
	}
}

// blockingQueries holds viewport queries until released, so tests can
// complete them in any order.
type blockingQueries struct {
	mu      sync.Mutex
	pending []chan blockedReply
	started chan struct{}
}

type blockedReply struct {
	resp *geoclient.QueryResponse
	err  error
}

func newBlockingQueries() *blockingQueries {
	return &blockingQueries{started: make(chan struct{}, 16)}
}

func (b *blockingQueries) Query(ctx context.Context, sql string) (*geoclient.QueryResponse, error) {
	if !strings.Contains(sql, "ST_Intersects") {
		return rows(map[string]any{"srid": 4326}), nil
	}
	ch := make(chan blockedReply, 1)
	b.mu.Lock()
	b.pending = append(b.pending, ch)
	b.mu.Unlock()
	b.started <- struct{}{}
	r := <-ch
	return r.resp, r.err
}

func (b *blockingQueries) release(i int, resp *geoclient.QueryResponse) {
	b.reply(i, blockedReply{resp: resp})
}

func (b *blockingQueries) fail(i int, err error) {
	b.reply(i, blockedReply{err: err})
}

func (b *blockingQueries) reply(i int, r blockedReply) {
	b.mu.Lock()
	ch := b.pending[i]
	b.mu.Unlock()
	ch <- r
}

func TestEngineOutOfOrderCompletion(t *testing.T) {
	bq := newBlockingQueries()
	surf := newFakeSurface()
	reg := NewRegistry(surf)
	layer := NewLayer("public", "parcels", "geom")
	reg.SetCatalog([]*Layer{layer})
	e := NewEngine(reg, bq, surf)

	done := make(chan struct{}, 2)
	go func() { e.LoadInViewport(context.Background(), layer, surf.ViewportBounds()); done <- struct{}{} }()
	<-bq.started
	go func() { e.LoadInViewport(context.Background(), layer, surf.ViewportBounds()); done <- struct{}{} }()
	<-bq.started

	// The newer load answers first; the older one must not overwrite it.
	bq.release(1, rows(pointRow(1, 0, 0), pointRow(2, 0, 0)))
	<-done
	bq.release(0, rows(pointRow(1, 0, 0)))
	<-done

	assert.Equal(t, 2, surf.featureCount(layer.ID))
}

func TestEngineSupersededFailure(t *testing.T) {
	bq := newBlockingQueries()
	surf := newFakeSurface()
	reg := NewRegistry(surf)
	layer := NewLayer("public", "parcels", "geom")
	reg.SetCatalog([]*Layer{layer})
	e := NewEngine(reg, bq, surf)

	first := make(chan error, 1)
	go func() {
		_, err := e.LoadInViewport(context.Background(), layer, surf.ViewportBounds())
		first <- err
	}()
	<-bq.started
	second := make(chan error, 1)
	go func() {
		_, err := e.LoadInViewport(context.Background(), layer, surf.ViewportBounds())
		second <- err
	}()
	<-bq.started

	bq.fail(0, errors.New("canceling statement due to statement timeout"))
	err := <-first
	require.ErrorIs(t, err, ErrSuperseded)
	assert.ErrorIs(t, err, ErrQueryFailed)

	bq.fail(1, errors.New("boom"))
	err = <-second
	require.ErrorIs(t, err, ErrQueryFailed)
	assert.NotErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, "boom", err.Error())
}

func TestEngineFailureAfterClearIsSuperseded(t *testing.T) {
	bq := newBlockingQueries()
	surf := newFakeSurface()
	reg := NewRegistry(surf)
	layer := NewLayer("public", "parcels", "geom")
	reg.SetCatalog([]*Layer{layer})
	e := NewEngine(reg, bq, surf)

	done := make(chan error, 1)
	go func() {
		_, err := e.LoadInViewport(context.Background(), layer, surf.ViewportBounds())
		done <- err
	}()
	<-bq.started
	reg.ClearAll()
	bq.fail(0, errors.New("boom"))
	assert.ErrorIs(t, <-done, ErrSuperseded)
}

func TestEngineDuckDBSkipsSRIDLookup(t *testing.T) {
	q := &fakeQueries{}
	surf := newFakeSurface()
	reg := NewRegistry(surf)
	layer := NewLayer("main", "parcels", "geom")
	reg.SetCatalog([]*Layer{layer})
	e := NewEngine(reg, q, surf, WithDialect(DuckDB))

	assert.Equal(t, NativeSRID, e.SRID(context.Background(), layer))
	assert.Empty(t, q.queries)
	srid, ok := reg.SRID(layer.ID)
	assert.True(t, ok)
	assert.Equal(t, NativeSRID, srid)
}
