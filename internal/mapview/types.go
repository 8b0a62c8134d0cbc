// Package mapview keeps a map's layers in sync with its viewport.
//
// A Session owns one Registry (layer list, visibility, stacking order, active
// layer, SRID cache), an Engine that loads the features of a layer inside the
// current viewport, and a Scheduler that debounces viewport changes into a
// reload of the active layer. All drawing goes through the Surface interface.
package mapview

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

// LayerID is the fully-qualified "schema.table" name of a layer, or the id of
// a synthetic layer such as "query:1".
type LayerID string

// Layer is one cataloged spatial table.
type Layer struct {
	ID         LayerID
	Schema     string
	Table      string
	GeomColumn string

	// Count is the number of non-null geometries. nil means unknown, which is
	// treated as non-empty.
	Count *int64
}

// NewLayer creates a layer for schema.table with the given geometry column.
func NewLayer(schema, table, geomColumn string) *Layer {
	return &Layer{
		ID:         LayerID(schema + "." + table),
		Schema:     schema,
		Table:      table,
		GeomColumn: geomColumn,
	}
}

// Name returns the display name of the layer.
func (l *Layer) Name() string { return string(l.ID) }

// KnownEmpty reports whether hydration found zero geometries.
func (l *Layer) KnownEmpty() bool { return l.Count != nil && *l.Count == 0 }

// Ref returns the table reference used by the query builders.
func (l *Layer) Ref() TableRef {
	return TableRef{Schema: l.Schema, Table: l.Table, GeomColumn: l.GeomColumn}
}

// setCount stores the hydrated count once; later calls are ignored.
func (l *Layer) setCount(n int64) {
	if l.Count == nil {
		l.Count = &n
	}
}

// Direction moves a layer within the stacking order.
type Direction int

const (
	// Up moves a layer one step toward the top of the stack.
	Up Direction = iota
	// Down moves a layer one step toward the bottom of the stack.
	Down
)

// ParseDirection parses "up" or "down".
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "up":
		return Up, true
	case "down":
		return Down, true
	}
	return 0, false
}

// FeatureMeta identifies the layer a feature collection belongs to.
type FeatureMeta struct {
	LayerID   LayerID
	LayerName string
}

// FeatureSelection is emitted by a surface when the user clicks a feature.
type FeatureSelection struct {
	LayerName string
	Feature   *geojson.Feature
}

// Surface is the rendering surface the core draws into. Viewport bounds are
// west/south/east/north geographic degrees.
type Surface interface {
	ViewportBounds() orb.Bound
	SetFeatures(fc *geojson.FeatureCollection, meta FeatureMeta)
	SetLayerVisible(id LayerID, visible bool)
	ApplyOrder(ids []LayerID)
	FitBounds(b orb.Bound)
	OnViewportChangeEnd(handler func()) (unsubscribe func())
	ClearAll()
}

// CatalogSource returns the candidate layer catalog.
type CatalogSource interface {
	Catalog(ctx context.Context) (*geoclient.Catalog, error)
}

// QueryRunner executes SQL on the remote query service.
type QueryRunner interface {
	Query(ctx context.Context, sql string) (*geoclient.QueryResponse, error)
}
