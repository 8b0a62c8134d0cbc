package mapview

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/logger"
)

// CatalogLoader fetches the layer catalog and hydrates geometry counts.
type CatalogLoader struct {
	source  CatalogSource
	queries QueryRunner
	log     *zap.SugaredLogger
}

// NewCatalogLoader creates a loader over the catalog and query services.
func NewCatalogLoader(source CatalogSource, queries QueryRunner, log *zap.SugaredLogger) *CatalogLoader {
	return &CatalogLoader{source: source, queries: queries, log: logger.OrNop(log)}
}

// LoadCatalog returns the spatial tables of the catalog in schema order.
// Tables without a geometry column are skipped.
func (c *CatalogLoader) LoadCatalog(ctx context.Context) ([]*Layer, error) {
	cat, err := c.source.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if cat == nil || len(cat.Schemas) == 0 || cat.TablesBySchema == nil {
		return nil, fmt.Errorf("%w: no schemas", ErrCatalogUnavailable)
	}

	var layers []*Layer
	seen := make(map[LayerID]bool)
	for _, schema := range cat.Schemas {
		for _, t := range cat.TablesBySchema[schema] {
			geom := t.GeometryColumn()
			if geom == "" || t.Name == "" {
				continue
			}
			s := t.Schema
			if s == "" {
				s = schema
			}
			l := NewLayer(s, t.Name, geom)
			if seen[l.ID] {
				continue
			}
			seen[l.ID] = true
			layers = append(layers, l)
		}
	}
	return layers, nil
}

// HydrateCounts fills in the geometry count of every layer with one combined
// query. On failure the counts stay unknown and the layers are treated as
// non-empty; the error is logged, not returned.
func (c *CatalogLoader) HydrateCounts(ctx context.Context, layers []*Layer) []*Layer {
	if len(layers) == 0 {
		return layers
	}

	refs := make([]TableRef, len(layers))
	for i, l := range layers {
		refs[i] = l.Ref()
	}

	res, err := c.queries.Query(ctx, CountsSQL(refs))
	if err != nil {
		c.log.Warnw("count hydration failed, assuming non-empty layers", "layers", len(layers), "error", err)
		return layers
	}
	if len(res.Rows) == 0 {
		c.log.Warnw("count hydration returned no rows", "layers", len(layers))
		return layers
	}

	// A name longer than an identifier comes back truncated; the truncated
	// alias is only trusted when no other layer shares it.
	short := make(map[string]int, len(layers))
	for _, l := range layers {
		short[truncateIdent(l.Ref().Name())]++
	}

	row := res.Rows[0]
	for _, l := range layers {
		name := l.Ref().Name()
		v, found := row[name]
		if t := truncateIdent(name); !found && t != name && short[t] == 1 {
			v, found = row[t]
		}
		if !found {
			c.log.Debugw("no count column for layer", "layer", l.ID)
			continue
		}
		if n, ok := toCount(v); ok {
			l.setCount(n)
		}
	}
	return layers
}

// ChooseActive picks the first layer not known to be empty, falling back to
// the first layer. It returns nil for an empty catalog.
func ChooseActive(layers []*Layer) *Layer {
	for _, l := range layers {
		if !l.KnownEmpty() {
			return l
		}
	}
	if len(layers) > 0 {
		return layers[0]
	}
	return nil
}
