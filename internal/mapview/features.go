package mapview

import (
	"encoding/json"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// parseShape reads a GeoJSON geometry given as text, bytes or a decoded object.
func parseShape(v any) (orb.Geometry, bool) {
	var data []byte
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		data = []byte(t)
	case []byte:
		data = t
	case json.RawMessage:
		data = t
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		data = b
	default:
		return nil, false
	}

	g, err := geojson.UnmarshalGeometry(data)
	if err != nil || g == nil {
		return nil, false
	}
	geom := g.Geometry()
	if geom == nil {
		return nil, false
	}
	return geom, true
}

// RowsToFeatures turns query rows into features. shapeCol holds the geometry;
// columns listed in skip are dropped; every other column becomes a property.
// Rows without a readable shape are left out.
func RowsToFeatures(rows []map[string]any, shapeCol string, skip ...string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, row := range rows {
		geom, ok := parseShape(row[shapeCol])
		if !ok {
			continue
		}
		f := geojson.NewFeature(geom)
		for k, v := range row {
			if k == shapeCol || contains(skip, k) {
				continue
			}
			f.Properties[k] = decodeText(v)
		}
		fc.Append(f)
	}
	return fc
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// preferredShapeColumns are tried first when guessing the geometry column of
// an ad-hoc result.
var preferredShapeColumns = []string{ShapeColumn, "geojson", "geom", "geometry", "the_geom", "shape", "boundary"}

// DetectShapeColumn finds the column holding GeoJSON geometries in rows.
func DetectShapeColumn(rows []map[string]any) (string, bool) {
	if len(rows) == 0 {
		return "", false
	}
	for _, col := range preferredShapeColumns {
		if columnHasShape(rows, col) {
			return col, true
		}
	}

	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if columnHasShape(rows, col) {
			return col, true
		}
	}
	return "", false
}

func columnHasShape(rows []map[string]any, col string) bool {
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		_, ok = parseShape(v)
		return ok
	}
	return false
}
