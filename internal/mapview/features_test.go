package mapview

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsToFeatures(t *testing.T) {
	rs := []map[string]any{
		{
			"id":        json.Number("1"),
			"geom":      "0101000020E6100000",
			"payload":   `{"crop":"wheat"}`,
			"name":      "north field",
			ShapeColumn: `{"type":"Point","coordinates":[10,20]}`,
		},
		{"id": 2, ShapeColumn: nil},
		{"id": 3, ShapeColumn: "not json"},
		{"id": 4, ShapeColumn: map[string]any{"type": "LineString", "coordinates": []any{[]any{0.0, 0.0}, []any{1.0, 1.0}}}},
	}

	fc := RowsToFeatures(rs, ShapeColumn, "geom")
	require.Len(t, fc.Features, 2)

	f := fc.Features[0]
	assert.Equal(t, orb.Point{10, 20}, f.Geometry)
	assert.Equal(t, "north field", f.Properties["name"])
	assert.Equal(t, map[string]any{"crop": "wheat"}, f.Properties["payload"])
	assert.NotContains(t, f.Properties, "geom")
	assert.NotContains(t, f.Properties, ShapeColumn)

	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, fc.Features[1].Geometry)
}

func TestDetectShapeColumn(t *testing.T) {
	tests := []struct {
		name string
		rows []map[string]any
		want string
		ok   bool
	}{
		{"empty", nil, "", false},
		{"preferred", []map[string]any{{"geom": `{"type":"Point","coordinates":[1,2]}`, "id": 1}}, "geom", true},
		{"any column", []map[string]any{{"boundary_json": `{"type":"Point","coordinates":[1,2]}`, "id": 1}}, "boundary_json", true},
		{"nulls then shape", []map[string]any{{"g": nil}, {"g": `{"type":"Point","coordinates":[1,2]}`}}, "g", true},
		{"no shape", []map[string]any{{"id": 1, "name": "x"}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, ok := DetectShapeColumn(tt.rows)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, col)
		})
	}
}

func TestParseSRID(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{nil, 4326},
		{json.Number("3857"), 3857},
		{float64(2154), 2154},
		{int64(27700), 27700},
		{"32633", 32633},
		{0, 4326},
		{-1, 4326},
		{math.NaN(), 4326},
		{math.Inf(1), 4326},
		{"abc", 4326},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSRID(tt.in), "%v", tt.in)
	}
}
