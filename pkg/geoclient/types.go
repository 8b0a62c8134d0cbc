// Package geoclient is the Go client for the geobrowse catalog and query API.
package geoclient

import "time"

// Catalog is the response of GET /api/v1/catalog.
type Catalog struct {
	Schemas        []string                  `json:"schemas" doc:"Schema names in display order"`
	TablesBySchema map[string][]CatalogTable `json:"tables_by_schema" doc:"Tables keyed by schema name"`
}

// CatalogTable describes one table of the catalog.
// Older servers send a single geom_col instead of geom_cols.
type CatalogTable struct {
	Schema   string   `json:"schema" doc:"Schema name" example:"public"`
	Name     string   `json:"name" doc:"Table name" example:"parcels"`
	HasGeom  bool     `json:"has_geom" doc:"Whether the table has a geometry column"`
	GeomCols []string `json:"geom_cols,omitempty" doc:"Geometry column names"`
	GeomCol  string   `json:"geom_col,omitempty" doc:"Single geometry column name"`
}

// GeometryColumn returns the first geometry column of the table, or "".
func (t CatalogTable) GeometryColumn() string {
	if !t.HasGeom {
		return ""
	}
	if len(t.GeomCols) > 0 && t.GeomCols[0] != "" {
		return t.GeomCols[0]
	}
	return t.GeomCol
}

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	SQL string `json:"sql" required:"true" minLength:"1" doc:"SQL statement to execute"`
}

// QueryResponse is the successful response of POST /api/v1/query.
type QueryResponse struct {
	Rows      []map[string]any `json:"rows" doc:"Result rows keyed by column name"`
	ElapsedMS *float64         `json:"elapsed_ms,omitempty" doc:"Server-side execution time in milliseconds"`
}

// Info is the response of GET /api/v1/info.
type Info struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Backend  string   `json:"backend"`
	DB       bool     `json:"db"`
	Features []string `json:"features"`
}

// Field is a named field boundary, as listed by GET /api/v1/fields.
type Field struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Boundary  map[string]any `json:"boundary" doc:"GeoJSON Polygon"`
	AreaM2    float64        `json:"area_m2" doc:"Geodesic area in square meters"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewField is the body of POST /api/v1/fields.
type NewField struct {
	Name     string         `json:"name,omitempty" doc:"Field name"`
	Boundary map[string]any `json:"boundary,omitempty" doc:"GeoJSON Polygon in EPSG:4326"`
}

// Observation is a field observation, as listed by GET /api/v1/observations.
type Observation struct {
	ID         int64          `json:"id"`
	FieldID    *int64         `json:"field_id"`
	ObservedAt time.Time      `json:"observed_at"`
	Kind       string         `json:"kind"`
	Geom       map[string]any `json:"geom" doc:"GeoJSON geometry, null when not located"`
	AccuracyM  *float64       `json:"accuracy_m"`
	Payload    map[string]any `json:"payload"`
}

// NewObservation is the body of POST /api/v1/observations.
type NewObservation struct {
	Kind      string         `json:"kind,omitempty" doc:"Observation kind, e.g. soil or pest"`
	FieldID   *int64         `json:"field_id,omitempty" doc:"Field the observation belongs to"`
	Geom      map[string]any `json:"geom,omitempty" doc:"GeoJSON geometry in EPSG:4326"`
	AccuracyM *float64       `json:"accuracy_m,omitempty" doc:"Position accuracy in meters"`
	Payload   map[string]any `json:"payload,omitempty" doc:"Free-form observation data"`
}
