package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geobrowse/internal/db"
	"github.com/joeblew999/geobrowse/internal/service"
)

type fakeExecutor struct {
	backend db.Backend
	handle  func(sql string) (*db.Result, error)
	version string
}

func (f *fakeExecutor) Query(ctx context.Context, sql string, args ...any) (*db.Result, error) {
	return f.handle(sql)
}

func (f *fakeExecutor) Ping(ctx context.Context) error { return nil }

func (f *fakeExecutor) SpatialVersion(ctx context.Context) (string, error) {
	if f.version == "" {
		return "", errors.New("spatial extension not loaded")
	}
	return f.version, nil
}

func (f *fakeExecutor) Backend() db.Backend { return f.backend }
func (f *fakeExecutor) Close() error        { return nil }

func newTestAPI(t *testing.T, exec *fakeExecutor) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	RegisterRoutes(api, &Services{
		DB:      exec,
		Catalog: service.NewCatalogService(exec, nil),
		Query:   service.NewQueryService(exec, 0, nil),
		Fields:  service.NewFieldService(exec, nil),
	})
	return api
}

func TestHealthPostgres(t *testing.T) {
	exec := &fakeExecutor{
		backend: db.Postgres,
		version: "3.4 USE_GEOS=1 USE_PROJ=1 USE_STATS=1",
		handle: func(sql string) (*db.Result, error) {
			return &db.Result{Rows: []map[string]any{{"one": int32(1)}}}, nil
		},
	}
	api := newTestAPI(t, exec)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var body HealthBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, 1, body.DB)
	assert.Equal(t, "postgres", body.Backend)
	assert.Equal(t, "3.4 USE_GEOS=1 USE_PROJ=1 USE_STATS=1", body.PostGIS)
	assert.Empty(t, body.Spatial)
}

func TestHealthDuckDBWithoutSpatial(t *testing.T) {
	exec := &fakeExecutor{
		backend: db.DuckDB,
		handle: func(sql string) (*db.Result, error) {
			return &db.Result{Rows: []map[string]any{{"one": int32(1)}}}, nil
		},
	}
	resp := newTestAPI(t, exec).Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var body HealthBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Empty(t, body.PostGIS)
}

func TestHealthDatabaseDown(t *testing.T) {
	exec := &fakeExecutor{backend: db.Postgres, handle: func(sql string) (*db.Result, error) {
		return nil, errors.New("connection refused")
	}}
	resp := newTestAPI(t, exec).Get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestCatalog(t *testing.T) {
	exec := &fakeExecutor{backend: db.Postgres, handle: func(sql string) (*db.Result, error) {
		return &db.Result{Rows: []map[string]any{
			{"schema": "public", "name": "fields", "geom_col": "boundary"},
			{"schema": "public", "name": "notes", "geom_col": nil},
		}}, nil
	}}
	resp := newTestAPI(t, exec).Get("/api/v1/catalog")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Schemas        []string `json:"schemas"`
		TablesBySchema map[string][]struct {
			Name     string   `json:"name"`
			HasGeom  bool     `json:"has_geom"`
			GeomCols []string `json:"geom_cols"`
		} `json:"tables_by_schema"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, []string{"public"}, body.Schemas)
	require.Len(t, body.TablesBySchema["public"], 2)
	assert.True(t, body.TablesBySchema["public"][0].HasGeom)
	assert.Equal(t, []string{"boundary"}, body.TablesBySchema["public"][0].GeomCols)
	assert.False(t, body.TablesBySchema["public"][1].HasGeom)
}

func TestQuery(t *testing.T) {
	exec := &fakeExecutor{backend: db.Postgres, handle: func(sql string) (*db.Result, error) {
		if strings.Contains(sql, "nope") {
			return nil, errors.New(`relation "nope" does not exist`)
		}
		return &db.Result{Columns: []string{"id"}, Rows: []map[string]any{{"id": 1}, {"id": 2}}}, nil
	}}
	api := newTestAPI(t, exec)

	resp := api.Post("/api/v1/query", map[string]any{"sql": "SELECT id FROM fields"})
	require.Equal(t, http.StatusOK, resp.Code)
	var ok struct {
		Rows      []map[string]any `json:"rows"`
		ElapsedMS *float64         `json:"elapsed_ms"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ok))
	assert.Len(t, ok.Rows, 2)
	assert.NotNil(t, ok.ElapsedMS)

	resp = api.Post("/api/v1/query", map[string]any{"sql": "SELECT * FROM nope"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	var problem struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &problem))
	assert.Equal(t, `relation "nope" does not exist`, problem.Detail)

	resp = api.Post("/api/v1/query", map[string]any{"sql": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestInfo(t *testing.T) {
	exec := &fakeExecutor{backend: db.DuckDB}
	resp := newTestAPI(t, exec).Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)

	var body InfoBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "geobrowse", body.Name)
	assert.Equal(t, "duckdb", body.Backend)
	assert.True(t, body.DB)
}

func TestLinkTransformer(t *testing.T) {
	cfg := huma.DefaultConfig("links test", Version)
	cfg.Transformers = append(cfg.Transformers, LinkTransformer())
	_, api := humatest.New(t, cfg)
	RegisterRoutes(api, &Services{})

	resp := api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{`</health>; rel="health"`, `</api/v1/catalog>; rel="catalog"`}, resp.Header().Values("Link"))

	resp = api.Get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/catalog>; rel="catalog"`)
}

func TestFields(t *testing.T) {
	var inserted string
	exec := &fakeExecutor{backend: db.Postgres, handle: func(sql string) (*db.Result, error) {
		if strings.HasPrefix(sql, "INSERT INTO fields") {
			inserted = sql
			return &db.Result{Rows: []map[string]any{{"id": int64(7)}}}, nil
		}
		return &db.Result{Rows: []map[string]any{{
			"id":         int64(7),
			"name":       "north",
			"boundary":   `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`,
			"area_m2":    6.18e9,
			"created_at": time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		}}}, nil
	}}
	api := newTestAPI(t, exec)

	square := map[string]any{"type": "Polygon", "coordinates": [][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}
	resp := api.Post("/api/v1/fields", map[string]any{"name": "north", "boundary": square})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var created CreatedBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.True(t, created.OK)
	assert.Equal(t, int64(7), created.ID)
	assert.Contains(t, inserted, "ST_SetSRID(ST_GeomFromGeoJSON($2::text), 4326)")

	resp = api.Get("/api/v1/fields")
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Fields []struct {
			ID       int64          `json:"id"`
			Name     string         `json:"name"`
			Boundary map[string]any `json:"boundary"`
			AreaM2   float64        `json:"area_m2"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Fields, 1)
	assert.Equal(t, "north", list.Fields[0].Name)
	assert.Equal(t, "Polygon", list.Fields[0].Boundary["type"])
	assert.InDelta(t, 6.18e9, list.Fields[0].AreaM2, 1)
}

func TestFieldValidation(t *testing.T) {
	exec := &fakeExecutor{backend: db.Postgres, handle: func(sql string) (*db.Result, error) {
		t.Errorf("unexpected query %q", sql)
		return nil, errors.New("unexpected")
	}}
	api := newTestAPI(t, exec)

	tests := []struct {
		name   string
		body   map[string]any
		detail string
	}{
		{"missing boundary", map[string]any{"name": "north"}, "name and boundary required"},
		{"missing name", map[string]any{"boundary": map[string]any{"type": "Point", "coordinates": []float64{1, 2}}}, "name and boundary required"},
		{"point boundary", map[string]any{"name": "north", "boundary": map[string]any{"type": "Point", "coordinates": []float64{1, 2}}}, "boundary must be GeoJSON Polygon"},
		{"unknown type", map[string]any{"name": "north", "boundary": map[string]any{"type": "Blob"}}, "boundary must be GeoJSON Polygon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.Post("/api/v1/fields", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.Code)
			var problem struct {
				Detail string `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &problem))
			assert.Contains(t, problem.Detail, tt.detail)
		})
	}
}

func TestObservations(t *testing.T) {
	exec := &fakeExecutor{backend: db.DuckDB, handle: func(sql string) (*db.Result, error) {
		if strings.HasPrefix(sql, "INSERT INTO observations") {
			return &db.Result{Rows: []map[string]any{{"id": int64(3)}}}, nil
		}
		if strings.Contains(sql, "FROM observations") {
			return &db.Result{Rows: []map[string]any{
				{"id": int64(3), "field_id": int64(7), "kind": "soil", "geom": `{"type":"Point","coordinates":[1,2]}`, "accuracy_m": 4.5, "payload": `{"ph":6.5}`},
				{"id": int64(2), "field_id": nil, "kind": "note", "geom": nil, "accuracy_m": nil, "payload": `{}`},
			}}, nil
		}
		return nil, errors.New("unexpected")
	}}
	api := newTestAPI(t, exec)

	resp := api.Post("/api/v1/observations", map[string]any{
		"kind":    "soil",
		"geom":    map[string]any{"type": "Point", "coordinates": []float64{1, 2}},
		"payload": map[string]any{"ph": 6.5},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Post("/api/v1/observations", map[string]any{"field_id": 7})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "kind required")

	resp = api.Get("/api/v1/observations")
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Observations []struct {
			ID        int64          `json:"id"`
			FieldID   *int64         `json:"field_id"`
			Geom      map[string]any `json:"geom"`
			AccuracyM *float64       `json:"accuracy_m"`
			Payload   map[string]any `json:"payload"`
		} `json:"observations"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Observations, 2)
	assert.Equal(t, int64(7), *list.Observations[0].FieldID)
	assert.Equal(t, "Point", list.Observations[0].Geom["type"])
	assert.Equal(t, 6.5, list.Observations[0].Payload["ph"])
	assert.Nil(t, list.Observations[1].FieldID)
	assert.Nil(t, list.Observations[1].Geom)
	assert.Nil(t, list.Observations[1].AccuracyM)
	assert.Empty(t, list.Observations[1].Payload)
}

func TestFieldsWithoutDatabase(t *testing.T) {
	_, api := humatest.New(t)
	RegisterRoutes(api, &Services{})

	assert.Equal(t, http.StatusServiceUnavailable, api.Get("/api/v1/fields").Code)
	assert.Equal(t, http.StatusServiceUnavailable, api.Get("/api/v1/observations").Code)
}
