package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/db"
	"github.com/joeblew999/geobrowse/internal/logger"
	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

// ErrInvalidRecord rejects a field or observation that cannot be stored.
var ErrInvalidRecord = errors.New("invalid record")

const (
	fieldListLimit       = 100
	observationListLimit = 200
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS fields (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	boundary geometry(Polygon, 4326) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS observations (
	id BIGSERIAL PRIMARY KEY,
	field_id BIGINT REFERENCES fields(id) ON DELETE SET NULL,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	kind TEXT NOT NULL,
	geom geometry(Geometry, 4326),
	accuracy_m DOUBLE PRECISION,
	payload JSONB NOT NULL DEFAULT '{}'
)`,
}

var duckdbSchema = []string{
	`CREATE SEQUENCE IF NOT EXISTS fields_id_seq`,
	`CREATE TABLE IF NOT EXISTS fields (
	id BIGINT PRIMARY KEY DEFAULT nextval('fields_id_seq'),
	name VARCHAR NOT NULL,
	boundary GEOMETRY NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
)`,
	`CREATE SEQUENCE IF NOT EXISTS observations_id_seq`,
	`CREATE TABLE IF NOT EXISTS observations (
	id BIGINT PRIMARY KEY DEFAULT nextval('observations_id_seq'),
	field_id BIGINT,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
	kind VARCHAR NOT NULL,
	geom GEOMETRY,
	accuracy_m DOUBLE,
	payload JSON NOT NULL DEFAULT '{}'
)`,
}

// FieldService records field boundaries and observations. Both tables carry
// a geometry column, so the catalog offers them as map layers.
type FieldService struct {
	exec    db.Executor
	builder squirrel.StatementBuilderType
	log     *zap.SugaredLogger
}

// NewFieldService creates a field service over exec.
func NewFieldService(exec db.Executor, log *zap.SugaredLogger) *FieldService {
	var format squirrel.PlaceholderFormat = squirrel.Question
	if exec.Backend() == db.Postgres {
		format = squirrel.Dollar
	}
	return &FieldService{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(format),
		log:     logger.OrNop(log),
	}
}

func (s *FieldService) postgres() bool { return s.exec.Backend() == db.Postgres }

// EnsureSchema creates the fields and observations tables if missing. On
// PostgreSQL the PostGIS extension must already be installed.
func (s *FieldService) EnsureSchema(ctx context.Context) error {
	stmts := duckdbSchema
	if s.postgres() {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.exec.Query(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	s.log.Infow("field tables ready", "backend", s.exec.Backend())
	return nil
}

// geomFromGeoJSON wraps a GeoJSON text parameter into a geometry in EPSG:4326.
func (s *FieldService) geomFromGeoJSON(text string) squirrel.Sqlizer {
	if s.postgres() {
		return squirrel.Expr("ST_SetSRID(ST_GeomFromGeoJSON(?::text), 4326)", text)
	}
	return squirrel.Expr("ST_GeomFromGeoJSON(?)", text)
}

// asGeoJSON renders a geometry column as GeoJSON text.
func (s *FieldService) asGeoJSON(col string) string {
	if s.postgres() {
		return fmt.Sprintf("ST_AsGeoJSON(%s) AS %s", col, col)
	}
	return fmt.Sprintf("CAST(ST_AsGeoJSON(%s) AS VARCHAR) AS %s", col, col)
}

// CreateField stores a field and returns its id. The boundary must be a
// GeoJSON Polygon.
func (s *FieldService) CreateField(ctx context.Context, in geoclient.NewField) (int64, error) {
	if in.Name == "" || len(in.Boundary) == 0 {
		return 0, fmt.Errorf("%w: name and boundary required", ErrInvalidRecord)
	}
	g, err := parseGeometry(in.Boundary)
	if err != nil {
		return 0, fmt.Errorf("%w: boundary must be GeoJSON Polygon", ErrInvalidRecord)
	}
	if _, ok := g.(orb.Polygon); !ok {
		return 0, fmt.Errorf("%w: boundary must be GeoJSON Polygon", ErrInvalidRecord)
	}
	text, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	sql, args, err := s.builder.Insert("fields").
		Columns("name", "boundary").
		Values(in.Name, s.geomFromGeoJSON(string(text))).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}
	return s.insert(ctx, sql, args)
}

// ListFields returns the latest fields, newest first, with their area.
func (s *FieldService) ListFields(ctx context.Context) ([]geoclient.Field, error) {
	area := "ST_Area_Spheroid(ST_FlipCoordinates(boundary)) AS area_m2"
	if s.postgres() {
		area = "ST_Area(boundary::geography) AS area_m2"
	}
	sql, args, err := s.builder.
		Select("id", "name", s.asGeoJSON("boundary"), area, "created_at").
		From("fields").
		OrderBy("id DESC").
		Limit(fieldListLimit).
		ToSql()
	if err != nil {
		return nil, err
	}
	res, err := s.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	fields := make([]geoclient.Field, 0, len(res.Rows))
	for _, row := range res.Rows {
		id, _ := int64Value(row["id"])
		m2, _ := float64Value(row["area_m2"])
		name, _ := row["name"].(string)
		created, _ := row["created_at"].(time.Time)
		fields = append(fields, geoclient.Field{
			ID:        id,
			Name:      name,
			Boundary:  jsonObject(row["boundary"]),
			AreaM2:    m2,
			CreatedAt: created,
		})
	}
	return fields, nil
}

// CreateObservation stores an observation and returns its id. The geometry
// is optional and may be of any GeoJSON type.
func (s *FieldService) CreateObservation(ctx context.Context, in geoclient.NewObservation) (int64, error) {
	if in.Kind == "" {
		return 0, fmt.Errorf("%w: kind required", ErrInvalidRecord)
	}

	var geom any
	if len(in.Geom) > 0 {
		g, err := parseGeometry(in.Geom)
		if err != nil {
			return 0, fmt.Errorf("%w: geom must be GeoJSON geometry", ErrInvalidRecord)
		}
		text, err := geojson.NewGeometry(g).MarshalJSON()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		geom = s.geomFromGeoJSON(string(text))
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	payloadExpr := squirrel.Expr("CAST(? AS JSON)", string(body))
	if s.postgres() {
		payloadExpr = squirrel.Expr("?::jsonb", string(body))
	}

	var fieldID, accuracy any
	if in.FieldID != nil {
		fieldID = *in.FieldID
	}
	if in.AccuracyM != nil {
		accuracy = *in.AccuracyM
	}

	sql, args, err := s.builder.Insert("observations").
		Columns("field_id", "kind", "geom", "accuracy_m", "payload").
		Values(fieldID, in.Kind, geom, accuracy, payloadExpr).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}
	return s.insert(ctx, sql, args)
}

// ListObservations returns the latest observations, newest first.
func (s *FieldService) ListObservations(ctx context.Context) ([]geoclient.Observation, error) {
	payload := "CAST(payload AS VARCHAR) AS payload"
	if s.postgres() {
		payload = "payload::text AS payload"
	}
	sql, args, err := s.builder.
		Select("id", "field_id", "observed_at", "kind", s.asGeoJSON("geom"), "accuracy_m", payload).
		From("observations").
		OrderBy("id DESC").
		Limit(observationListLimit).
		ToSql()
	if err != nil {
		return nil, err
	}
	res, err := s.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	obs := make([]geoclient.Observation, 0, len(res.Rows))
	for _, row := range res.Rows {
		id, _ := int64Value(row["id"])
		kind, _ := row["kind"].(string)
		observed, _ := row["observed_at"].(time.Time)
		o := geoclient.Observation{
			ID:         id,
			ObservedAt: observed,
			Kind:       kind,
			Geom:       jsonObject(row["geom"]),
			Payload:    jsonObject(row["payload"]),
		}
		if v, ok := int64Value(row["field_id"]); ok {
			o.FieldID = &v
		}
		if v, ok := float64Value(row["accuracy_m"]); ok {
			o.AccuracyM = &v
		}
		if o.Payload == nil {
			o.Payload = map[string]any{}
		}
		obs = append(obs, o)
	}
	return obs, nil
}

func (s *FieldService) insert(ctx context.Context, sql string, args []any) (int64, error) {
	res, err := s.exec.Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, errors.New("insert returned no id")
	}
	id, ok := int64Value(res.Rows[0]["id"])
	if !ok {
		return 0, fmt.Errorf("insert returned id %v", res.Rows[0]["id"])
	}
	s.log.Debugw("record stored", "id", id)
	return id, nil
}

// parseGeometry decodes a GeoJSON geometry object.
func parseGeometry(obj map[string]any) (orb.Geometry, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, err
	}
	if g.Geometry() == nil {
		return nil, errors.New("empty geometry")
	}
	return g.Geometry(), nil
}

// jsonObject decodes a JSON text column. NULL and malformed values are nil.
func jsonObject(v any) map[string]any {
	var raw []byte
	switch t := v.(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	case map[string]any:
		return t
	default:
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func int64Value(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func float64Value(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
