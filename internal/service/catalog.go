// Package service implements the catalog and query services consumed by the
// map viewer, on top of a db.Executor.
package service

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/db"
	"github.com/joeblew999/geobrowse/internal/logger"
	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

// systemSchemas are never offered as layers.
var systemSchemas = []string{"information_schema", "pg_catalog", "pg_toast", "topology", "tiger", "tiger_data"}

// spatialMetaTables are PostGIS bookkeeping tables living in user schemas.
var spatialMetaTables = []string{"spatial_ref_sys", "geometry_columns", "geography_columns"}

// CatalogService discovers the schemas and geometry tables of the database.
type CatalogService struct {
	exec    db.Executor
	builder squirrel.StatementBuilderType
	log     *zap.SugaredLogger
}

// NewCatalogService creates a catalog service over exec.
func NewCatalogService(exec db.Executor, log *zap.SugaredLogger) *CatalogService {
	var format squirrel.PlaceholderFormat = squirrel.Question
	if exec.Backend() == db.Postgres {
		format = squirrel.Dollar
	}
	return &CatalogService{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(format),
		log:     logger.OrNop(log),
	}
}

// discoveryQuery lists every user table with its geometry columns, one row per
// (table, geometry column) and a NULL column for tables without geometry.
func (s *CatalogService) discoveryQuery() squirrel.SelectBuilder {
	q := s.builder.
		Select("t.table_schema AS schema", "t.table_name AS name").
		From("information_schema.tables t").
		Where(squirrel.NotEq{"t.table_schema": systemSchemas}).
		Where(squirrel.NotEq{"t.table_name": spatialMetaTables}).
		OrderBy("t.table_schema", "t.table_name")

	if s.exec.Backend() == db.Postgres {
		return q.Column("g.f_geometry_column AS geom_col").
			LeftJoin("geometry_columns g ON g.f_table_schema = t.table_schema AND g.f_table_name = t.table_name").
			OrderBy("g.f_geometry_column")
	}
	return q.Column("c.column_name AS geom_col").
		LeftJoin("information_schema.columns c ON c.table_schema = t.table_schema AND c.table_name = t.table_name AND c.data_type = ?", "GEOMETRY").
		OrderBy("c.ordinal_position")
}

// Catalog returns the schemas in name order and their tables.
func (s *CatalogService) Catalog(ctx context.Context) (*geoclient.Catalog, error) {
	stmt, args, err := s.discoveryQuery().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog query: %w", err)
	}

	res, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to discover tables: %w", err)
	}

	cat := BuildCatalog(res.Rows)
	s.log.Debugw("catalog discovered", "schemas", len(cat.Schemas))
	return cat, nil
}

// BuildCatalog groups discovery rows (schema, name, geom_col) into a catalog,
// keeping the order in which schemas, tables and columns first appear.
func BuildCatalog(rows []map[string]any) *geoclient.Catalog {
	cat := &geoclient.Catalog{
		Schemas:        []string{},
		TablesBySchema: map[string][]geoclient.CatalogTable{},
	}
	index := map[[2]string]int{}

	for _, row := range rows {
		schema, _ := row["schema"].(string)
		name, _ := row["name"].(string)
		if schema == "" || name == "" {
			continue
		}
		if _, ok := cat.TablesBySchema[schema]; !ok {
			cat.Schemas = append(cat.Schemas, schema)
			cat.TablesBySchema[schema] = []geoclient.CatalogTable{}
		}

		key := [2]string{schema, name}
		i, ok := index[key]
		if !ok {
			i = len(cat.TablesBySchema[schema])
			index[key] = i
			cat.TablesBySchema[schema] = append(cat.TablesBySchema[schema],
				geoclient.CatalogTable{Schema: schema, Name: name, GeomCols: []string{}})
		}

		col, _ := row["geom_col"].(string)
		if col == "" {
			continue
		}
		t := &cat.TablesBySchema[schema][i]
		t.GeomCols = append(t.GeomCols, col)
		t.HasGeom = true
		if t.GeomCol == "" {
			t.GeomCol = col
		}
	}
	return cat
}
