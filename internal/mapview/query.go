package mapview

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/paulmach/orb"
)

const (
	// NativeSRID is the geographic reference system features are drawn in.
	NativeSRID = 4326
	// DefaultFeatureLimit caps the rows of one viewport query.
	DefaultFeatureLimit = 600
	// ShapeColumn is the alias of the GeoJSON geometry in viewport queries.
	ShapeColumn = "__geojson"
)

// TableRef names a spatial table and its geometry column.
//
// Identifiers are double-quoted but otherwise taken as given: they come from
// the catalog and are not validated here.
type TableRef struct {
	Schema     string
	Table      string
	GeomColumn string
}

// Qualified returns the quoted "schema"."table" name.
func (t TableRef) Qualified() string {
	return quoteIdent(t.Schema) + "." + quoteIdent(t.Table)
}

// Name returns the unquoted schema.table name used as count alias.
func (t TableRef) Name() string { return t.Schema + "." + t.Table }

func (t TableRef) geom() string { return quoteIdent(t.GeomColumn) }

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// maxIdentLen is the longest identifier PostgreSQL keeps; longer aliases are
// cut to it.
const maxIdentLen = 63

// truncateIdent cuts s the way PostgreSQL cuts an over-long identifier: to
// maxIdentLen bytes without splitting a character.
func truncateIdent(s string) string {
	if len(s) <= maxIdentLen {
		return s
	}
	n := maxIdentLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// CountsSQL builds one statement counting the non-null geometries of every
// table, each aliased by the table's schema.table name.
func CountsSQL(refs []TableRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = "(SELECT COUNT(" + r.geom() + ") FROM " + r.Qualified() +
			" WHERE " + r.geom() + " IS NOT NULL) AS " + quoteIdent(r.Name())
	}
	return "SELECT " + strings.Join(parts, ", ")
}

// Dialect selects the spatial SQL flavour of the query service.
type Dialect int

const (
	// PostGIS targets PostgreSQL with the PostGIS extension.
	PostGIS Dialect = iota
	// DuckDB targets DuckDB with the spatial extension. Its geometries carry
	// no SRID and are assumed to be in NativeSRID.
	DuckDB
)

// ParseDialect maps a backend name to its dialect. Unknown names are PostGIS.
func ParseDialect(s string) Dialect {
	if strings.EqualFold(s, "duckdb") {
		return DuckDB
	}
	return PostGIS
}

func (d Dialect) String() string {
	if d == DuckDB {
		return "duckdb"
	}
	return "postgis"
}

// geomIn returns the geometry expression of r re-expressed in NativeSRID.
func (d Dialect) geomIn(r TableRef, srid int) string {
	if srid == NativeSRID {
		return r.geom()
	}
	if d == DuckDB {
		return "ST_Transform(" + r.geom() + ", 'EPSG:" + strconv.Itoa(srid) + "', 'EPSG:" + strconv.Itoa(NativeSRID) + "', true)"
	}
	return "ST_Transform(" + r.geom() + ", " + strconv.Itoa(NativeSRID) + ")"
}

// envelope renders b as a NativeSRID envelope.
func (d Dialect) envelope(b orb.Bound) string {
	args := formatFloat(b.Left()) + ", " + formatFloat(b.Bottom()) + ", " +
		formatFloat(b.Right()) + ", " + formatFloat(b.Top())
	if d == DuckDB {
		return "ST_MakeEnvelope(" + args + ")"
	}
	return "ST_MakeEnvelope(" + args + ", " + strconv.Itoa(NativeSRID) + ")"
}

// SRIDSQL reads the declared SRID of one non-null geometry. It returns "" when
// the dialect has no per-geometry SRID.
func (d Dialect) SRIDSQL(r TableRef) string {
	if d == DuckDB {
		return ""
	}
	return "SELECT ST_SRID(" + r.geom() + ") AS srid FROM " + r.Qualified() +
		" WHERE " + r.geom() + " IS NOT NULL LIMIT 1"
}

// ViewportSQL selects every column of r plus its geometry as GeoJSON in
// NativeSRID, restricted to rows intersecting the viewport and capped at limit.
func (d Dialect) ViewportSQL(r TableRef, srid int, viewport orb.Bound, limit int) string {
	if limit <= 0 {
		limit = DefaultFeatureLimit
	}
	g := d.geomIn(r, srid)
	return "SELECT *, ST_AsGeoJSON(" + g + ") AS " + quoteIdent(ShapeColumn) +
		" FROM " + r.Qualified() +
		" WHERE " + r.geom() + " IS NOT NULL AND ST_Intersects(" + g + ", " + d.envelope(viewport) + ")" +
		" LIMIT " + strconv.Itoa(limit)
}

// ExtentSQL computes the NativeSRID bounding box of every non-null geometry.
func (d Dialect) ExtentSQL(r TableRef, srid int) string {
	agg := "ST_Extent"
	if d == DuckDB {
		agg = "ST_Extent_Agg"
	}
	return "SELECT ST_XMin(e) AS west, ST_YMin(e) AS south, ST_XMax(e) AS east, ST_YMax(e) AS north" +
		" FROM (SELECT " + agg + "(" + d.geomIn(r, srid) + ") AS e FROM " + r.Qualified() +
		" WHERE " + r.geom() + " IS NOT NULL) AS x"
}

// SRIDSQL is PostGIS.SRIDSQL.
func SRIDSQL(r TableRef) string { return PostGIS.SRIDSQL(r) }

// ViewportSQL is PostGIS.ViewportSQL.
func ViewportSQL(r TableRef, srid int, viewport orb.Bound, limit int) string {
	return PostGIS.ViewportSQL(r, srid, viewport, limit)
}

// ExtentSQL is PostGIS.ExtentSQL.
func ExtentSQL(r TableRef, srid int) string { return PostGIS.ExtentSQL(r, srid) }
