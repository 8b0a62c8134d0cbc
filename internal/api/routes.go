// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/geobrowse/internal/db"
	"github.com/joeblew999/geobrowse/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	DB      db.Executor
	Catalog *service.CatalogService
	Query   *service.QueryService
	Fields  *service.FieldService
}

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// HealthBody is the response of GET /health.
type HealthBody struct {
	OK      bool   `json:"ok" doc:"Whether the database answered"`
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
	Backend string `json:"backend" doc:"Database backend" example:"postgres"`
	DB      int    `json:"db" doc:"Result of SELECT 1" example:"1"`
	PostGIS string `json:"postgis,omitempty" doc:"postgis_version() on PostgreSQL"`
	Spatial string `json:"spatial,omitempty" doc:"Spatial extension version on DuckDB"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterInfo registers the service description route.
func (h *APIHandler) RegisterInfo(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

// RegisterCatalog registers catalog discovery routes.
func (h *APIHandler) RegisterCatalog(api huma.API) {
	huma.Get(api, "/api/v1/catalog", h.GetCatalog, huma.OperationTags("catalog"))
}

// RegisterQuery registers the SQL query route.
func (h *APIHandler) RegisterQuery(api huma.API) {
	huma.Post(api, "/api/v1/query", h.PostQuery, huma.OperationTags("query"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	if h.svc == nil || h.svc.DB == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	exec := h.svc.DB
	res, err := exec.Query(ctx, "SELECT 1 AS one")
	if err != nil || len(res.Rows) == 0 {
		return nil, huma.Error503ServiceUnavailable("Database not available", err)
	}

	body := HealthBody{OK: true, Status: "ok", Version: Version, Backend: string(exec.Backend()), DB: 1}
	version, err := exec.SpatialVersion(ctx)
	switch {
	case err != nil:
		body.Status = "degraded"
	case exec.Backend() == db.Postgres:
		body.PostGIS = version
	default:
		body.Spatial = version
	}
	return &struct{ Body HealthBody }{Body: body}, nil
}

// queryError maps a query or catalog failure to an HTTP error whose detail is
// the database message.
func queryError(err error) error {
	switch {
	case errors.Is(err, db.ErrUnavailable):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout("query timed out")
	}
	// Empty statements and database errors alike.
	return huma.Error400BadRequest(err.Error())
}
