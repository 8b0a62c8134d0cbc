package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

// CatalogOutput is the response of GET /api/v1/catalog.
type CatalogOutput struct {
	Body *geoclient.Catalog
}

// GetCatalog lists schemas and their tables with geometry columns.
func (h *APIHandler) GetCatalog(ctx context.Context, input *struct{}) (*CatalogOutput, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	cat, err := h.svc.Catalog.Catalog(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read catalog", err)
	}
	return &CatalogOutput{Body: cat}, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body geoclient.QueryRequest
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body *geoclient.QueryResponse
}

// PostQuery executes a SQL statement. Database errors are returned as 400
// with the database message as detail.
func (h *APIHandler) PostQuery(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.svc == nil || h.svc.Query == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	res, err := h.svc.Query.Query(ctx, input.Body.SQL)
	if err != nil {
		return nil, queryError(err)
	}
	return &QueryOutput{Body: res}, nil
}
