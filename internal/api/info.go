package api

import (
	"context"
)

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	Backend  string   `json:"backend" doc:"Database backend"`
	DB       bool     `json:"db" doc:"Whether database is available"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:     "geobrowse",
		Version:  Version,
		Features: []string{"catalog", "query", "viewer", "fields"},
	}
	if h.svc != nil && h.svc.DB != nil {
		body.Backend = string(h.svc.DB.Backend())
		body.DB = h.svc.DB.Ping(ctx) == nil
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
