package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/geobrowse/internal/service"
	"github.com/joeblew999/geobrowse/pkg/geoclient"
)

// CreatedBody is the response of the record creation routes.
type CreatedBody struct {
	OK bool  `json:"ok"`
	ID int64 `json:"id" doc:"Id of the new record"`
}

// FieldInput is the body of POST /api/v1/fields.
type FieldInput struct {
	Body geoclient.NewField
}

// FieldsOutput is the response of GET /api/v1/fields.
type FieldsOutput struct {
	Body struct {
		Fields []geoclient.Field `json:"fields"`
	}
}

// ObservationInput is the body of POST /api/v1/observations.
type ObservationInput struct {
	Body geoclient.NewObservation
}

// ObservationsOutput is the response of GET /api/v1/observations.
type ObservationsOutput struct {
	Body struct {
		Observations []geoclient.Observation `json:"observations"`
	}
}

// RegisterFields registers the field and observation routes.
func (h *APIHandler) RegisterFields(api huma.API) {
	huma.Post(api, "/api/v1/fields", h.PostField, huma.OperationTags("fields"))
	huma.Get(api, "/api/v1/fields", h.GetFields, huma.OperationTags("fields"))
	huma.Post(api, "/api/v1/observations", h.PostObservation, huma.OperationTags("fields"))
	huma.Get(api, "/api/v1/observations", h.GetObservations, huma.OperationTags("fields"))
}

func (h *APIHandler) fields() (*service.FieldService, error) {
	if h.svc == nil || h.svc.Fields == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	return h.svc.Fields, nil
}

// recordError maps a validation failure to 400 and anything else like a query.
func recordError(err error) error {
	if errors.Is(err, service.ErrInvalidRecord) {
		return huma.Error400BadRequest(err.Error())
	}
	return queryError(err)
}

// PostField stores a field boundary.
func (h *APIHandler) PostField(ctx context.Context, input *FieldInput) (*struct{ Body CreatedBody }, error) {
	svc, err := h.fields()
	if err != nil {
		return nil, err
	}
	id, err := svc.CreateField(ctx, input.Body)
	if err != nil {
		return nil, recordError(err)
	}
	return &struct{ Body CreatedBody }{Body: CreatedBody{OK: true, ID: id}}, nil
}

// GetFields lists the latest fields.
func (h *APIHandler) GetFields(ctx context.Context, input *struct{}) (*FieldsOutput, error) {
	svc, err := h.fields()
	if err != nil {
		return nil, err
	}
	fields, err := svc.ListFields(ctx)
	if err != nil {
		return nil, queryError(err)
	}
	out := &FieldsOutput{}
	out.Body.Fields = fields
	return out, nil
}

// PostObservation stores an observation.
func (h *APIHandler) PostObservation(ctx context.Context, input *ObservationInput) (*struct{ Body CreatedBody }, error) {
	svc, err := h.fields()
	if err != nil {
		return nil, err
	}
	id, err := svc.CreateObservation(ctx, input.Body)
	if err != nil {
		return nil, recordError(err)
	}
	return &struct{ Body CreatedBody }{Body: CreatedBody{OK: true, ID: id}}, nil
}

// GetObservations lists the latest observations.
func (h *APIHandler) GetObservations(ctx context.Context, input *struct{}) (*ObservationsOutput, error) {
	svc, err := h.fields()
	if err != nil {
		return nil, err
	}
	obs, err := svc.ListObservations(ctx)
	if err != nil {
		return nil, queryError(err)
	}
	out := &ObservationsOutput{}
	out.Body.Observations = obs
	return out, nil
}
