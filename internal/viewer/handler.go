package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/humastar"
	"github.com/joeblew999/geobrowse/internal/logger"
	"github.com/joeblew999/geobrowse/internal/mapview"
)

// Handler serves the viewer page and its Datastar endpoints.
type Handler struct {
	humastar.Handler
	store *Store
	log   *zap.SugaredLogger
}

// NewHandler creates a viewer handler over store.
func NewHandler(store *Store, log *zap.SugaredLogger) *Handler {
	return &Handler{
		Handler: humastar.Handler{Renderer: store.renderer},
		store:   store,
		log:     logger.OrNop(log),
	}
}

type viewerInput struct {
	ID string `path:"id" doc:"Viewer id"`
}

type layerInput struct {
	ID    string `path:"id" doc:"Viewer id"`
	Layer string `path:"layer" doc:"Layer id" example:"public.parcels"`
}

type moveInput struct {
	ID        string `path:"id" doc:"Viewer id"`
	Layer     string `path:"layer" doc:"Layer id" example:"public.parcels"`
	Direction string `path:"direction" enum:"up,down" doc:"Stacking direction"`
}

type signalsInput struct {
	ID      string `path:"id" doc:"Viewer id"`
	RawBody []byte
}

func (i *signalsInput) signals() (humastar.Signals, error) {
	return (&humastar.SignalsInput{RawBody: i.RawBody}).MustParse()
}

// RegisterRoutes registers the viewer endpoints.
func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("viewer")
	huma.Get(api, "/api/v1/viewer/{id}/events", h.Events, tags)
	huma.Post(api, "/api/v1/viewer/{id}/viewport", h.Viewport, tags)
	huma.Post(api, "/api/v1/viewer/{id}/layers/{layer}/toggle", h.Toggle, tags)
	huma.Post(api, "/api/v1/viewer/{id}/layers/{layer}/select", h.Select, tags)
	huma.Post(api, "/api/v1/viewer/{id}/layers/{layer}/move/{direction}", h.Move, tags)
	huma.Post(api, "/api/v1/viewer/{id}/query", h.Query, tags)
	huma.Post(api, "/api/v1/viewer/{id}/clear", h.Clear, tags)
	huma.Post(api, "/api/v1/viewer/{id}/inspect", h.Inspect, tags)
}

func (h *Handler) viewer(id string) (*Viewer, error) {
	v, ok := h.store.Get(id)
	if !ok {
		return nil, huma.Error404NotFound("viewer not found")
	}
	return v, nil
}

// Page creates a viewer and serves its page.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	v := h.store.Create()
	html, err := h.Renderer.Render("viewer-page", map[string]any{"ID": v.ID})
	if err != nil {
		h.log.Errorw("rendering viewer page", "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

// Events streams the viewer's directives, starting with a full snapshot.
func (h *Handler) Events(ctx context.Context, input *viewerInput) (*huma.StreamResponse, error) {
	v, err := h.viewer(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		sub := v.Surface.Subscribe()
		defer v.Surface.Unsubscribe(sub)

		h.send(sse, v.Surface.Snapshot()...)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-sub.C:
				if !ok {
					return
				}
				if sub.Lagged() {
					h.log.Debugw("viewer stream lagged, resyncing", "viewer", v.ID)
					drain(sub.C)
					h.send(sse, v.Surface.Snapshot()...)
					continue
				}
				h.send(sse, d)
			}
		}
	}), nil
}

func drain(c <-chan Directive) {
	for {
		select {
		case <-c:
		default:
			return
		}
	}
}

func (h *Handler) send(sse humastar.SSE, ds ...Directive) {
	for _, d := range ds {
		var err error
		switch d.Kind {
		case KindFeatures:
			err = sse.Dispatch("geobrowse-features", map[string]any{
				"layerId": d.LayerID, "layerName": d.LayerName, "features": d.Features,
			})
		case KindVisibility:
			err = sse.Dispatch("geobrowse-visibility", map[string]any{"layerId": d.LayerID, "visible": d.Visible})
		case KindOrder:
			order := d.Order
			if order == nil {
				order = []mapview.LayerID{}
			}
			err = sse.Dispatch("geobrowse-order", map[string]any{"order": order})
		case KindFit:
			err = sse.Dispatch("geobrowse-fit", boundsJSON(d.Bounds))
		case KindClear:
			err = sse.Dispatch("geobrowse-clear", map[string]any{})
		case KindLayers:
			err = sse.Patch(d.HTML, "#layer-list")
		case KindSignals:
			err = sse.Signals(d.Signals)
		}
		if err != nil {
			h.log.Debugw("viewer stream write failed", "kind", d.Kind, "error", err)
			return
		}
	}
}

func boundsJSON(b orb.Bound) map[string]float64 {
	return map[string]float64{"west": b.Left(), "south": b.Bottom(), "east": b.Right(), "north": b.Top()}
}

// parseBounds reads west/south/east/north signals.
func parseBounds(s humastar.Signals) (orb.Bound, error) {
	var v [4]float64
	for i, k := range []string{"west", "south", "east", "north"} {
		f, ok := s.Float(k)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return orb.Bound{}, huma.Error400BadRequest(fmt.Sprintf("%s must be a number", k))
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, huma.Error400BadRequest("viewport is inverted")
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// Viewport records the page viewport after a pan or zoom.
func (h *Handler) Viewport(ctx context.Context, input *signalsInput) (*struct{}, error) {
	v, err := h.viewer(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	b, err := parseBounds(signals)
	if err != nil {
		return nil, err
	}
	v.Surface.SetViewport(b)
	return &struct{}{}, nil
}

// reply streams err, if any, as an error signal. Session failures have
// already been reported through the event stream under the same signal.
func (h *Handler) reply(err error) *huma.StreamResponse {
	return h.Stream(func(sse humastar.SSE) {
		if err != nil {
			sse.Error(err.Error())
		}
	})
}

// Toggle flips the visibility of a layer.
func (h *Handler) Toggle(ctx context.Context, input *layerInput) (*huma.StreamResponse, error) {
	v, err := h.viewer(input.ID)
	if err != nil {
		return nil, err
	}
	id := mapview.LayerID(input.Layer)
	on := !v.Session.Registry().IsVisible(id)
	return h.reply(v.Session.Toggle(ctx, id, on)), nil
}

// Select makes a layer the active one.
func (h *Handler) Select(ctx context.Context, input *layerInput) (*huma.StreamResponse, error) {
	v, err := h.viewer(input.ID)
	if err != nil {
		return nil, err
	}
	return h.reply(v.Session.Select(ctx, mapview.LayerID(input.Layer))), nil
}

// Move restacks a layer one position up or down.
func (h *Handler) Move(ctx context.Context, input *moveInput) (*struct{}, error) {
	v, err := h.viewer(input.ID)
	if err != nil {
		return nil, err
	}
	dir, ok := mapview.ParseDirection(input.Direction)
	if !ok {
		return nil, huma.Error400BadRequest("direction must be up or down")
	}
	v.Session.Move(mapview.LayerID(input.Layer), dir)
	return &struct{}{}, nil
}

// Query runs the ad-hoc statement in the sql signal as a new layer.
func (h *Handler) Query(ctx context.Context, input *signalsInput) (*huma.StreamResponse, error) {
	v, err := h.viewer(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	sql := signals.String("sql")
	if sql == "" {
		return h.reply(fmt.Errorf("sql is required")), nil
	}

	id, err := v.Session.RunQuery(ctx, sql)
	if err != nil {
		return h.reply(err), nil
	}
	return h.Stream(func(sse humastar.SSE) {
		sse.Success("Added layer " + string(id))
	}), nil
}

// Clear wipes the map and the layer state.
func (h *Handler) Clear(ctx context.Context, input *viewerInput) (*struct{}, error) {
	v, err := h.viewer(input.ID)
	if err != nil {
		return nil, err
	}
	v.Session.Clear()
	return &struct{}{}, nil
}

// inspectorProp is one property row of the inspector.
type inspectorProp struct {
	Key   string
	Value any
}

// ParseSelection reads the selected signal set by the page on feature click:
// {"layerName": "...", "feature": <GeoJSON Feature>}.
func ParseSelection(s humastar.Signals) (mapview.FeatureSelection, error) {
	sel := s.Object("selected")
	if sel == nil {
		return mapview.FeatureSelection{}, fmt.Errorf("no feature selected")
	}
	raw, err := json.Marshal(sel["feature"])
	if err != nil {
		return mapview.FeatureSelection{}, err
	}
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return mapview.FeatureSelection{}, fmt.Errorf("invalid feature: %w", err)
	}
	name, _ := sel["layerName"].(string)
	return mapview.FeatureSelection{LayerName: name, Feature: f}, nil
}

// Inspect shows the properties of the clicked feature.
func (h *Handler) Inspect(ctx context.Context, input *signalsInput) (*huma.StreamResponse, error) {
	if _, err := h.viewer(input.ID); err != nil {
		return nil, err
	}
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	sel, err := ParseSelection(signals)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	props := make([]inspectorProp, 0, len(sel.Feature.Properties))
	for k, val := range sel.Feature.Properties {
		props = append(props, inspectorProp{Key: k, Value: val})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })

	geomType := ""
	if sel.Feature.Geometry != nil {
		geomType = sel.Feature.Geometry.GeoJSONType()
	}
	html, err := h.Renderer.Render("inspector", map[string]any{
		"LayerName": sel.LayerName,
		"Geometry":  geomType,
		"Props":     props,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to render inspector", err)
	}
	return h.Stream(func(sse humastar.SSE) {
		sse.Patch(html, "#inspector")
	}), nil
}
