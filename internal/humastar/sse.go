// Package humastar serves Datastar server-sent events from Huma operations:
// an operation returns h.Stream(fn) and fn writes patches, signals and
// custom events through [SSE]. Request signals are read with [Signals].
package humastar

import (
	"bytes"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/geobrowse/internal/templates"
)

// Handler is embedded by handlers that answer with Datastar streams.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn as a Huma streaming response.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			fn(NewSSE(ctx))
		},
	}
}

// RenderList renders items with tmpl, or the empty-state fragment when there
// are none.
func (h *Handler) RenderList(tmpl string, items []any, emptyTitle, emptyMsg string) string {
	return RenderList(h.Renderer, tmpl, items, emptyTitle, emptyMsg)
}

// RenderList renders items with tmpl, or the empty-state fragment when there
// are none.
func RenderList(r *templates.Renderer, tmpl string, items []any, emptyTitle, emptyMsg string) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		r.RenderToBuffer(&buf, "empty-state", map[string]string{"Title": emptyTitle, "Message": emptyMsg})
		return buf.String()
	}
	for _, item := range items {
		r.RenderToBuffer(&buf, tmpl, item)
	}
	return buf.String()
}

// SSE is a Datastar event writer. Every method returns the write error, which
// is non-nil once the client has gone away.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE starts a Datastar stream on the request behind a Huma context served
// by the net/http adapter.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the children of selector with html.
func (s SSE) Patch(html, selector string) error {
	return s.PatchElements(html, datastar.WithSelector(selector), datastar.WithModeInner())
}

// Error sets the error signal.
func (s SSE) Error(msg string) error {
	return s.MarshalAndPatchSignals(map[string]any{"error": msg})
}

// Success sets the success signal.
func (s SSE) Success(msg string) error {
	return s.MarshalAndPatchSignals(map[string]any{"success": msg})
}

// Signals merges signals into the page.
func (s SSE) Signals(signals map[string]any) error {
	return s.MarshalAndPatchSignals(signals)
}

// Dispatch fires a DOM custom event carrying detail on the page.
func (s SSE) Dispatch(event string, detail any) error {
	return s.DispatchCustomEvent(event, detail)
}
