package viewer

import (
	"math"
	"net/url"

	"go.uber.org/zap"

	"github.com/joeblew999/geobrowse/internal/humastar"
	"github.com/joeblew999/geobrowse/internal/mapview"
	"github.com/joeblew999/geobrowse/internal/templates"
)

// rowView is the data of the layer-row template.
type rowView struct {
	mapview.LayerRow
	Path string // action prefix, e.g. /api/v1/viewer/<id>/layers/public.parcels
}

// pageListener turns session updates into page markup and signals.
type pageListener struct {
	humastar.Handler
	base    string
	surface *Surface
	log     *zap.SugaredLogger
}

func newPageListener(sessionID string, surface *Surface, r *templates.Renderer, log *zap.SugaredLogger) *pageListener {
	return &pageListener{
		Handler: humastar.Handler{Renderer: r},
		base:    "/api/v1/viewer/" + url.PathEscape(sessionID) + "/layers/",
		surface: surface,
		log:     log,
	}
}

func (l *pageListener) LayersChanged(rows []mapview.LayerRow) {
	items := make([]any, len(rows))
	for i, r := range rows {
		items[i] = rowView{LayerRow: r, Path: l.base + url.PathEscape(string(r.ID))}
	}
	l.surface.ShowLayers(l.RenderList("layer-row", items, "No layers", "No spatial tables found"))
}

func (l *pageListener) CountersChanged(c mapview.Counters) {
	l.surface.PatchSignals(map[string]any{
		"features":  c.Features,
		"elapsedMs": math.Round(c.ElapsedMS*10) / 10,
		"lastLayer": string(c.LayerID),
	})
}

func (l *pageListener) Notify(n mapview.Notice) {
	l.log.Debugw("notice", "level", n.Level, "message", n.Message)
	signals := map[string]any{"notice": n.Message, "noticeLevel": n.Level}
	if n.Level == "error" {
		signals["error"] = n.Message
	}
	l.surface.PatchSignals(signals)
}
