package mapview

import (
	"context"

	"github.com/paulmach/orb/geojson"
)

// FallbackStep is a state of the extent fallback.
type FallbackStep int

const (
	StepQuerying FallbackStep = iota
	StepEmpty
	StepFittingExtent
	StepRetrying
	StepDone
)

func (s FallbackStep) String() string {
	switch s {
	case StepQuerying:
		return "querying"
	case StepEmpty:
		return "empty"
	case StepFittingExtent:
		return "fitting-extent"
	case StepRetrying:
		return "retrying"
	case StepDone:
		return "done"
	}
	return "unknown"
}

// LoadWithFallback loads layer in the current viewport. If nothing is found it
// fits the surface to the layer's extent and retries exactly once, using the
// extent as the viewport. A missing or failing extent ends the attempt with
// the empty result.
func (e *Engine) LoadWithFallback(ctx context.Context, layer *Layer) (*geojson.FeatureCollection, error) {
	step := StepQuerying
	fc, err := e.LoadInViewport(ctx, layer, e.surface.ViewportBounds())

	for {
		switch step {
		case StepQuerying:
			if err != nil || len(fc.Features) > 0 {
				step = StepDone
				continue
			}
			step = StepEmpty

		case StepEmpty:
			ext, ok, extErr := e.Extent4326(ctx, layer)
			if extErr != nil {
				e.log.Warnw("extent lookup failed, not retrying", "layer", layer.ID, "error", extErr)
				step = StepDone
				continue
			}
			if !ok {
				e.log.Debugw("layer has no extent, not retrying", "layer", layer.ID)
				step = StepDone
				continue
			}
			e.log.Debugw("empty viewport, fitting extent", "layer", layer.ID, "extent", ext)
			e.surface.FitBounds(ext)
			step = StepRetrying
			fc, err = e.LoadInViewport(ctx, layer, ext)

		case StepRetrying:
			// One retry only, whatever it returned.
			step = StepDone

		case StepDone:
			return fc, err
		}
	}
}
