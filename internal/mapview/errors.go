package mapview

import (
	"errors"
	"fmt"
)

var (
	// ErrCatalogUnavailable means the catalog could not be fetched or parsed.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrQueryFailed wraps every remote query error.
	ErrQueryFailed = errors.New("query failed")
	// ErrExtentUnavailable means the extent of a layer could not be computed.
	ErrExtentUnavailable = errors.New("extent unavailable")
	// ErrEmptyLayer rejects showing a layer known to have no geometries.
	ErrEmptyLayer = errors.New("layer has no geometries")
	// ErrUnknownLayer means the id is neither cataloged nor synthetic.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrSuperseded marks a failed load that a newer load of the same layer,
	// or a clear, has replaced. Its failure changes nothing.
	ErrSuperseded = errors.New("load superseded")
	// ErrNoShapes rejects an ad-hoc result without any drawable row.
	ErrNoShapes = errors.New("query result has no geometry column")
)

// QueryError carries the remote error message verbatim.
type QueryError struct {
	Detail string
	Err    error
}

func newQueryError(err error) *QueryError {
	return &QueryError{Detail: err.Error(), Err: err}
}

func (e *QueryError) Error() string { return e.Detail }

// Unwrap lets errors.Is match both ErrQueryFailed and the transport error.
func (e *QueryError) Unwrap() []error { return []error{ErrQueryFailed, e.Err} }

func unknownLayer(id LayerID) error {
	return fmt.Errorf("%w: %q", ErrUnknownLayer, id)
}
