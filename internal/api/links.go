package api

import (
	"github.com/danielgtaylor/huma/v2"
)

// routeLinks are the RFC 8288 Link headers added to the responses of each
// operation path, so clients such as restish can walk the API.
var routeLinks = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/catalog>; rel="catalog"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/catalog>; rel="catalog"`,
	},
	"/api/v1/catalog": {
		`</api/v1/query>; rel="query"`,
		`</viewer>; rel="viewer"`,
	},
	"/api/v1/query": {
		`</api/v1/catalog>; rel="catalog"`,
	},
	"/api/v1/fields": {
		`</api/v1/observations>; rel="observations"`,
		`</api/v1/catalog>; rel="catalog"`,
	},
	"/api/v1/observations": {
		`</api/v1/fields>; rel="fields"`,
	},
}

// LinkTransformer adds routeLinks to every response, errors included.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		if op := ctx.Operation(); op != nil {
			for _, l := range routeLinks[op.Path] {
				ctx.AppendHeader("Link", l)
			}
		}
		return v, nil
	}
}
