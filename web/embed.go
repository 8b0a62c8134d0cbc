// Package web embeds the viewer page, its fragment templates and static assets.
package web

import "embed"

// FS holds templates/ and static/.
//
//go:embed templates static
var FS embed.FS

// TemplatePatterns match every page and fragment template in FS.
var TemplatePatterns = []string{"templates/*.html", "templates/fragments/*.html"}
