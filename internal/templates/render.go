// Package templates renders the HTML fragments patched into the viewer page.
package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"strconv"
	"sync"
)

// funcMap holds the helpers of the viewer fragments.
var funcMap = template.FuncMap{
	// count formats an optional geometry count; nil renders as "?".
	"count": func(n *int64) string {
		if n == nil {
			return "?"
		}
		return strconv.FormatInt(*n, 10)
	},
	// show renders an inspector property value.
	"show": func(v any) string {
		if v == nil {
			return "null"
		}
		return fmt.Sprint(v)
	},
}

// Renderer executes named templates. It is safe for concurrent use.
type Renderer struct {
	mu        sync.RWMutex
	templates *template.Template
	fsys      fs.FS
	patterns  []string
}

// New parses the templates of fsys matching patterns, e.g.
// "templates/fragments/*.html".
func New(fsys fs.FS, patterns ...string) (*Renderer, error) {
	tmpl, err := parse(fsys, patterns)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl, fsys: fsys, patterns: patterns}, nil
}

// NewFromDir parses templates from a directory on disk, for development.
func NewFromDir(dir string, patterns ...string) (*Renderer, error) {
	return New(os.DirFS(dir), patterns...)
}

func parse(fsys fs.FS, patterns []string) (*template.Template, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fsys, patterns...)
	if err != nil {
		return nil, fmt.Errorf("parsing templates %v: %w", patterns, err)
	}
	return tmpl, nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template to a buffer.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(buf, name, data)
}

// Reload re-parses the templates, picking up edits made on disk.
func (r *Renderer) Reload() error {
	tmpl, err := parse(r.fsys, r.patterns)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
