package templates

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Renderer fills placeholders in drip message text.
type Renderer struct{}

var funcs = template.FuncMap{
	"default": func(fallback string, v any) string {
		s := strings.TrimSpace(fmt.Sprint(v))
		if v == nil || s == "" {
			return fallback
		}
		return s
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// Render compiles the provided template text with strict missing-key semantics.
func (Renderer) Render(name, tmpl string, data any) (string, error) {
	t, err := parse(name, tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute: %w", err)
	}
	return buf.String(), nil
}

// Check parses tmpl without executing it so broken placeholders surface when a
// flow is saved rather than when a drip fires.
func (Renderer) Check(name, tmpl string) error {
	_, err := parse(name, tmpl)
	return err
}

func parse(name, tmpl string) (*template.Template, error) {
	if tmpl == "" {
		return nil, fmt.Errorf("templates: template text required")
	}
	t, err := template.New(name).Option("missingkey=error").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("templates: parse: %w", err)
	}
	return t, nil
}
