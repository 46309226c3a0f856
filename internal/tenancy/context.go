// Package tenancy scopes a request to the org it acts on.
package tenancy

import "context"

type scopeKey struct{}

// Scope names the org a request acts on and, when known, the token subject
// acting on it.
type Scope struct {
	OrgID string
	Actor string
}

// LogAttrs returns key/value pairs for structured logging.
func (s Scope) LogAttrs() []any {
	attrs := []any{"org_id", s.OrgID}
	if s.Actor != "" {
		attrs = append(attrs, "actor", s.Actor)
	}
	return attrs
}

// WithScope stores the scope in ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the request scope. It reports false when no scope
// was set or the org is empty.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok && s.OrgID != ""
}
