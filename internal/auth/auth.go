// Package auth defines the authenticated Principal value threaded through
// the core as an explicit function argument. A thin piece of HTTP-layer
// plumbing extracts the Principal from
// the request once per handler invocation; everything below the handler
// boundary takes it as a parameter, never from context.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated caller passed into every core operation
// that needs to authorize against it.
type Principal struct {
	Username string
	Roles    []string
	IsAdmin  bool
}

// HasRole reports whether the principal holds the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey string

const principalContextKey contextKey = "principal"

// FromHeader builds a Principal from the upstream auth collaborator's
// injected headers. Real session/token verification lives upstream; the
// core trusts that an external proxy or middleware has
// already authenticated the caller and injected these headers.
func FromHeader(r *http.Request) (Principal, bool) {
	username := r.Header.Get("X-Pipelinehub-User")
	if username == "" {
		return Principal{}, false
	}
	rolesHeader := r.Header.Get("X-Pipelinehub-Roles")
	var roles []string
	if rolesHeader != "" {
		for _, role := range strings.Split(rolesHeader, ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				roles = append(roles, role)
			}
		}
	}
	p := Principal{Username: username, Roles: roles}
	p.IsAdmin = p.HasRole("admin")
	return p, true
}

// WithPrincipal attaches p to ctx. This is transport-layer plumbing only —
// used to carry the principal from middleware to the handler that invokes
// it — never read by internal/engine, internal/store, or internal/ingest,
// which all take a Principal argument directly.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// FromContext retrieves the Principal attached by WithPrincipal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// RequirePrincipal is HTTP middleware that rejects requests without an
// authenticated principal and attaches the Principal to the request context
// for the handler to pull out and pass along explicitly.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromHeader(r)
		if !ok {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
