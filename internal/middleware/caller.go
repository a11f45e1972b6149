// Package middleware holds the gateway's HTTP middleware chain: auth,
// rate limiting, usage tracking, and request logging. The layers
// communicate only through the per-request context — auth attaches the
// validated caller, everything downstream reads it back out.
package middleware

import (
	"context"
	"net/http"
)

// Role distinguishes ordinary API keys from admin keys. Admins can read
// other keys' stats; users can only see their own.
type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

// Caller is the authenticated identity attached to a request after the
// auth layer has validated its bearer token.
type Caller struct {
	Key  string
	Role Role
}

// ctxKey is an unexported type for context keys. Using a private type
// (instead of a string) means no other package can collide with — or
// even construct — our key.
type ctxKey struct{}

// WithCaller returns a copy of ctx carrying the validated caller.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// CallerFromContext extracts the validated caller, if the auth layer
// attached one. The second return mirrors map lookups: false means this
// request never passed through auth (public route).
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(Caller)
	return c, ok
}

// CallerFromRequest is the http.Request convenience form.
func CallerFromRequest(r *http.Request) (Caller, bool) {
	return CallerFromContext(r.Context())
}
