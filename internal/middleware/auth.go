package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// Auth returns a middleware that validates the Authorization header
// against the configured key sets and attaches the resulting Caller to
// the request context.
//
// The extraction is deliberately byte-literal: the header must start with
// exactly "Bearer " (capital B, single space), and the remainder is the
// token as-is — no trimming, no case folding. Keys compare by plain string
// equality. Admin keys are checked first, so a key listed in both sets
// gets the admin role.
//
// Anything that doesn't produce a known key is rejected with 401 and the
// body "Invalid or missing API key" — the same response whether the header
// is absent, malformed, or carries an unknown token, so callers can't
// probe which keys exist.
func Auth(userKeys, adminKeys []string, logger *zap.Logger) func(http.Handler) http.Handler {
	// Key lookups happen on every request; fold the slices into sets once
	// at construction instead of scanning per request.
	users := make(map[string]struct{}, len(userKeys))
	for _, k := range userKeys {
		users[k] = struct{}{}
	}
	admins := make(map[string]struct{}, len(adminKeys))
	for _, k := range adminKeys {
		admins[k] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			if !strings.HasPrefix(header, bearerPrefix) {
				reject(w, logger, "missing or malformed Authorization header")
				return
			}
			token := header[len(bearerPrefix):]

			var caller Caller
			switch {
			case contains(admins, token):
				caller = Caller{Key: token, Role: RoleAdmin}
			case contains(users, token):
				caller = Caller{Key: token, Role: RoleUser}
			default:
				reject(w, logger, "unknown API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func reject(w http.ResponseWriter, logger *zap.Logger, reason string) {
	logger.Info("auth failed", zap.String("reason", reason))
	http.Error(w, "Invalid or missing API key", http.StatusUnauthorized)
}
