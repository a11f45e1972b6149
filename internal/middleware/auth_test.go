package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// callAuth runs one request through the auth middleware and reports the
// status, the response body, and the caller (if the request got through).
func callAuth(t *testing.T, userKeys, adminKeys []string, authHeader string) (int, string, *Caller) {
	t.Helper()

	var seen *Caller
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := CallerFromRequest(r); ok {
			seen = &c
		}
		w.WriteHeader(http.StatusOK)
	})

	handler := Auth(userKeys, adminKeys, zap.NewNop())(inner)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	return w.Code, strings.TrimSpace(w.Body.String()), seen
}

func TestAuthValidUserKey(t *testing.T) {
	code, _, caller := callAuth(t, []string{"k1", "k2"}, nil, "Bearer k2")

	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, caller)
	assert.Equal(t, "k2", caller.Key)
	assert.Equal(t, RoleUser, caller.Role)
}

func TestAuthAdminKey(t *testing.T) {
	code, _, caller := callAuth(t, []string{"u1"}, []string{"a1"}, "Bearer a1")

	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, caller)
	assert.Equal(t, RoleAdmin, caller.Role)
}

func TestAuthAdminWinsWhenKeyInBothSets(t *testing.T) {
	code, _, caller := callAuth(t, []string{"shared"}, []string{"shared"}, "Bearer shared")

	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, caller)
	assert.Equal(t, RoleAdmin, caller.Role)
}

func TestAuthRejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"unknown key", "Bearer nope"},
		{"no bearer prefix", "k1"},
		{"lowercase bearer", "bearer k1"},
		{"token with leading space", "Bearer  k1"}, // token is " k1", not trimmed
		{"prefix only", "Bearer "},
		{"basic auth", "Basic azE6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body, caller := callAuth(t, []string{"k1"}, nil, tt.header)

			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, "Invalid or missing API key", body)
			assert.Nil(t, caller, "rejected requests must not reach the inner handler")
		})
	}
}

func TestAuthTokenComparedByRawEquality(t *testing.T) {
	// A key with internal whitespace is matched byte-for-byte.
	code, _, caller := callAuth(t, []string{"key with space"}, nil, "Bearer key with space")

	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, caller)
	assert.Equal(t, "key with space", caller.Key)
}
