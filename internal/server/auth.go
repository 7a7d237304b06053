package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docqa-go/internal/logging"
)

// headerAPIKey is accepted as an alternative to a bearer token for clients
// that cannot set Authorization.
const headerAPIKey = "X-API-Key"

// authMiddleware requires the configured API key on every request, either as
// "Authorization: Bearer <key>" or in X-API-Key. An empty apiKey disables the
// check; New logs that once at startup. Presented keys are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := presentedKey(r)
		switch {
		case got == "":
			logging.FromContext(r.Context()).Warn("auth: no credentials presented")
			w.Header().Set("WWW-Authenticate", `Bearer realm="docqa"`)
			writeJSONError(w, r, "authorization required", http.StatusUnauthorized)
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			logging.FromContext(r.Context()).Warn("auth: rejected credentials",
				slog.Int("key_len", len(got)),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="docqa", error="invalid_token"`)
			writeJSONError(w, r, "invalid API key", http.StatusUnauthorized)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// presentedKey returns the bearer token, falling back to X-API-Key.
func presentedKey(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.Header.Get(headerAPIKey))
}

// bearerToken extracts the token from "Authorization: Bearer <token>", or ""
// when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
