// Package auth enforces the optional bearer token on the control surface.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/httputil"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Token   string `env:"TOKEN"`
}

// Validate rejects an enabled configuration without a token.
func (c Config) Validate() error {
	if c.Enabled && c.Token == "" {
		return errors.New("auth enabled but no token configured")
	}
	return nil
}

// exemptPaths are always public regardless of auth configuration.
var exemptPaths = map[string]bool{
	"/healthz":          true,
	"/readyz":           true,
	"/metrics":          true,
	"/api/v1/constants": true,
}

// streamSuffix marks SSE endpoints, which may carry the token as a query
// parameter because EventSource cannot set headers.
const streamSuffix = "/stream"

// Middleware returns an HTTP middleware that enforces Bearer token auth
// on non-exempt paths when auth is enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if !valid(tokenFrom(r), cfg.Token) {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorBody{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFrom(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return ""
		}
		return token
	}
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, streamSuffix) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func valid(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
