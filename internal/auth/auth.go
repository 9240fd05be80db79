// Package auth handles the bot token sent upstream and the keys clients
// present to the local proxy.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type ctxKey int

const keyClientID ctxKey = 0

// NormalizeToken trims token and adds the "Bot " scheme unless it already
// carries one.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(token, "Bot ") || strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bot " + token
}

// Store is a static in-memory key store: secret -> client ID.
// An empty store lets every request through.
type Store struct {
	header   string
	bySecret map[string]string
}

// NewStatic creates a new static key store.
// header: HTTP header to read the key from (e.g., "X-Proxy-Key")
// pairs: map of secret -> client ID
func NewStatic(header string, pairs map[string]string) *Store {
	h := header
	if h == "" {
		h = "X-Proxy-Key"
	}
	return &Store{header: h, bySecret: pairs}
}

func (s *Store) Header() string { return s.header }

func (s *Store) clientIDFor(secret string) (string, bool) {
	for k, id := range s.bySecret {
		if subtle.ConstantTimeCompare([]byte(k), []byte(secret)) == 1 {
			return id, true
		}
	}
	return "", false
}

// WithClientID injects the client ID into context.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyClientID, id)
}

// ClientIDFrom extracts the client ID from context (if present).
func ClientIDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyClientID)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Middleware validates the proxy key and strips it before the request is
// forwarded. Paths in skipPaths are not checked.
func (s *Store) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hname := s.header

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok || len(s.bySecret) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			secret := strings.TrimSpace(r.Header.Get(hname))
			if secret == "" {
				writeJSON(w, http.StatusUnauthorized, "missing_proxy_key", "Provide proxy key in "+hname)
				return
			}
			id, ok := s.clientIDFor(secret)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, "invalid_proxy_key", "Proxy key not recognized")
				return
			}
			r.Header.Del(hname)
			ctx := WithClientID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
