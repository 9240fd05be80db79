package gateway

import (
	"net/http"
	"strings"

	"github.com/Niputi/snowtransfer/internal/routing"
)

// TagRoute strips prefix from the request path and stores the bucket key of
// what is left on the request. Paths outside prefix get a 404.
func TagRoute(prefix string, skip map[string]struct{}) Middleware {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			path, ok := APIPath(prefix, r.URL.Path)
			if !ok {
				writeJSON(w, http.StatusNotFound, "no_route", "path is outside "+prefix)
				return
			}

			next.ServeHTTP(w, routing.WithRoute(r, routing.Classify(path, r.Method)))
		})
	}
}

// APIPath returns path relative to prefix.
func APIPath(prefix, path string) (string, bool) {
	if prefix == "" {
		return path, strings.HasPrefix(path, "/")
	}
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || (rest != "" && rest[0] != '/') {
		return "", false
	}
	if rest == "" {
		rest = "/"
	}
	return rest, true
}
