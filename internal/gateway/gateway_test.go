package gateway_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niputi/snowtransfer/internal/auth"
	"github.com/Niputi/snowtransfer/internal/gateway"
	"github.com/Niputi/snowtransfer/internal/routing"
)

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) gateway.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := gateway.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("a"), nil, mw("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	h := gateway.BodyLimit(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("under limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("abc")))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("declared length over limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("abcdef")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Contains(t, rr.Body.String(), "body_too_large")
	})

	t.Run("unknown length over limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("abcdef")))
		req.ContentLength = -1
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

func TestAPIPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, path, want string
		ok                 bool
	}{
		{"/api/v10", "/api/v10/users/@me", "/users/@me", true},
		{"/api/v10", "/api/v10", "/", true},
		{"/api/v10", "/api/v100/users", "", false},
		{"/api/v10", "/users/@me", "", false},
		{"", "/users/@me", "/users/@me", true},
	}
	for _, tt := range tests {
		got, ok := gateway.APIPath(tt.prefix, tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestTagRoute(t *testing.T) {
	t.Parallel()

	var got routing.RouteKey
	var tagged bool
	h := gateway.TagRoute("/api/v10/", map[string]struct{}{"/health": {}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, tagged = routing.RouteFrom(r)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v10/channels/266277541646434305/messages/266277541646434306", nil))
	require.True(t, tagged)
	assert.Equal(t, routing.RouteKey("DELETE/channels/266277541646434305/messages/:id"), got)

	tagged = false
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.False(t, tagged)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "no_route")
}

func TestClientLimit(t *testing.T) {
	t.Parallel()

	assert.Nil(t, gateway.ClientLimit(0, 0, nil, nil))

	var limited []string
	mw := gateway.ClientLimit(0.001, 1, map[string]struct{}{"/health": {}}, func(id string) {
		limited = append(limited, id)
	})
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	send := func(client, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if client != "" {
			req = req.WithContext(auth.WithClientID(req.Context(), client))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusNoContent, send("ci", "/users/@me").Code)
	rr := send("ci", "/users/@me")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send("bot", "/users/@me").Code, "clients have separate allowances")
	assert.Equal(t, http.StatusNoContent, send("", "/users/@me").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("", "/users/@me").Code)
	assert.Equal(t, http.StatusNoContent, send("ci", "/health").Code)

	assert.Equal(t, []string{"ci", "anon"}, limited)
}
