// Package proxy serves the API locally and forwards every request through
// the shared executor, so many processes can share one set of buckets.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/Niputi/snowtransfer/internal/gateway"
	"github.com/Niputi/snowtransfer/internal/rest"
)

// NewHTTPTransport is tuned for a single upstream host receiving every call.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewHTTPClient returns the client the executor sends API calls with.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: NewHTTPTransport(), Timeout: timeout}
}

// Forwarder runs one API call. *rest.Executor satisfies it.
type Forwarder interface {
	Do(ctx context.Context, req *rest.Request) (*rest.Response, error)
}

// Request headers passed on to the API. Authorization is always the proxy's own.
var forwardRequest = []string{rest.HeaderAuditLog, "Accept", "Accept-Language"}

// Response headers relayed back to the client.
var relayResponse = []string{
	"Content-Type",
	rest.HeaderLimit,
	rest.HeaderRemaining,
	rest.HeaderReset,
	"X-RateLimit-Reset-After",
	"X-RateLimit-Bucket",
	rest.HeaderGlobal,
	"X-RateLimit-Scope",
	"Retry-After",
}

// Handler forwards requests whose path starts with prefix. The prefix is cut
// before the call so /api/v10/users/@me becomes /users/@me.
func Handler(fwd Forwarder, prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, ok := gateway.APIPath(prefix, r.URL.Path)
		if !ok {
			writeError(w, http.StatusNotFound, "no_route", "path is outside the proxied prefix")
			return
		}

		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit")
				return
			}
			writeError(w, http.StatusBadRequest, "bad_body", "could not read request body")
			return
		}

		req := &rest.Request{
			Method: r.Method,
			Path:   path,
			Kind:   rest.KindRaw,
			Query:  r.URL.Query(),
			Header: http.Header{},
		}
		if len(data) > 0 {
			req.Body = rest.RawBody{ContentType: r.Header.Get("Content-Type"), Data: data}
		}
		for _, h := range forwardRequest {
			if v := r.Header.Values(h); len(v) > 0 {
				req.Header[http.CanonicalHeaderKey(h)] = v
			}
		}

		resp, err := fwd.Do(r.Context(), req)
		if err != nil {
			relayError(w, r, err)
			return
		}
		relay(w, resp.StatusCode, resp.Header, resp.Body)
	})
}

func relay(w http.ResponseWriter, status int, header http.Header, body []byte) {
	for _, h := range relayResponse {
		if v := header.Values(h); len(v) > 0 {
			w.Header()[http.CanonicalHeaderKey(h)] = v
		}
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// relayError passes API answers through untouched so clients see what the
// API said. Only failures that never produced an answer are mapped.
func relayError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *rest.HTTPError
	if errors.As(err, &httpErr) {
		relay(w, httpErr.StatusCode, httpErr.Header, httpErr.Body)
		return
	}

	hlog.FromRequest(r).Warn().Err(err).Msg("forward failed")
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", "API did not answer in time")
	case errors.Is(err, context.Canceled):
		writeError(w, 499, "client_closed", "request cancelled")
	default:
		writeError(w, http.StatusBadGateway, "upstream_unreachable", "API could not be reached")
	}
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
