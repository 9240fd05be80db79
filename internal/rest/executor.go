// Package rest performs API calls through the rate limiter, applies the quota
// the server reports back and retries transient failures.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Niputi/snowtransfer/internal/auth"
	"github.com/Niputi/snowtransfer/internal/ratelimit"
	"github.com/Niputi/snowtransfer/internal/routing"
)

const (
	Version        = "0.1.0"
	DefaultBaseURL = "https://discord.com/api/v10"

	DefaultMaxAttempts = 3
)

var DefaultUserAgent = "DiscordBot (https://github.com/Niputi/snowtransfer, " + Version + ")"

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Reporter receives every failed attempt before it is retried or returned.
// It must not block.
type Reporter interface {
	CaptureException(err error)
}

// Recorder collects request metrics.
type Recorder interface {
	ObserveRequest(route, method string, code int, d time.Duration)
	IncRetry(route, reason string)
	IncGlobal()
}

type noopRecorder struct{}

func (noopRecorder) ObserveRequest(string, string, int, time.Duration) {}
func (noopRecorder) IncRetry(string, string)                           {}
func (noopRecorder) IncGlobal()                                        {}

// Request is one logical API call.
type Request struct {
	Method string
	Path   string
	Kind   BodyKind
	Body   any
	Query  url.Values
	Header http.Header
}

// Response is a successful API answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Executor struct {
	limiter ratelimit.Limiter
	client  Doer
	clock   ratelimit.Clock
	logger  zerolog.Logger

	baseURL   string
	token     string
	userAgent string

	reporter Reporter
	recorder Recorder
	pacer    *rate.Limiter

	maxAttempts         int
	maxRateLimitRetries int
	reactionMinWindow   time.Duration

	latency atomic.Int64
}

type Option func(*Executor)

func WithHTTPClient(client Doer) Option {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

func WithBaseURL(u string) Option {
	return func(e *Executor) {
		if u != "" {
			e.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(e *Executor) {
		if ua != "" {
			e.userAgent = ua
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(e *Executor) {
		e.reporter = r
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithClock(c ratelimit.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithMaxAttempts sets how many 502 or network attempts a request gets.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithMaxRateLimitRetries caps 429 retries. 0 retries until the quota recovers.
func WithMaxRateLimitRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.maxRateLimitRetries = n
		}
	}
}

// WithGlobalRPS paces every outgoing call to rps requests per second across
// all routes. 0 disables pacing.
func WithGlobalRPS(rps float64) Option {
	return func(e *Executor) {
		if rps <= 0 {
			e.pacer = nil
			return
		}
		e.pacer = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

func WithReactionMinWindow(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.reactionMinWindow = d
		}
	}
}

// New builds an Executor sending requests with token through limiter.
func New(limiter ratelimit.Limiter, token string, opts ...Option) (*Executor, error) {
	token = auth.NormalizeToken(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	e := &Executor{
		limiter:           limiter,
		client:            &http.Client{Timeout: 60 * time.Second},
		clock:             ratelimit.SystemClock(),
		logger:            zerolog.Nop(),
		baseURL:           DefaultBaseURL,
		token:             token,
		userAgent:         DefaultUserAgent,
		recorder:          noopRecorder{},
		maxAttempts:       DefaultMaxAttempts,
		reactionMinWindow: DefaultReactionMinWindow,
	}
	e.latency.Store(int64(500 * time.Millisecond))
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Latency is the duration of the last completed network call.
func (e *Executor) Latency() time.Duration {
	return time.Duration(e.latency.Load())
}

// Request calls path and returns the response body, or nil when the
// response carried none.
func (e *Executor) Request(ctx context.Context, path, method string, kind BodyKind, body any) (json.RawMessage, error) {
	resp, err := e.Do(ctx, &Request{Method: method, Path: path, Kind: kind, Body: body})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	return json.RawMessage(resp.Body), nil
}

// Do runs req through the limiter. 429 responses are queued again without
// using up an attempt; 502 responses are queued again until the attempt
// ceiling is reached. Every other failure is returned as is.
func (e *Executor) Do(ctx context.Context, req *Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	route := routing.Classify(req.Path, method).String()
	logger := e.logger.With().
		Str("req_id", uuid.NewString()).
		Str("method", method).
		Str("route", route).
		Logger()

	attempts, limited := 0, 0
	for {
		var resp *Response
		err := e.limiter.Enqueue(ctx, func(b *ratelimit.Bucket) error {
			var callErr error
			resp, callErr = e.call(ctx, b, method, req)
			return callErr
		}, req.Path, method)
		if err == nil {
			return resp, nil
		}

		if e.reporter != nil {
			e.reporter.CaptureException(err)
		}

		var quotaErr *QuotaExceededError
		var upstreamErr *TransientUpstreamError
		switch {
		case errors.As(err, &quotaErr):
			limited++
			if e.maxRateLimitRetries > 0 && limited > e.maxRateLimitRetries {
				return nil, &AttemptsExhaustedError{Attempts: attempts, RateLimited: limited, Err: err}
			}
			e.recorder.IncRetry(route, "rate_limited")
			logger.Warn().Bool("global", quotaErr.Global).Int("retry", limited).Msg("rate limited, requeueing")
		case errors.As(err, &upstreamErr):
			attempts++
			if attempts >= e.maxAttempts {
				logger.Error().Err(err).Int("attempts", attempts).Msg("request failed")
				return nil, &AttemptsExhaustedError{Attempts: attempts, RateLimited: limited, Err: err}
			}
			e.recorder.IncRetry(route, "bad_gateway")
			logger.Warn().Int("attempt", attempts).Msg("upstream failure, requeueing")
		default:
			logger.Debug().Err(err).Msg("request failed")
			return nil, err
		}
	}
}

// call performs a single network round trip on behalf of bucket b.
func (e *Executor) call(ctx context.Context, b *ratelimit.Bucket, method string, req *Request) (*Response, error) {
	if e.pacer != nil {
		if err := e.pacer.Wait(ctx); err != nil {
			return nil, &RequestError{Method: method, Path: req.Path, Err: err}
		}
	}

	httpReq, err := e.newHTTPRequest(ctx, method, req)
	if err != nil {
		return nil, &RequestError{Method: method, Path: req.Path, Err: err}
	}

	start := time.Now()
	res, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Method: method, Path: req.Path, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	elapsed := time.Since(start)
	e.latency.Store(int64(elapsed))
	e.recorder.ObserveRequest(b.Key(), method, res.StatusCode, elapsed)
	if err != nil {
		return nil, &RequestError{Method: method, Path: req.Path, Err: err}
	}

	e.logger.Debug().
		Str("method", method).
		Str("route", b.Key()).
		Int("status", res.StatusCode).
		Dur("dur", elapsed).
		Msg("api call")

	switch {
	case res.StatusCode < http.StatusBadRequest:
		e.applyFeedback(b, res.Header)
		return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
	case res.StatusCode == http.StatusTooManyRequests:
		fb := e.applyFeedback(b, res.Header)
		return nil, &QuotaExceededError{
			HTTPError:  newHTTPError(method, req.Path, res.StatusCode, res.Header, body),
			Global:     fb.Global,
			RetryAfter: fb.GlobalReset,
		}
	case res.StatusCode == http.StatusBadGateway:
		return nil, &TransientUpstreamError{
			HTTPError: newHTTPError(method, req.Path, res.StatusCode, res.Header, body),
		}
	}
	return nil, newHTTPError(method, req.Path, res.StatusCode, res.Header, body)
}

func (e *Executor) applyFeedback(b *ratelimit.Bucket, h http.Header) Feedback {
	now := OffsetNow(h.Get("Date"), e.clock.Now())
	fb := ParseFeedback(h, now, routing.IsReaction(routing.RouteKey(b.Key())), e.reactionMinWindow)
	if fb.Global {
		e.recorder.IncGlobal()
		e.limiter.SetGlobal(fb.GlobalReset)
	}
	b.Apply(fb.Quota)
	return fb
}

func (e *Executor) newHTTPRequest(ctx context.Context, method string, req *Request) (*http.Request, error) {
	enc, err := encodeBody(method, req.Path, req.Kind, req.Body)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(e.baseURL + req.Path)
	if err != nil {
		return nil, err
	}
	if len(enc.query) > 0 || len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		for k, vs := range enc.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), enc.body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", e.token)
	httpReq.Header.Set("User-Agent", e.userAgent)
	if enc.contentType != "" {
		httpReq.Header.Set("Content-Type", enc.contentType)
	}
	if enc.reason != "" {
		httpReq.Header.Set(HeaderAuditLog, enc.reason)
	}
	return httpReq, nil
}
