package obs_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niputi/snowtransfer/internal/gateway"
	"github.com/Niputi/snowtransfer/internal/obs"
	"github.com/Niputi/snowtransfer/internal/ratelimit"
	"github.com/Niputi/snowtransfer/internal/rest"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger(&buf, "WARN")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "shown", got[0]["message"])
	assert.Equal(t, zerolog.InfoLevel, obs.NewLogger(&buf, "verbose").GetLevel())
}

func TestLogger_AccessLog(t *testing.T) {
	var buf bytes.Buffer
	h := obs.Logger(obs.NewLogger(&buf, "info"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hlog.FromRequest(r).Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/users/@me", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "inside", got[0]["message"])
	access := got[1]
	assert.Equal(t, "req", access["message"])
	assert.Equal(t, "/users/@me", access["path"])
	assert.EqualValues(t, http.StatusTeapot, access["status"])
	assert.NotEmpty(t, access["req_id"])
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := obs.LogReporter{Logger: obs.NewLogger(&buf, "debug")}

	r.CaptureException(&rest.QuotaExceededError{HTTPError: &rest.HTTPError{StatusCode: 429}, Global: true, RetryAfter: time.Second})
	r.CaptureException(&rest.TransientUpstreamError{HTTPError: &rest.HTTPError{StatusCode: 502, Code: 0}})
	r.CaptureException(errors.New("dial refused"))

	got := lines(t, &buf)
	require.Len(t, got, 3)
	assert.Equal(t, "debug", got[0]["level"])
	assert.Equal(t, true, got[0]["global"])
	assert.Equal(t, "warn", got[1]["level"])
	assert.EqualValues(t, 502, got[1]["status"])
	assert.Equal(t, "dial refused", got[2]["error"])
}

func TestMetrics_Recorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)

	m.ObserveRequest("/users/@me", "GET", 200, 20*time.Millisecond)
	m.ObserveRequest("/users/@me", "GET", 200, 30*time.Millisecond)
	m.ObserveRequest("/users/@me", "GET", 429, time.Millisecond)
	m.IncRetry("/users/@me", "rate_limited")
	m.IncGlobal()

	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/users/@me", "GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/users/@me", "GET", "429")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("/users/@me", "rate_limited")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GlobalLimited), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestMetrics_Middleware(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)

	h := gateway.Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }),
		gateway.TagRoute("", map[string]struct{}{"/health": {}}),
		m.Middleware(map[string]struct{}{"/health": {}}),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/channels/266277541646434305/messages", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.InDelta(t, 1, testutil.ToFloat64(m.ProxyRequests.WithLabelValues("/channels/266277541646434305/messages", "POST", "201")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.ProxyRequests))
}

func TestBucketCollector(t *testing.T) {
	t.Parallel()

	c := obs.NewBucketCollector(func() []ratelimit.Snapshot {
		return []ratelimit.Snapshot{
			{Key: "/users/@me", Remaining: 3, Queued: 2, Window: 1500 * time.Millisecond},
		}
	})

	want := `
# HELP snowtransfer_bucket_queued Jobs waiting for admission
# TYPE snowtransfer_bucket_queued gauge
snowtransfer_bucket_queued{route="/users/@me"} 2
# HELP snowtransfer_bucket_remaining Requests left in the current window
# TYPE snowtransfer_bucket_remaining gauge
snowtransfer_bucket_remaining{route="/users/@me"} 3
# HELP snowtransfer_bucket_window_seconds Length of the current window
# TYPE snowtransfer_bucket_window_seconds gauge
snowtransfer_bucket_window_seconds{route="/users/@me"} 1.5
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want)))
}
