package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Niputi/snowtransfer/internal/gateway"
	"github.com/Niputi/snowtransfer/internal/ratelimit"
	"github.com/Niputi/snowtransfer/internal/rest"
	"github.com/Niputi/snowtransfer/internal/routing"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	GlobalLimited   prometheus.Counter
	ProxyRequests   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowtransfer_requests_total",
				Help: "API calls made, by route bucket and response code",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snowtransfer_request_duration_seconds",
				Help:    "API call round trip in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowtransfer_retries_total",
				Help: "API calls queued again after a 429 or 502",
			},
			[]string{"route", "reason"},
		),
		GlobalLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "snowtransfer_global_ratelimit_total",
				Help: "Responses that flagged the global rate limit",
			},
		),
		ProxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snowtransfer_proxy_requests_total",
				Help: "Requests served by the local proxy",
			},
			[]string{"route", "method", "code"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RetriesTotal, m.GlobalLimited, m.ProxyRequests)
	return m
}

func (m *Metrics) ObserveRequest(route, method string, code int, d time.Duration) {
	m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) IncRetry(route, reason string) {
	m.RetriesTotal.WithLabelValues(route, reason).Inc()
}

func (m *Metrics) IncGlobal() { m.GlobalLimited.Inc() }

var _ rest.Recorder = (*Metrics)(nil)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware counts proxied requests. It must run inside gateway.TagRoute so
// the route key is on the request.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := "unknown"
			if key, ok := routing.RouteFrom(r); ok && key != "" {
				route = key.String()
			}
			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}
			m.ProxyRequests.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}

// BucketCollector exports the live state of every bucket on scrape.
type BucketCollector struct {
	snapshots func() []ratelimit.Snapshot

	remaining *prometheus.Desc
	queued    *prometheus.Desc
	window    *prometheus.Desc
}

func NewBucketCollector(snapshots func() []ratelimit.Snapshot) *BucketCollector {
	return &BucketCollector{
		snapshots: snapshots,
		remaining: prometheus.NewDesc("snowtransfer_bucket_remaining", "Requests left in the current window", []string{"route"}, nil),
		queued:    prometheus.NewDesc("snowtransfer_bucket_queued", "Jobs waiting for admission", []string{"route"}, nil),
		window:    prometheus.NewDesc("snowtransfer_bucket_window_seconds", "Length of the current window", []string{"route"}, nil),
	}
}

func (c *BucketCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.remaining
	ch <- c.queued
	ch <- c.window
}

func (c *BucketCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.snapshots() {
		ch <- prometheus.MustNewConstMetric(c.remaining, prometheus.GaugeValue, float64(s.Remaining), s.Key)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued), s.Key)
		ch <- prometheus.MustNewConstMetric(c.window, prometheus.GaugeValue, s.Window.Seconds(), s.Key)
	}
}
