// Package obs wires logging and metrics for the executor and the proxy.
package obs

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Niputi/snowtransfer/internal/rest"
)

func SetupLogger(level string) zerolog.Logger {
	return NewLogger(os.Stdout, level)
}

// NewLogger writes JSON lines to w. Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// Logger returns a middleware that logs per-request with duration and status.
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := hlog.NewHandler(logger)(
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote", r.RemoteAddr).
					Int("status", status).
					Int("size", size).
					Dur("dur", duration).
					Msg("req")
			})(
				hlog.UserAgentHandler("ua")(
					hlog.RequestIDHandler("req_id", "X-Request-ID")(next),
				),
			),
		)
		return h
	}
}

// LogReporter logs every failed API attempt. Rate limit hits are expected
// traffic and are logged at debug.
type LogReporter struct {
	Logger zerolog.Logger
}

func (r LogReporter) CaptureException(err error) {
	var quotaErr *rest.QuotaExceededError
	var httpErr *rest.HTTPError

	var ev *zerolog.Event
	switch {
	case errors.As(err, &quotaErr):
		ev = r.Logger.Debug().Bool("global", quotaErr.Global).Dur("retry_after", quotaErr.RetryAfter)
	case errors.As(err, &httpErr):
		ev = r.Logger.Warn().Int("status", httpErr.StatusCode).Int("code", httpErr.Code)
	default:
		ev = r.Logger.Warn()
	}
	ev.Err(err).Msg("api call failed")
}

var _ rest.Reporter = LogReporter{}
