package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Niputi/snowtransfer/internal/ratelimit"
)

// Rate limit headers sent by the API.
const (
	HeaderGlobal     = "X-RateLimit-Global"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRetryAfter = "retry_after"
	HeaderAuditLog   = "X-Audit-Log-Reason"
)

// DefaultReactionMinWindow is the server-side spacing of reaction requests.
const DefaultReactionMinWindow = 250 * time.Millisecond

// Feedback is what one response says about the route and global quotas.
type Feedback struct {
	Quota       ratelimit.Quota
	Global      bool
	GlobalReset time.Duration
}

// OffsetNow corrects now by the skew between the local clock and the Date
// header of the response. A missing or malformed Date means no correction.
func OffsetNow(date string, now time.Time) time.Time {
	if date == "" {
		return now
	}
	server, err := http.ParseTime(date)
	if err != nil {
		return now
	}
	return now.Add(now.Sub(server))
}

// ParseFeedback reads the rate limit headers. now must already be corrected
// with OffsetNow. Reaction routes never get a window shorter than minWindow.
func ParseFeedback(h http.Header, now time.Time, reaction bool, minWindow time.Duration) Feedback {
	var fb Feedback

	if h.Get(HeaderGlobal) != "" {
		fb.Global = true
		fb.GlobalReset = retryAfter(h)
	}

	if v := h.Get(HeaderReset); v != "" {
		if sec, err := strconv.ParseFloat(v, 64); err == nil {
			ms := sec*1000 - float64(now.UnixMilli())
			window := time.Duration(ms * float64(time.Millisecond))
			if reaction && window < minWindow {
				window = minWindow
			}
			fb.Quota.Window = window
			fb.Quota.HasWindow = true
		}
	}

	fb.Quota.Remaining = 1
	if v := h.Get(HeaderRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fb.Quota.Remaining = n
		}
	}

	if v := h.Get(HeaderLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fb.Quota.Limit = n
		}
	}

	return fb
}

// retryAfter reads retry_after in milliseconds, falling back to the standard
// Retry-After header in seconds.
func retryAfter(h http.Header) time.Duration {
	if v := h.Get(HeaderRetryAfter); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if sec, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(sec * float64(time.Second))
		}
	}
	return 0
}
