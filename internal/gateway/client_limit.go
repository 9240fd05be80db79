package gateway

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Niputi/snowtransfer/internal/auth"
)

// ClientLimit caps how fast each proxy client may send, so one client cannot
// fill the shared buckets. Clients are told by auth.Middleware; requests
// without a client id share the "anon" allowance. rps <= 0 disables it.
func ClientLimit(rps float64, burst int, skip map[string]struct{}, onLimited func(clientID string)) Middleware {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(int(rps), 1)
	}

	var (
		mu      sync.Mutex
		clients = map[string]*rate.Limiter{}
	)
	limiterFor := func(id string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := clients[id]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			clients[id] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := auth.ClientIDFrom(r.Context())
			if !ok || id == "" {
				id = "anon"
			}

			res := limiterFor(id).Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				if onLimited != nil {
					onLimited(id)
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				writeJSON(w, http.StatusTooManyRequests, "client_rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
