// Package memory keeps route buckets in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Niputi/snowtransfer/internal/ratelimit"
	"github.com/Niputi/snowtransfer/internal/routing"
)

// Limiter maps route keys to buckets and owns the global quota. Buckets are
// created on first use and kept for the lifetime of the Limiter.
type Limiter struct {
	clock  ratelimit.Clock
	logger zerolog.Logger
	global *ratelimit.Global

	limit     int
	remaining int
	window    time.Duration

	buckets sync.Map // routing.RouteKey -> *ratelimit.Bucket
}

type Option func(*Limiter)

func WithClock(c ratelimit.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithDefaults sets the quota new buckets assume until the server reports one.
func WithDefaults(limit, remaining int, window time.Duration) Option {
	return func(l *Limiter) {
		l.limit = limit
		l.remaining = remaining
		l.window = window
	}
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		clock:     ratelimit.SystemClock(),
		logger:    zerolog.Nop(),
		limit:     ratelimit.DefaultLimit,
		remaining: ratelimit.DefaultRemaining,
		window:    ratelimit.DefaultWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.global = ratelimit.NewGlobal(l.clock)
	return l
}

// Enqueue classifies path and method, then queues job on the matching bucket.
func (l *Limiter) Enqueue(ctx context.Context, job ratelimit.Job, path, method string) error {
	key := routing.Classify(path, method)
	return l.bucketFor(key).Enqueue(ctx, job)
}

func (l *Limiter) bucketFor(key routing.RouteKey) *ratelimit.Bucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*ratelimit.Bucket)
	}

	v, loaded := l.buckets.LoadOrStore(key, ratelimit.NewBucket(string(key), l.global,
		ratelimit.WithBucketClock(l.clock),
		ratelimit.WithBucketLogger(l.logger),
		ratelimit.WithBucketDefaults(l.limit, l.remaining, l.window),
	))
	if !loaded {
		l.logger.Debug().Str("route", string(key)).Msg("bucket created")
	}
	return v.(*ratelimit.Bucket)
}

// SetGlobal marks the account-wide quota exhausted for reset.
func (l *Limiter) SetGlobal(reset time.Duration) {
	l.logger.Warn().Dur("reset", reset).Msg("global rate limit hit")
	l.global.Set(reset)
}

func (l *Limiter) Global() (bool, time.Duration) {
	return l.global.Active()
}

// Bucket returns the bucket for key if one has been created.
func (l *Limiter) Bucket(key routing.RouteKey) (*ratelimit.Bucket, bool) {
	v, ok := l.buckets.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*ratelimit.Bucket), true
}

// Buckets returns a snapshot of every bucket created so far.
func (l *Limiter) Buckets() []ratelimit.Snapshot {
	var out []ratelimit.Snapshot
	l.buckets.Range(func(_, v any) bool {
		out = append(out, v.(*ratelimit.Bucket).Snapshot())
		return true
	})
	return out
}

// DropAll discards the pending jobs of every bucket and returns how many were dropped.
func (l *Limiter) DropAll() int {
	n := 0
	l.buckets.Range(func(_, v any) bool {
		n += v.(*ratelimit.Bucket).DropQueue()
		return true
	})
	return n
}
