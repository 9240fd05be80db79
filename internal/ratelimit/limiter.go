// Package ratelimit holds the per-route token bucket and the account-wide
// quota shared between buckets.
package ratelimit

import (
	"context"
	"time"
)

// Defaults for a bucket that has not seen a server response yet.
const (
	DefaultLimit     = 5
	DefaultRemaining = 1
	DefaultWindow    = 5 * time.Second
)

// Job is one unit of queued work. It runs once the bucket admits it and
// receives the bucket so it can report the quota the server returned.
type Job func(b *Bucket) error

// Quota is the server feedback applied to a bucket after a call.
type Quota struct {
	Limit     int // 0 leaves the limit unchanged
	Remaining int
	Window    time.Duration
	HasWindow bool
}

// Limiter queues a job on the bucket responsible for path and method and
// blocks until the job has run.
type Limiter interface {
	Enqueue(ctx context.Context, job Job, path, method string) error
	SetGlobal(reset time.Duration)
}
