package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State describes what a bucket is waiting for.
type State int

const (
	Idle State = iota
	Admitting
	DrainedLocal
	DrainedGlobal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Admitting:
		return "admitting"
	case DrainedLocal:
		return "drained_local"
	case DrainedGlobal:
		return "drained_global"
	}
	return "unknown"
}

const (
	entryQueued int32 = iota
	entryRunning
	entryAbandoned
)

type entry struct {
	job   Job
	state atomic.Int32
	done  chan error
}

// Bucket is the token bucket of one route. Jobs are admitted in FIFO order
// while tokens remain; once drained the bucket waits for its window (or the
// global reset) before continuing.
type Bucket struct {
	key    string
	global *Global
	clock  Clock
	logger zerolog.Logger

	mu         sync.Mutex
	queue      []*entry
	limit      int
	remaining  int
	window     time.Duration
	resetTimer Timer
}

type BucketOption func(*Bucket)

func WithBucketClock(c Clock) BucketOption {
	return func(b *Bucket) {
		if c != nil {
			b.clock = c
		}
	}
}

func WithBucketLogger(l zerolog.Logger) BucketOption {
	return func(b *Bucket) {
		b.logger = l
	}
}

// WithBucketDefaults overrides the quota assumed before the first response.
func WithBucketDefaults(limit, remaining int, window time.Duration) BucketOption {
	return func(b *Bucket) {
		if limit > 0 {
			b.limit = limit
		}
		if remaining >= 0 {
			b.remaining = remaining
		}
		if window > 0 {
			b.window = window
		}
	}
}

// NewBucket creates the bucket for key. global may be shared by many buckets.
func NewBucket(key string, global *Global, opts ...BucketOption) *Bucket {
	b := &Bucket{
		key:       key,
		global:    global,
		clock:     SystemClock(),
		logger:    zerolog.Nop(),
		limit:     DefaultLimit,
		remaining: DefaultRemaining,
		window:    DefaultWindow,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With().Str("route", key).Logger()
	return b
}

func (b *Bucket) Key() string { return b.key }

// Enqueue queues job and blocks until it has run, returning the job's error.
// If ctx ends while the job is still queued it is never invoked. A job that
// has already been admitted runs to completion.
func (b *Bucket) Enqueue(ctx context.Context, job Job) error {
	e := &entry{job: job, done: make(chan error, 1)}

	b.mu.Lock()
	b.queue = append(b.queue, e)
	b.mu.Unlock()

	b.check()

	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		if e.state.CompareAndSwap(entryQueued, entryAbandoned) {
			return ctx.Err()
		}
		return <-e.done
	}
}

// check admits the head of the queue if the bucket has capacity, otherwise
// it schedules a reset. remaining is not taken at admission; the server's
// headers correct it once the call returns.
func (b *Bucket) check() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if active, wait := b.globalActive(); active {
		b.scheduleLocked(wait)
		return
	}
	if b.remaining == 0 {
		b.scheduleLocked(b.window)
		return
	}

	for len(b.queue) > 0 {
		e := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		if !e.state.CompareAndSwap(entryQueued, entryRunning) {
			continue
		}
		go b.run(e)
		return
	}
}

func (b *Bucket) run(e *entry) {
	e.done <- e.job(b)
	b.check()
}

func (b *Bucket) globalActive() (bool, time.Duration) {
	if b.global == nil {
		return false, 0
	}
	return b.global.Active()
}

// scheduleLocked arms the reset timer unless one is already pending.
func (b *Bucket) scheduleLocked(d time.Duration) {
	if b.resetTimer != nil {
		return
	}
	if d < 0 {
		d = 0
	}
	b.logger.Debug().Dur("wait", d).Int("queued", len(b.queue)).Msg("bucket drained, reset scheduled")
	b.resetTimer = b.clock.AfterFunc(d, b.reset)
}

func (b *Bucket) reset() {
	b.mu.Lock()
	b.remaining = b.limit
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
	b.mu.Unlock()

	b.check()
}

// Apply records the quota reported by the server.
func (b *Bucket) Apply(q Quota) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q.Limit > 0 {
		b.limit = q.Limit
	}
	b.remaining = max(q.Remaining, 0)
	if q.HasWindow {
		b.window = q.Window
	}
}

// DropQueue discards every pending job without running or completing it.
// Callers blocked in Enqueue return only when their context ends.
func (b *Bucket) DropQueue() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.queue)
	b.queue = nil
	if n > 0 {
		b.logger.Warn().Int("dropped", n).Msg("bucket queue dropped")
	}
	return n
}

// Snapshot is a read-only view of a bucket.
type Snapshot struct {
	Key          string
	Limit        int
	Remaining    int
	Window       time.Duration
	Queued       int
	ResetPending bool
	State        State
}

func (b *Bucket) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Key:          b.key,
		Limit:        b.limit,
		Remaining:    b.remaining,
		Window:       b.window,
		Queued:       len(b.queue),
		ResetPending: b.resetTimer != nil,
		State:        b.stateLocked(),
	}
}

func (b *Bucket) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Bucket) stateLocked() State {
	if active, _ := b.globalActive(); active {
		return DrainedGlobal
	}
	if b.remaining == 0 {
		return DrainedLocal
	}
	if len(b.queue) == 0 {
		return Idle
	}
	return Admitting
}
