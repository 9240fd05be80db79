package rest_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Niputi/snowtransfer/internal/ratelimit"
	"github.com/Niputi/snowtransfer/internal/rest"
)

func quota(limit, remaining int, window time.Duration, hasWindow bool) ratelimit.Quota {
	return ratelimit.Quota{Limit: limit, Remaining: remaining, Window: window, HasWindow: hasWindow}
}

func TestOffsetNow(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 10, 0, time.UTC)

	assert.Equal(t, now, rest.OffsetNow("", now))
	assert.Equal(t, now, rest.OffsetNow("not a date", now))

	server := now.Add(-2 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, now.Add(2*time.Second), rest.OffsetNow(server, now))

	ahead := now.Add(3 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, now.Add(-3*time.Second), rest.OffsetNow(ahead, now))
}

func TestParseFeedback(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name     string
		header   map[string]string
		reaction bool
		want     rest.Feedback
	}{
		{
			name: "no headers",
			want: rest.Feedback{Quota: quota(0, 1, 0, false)},
		},
		{
			name: "full quota",
			header: map[string]string{
				"X-RateLimit-Limit":     "5",
				"X-RateLimit-Remaining": "4",
				"X-RateLimit-Reset":     "1700000002.5",
			},
			want: rest.Feedback{Quota: quota(5, 4, 2500*time.Millisecond, true)},
		},
		{
			name: "past reset gives negative window",
			header: map[string]string{
				"X-RateLimit-Remaining": "0",
				"X-RateLimit-Reset":     "1699999999",
			},
			want: rest.Feedback{Quota: quota(0, 0, -time.Second, true)},
		},
		{
			name: "reaction window clamped",
			header: map[string]string{
				"X-RateLimit-Remaining": "0",
				"X-RateLimit-Reset":     "1700000000.1",
			},
			reaction: true,
			want:     rest.Feedback{Quota: quota(0, 0, rest.DefaultReactionMinWindow, true)},
		},
		{
			name: "reaction window above minimum kept",
			header: map[string]string{
				"X-RateLimit-Reset": "1700000001",
			},
			reaction: true,
			want:     rest.Feedback{Quota: quota(0, 1, time.Second, true)},
		},
		{
			name: "malformed values ignored",
			header: map[string]string{
				"X-RateLimit-Limit":     "many",
				"X-RateLimit-Remaining": "?",
				"X-RateLimit-Reset":     "soon",
			},
			want: rest.Feedback{Quota: quota(0, 1, 0, false)},
		},
		{
			name: "global with retry_after in ms",
			header: map[string]string{
				"X-RateLimit-Global": "true",
				"retry_after":        "1500",
			},
			want: rest.Feedback{Quota: quota(0, 1, 0, false), Global: true, GlobalReset: 1500 * time.Millisecond},
		},
		{
			name: "global falls back to Retry-After seconds",
			header: map[string]string{
				"X-RateLimit-Global": "true",
				"Retry-After":        "2",
			},
			want: rest.Feedback{Quota: quota(0, 1, 0, false), Global: true, GlobalReset: 2 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.header {
				h.Set(k, v)
			}
			got := rest.ParseFeedback(h, now, tt.reaction, rest.DefaultReactionMinWindow)
			assert.Equal(t, tt.want, got)
		})
	}
}
