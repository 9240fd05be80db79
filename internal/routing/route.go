// Package routing maps concrete REST paths to the rate-limit scope they share.
package routing

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// RouteKey identifies a rate-limit scope. Requests with the same key share a quota.
type RouteKey string

func (k RouteKey) String() string { return string(k) }

// Placeholders substituted for collapsed path parameters.
const (
	IDPlaceholder    = ":id"
	TokenPlaceholder = ":token"
)

var (
	snowflakeSegment = regexp.MustCompile(`/([a-z-]+)/(?:[0-9]{17,19})`)
	reactionSegment  = regexp.MustCompile(`/reactions/[^/]+`)
	webhookToken     = regexp.MustCompile(`^/webhooks/(\d+)/[A-Za-z0-9_-]{64,}`)
)

// major parameters keep their id: every channel, guild and webhook has its own quota.
var majorLabels = map[string]struct{}{
	"channels": {},
	"guilds":   {},
	"webhooks": {},
}

// Classify reduces path to the key of the bucket it is limited by.
//
//	/channels/266277541646434305/messages/266277541646434305 -> /channels/266277541646434305/messages/:id
//
// Deleting a message has its own quota, so DELETE on a message route is
// prefixed with the method.
func Classify(path, method string) RouteKey {
	route := collapseIDs(path)
	route = reactionSegment.ReplaceAllString(route, "/reactions/"+IDPlaceholder)
	route = webhookToken.ReplaceAllString(route, "/webhooks/${1}/"+TokenPlaceholder)

	if strings.EqualFold(method, http.MethodDelete) && strings.HasSuffix(route, "/messages/"+IDPlaceholder) {
		route = http.MethodDelete + route
	}
	return RouteKey(route)
}

func collapseIDs(path string) string {
	matches := snowflakeSegment.FindAllStringSubmatchIndex(path, -1)
	if len(matches) == 0 {
		return path
	}

	var b strings.Builder
	b.Grow(len(path))
	last := 0
	for _, m := range matches {
		label := path[m[2]:m[3]]
		b.WriteString(path[last:m[0]])
		if _, ok := majorLabels[label]; ok {
			b.WriteString(path[m[0]:m[1]])
		} else {
			b.WriteString("/" + label + "/" + IDPlaceholder)
		}
		last = m[1]
	}
	b.WriteString(path[last:])
	return b.String()
}

// IsReaction reports whether key belongs to a reaction endpoint. Reactions are
// limited to one request per 250ms regardless of what the headers say.
func IsReaction(key RouteKey) bool {
	return strings.Contains(string(key), "/reactions/"+IDPlaceholder)
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, key RouteKey) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, key)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (RouteKey, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return "", false
	}
	key, ok := v.(RouteKey)
	return key, ok
}
