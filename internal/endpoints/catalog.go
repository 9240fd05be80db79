package endpoints

import (
	"net/http"
	"sort"

	"github.com/Niputi/snowtransfer/internal/rest"
)

var catalog = []Endpoint{
	{Name: "get_gateway", Method: http.MethodGet, Path: "/gateway", Description: "gateway url"},
	{Name: "get_gateway_bot", Method: http.MethodGet, Path: "/gateway/bot", Description: "gateway url with shard info"},
	{Name: "get_voice_regions", Method: http.MethodGet, Path: "/voice/regions"},

	{Name: "get_self", Method: http.MethodGet, Path: "/users/@me", Description: "current user"},
	{Name: "get_user", Method: http.MethodGet, Path: "/users/{user_id}"},

	{Name: "get_channel", Method: http.MethodGet, Path: "/channels/{channel_id}"},
	{Name: "get_messages", Method: http.MethodGet, Path: "/channels/{channel_id}/messages", Description: "query: limit, before, after, around"},
	{Name: "get_message", Method: http.MethodGet, Path: "/channels/{channel_id}/messages/{message_id}"},
	{Name: "create_message", Method: http.MethodPost, Path: "/channels/{channel_id}/messages", Kind: rest.KindMultipart,
		Validate: ValidateMessage("create_message")},
	{Name: "edit_message", Method: http.MethodPatch, Path: "/channels/{channel_id}/messages/{message_id}"},
	{Name: "delete_message", Method: http.MethodDelete, Path: "/channels/{channel_id}/messages/{message_id}"},
	{Name: "bulk_delete_messages", Method: http.MethodPost, Path: "/channels/{channel_id}/messages/bulk-delete", Description: "body: messages"},
	{Name: "add_reaction", Method: http.MethodPut, Path: "/channels/{channel_id}/messages/{message_id}/reactions/{emoji}/@me"},
	{Name: "delete_reaction", Method: http.MethodDelete, Path: "/channels/{channel_id}/messages/{message_id}/reactions/{emoji}/@me"},
	{Name: "get_pins", Method: http.MethodGet, Path: "/channels/{channel_id}/pins"},
	{Name: "add_pin", Method: http.MethodPut, Path: "/channels/{channel_id}/pins/{message_id}"},
	{Name: "delete_pin", Method: http.MethodDelete, Path: "/channels/{channel_id}/pins/{message_id}"},

	{Name: "create_webhook", Method: http.MethodPost, Path: "/channels/{channel_id}/webhooks", Description: "body: name, avatar"},
	{Name: "get_webhook", Method: http.MethodGet, Path: "/webhooks/{webhook_id}"},
	{Name: "execute_webhook", Method: http.MethodPost, Path: "/webhooks/{webhook_id}/{token}", Kind: rest.KindMultipart,
		Validate: ValidateMessage("execute_webhook")},

	{Name: "get_guild", Method: http.MethodGet, Path: "/guilds/{guild_id}"},
	{Name: "get_guild_bans", Method: http.MethodGet, Path: "/guilds/{guild_id}/bans"},
	{Name: "create_guild_ban", Method: http.MethodPut, Path: "/guilds/{guild_id}/bans/{user_id}", Description: "query: delete_message_days, reason"},
	{Name: "remove_guild_ban", Method: http.MethodDelete, Path: "/guilds/{guild_id}/bans/{user_id}"},
	{Name: "get_guild_prune_count", Method: http.MethodGet, Path: "/guilds/{guild_id}/prune", Description: "query: days"},
	{Name: "begin_guild_prune", Method: http.MethodPost, Path: "/guilds/{guild_id}/prune", Description: "query: days, reason"},
	{Name: "get_audit_log", Method: http.MethodGet, Path: "/guilds/{guild_id}/audit-logs", Description: "query: user_id, action_type, before, limit"},

	{Name: "get_invite", Method: http.MethodGet, Path: "/invites/{invite_code}", Description: "query: with_counts"},
	{Name: "delete_invite", Method: http.MethodDelete, Path: "/invites/{invite_code}"},
}

var byName = func() map[string]Endpoint {
	m := make(map[string]Endpoint, len(catalog))
	for _, e := range catalog {
		m[e.Name] = e
	}
	return m
}()

// Lookup finds an endpoint by name.
func Lookup(name string) (Endpoint, bool) {
	e, ok := byName[name]
	return e, ok
}

// All returns every endpoint sorted by name.
func All() []Endpoint {
	out := make([]Endpoint, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
