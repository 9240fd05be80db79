package endpoints_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niputi/snowtransfer/internal/endpoints"
	"github.com/Niputi/snowtransfer/internal/rest"
	"github.com/Niputi/snowtransfer/internal/routing"
)

type call struct {
	path   string
	method string
	kind   rest.BodyKind
	body   any
}

type fakeCaller struct {
	calls []call
	resp  json.RawMessage
	err   error
}

func (f *fakeCaller) Request(_ context.Context, path, method string, kind rest.BodyKind, body any) (json.RawMessage, error) {
	f.calls = append(f.calls, call{path, method, kind, body})
	return f.resp, f.err
}

func TestBuild(t *testing.T) {
	t.Parallel()

	ep, ok := endpoints.Lookup("add_reaction")
	require.True(t, ok)
	assert.Equal(t, []string{"channel_id", "message_id", "emoji"}, ep.Params())

	path, err := ep.Build(map[string]string{
		"channel_id": "266277541646434305",
		"message_id": "266277541646434306",
		"emoji":      "name:123/x",
	})
	require.NoError(t, err)
	assert.Equal(t, "/channels/266277541646434305/messages/266277541646434306/reactions/name:123%2Fx/@me", path)
	assert.True(t, routing.IsReaction(routing.Classify(path, ep.Method)))
}

func TestBuild_MissingParam(t *testing.T) {
	t.Parallel()

	ep, _ := endpoints.Lookup("get_channel")
	_, err := ep.Build(map[string]string{"guild_id": "1"})
	assert.ErrorIs(t, err, endpoints.ErrMissingParam)

	_, err = ep.Build(map[string]string{"channel_id": ""})
	assert.ErrorIs(t, err, endpoints.ErrMissingParam)
}

func TestBuild_Unterminated(t *testing.T) {
	t.Parallel()

	ep := endpoints.Endpoint{Name: "broken", Path: "/channels/{channel_id"}
	_, err := ep.Build(map[string]string{"channel_id": "1"})
	assert.Error(t, err)
}

func TestCall_DecodesResponse(t *testing.T) {
	t.Parallel()

	fc := &fakeCaller{resp: json.RawMessage(`{"url":"wss://gateway.discord.gg","shards":2}`)}
	ep, _ := endpoints.Lookup("get_gateway_bot")

	var out struct {
		URL    string `json:"url"`
		Shards int    `json:"shards"`
	}
	require.NoError(t, ep.Call(context.Background(), fc, nil, nil, &out))
	assert.Equal(t, "wss://gateway.discord.gg", out.URL)
	assert.Equal(t, 2, out.Shards)
	require.Len(t, fc.calls, 1)
	assert.Equal(t, call{path: "/gateway/bot", method: "GET", kind: rest.KindJSON}, fc.calls[0])
}

func TestCall_EmptyResponseLeavesOut(t *testing.T) {
	t.Parallel()

	fc := &fakeCaller{}
	ep, _ := endpoints.Lookup("delete_message")
	out := map[string]any{"kept": true}
	err := ep.Call(context.Background(), fc, map[string]string{"channel_id": "266277541646434305", "message_id": "266277541646434306"}, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kept": true}, out)
	assert.Equal(t, "DELETE", fc.calls[0].method)
}

func TestCall_PropagatesError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	fc := &fakeCaller{err: cause}
	ep, _ := endpoints.Lookup("get_self")
	assert.ErrorIs(t, ep.Call(context.Background(), fc, nil, nil, nil), cause)
}

func TestCall_MessageValidation(t *testing.T) {
	t.Parallel()

	params := map[string]string{"channel_id": "266277541646434305"}
	ep, _ := endpoints.Lookup("create_message")

	tests := []struct {
		name  string
		body  any
		valid bool
	}{
		{"nil body", nil, false},
		{"empty object", map[string]any{"tts": true}, false},
		{"empty content", map[string]any{"content": ""}, false},
		{"empty embeds", map[string]any{"embeds": []any{}}, false},
		{"content", map[string]any{"content": "hi"}, true},
		{"embed", map[string]any{"embed": map[string]any{"title": "t"}}, true},
		{"file", map[string]any{"file": rest.File{Name: "a.txt"}}, true},
		{"struct content", struct {
			Content string `json:"content"`
		}{"hi"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCaller{}
			err := ep.Call(context.Background(), fc, params, tt.body, nil)
			if tt.valid {
				require.NoError(t, err)
				require.Len(t, fc.calls, 1)
				assert.Equal(t, rest.KindMultipart, fc.calls[0].kind)
				return
			}
			var verr *endpoints.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "create_message", verr.Endpoint)
			assert.Empty(t, fc.calls, "invalid bodies never reach the caller")
		})
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	all := endpoints.All()
	require.NotEmpty(t, all)
	seen := map[string]bool{}
	for i, ep := range all {
		assert.False(t, seen[ep.Name], "duplicate %s", ep.Name)
		seen[ep.Name] = true
		if i > 0 {
			assert.Less(t, all[i-1].Name, ep.Name)
		}
		got, ok := endpoints.Lookup(ep.Name)
		assert.True(t, ok)
		assert.Equal(t, ep.Path, got.Path)
	}

	_, ok := endpoints.Lookup("nope")
	assert.False(t, ok)
}
