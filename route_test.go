package ember

import "testing"

func TestNewRouteBucketKey(t *testing.T) {
	r := NewRoute("POST", "/channels/{channel_id}/messages", RouteParams{ChannelID: 5})

	if r.ResolvedPath != "/channels/5/messages" {
		t.Fatalf("resolved path = %q, want %q", r.ResolvedPath, "/channels/5/messages")
	}
	want := "0-5-0::/channels/{channel_id}/messages"
	if r.BucketKey != want {
		t.Fatalf("bucket key = %q, want %q", r.BucketKey, want)
	}
}

func TestNewRouteBucketKeyIgnoresResolvedPath(t *testing.T) {
	a := NewRoute("GET", "/guilds/{guild_id}/members/{user_id}", RouteParams{
		GuildID: 42,
		Extra:   map[string]string{"user_id": "1"},
	})
	b := NewRoute("GET", "/guilds/{guild_id}/members/{user_id}", RouteParams{
		GuildID: 42,
		Extra:   map[string]string{"user_id": "2"},
	})

	if a.BucketKey != b.BucketKey {
		t.Fatalf("bucket keys differ despite identical guild/channel/webhook: %q vs %q", a.BucketKey, b.BucketKey)
	}
	if a.ResolvedPath == b.ResolvedPath {
		t.Fatalf("resolved paths should differ: %q", a.ResolvedPath)
	}
}

func TestNewRouteBucketKeyDiffersByTemplate(t *testing.T) {
	a := NewRoute("GET", "/channels/{channel_id}", RouteParams{ChannelID: 7})
	b := NewRoute("GET", "/channels/{channel_id}/messages", RouteParams{ChannelID: 7})

	if a.BucketKey == b.BucketKey {
		t.Fatalf("bucket keys should differ for distinct templates, both got %q", a.BucketKey)
	}
}

func TestNewRouteDefaultsToZero(t *testing.T) {
	r := NewRoute("GET", "/users/@me", RouteParams{})
	if r.BucketKey != "0-0-0::/users/@me" {
		t.Fatalf("bucket key = %q", r.BucketKey)
	}
}
