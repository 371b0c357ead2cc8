package lastfm

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shkh/lastfm-go/lastfm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		authed  bool
	}{
		{name: "missing key", cfg: Config{APISecret: "s"}, wantErr: true},
		{name: "missing secret", cfg: Config{APIKey: "k"}, wantErr: true},
		{name: "without session", cfg: Config{APIKey: "k", APISecret: "s"}},
		{name: "with session", cfg: Config{APIKey: "k", APISecret: "s", SessionKey: "sk"}, authed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.authed, c.IsAuthenticated())
		})
	}
}

func TestClient_RequiresSession(t *testing.T) {
	c, err := New(Config{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, errors.Is(c.UpdateNowPlaying(ctx, Scrobble{}), ErrNotAuthenticated))
	assert.True(t, errors.Is(c.Scrobble(ctx, Scrobble{}), ErrNotAuthenticated))
}

func TestClient_CancelledContext(t *testing.T) {
	c, err := New(Config{APIKey: "k", APISecret: "s", SessionKey: "sk"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(c.Scrobble(ctx, Scrobble{}), context.Canceled))
}

func TestClient_AuthURL(t *testing.T) {
	c, err := New(Config{APIKey: "key123", APISecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://www.last.fm/api/auth/?api_key=key123&token=tok", c.AuthURL("tok"))
}

func TestParams(t *testing.T) {
	started := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name     string
		in       Scrobble
		expected lastfm.P
	}{
		{
			name: "minimal",
			in:   Scrobble{Artist: "Artist", Track: "Song", Timestamp: started},
			expected: lastfm.P{
				"artist":    "Artist",
				"track":     "Song",
				"timestamp": started.Unix(),
			},
		},
		{
			name: "full",
			in:   Scrobble{Artist: "Artist", Track: "Song", Album: "Album", Duration: 215500 * time.Millisecond, Timestamp: started},
			expected: lastfm.P{
				"artist":    "Artist",
				"track":     "Song",
				"album":     "Album",
				"duration":  215,
				"timestamp": started.Unix(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, scrobbleParams(tt.in))

			now := nowPlayingParams(tt.in)
			_, hasTimestamp := now["timestamp"]
			assert.False(t, hasTimestamp)
		})
	}
}
