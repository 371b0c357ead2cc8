package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  control_token: secret\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.ControlToken)
	assert.Equal(t, EngineSimulated, cfg.Engine.Type)
	assert.Equal(t, 400, cfg.Tracker.PollIntervalMs)
	assert.Equal(t, "off", cfg.Session.Repeat)
	assert.Equal(t, "JP", cfg.Spotify.Market)
	assert.False(t, cfg.Session.Standby)
	assert.False(t, cfg.NeedsSpotify())
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
	}{
		{
			name: "full spotify config",
			yaml: `
engine:
  type: spotify
  settings:
    device_name: Living Room
spotify:
  client_id: id
  client_secret: secret
  refresh_token: token
  market: US
presence:
  enabled: true
  lastfm:
    api_key: key
    api_secret: secret
    session_key: session
`,
		},
		{
			name:    "unknown engine type",
			yaml:    "engine:\n  type: vlc\n",
			wantErr: true,
			errMsg:  "Type",
		},
		{
			name:    "poll interval too short",
			yaml:    "tracker:\n  poll_interval_ms: 10\n",
			wantErr: true,
			errMsg:  "PollIntervalMs",
		},
		{
			name:    "unknown repeat mode",
			yaml:    "session:\n  repeat: forever\n",
			wantErr: true,
			errMsg:  "Repeat",
		},
		{
			name:    "spotify engine without credentials",
			yaml:    "engine:\n  type: spotify\n",
			wantErr: true,
			errMsg:  "refresh_token",
		},
		{
			name:    "playlist without spotify credentials",
			yaml:    "session:\n  playlist_url: spotify:playlist:abc\n",
			wantErr: true,
			errMsg:  "client_id",
		},
		{
			name:    "presence without session key",
			yaml:    "presence:\n  enabled: true\n  lastfm:\n    api_key: key\n    api_secret: secret\n",
			wantErr: true,
			errMsg:  "session_key",
		},
		{
			name: "invalid market length",
			yaml: `
spotify:
  market: JAPAN
`,
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name:    "malformed yaml",
			yaml:    "server: [",
			wantErr: true,
			errMsg:  "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "env-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "env-secret")
	t.Setenv("SPOTIFY_REFRESH_TOKEN", "env-token")
	t.Setenv("LASTFM_API_KEY", "env-key")
	t.Setenv("LASTFM_API_SECRET", "env-lfm-secret")
	t.Setenv("LASTFM_SESSION_KEY", "env-session")
	t.Setenv("CONTROL_TOKEN", "env-control")

	cfg, err := Parse([]byte(`
engine:
  type: spotify
spotify:
  client_id: file-id
presence:
  enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.Spotify.ClientID)
	assert.Equal(t, "env-secret", cfg.Spotify.ClientSecret)
	assert.Equal(t, "env-token", cfg.Spotify.RefreshToken)
	assert.Equal(t, LastFMConfig{APIKey: "env-key", APISecret: "env-lfm-secret", SessionKey: "env-session"}, cfg.Presence.LastFM)
	assert.Equal(t, "env-control", cfg.Server.ControlToken)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 127.0.0.1:9090\nsession:\n  id: kitchen\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, "kitchen", cfg.Session.ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFilterSettings(t *testing.T) {
	cfg, err := Parse([]byte(`
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_minutes: 8
  duplicate_track_filter:
    enabled: false
`))
	require.NoError(t, err)

	assert.True(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("duplicate_track_filter"))
	assert.False(t, cfg.IsFilterEnabled("unknown_filter"))

	settings, ok := cfg.GetFilterSettings("duration_limit_filter")
	require.True(t, ok)
	assert.Equal(t, 8, settings["max_minutes"])

	_, ok = cfg.GetFilterSettings("duplicate_track_filter")
	assert.False(t, ok)
}

type sampleSettings struct {
	Name    string `mapstructure:"name" validate:"required"`
	DelayMS int    `mapstructure:"delay_ms" default:"150" validate:"gte=0,lte=1000"`
	Enabled bool   `mapstructure:"enabled"`
}

func TestDecodeSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		expected sampleSettings
		wantErr  bool
	}{
		{
			name:     "defaults applied",
			settings: map[string]any{"name": "a"},
			expected: sampleSettings{Name: "a", DelayMS: 150},
		},
		{
			name:     "explicit values",
			settings: map[string]any{"name": "b", "delay_ms": 20, "enabled": true},
			expected: sampleSettings{Name: "b", DelayMS: 20, Enabled: true},
		},
		{
			name:     "missing required",
			settings: map[string]any{},
			wantErr:  true,
		},
		{
			name:     "out of range",
			settings: map[string]any{"name": "c", "delay_ms": 5000},
			wantErr:  true,
		},
		{
			name:     "wrong type",
			settings: map[string]any{"name": []string{"x"}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got sampleSettings
			err := DecodeSettings(tt.settings, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
