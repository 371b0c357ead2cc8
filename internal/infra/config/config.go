// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Engine types.
const (
	EngineSimulated = "simulated"
	EngineSpotify   = "spotify"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Engine   EngineConfig   `yaml:"engine"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Presence PresenceConfig `yaml:"presence"`
	Spotify  SpotifyConfig  `yaml:"spotify"`

	Filters map[string]FilterConfig `yaml:"filters"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr         string      `yaml:"addr" default:":8080"`
	ControlToken string      `yaml:"control_token"`
	Hooks        HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// SessionConfig represents the playback session started with the daemon.
type SessionConfig struct {
	ID          string `yaml:"id"`
	Standby     bool   `yaml:"standby"` // Wait for an explicit connect instead of connecting at startup
	PlaylistURL string `yaml:"playlist_url"`
	Repeat      string `yaml:"repeat" default:"off" validate:"oneof=off none one track all queue"`
	Shuffle     bool   `yaml:"shuffle"`
}

// EngineConfig selects the playback engine. Settings are decoded per type.
type EngineConfig struct {
	Type     string         `yaml:"type" default:"simulated" validate:"oneof=simulated spotify"`
	Settings map[string]any `yaml:"settings"`
}

// FilterConfig represents an admission filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// TrackerConfig represents position tracking configuration.
type TrackerConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" default:"400" validate:"gte=100,lte=5000"`
}

// PresenceConfig represents now-playing reporting configuration.
type PresenceConfig struct {
	Enabled bool         `yaml:"enabled"`
	LastFM  LastFMConfig `yaml:"lastfm"`
}

// LastFMConfig represents Last.fm API configuration.
type LastFMConfig struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	SessionKey string `yaml:"session_key"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.Presence.LastFM.APIKey = v
	}
	if v := os.Getenv("LASTFM_API_SECRET"); v != "" {
		c.Presence.LastFM.APISecret = v
	}
	if v := os.Getenv("LASTFM_SESSION_KEY"); v != "" {
		c.Presence.LastFM.SessionKey = v
	}
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		c.Server.ControlToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Presence.Enabled {
		lfm := c.Presence.LastFM
		if lfm.APIKey == "" || lfm.APISecret == "" || lfm.SessionKey == "" {
			return errors.New("presence requires lastfm api_key, api_secret and session_key")
		}
	}

	if c.NeedsSpotify() {
		s := c.Spotify
		if s.ClientID == "" || s.ClientSecret == "" || s.RefreshToken == "" {
			return errors.New("spotify client_id, client_secret and refresh_token are required")
		}
	}

	return nil
}

// NeedsSpotify reports whether the Spotify API is used: by the Spotify
// engine, or to resolve the session playlist.
func (c *Config) NeedsSpotify() bool {
	return c.Engine.Type == EngineSpotify || c.Session.PlaylistURL != ""
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for an enabled filter.
func (c *Config) GetFilterSettings(filterName string) (map[string]any, bool) {
	if !c.IsFilterEnabled(filterName) {
		return nil, false
	}
	return c.Filters[filterName].Settings, true
}

// DecodeSettings decodes free-form settings into out, a pointer to a struct
// with mapstructure tags, then applies its defaults and validation tags.
func DecodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
