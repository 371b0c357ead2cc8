// Package lastfm provides a client for the Last.fm scrobbling API.
package lastfm

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/shkh/lastfm-go/lastfm"
)

// ErrNotAuthenticated is returned when an operation requires a session key.
var ErrNotAuthenticated = errors.New("last.fm session key is not set")

// Config represents Last.fm client configuration.
type Config struct {
	APIKey     string
	APISecret  string
	SessionKey string
}

// Scrobble describes one play of a track.
type Scrobble struct {
	Artist    string
	Track     string
	Album     string
	Duration  time.Duration
	Timestamp time.Time // Time the play started
}

// Client is a Last.fm API client.
type Client struct {
	api        *lastfm.Api
	apiKey     string
	sessionKey string
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("last.fm API key and secret are required")
	}

	c := &Client{
		api:    lastfm.New(cfg.APIKey, cfg.APISecret),
		apiKey: cfg.APIKey,
	}
	if cfg.SessionKey != "" {
		c.SetSessionKey(cfg.SessionKey)
	}
	return c, nil
}

// SetSessionKey sets the authenticated session key.
func (c *Client) SetSessionKey(key string) {
	c.sessionKey = key
	c.api.SetSession(key)
}

// IsAuthenticated returns true if a session key is set.
func (c *Client) IsAuthenticated() bool {
	return c.sessionKey != ""
}

// GetToken requests a token for the desktop authorization flow.
func (c *Client) GetToken() (string, error) {
	token, err := c.api.GetToken()
	if err != nil {
		return "", errors.Wrap(err, "get token")
	}
	return token, nil
}

// AuthURL returns the page where the user authorizes token.
func (c *Client) AuthURL(token string) string {
	return fmt.Sprintf("https://www.last.fm/api/auth/?api_key=%s&token=%s", c.apiKey, token)
}

// SessionFromToken exchanges an authorized token for a session key.
func (c *Client) SessionFromToken(token string) (string, error) {
	if err := c.api.LoginWithToken(token); err != nil {
		return "", errors.Wrap(err, "get session")
	}
	c.sessionKey = c.api.GetSessionKey()
	return c.sessionKey, nil
}

// UpdateNowPlaying sends a "now playing" notification.
// Reference: https://www.last.fm/api/show/track.updateNowPlaying
func (c *Client) UpdateNowPlaying(ctx context.Context, s Scrobble) error {
	if !c.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.api.Track.UpdateNowPlaying(nowPlayingParams(s)); err != nil {
		return errors.Wrapf(err, "update now playing: artist=%s track=%s", s.Artist, s.Track)
	}
	zlog.Debug().Msgf("lastfm: now playing updated: artist=%s track=%s", s.Artist, s.Track)
	return nil
}

// Scrobble submits a track play.
// Reference: https://www.last.fm/api/show/track.scrobble
func (c *Client) Scrobble(ctx context.Context, s Scrobble) error {
	if !c.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.api.Track.Scrobble(scrobbleParams(s)); err != nil {
		return errors.Wrapf(err, "scrobble: artist=%s track=%s", s.Artist, s.Track)
	}
	zlog.Debug().Msgf("lastfm: scrobbled: artist=%s track=%s", s.Artist, s.Track)
	return nil
}

func nowPlayingParams(s Scrobble) lastfm.P {
	params := lastfm.P{
		"artist": s.Artist,
		"track":  s.Track,
	}
	if s.Album != "" {
		params["album"] = s.Album
	}
	if s.Duration > 0 {
		params["duration"] = int(s.Duration.Seconds())
	}
	return params
}

func scrobbleParams(s Scrobble) lastfm.P {
	params := nowPlayingParams(s)
	params["timestamp"] = s.Timestamp.Unix()
	return params
}
