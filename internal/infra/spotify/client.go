// Package spotify provides a Spotify Connect playback engine and a catalog
// client that resolves Spotify references into tracks.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/nowplaying/internal/domain/track"
)

const trackURIPrefix = "spotify:track:"

// Scopes are the OAuth scopes needed to resolve tracks and drive a Connect device.
var Scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopePlaylistReadPrivate,
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
}

// Client is a Spotify API client.
type Client struct {
	api        *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// New creates a new Spotify client that refreshes its access token from cfg.RefreshToken.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(Scopes...),
	)
	httpClient := auth.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	return newClient(spotify.New(httpClient), cfg.Market), nil
}

func newClient(api *spotify.Client, market string) *Client {
	if market == "" {
		market = "JP"
	}
	return &Client{
		api:        api,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// API returns the underlying Web API client.
func (c *Client) API() *spotify.Client {
	return c.api
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, ref string) (track.Track, error) {
	id := extractTrackID(ref)
	if id == "" {
		return track.Track{}, errors.New("invalid track reference")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.api.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to get track: id=%s", id)
	}

	return convertTrack(result), nil
}

// GetPlaylistTracks retrieves all tracks from a playlist. Episodes are skipped.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistRef string) ([]track.Track, error) {
	playlistID := extractPlaylistID(playlistRef)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var tracks []track.Track
	offset := 0
	limit := 100

	for {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.api.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	return tracks, nil
}

// Resolve fills in the metadata of a track that only names a Spotify reference.
// Tracks that already carry a title, or whose media is not on Spotify, are
// returned unchanged.
func (c *Client) Resolve(ctx context.Context, t track.Track) (track.Track, error) {
	if t.Title != "" {
		return t, nil
	}
	ref := t.MediaRef
	if ref == "" {
		ref = t.ID
	}
	if !IsSpotifyRef(ref) {
		return t, nil
	}
	return c.GetTrack(ctx, ref)
}

// IsSpotifyRef reports whether ref is a Spotify track URI or URL.
func IsSpotifyRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	return strings.HasPrefix(ref, trackURIPrefix) ||
		(strings.Contains(ref, "open.spotify.com") && strings.Contains(ref, "/track/"))
}

// convertTrack converts a Spotify FullTrack to domain Track.
func convertTrack(t *spotify.FullTrack) track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var artwork string
	if len(t.Album.Images) > 0 {
		artwork = t.Album.Images[0].URL
	}

	return track.Track{
		ID:         string(t.ID),
		Title:      t.Name,
		Artist:     strings.Join(artists, ", "),
		Album:      t.Album.Name,
		ArtworkRef: artwork,
		MediaRef:   trackURIPrefix + string(t.ID),
		DurationMS: int64(t.Duration),
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := range c.maxRetries {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	return extractID(input, "playlist")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	return extractID(input, "track")
}

// extractID handles "spotify:<kind>:ID", "https://open.spotify.com[/intl-xx]/<kind>/ID?..."
// and bare IDs.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	if uriPrefix := "spotify:" + kind + ":"; strings.HasPrefix(input, uriPrefix) {
		return strings.TrimPrefix(input, uriPrefix)
	}

	if segment := "/" + kind + "/"; strings.Contains(input, "open.spotify.com") && strings.Contains(input, segment) {
		parts := strings.Split(input, segment)
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}
