// Package presence reports what is playing to an external scrobbling service.
package presence

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
	"github.com/osa030/nowplaying/internal/infra/lastfm"
)

const (
	// MinScrobbleDuration is the shortest track that is ever scrobbled.
	MinScrobbleDuration = 30 * time.Second
	// MaxScrobbleThreshold caps the listening time needed for a scrobble.
	MaxScrobbleThreshold = 4 * time.Minute
)

// Scrobbler is the scrobbling service.
type Scrobbler interface {
	UpdateNowPlaying(ctx context.Context, s lastfm.Scrobble) error
	Scrobble(ctx context.Context, s lastfm.Scrobble) error
}

type play struct {
	track     track.Track
	startedAt time.Time
	scrobbled bool
}

// Reporter sends "now playing" when a track starts and scrobbles each play
// once it has been heard long enough: half the track or four minutes,
// whichever comes first, for tracks of at least thirty seconds.
type Reporter struct {
	scrobbler Scrobbler
	current   *play
}

// NewReporter creates a reporter.
func NewReporter(scrobbler Scrobbler) *Reporter {
	return &Reporter{scrobbler: scrobbler}
}

// Run consumes snapshots and events until ctx is done or both channels close.
func (r *Reporter) Run(ctx context.Context, snapshots <-chan playback.Snapshot, events <-chan playback.Event) {
	zlog.Info().Msg("presence: reporter started")
	defer zlog.Info().Msg("presence: reporter stopped")

	for snapshots != nil || events != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.HandleEvent(ctx, ev)
		case s, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			r.HandleSnapshot(ctx, s)
		}
	}
}

// HandleEvent starts tracking a new play on EventTrackStarted.
func (r *Reporter) HandleEvent(ctx context.Context, ev playback.Event) {
	if ev.Type != playback.EventTrackStarted || ev.Track == nil {
		return
	}

	r.current = &play{
		track:     *ev.Track,
		startedAt: time.UnixMilli(ev.AtMS),
	}
	if err := r.scrobbler.UpdateNowPlaying(ctx, toScrobble(r.current)); err != nil {
		zlog.Warn().Msgf("presence: now playing failed: track_id=%s err=%v", ev.Track.ID, err)
	}
}

// HandleSnapshot scrobbles the current play once its threshold is reached.
func (r *Reporter) HandleSnapshot(ctx context.Context, s playback.Snapshot) {
	p := r.current
	if p == nil || p.scrobbled || s.TrackID() != p.track.ID {
		return
	}

	duration := time.Duration(s.DurationMS) * time.Millisecond
	if duration <= 0 {
		duration = p.track.Duration()
	}
	threshold, ok := Threshold(duration)
	if !ok {
		return
	}
	if time.Duration(s.PositionMS)*time.Millisecond < threshold {
		return
	}

	p.scrobbled = true
	if err := r.scrobbler.Scrobble(ctx, toScrobble(p)); err != nil {
		zlog.Warn().Msgf("presence: scrobble failed: track_id=%s err=%v", p.track.ID, err)
		return
	}
	zlog.Info().Msgf("presence: scrobbled: track_id=%s title=%s", p.track.ID, p.track.Title)
}

// Threshold returns the listening time after which a track of the given
// length is scrobbled. ok is false for tracks too short to scrobble.
func Threshold(duration time.Duration) (time.Duration, bool) {
	if duration < MinScrobbleDuration {
		return 0, false
	}
	return min(duration/2, MaxScrobbleThreshold), true
}

func toScrobble(p *play) lastfm.Scrobble {
	return lastfm.Scrobble{
		Artist:    p.track.Artist,
		Track:     p.track.Title,
		Album:     p.track.Album,
		Duration:  p.track.Duration(),
		Timestamp: p.startedAt,
	}
}
