// Package playback provides the playback snapshot, history events and
// queue navigation.
package playback

import (
	"github.com/osa030/nowplaying/internal/app/session/state"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// Snapshot is the observable playback state broadcast to observers.
type Snapshot struct {
	Session     state.State  // Engine connection state
	Track       *track.Track // Current track, nil when nothing is loaded
	PositionMS  int64        // Position within Track
	DurationMS  int64        // Length of Track, 0 if unknown
	Playing     bool         // Audible playback
	TimestampMS int64        // Wall-clock millis when the snapshot was produced
}

// Idle returns the snapshot published before any engine is connected.
func Idle() Snapshot {
	return Snapshot{Session: state.Disconnected()}
}

// Normalize enforces the snapshot invariants in place:
// position stays within [0, duration] when the duration is known, and
// nothing plays without a track.
func (s *Snapshot) Normalize() {
	if s.PositionMS < 0 {
		s.PositionMS = 0
	}
	if s.DurationMS < 0 {
		s.DurationMS = 0
	}
	if s.DurationMS > 0 && s.PositionMS > s.DurationMS {
		s.PositionMS = s.DurationMS
	}
	if s.Track == nil {
		s.Playing = false
	}
}

// Clone returns a copy that does not share the Track pointer.
func (s Snapshot) Clone() Snapshot {
	if s.Track != nil {
		t := *s.Track
		s.Track = &t
	}
	return s
}

// TrackID returns the current track ID, or empty when no track is loaded.
func (s Snapshot) TrackID() string {
	if s.Track == nil {
		return ""
	}
	return s.Track.ID
}
