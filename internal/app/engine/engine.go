// Package engine defines the contract of an out-of-process playback engine.
package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/nowplaying/internal/domain/track"
)

var (
	// ErrConnect marks every failure to establish an engine connection.
	ErrConnect = errors.New("engine connect failed")
	// ErrReleased is returned by handle operations after Release.
	ErrReleased = errors.New("engine handle released")
)

// Connector establishes engine connections.
type Connector interface {
	// Connect blocks until the engine is reachable or ctx is done.
	// Implementations must honor ctx cancellation.
	Connect(ctx context.Context, sessionID string) (Handle, error)
}

// Handle is a live connection to the engine.
// Queries are non-blocking reads of the engine's latest known values.
type Handle interface {
	Play(ctx context.Context, t track.Track) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SeekTo(ctx context.Context, positionMS int64) error
	Stop(ctx context.Context) error

	PositionMS() int64
	DurationMS() int64
	IsPlaying() bool

	// Events is closed when the connection ends.
	Events() <-chan Event

	// Release frees the connection. Safe to call more than once.
	Release() error
}

// EventType is the kind of engine push event.
type EventType int

const (
	EventPlayWhenReadyChanged EventType = iota
	EventTrackChanged
	EventPlaybackStateChanged
	EventPositionDiscontinuity
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventPlayWhenReadyChanged:
		return "play_when_ready_changed"
	case EventTrackChanged:
		return "track_changed"
	case EventPlaybackStateChanged:
		return "playback_state_changed"
	case EventPositionDiscontinuity:
		return "position_discontinuity"
	default:
		return "unknown"
	}
}

// Status is the engine's playback status.
type Status int

const (
	StatusIdle Status = iota
	StatusBuffering
	StatusReady
	StatusEnded
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBuffering:
		return "buffering"
	case StatusReady:
		return "ready"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is a push notification from the engine. Every event carries the
// engine's view of position, duration and play-when-ready at emission time.
type Event struct {
	Type          EventType
	PlayWhenReady bool
	Status        Status
	TrackID       string
	PositionMS    int64
	DurationMS    int64
}

// Playing reports whether the event describes audible playback.
func (e Event) Playing() bool {
	return e.PlayWhenReady && e.Status == StatusReady
}
