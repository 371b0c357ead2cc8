package playback

import (
	"github.com/osa030/nowplaying/internal/app/session/state"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// EventType represents a playback history event type.
type EventType int

const (
	EventTrackStarted    EventType = iota // Track started playing
	EventTrackEnded                       // Track finished playing
	EventTrackSkipped                     // Track was skipped
	EventStateChanged                     // Session state changed
	EventQueueEnded                       // Reached the end of the queue with repeat off
	EventCommandsDropped                  // Buffered commands were discarded on teardown
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEnded:
		return "queue_ended"
	case EventCommandsDropped:
		return "commands_dropped"
	default:
		return "unknown"
	}
}

// Event represents a playback history event for external recorders.
type Event struct {
	Seq        uint64 // Monotonic sequence number assigned on emission
	Type       EventType
	Track      *track.Track // Track concerned (nil for some events)
	Session    state.State  // Session state at emission
	PositionMS int64        // Position within Track at emission
	Count      int          // Number of dropped commands (EventCommandsDropped)
	AtMS       int64        // Wall-clock millis at emission
}
