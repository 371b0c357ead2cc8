package connect

import (
	"github.com/osa030/nowplaying/internal/app/coordinator"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/app/session/state"
	"github.com/osa030/nowplaying/internal/domain/playlist"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// Track is the wire form of a track.
type Track struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	ArtworkRef string `json:"artwork_ref,omitempty"`
	MediaRef   string `json:"media_ref,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// SessionState is the wire form of the session connection state.
type SessionState struct {
	Phase  string `json:"phase"`
	Reason string `json:"reason,omitempty"`
}

// Snapshot is the wire form of a playback snapshot.
type Snapshot struct {
	Session     SessionState `json:"session"`
	Track       *Track       `json:"track,omitempty"`
	PositionMS  int64        `json:"position_ms"`
	DurationMS  int64        `json:"duration_ms"`
	Playing     bool         `json:"playing"`
	TimestampMS int64        `json:"timestamp_ms"`
}

// Event is the wire form of a playback history event.
type Event struct {
	Seq        uint64       `json:"seq"`
	Type       string       `json:"type"`
	Track      *Track       `json:"track,omitempty"`
	Session    SessionState `json:"session"`
	PositionMS int64        `json:"position_ms"`
	Count      int          `json:"count,omitempty"`
	AtMS       int64        `json:"at_ms"`
}

// Queue is the wire form of the play queue.
type Queue struct {
	Items           []Track `json:"items"`
	CurrentIndex    int     `json:"current_index"`
	Repeat          string  `json:"repeat"`
	Shuffle         bool    `json:"shuffle"`
	Upcoming        []Track `json:"upcoming"`
	TotalDurationMS int64   `json:"total_duration_ms"`
}

// Status is the wire form of the coordinator status.
type Status struct {
	SessionID       string       `json:"session_id"`
	GenerationID    string       `json:"generation_id"`
	Session         SessionState `json:"session"`
	Pending         int          `json:"pending"`
	Dropped         uint64       `json:"dropped"`
	Failed          uint64       `json:"failed"`
	Executed        uint64       `json:"executed"`
	SubscriberCount int          `json:"subscriber_count"`
}

// Command is a playback command submitted by a client. Kind is one of
// play, play_list, pause, resume, seek_to, skip_next, skip_previous, stop,
// set_repeat and set_shuffle; only the fields of that kind are read.
type Command struct {
	Kind        string  `json:"kind"`
	Track       *Track  `json:"track,omitempty"`
	Items       []Track `json:"items,omitempty"`
	PlaylistRef string  `json:"playlist_ref,omitempty"` // Alternative to Items, resolved by the server
	StartIndex  int     `json:"start_index,omitempty"`
	PositionMS  int64   `json:"position_ms,omitempty"`
	Repeat      string  `json:"repeat,omitempty"`
	Shuffle     bool    `json:"shuffle,omitempty"`
}

// SubmitResponse acknowledges a submitted command. Acceptance does not mean
// the command ran: commands are buffered until the engine is ready and may
// still be dropped.
type SubmitResponse struct {
	CommandID string `json:"command_id"`
}

func fromTrack(t track.Track) Track {
	return Track(t)
}

func fromTrackPtr(t *track.Track) *Track {
	if t == nil {
		return nil
	}
	w := fromTrack(*t)
	return &w
}

func fromTracks(ts []track.Track) []Track {
	out := make([]Track, len(ts))
	for i, t := range ts {
		out[i] = fromTrack(t)
	}
	return out
}

func (t Track) toDomain() track.Track {
	return track.Track(t)
}

func fromState(s state.State) SessionState {
	return SessionState{Phase: s.Phase.String(), Reason: s.Reason}
}

func fromSnapshot(s playback.Snapshot) Snapshot {
	return Snapshot{
		Session:     fromState(s.Session),
		Track:       fromTrackPtr(s.Track),
		PositionMS:  s.PositionMS,
		DurationMS:  s.DurationMS,
		Playing:     s.Playing,
		TimestampMS: s.TimestampMS,
	}
}

func fromEvent(e playback.Event) Event {
	return Event{
		Seq:        e.Seq,
		Type:       e.Type.String(),
		Track:      fromTrackPtr(e.Track),
		Session:    fromState(e.Session),
		PositionMS: e.PositionMS,
		Count:      e.Count,
		AtMS:       e.AtMS,
	}
}

func fromQueue(q playlist.Queue) Queue {
	upcoming := []Track{}
	for t := range q.Upcoming() {
		upcoming = append(upcoming, fromTrack(t))
	}
	return Queue{
		Items:           fromTracks(q.Items),
		CurrentIndex:    q.CurrentIndex,
		Repeat:          q.Repeat.String(),
		Shuffle:         q.Shuffle,
		Upcoming:        upcoming,
		TotalDurationMS: q.TotalDurationMS(),
	}
}

func fromStatus(s coordinator.Status) Status {
	return Status{
		SessionID:       s.SessionID,
		GenerationID:    s.GenerationID,
		Session:         fromState(s.Session),
		Pending:         s.Pending,
		Dropped:         s.Dropped,
		Failed:          s.Failed,
		Executed:        s.Executed,
		SubscriberCount: s.SubscriberCount,
	}
}
