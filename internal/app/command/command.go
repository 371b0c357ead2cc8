// Package command provides playback commands and the mailbox that holds
// them until the engine is ready.
package command

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/osa030/nowplaying/internal/domain/playlist"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// Kind is the type of a command.
type Kind int

const (
	KindPlay Kind = iota
	KindPlayList
	KindPause
	KindResume
	KindSeekTo
	KindSkipNext
	KindSkipPrevious
	KindStop
	KindSetRepeat
	KindSetShuffle
	KindTrackEnded // Natural end of the current track, issued internally
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPlay:
		return "play"
	case KindPlayList:
		return "play_list"
	case KindPause:
		return "pause"
	case KindResume:
		return "resume"
	case KindSeekTo:
		return "seek_to"
	case KindSkipNext:
		return "skip_next"
	case KindSkipPrevious:
		return "skip_previous"
	case KindStop:
		return "stop"
	case KindSetRepeat:
		return "set_repeat"
	case KindSetShuffle:
		return "set_shuffle"
	case KindTrackEnded:
		return "track_ended"
	default:
		return "unknown"
	}
}

// Command is a playback operation waiting to run against the engine.
// Only the fields relevant to Kind are set.
type Command struct {
	ID           string
	Kind         Kind
	Track        track.Track         // KindPlay
	Items        []track.Track       // KindPlayList
	StartIndex   int                 // KindPlayList
	PositionMS   int64               // KindSeekTo
	Repeat       playlist.RepeatMode // KindSetRepeat
	Shuffle      bool                // KindSetShuffle
	TrackID      string              // KindTrackEnded: the track that ended
	EnqueuedAtMS int64               // Set by Queue.Submit
}

func newCommand(k Kind) Command {
	return Command{ID: uuid.New().String(), Kind: k}
}

// Play replaces the queue with t and starts it.
func Play(t track.Track) Command {
	c := newCommand(KindPlay)
	c.Track = t
	return c
}

// PlayList replaces the queue with items and starts at startIndex.
func PlayList(items []track.Track, startIndex int) Command {
	c := newCommand(KindPlayList)
	c.Items = slices.Clone(items)
	c.StartIndex = startIndex
	return c
}

// Pause pauses playback.
func Pause() Command { return newCommand(KindPause) }

// Resume resumes playback.
func Resume() Command { return newCommand(KindResume) }

// SeekTo moves the position of the current track.
func SeekTo(positionMS int64) Command {
	c := newCommand(KindSeekTo)
	c.PositionMS = positionMS
	return c
}

// SkipNext moves to the next queue item.
func SkipNext() Command { return newCommand(KindSkipNext) }

// SkipPrevious moves to the previous queue item.
func SkipPrevious() Command { return newCommand(KindSkipPrevious) }

// Stop stops playback.
func Stop() Command { return newCommand(KindStop) }

// SetRepeat changes the repeat mode.
func SetRepeat(mode playlist.RepeatMode) Command {
	c := newCommand(KindSetRepeat)
	c.Repeat = mode
	return c
}

// SetShuffle enables or disables shuffle.
func SetShuffle(enabled bool) Command {
	c := newCommand(KindSetShuffle)
	c.Shuffle = enabled
	return c
}

// TrackEnded reports the natural end of trackID.
func TrackEnded(trackID string) Command {
	c := newCommand(KindTrackEnded)
	c.TrackID = trackID
	return c
}

// String returns a short description for logs.
func (c Command) String() string {
	switch c.Kind {
	case KindPlay:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Track.ID)
	case KindPlayList:
		return fmt.Sprintf("%s(items=%d start=%d)", c.Kind, len(c.Items), c.StartIndex)
	case KindSeekTo:
		return fmt.Sprintf("%s(%dms)", c.Kind, c.PositionMS)
	case KindSetRepeat:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Repeat)
	case KindSetShuffle:
		return fmt.Sprintf("%s(%t)", c.Kind, c.Shuffle)
	case KindTrackEnded:
		return fmt.Sprintf("%s(%s)", c.Kind, c.TrackID)
	default:
		return c.Kind.String()
	}
}

// ParseKind converts a name produced by Kind.String back to a Kind.
// Internal kinds are not accepted.
func ParseKind(s string) (Kind, bool) {
	for k := KindPlay; k <= KindSetShuffle; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
