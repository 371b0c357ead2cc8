// Package playlist provides the playback Queue value.
package playlist

import (
	"iter"
	"slices"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// NoIndex is the CurrentIndex of an empty queue.
const NoIndex = -1

// Queue is an ordered list of tracks with a cursor.
// When Items is non-empty, 0 <= CurrentIndex < len(Items).
type Queue struct {
	Items        []track.Track // Tracks in play order (duplicates allowed)
	CurrentIndex int           // Cursor into Items, NoIndex when empty
	Shuffle      bool          // Shuffle enabled
	Repeat       RepeatMode    // Repeat mode
}

// Empty returns a queue with no items.
func Empty() Queue {
	return Queue{CurrentIndex: NoIndex}
}

// Len returns the number of items.
func (q Queue) Len() int {
	return len(q.Items)
}

// IsEmpty reports whether the queue has no items.
func (q Queue) IsEmpty() bool {
	return len(q.Items) == 0
}

// Current returns the track at the cursor.
func (q Queue) Current() (track.Track, bool) {
	if q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Items) {
		return track.Track{}, false
	}
	return q.Items[q.CurrentIndex], true
}

// Upcoming yields the items after the cursor in order.
// It never wraps, regardless of the repeat mode, and can be ranged over
// any number of times.
func (q Queue) Upcoming() iter.Seq[track.Track] {
	return func(yield func(track.Track) bool) {
		if q.CurrentIndex < 0 {
			return
		}
		for i := q.CurrentIndex + 1; i < len(q.Items); i++ {
			if !yield(q.Items[i]) {
				return
			}
		}
	}
}

// Clone returns a deep copy that shares no backing array with q.
func (q Queue) Clone() Queue {
	c := q
	c.Items = slices.Clone(q.Items)
	return c
}

// TrackIDs returns all track IDs in the queue.
func (q Queue) TrackIDs() []string {
	ids := make([]string, len(q.Items))
	for i, t := range q.Items {
		ids[i] = t.ID
	}
	return ids
}

// TotalDurationMS returns the summed length of all items.
func (q Queue) TotalDurationMS() int64 {
	var total int64
	for _, t := range q.Items {
		total += t.DurationMS
	}
	return total
}

// Valid reports whether the cursor invariant holds.
func (q Queue) Valid() bool {
	if len(q.Items) == 0 {
		return q.CurrentIndex == NoIndex
	}
	return q.CurrentIndex >= 0 && q.CurrentIndex < len(q.Items)
}
