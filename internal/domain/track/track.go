// Package track provides the Track domain entity.
package track

import (
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrMissingID       = errors.New("track id is required")
	ErrMissingMediaRef = errors.New("track media reference is required")
	ErrNegativeLength  = errors.New("track duration must not be negative")
)

// Track represents one playable item.
// Identity is ID; two tracks with the same ID are the same item even if
// their metadata differs.
type Track struct {
	ID         string // Stable identifier
	Title      string // Display title
	Artist     string // Artist name (empty if absent)
	Album      string // Album name (empty if absent)
	ArtworkRef string // Artwork URL (empty if absent)
	MediaRef   string // Reference the engine resolves to media (URI or URL)
	DurationMS int64  // Length in milliseconds, 0 if unknown
}

// Duration returns the track length as a time.Duration.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMS) * time.Millisecond
}

// Validate checks the fields the engine needs to start playback.
func (t Track) Validate() error {
	if t.ID == "" {
		return ErrMissingID
	}
	if t.MediaRef == "" {
		return errors.Wrapf(ErrMissingMediaRef, "track %s", t.ID)
	}
	if t.DurationMS < 0 {
		return errors.Wrapf(ErrNegativeLength, "track %s", t.ID)
	}
	return nil
}

// SameAs reports whether both tracks refer to the same item.
func (t Track) SameAs(other Track) bool {
	return t.ID == other.ID
}

// String returns a short human readable label.
func (t Track) String() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}
