package playlist

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnknownRepeatMode is returned when a repeat mode name cannot be parsed.
var ErrUnknownRepeatMode = errors.New("unknown repeat mode")

// RepeatMode controls navigation at queue boundaries.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota // Stop at boundaries
	RepeatOne                   // Replay the current item on natural end
	RepeatAll                   // Wrap around at boundaries
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseRepeatMode converts a name produced by String back to a RepeatMode.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return RepeatOff, nil
	case "one", "track":
		return RepeatOne, nil
	case "all", "queue":
		return RepeatAll, nil
	default:
		return RepeatOff, errors.Wrapf(ErrUnknownRepeatMode, "%q", s)
	}
}
