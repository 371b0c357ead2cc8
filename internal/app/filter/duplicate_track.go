package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// DuplicateTrackFilter rejects a track that was already admitted in the same
// list.
// Detects:
// - Exact track ID matches
// - Remasters (normalized title + same main artist)
// Excludes:
// - Cover songs (same title but different artist)
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Drops repeated tracks (remasters included) from a list. Covers are kept"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track duplicates an admitted one.
func (f *DuplicateTrackFilter) Check(_ context.Context, t track.Track, admitted []track.Track) Result {
	for _, a := range admitted {
		if a.SameAs(t) || isRemaster(a, t) {
			return Reject("duplicate_track")
		}
	}
	return Accept()
}

var (
	// Applied in order; remaster patterns first
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
		regexp.MustCompile(`\s*\(.*?version\)`),                  // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),                     // "(Radio Edit)"
		regexp.MustCompile(`\s*-?\s*live`),                       // "- Live"
		regexp.MustCompile(`\s*\(live\)`),                        // "(Live)"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),               // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`),           // "- Single Version"
	}
	spaces = regexp.MustCompile(`\s+`)
)

// isRemaster checks if two tracks are the same song in another version.
func isRemaster(a, b track.Track) bool {
	if a.Title == "" || b.Title == "" {
		return false
	}
	if normalizeTitle(a.Title) != normalizeTitle(b.Title) {
		return false
	}
	// Same normalized title by a different artist is a cover
	return isSameArtist(a, b)
}

// normalizeTitle removes remaster information and version details.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	normalized = strings.TrimSpace(normalized)
	normalized = spaces.ReplaceAllString(normalized, " ")
	return strings.TrimRight(normalized, " -")
}

// isSameArtist compares the main artists, case-insensitive.
func isSameArtist(a, b track.Track) bool {
	mainA, mainB := mainArtist(a.Artist), mainArtist(b.Artist)
	if mainA == "" || mainB == "" {
		return false
	}
	return strings.EqualFold(mainA, mainB)
}

func mainArtist(artist string) string {
	first, _, _ := strings.Cut(artist, ",")
	return strings.TrimSpace(first)
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
