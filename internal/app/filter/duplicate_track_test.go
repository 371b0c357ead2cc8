package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/nowplaying/internal/domain/track"
)

func TestDuplicateTrackFilter_Check(t *testing.T) {
	admitted := []track.Track{
		{ID: "track123", Title: "Bohemian Rhapsody", Artist: "Queen"},
		{ID: "track456", Title: "Imagine", Artist: "John Lennon, The Plastic Ono Band"},
	}

	tests := []struct {
		name         string
		requested    track.Track
		wantAccepted bool
	}{
		{
			name:         "exact id match",
			requested:    track.Track{ID: "track123", Title: "Something Else", Artist: "Other"},
			wantAccepted: false,
		},
		{
			name:         "year remaster",
			requested:    track.Track{ID: "r1", Title: "Bohemian Rhapsody - 2011 Remaster", Artist: "Queen"},
			wantAccepted: false,
		},
		{
			name:         "parenthesized remaster",
			requested:    track.Track{ID: "r2", Title: "Bohemian Rhapsody (Remastered 2023)", Artist: "queen"},
			wantAccepted: false,
		},
		{
			name:         "live version",
			requested:    track.Track{ID: "r3", Title: "Bohemian Rhapsody - Live", Artist: "Queen"},
			wantAccepted: false,
		},
		{
			name:         "main artist of several",
			requested:    track.Track{ID: "r4", Title: "Imagine (Single Version)", Artist: "John Lennon"},
			wantAccepted: false,
		},
		{
			name:         "cover by another artist",
			requested:    track.Track{ID: "c1", Title: "Bohemian Rhapsody", Artist: "Panic! At The Disco"},
			wantAccepted: true,
		},
		{
			name:         "different song",
			requested:    track.Track{ID: "d1", Title: "Somebody to Love", Artist: "Queen"},
			wantAccepted: true,
		},
		{
			name:         "missing metadata",
			requested:    track.Track{ID: "m1"},
			wantAccepted: true,
		},
	}

	f := NewDuplicateTrackFilter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(context.Background(), tt.requested, admitted)
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, "duplicate_track", result.Code)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{in: "Hey Jude", expected: "hey jude"},
		{in: "Hey Jude - 2015 Remaster", expected: "hey jude"},
		{in: "Hey Jude [Remastered]", expected: "hey jude"},
		{in: "Hey  Jude (Radio Edit)", expected: "hey jude"},
		{in: "Yesterday - Single Version", expected: "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeTitle(tt.in))
		})
	}
}
