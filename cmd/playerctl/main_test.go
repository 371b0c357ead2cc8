package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiconnect "github.com/osa030/nowplaying/internal/api/connect"
)

func TestParseTrack(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		expected apiconnect.Track
		wantErr  bool
	}{
		{
			name:     "bare id",
			arg:      "4uLU6hMCjMI75M1A2tKUQC",
			expected: apiconnect.Track{ID: "4uLU6hMCjMI75M1A2tKUQC", MediaRef: "spotify:track:4uLU6hMCjMI75M1A2tKUQC"},
		},
		{
			name:     "uri",
			arg:      "spotify:track:abc",
			expected: apiconnect.Track{ID: "abc", MediaRef: "spotify:track:abc"},
		},
		{
			name:     "url with query",
			arg:      "https://open.spotify.com/track/abc?si=xyz",
			expected: apiconnect.Track{ID: "abc", MediaRef: "spotify:track:abc"},
		},
		{
			name:     "json",
			arg:      `{"id":"a","title":"Song","media_ref":"sim://a","duration_ms":1000}`,
			expected: apiconnect.Track{ID: "a", Title: "Song", MediaRef: "sim://a", DurationMS: 1000},
		},
		{
			name:    "broken json",
			arg:     `{"id":`,
			wantErr: true,
		},
		{
			name:    "empty id",
			arg:     "spotify:track:",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTrack(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0:00", formatMS(0))
	assert.Equal(t, "3:05", formatMS(185000))
	assert.Equal(t, "61:01", formatMS(3661000))

	assert.Equal(t, "-", formatTrack(nil))
	assert.Equal(t, "a", formatTrack(&apiconnect.Track{ID: "a"}))
	assert.Equal(t, "Song - Band", formatTrack(&apiconnect.Track{ID: "a", Title: "Song", Artist: "Band"}))

	assert.Equal(t, "ready", formatSession(apiconnect.SessionState{Phase: "ready"}))
	assert.Equal(t, "failed (engine lost)", formatSession(apiconnect.SessionState{Phase: "failed", Reason: "engine lost"}))
}
