package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
	"github.com/osa030/nowplaying/internal/infra/lastfm"
)

type fakeScrobbler struct {
	mu         sync.Mutex
	nowPlaying []lastfm.Scrobble
	scrobbles  []lastfm.Scrobble
	err        error
}

func (f *fakeScrobbler) UpdateNowPlaying(_ context.Context, s lastfm.Scrobble) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nowPlaying = append(f.nowPlaying, s)
	return f.err
}

func (f *fakeScrobbler) Scrobble(_ context.Context, s lastfm.Scrobble) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrobbles = append(f.scrobbles, s)
	return f.err
}

func (f *fakeScrobbler) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nowPlaying), len(f.scrobbles)
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     time.Duration
		ok       bool
	}{
		{name: "too short", duration: 29 * time.Second, ok: false},
		{name: "exactly thirty seconds", duration: 30 * time.Second, want: 15 * time.Second, ok: true},
		{name: "half of a short track", duration: 3 * time.Minute, want: 90 * time.Second, ok: true},
		{name: "capped at four minutes", duration: 12 * time.Minute, want: 4 * time.Minute, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Threshold(tt.duration)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func started(tr track.Track, atMS int64) playback.Event {
	return playback.Event{Type: playback.EventTrackStarted, Track: &tr, AtMS: atMS}
}

func at(tr track.Track, posMS int64) playback.Snapshot {
	return playback.Snapshot{Track: &tr, PositionMS: posMS, DurationMS: tr.DurationMS, Playing: true}
}

func TestReporter_ScrobblesOncePerPlay(t *testing.T) {
	f := &fakeScrobbler{}
	r := NewReporter(f)
	ctx := context.Background()
	song := track.Track{ID: "a", Title: "Song", Artist: "Artist", Album: "Album", DurationMS: 180000}

	r.HandleEvent(ctx, started(song, 1_700_000_000_000))
	require.Len(t, f.nowPlaying, 1)
	assert.Equal(t, "Song", f.nowPlaying[0].Track)
	assert.Equal(t, "Artist", f.nowPlaying[0].Artist)

	r.HandleSnapshot(ctx, at(song, 60000))
	assert.Empty(t, f.scrobbles)

	r.HandleSnapshot(ctx, at(song, 90000))
	r.HandleSnapshot(ctx, at(song, 120000))
	require.Len(t, f.scrobbles, 1)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), f.scrobbles[0].Timestamp)
	assert.Equal(t, 3*time.Minute, f.scrobbles[0].Duration)

	// Repeat of the same track is a new play.
	r.HandleEvent(ctx, started(song, 1_700_000_200_000))
	r.HandleSnapshot(ctx, at(song, 100000))
	assert.Len(t, f.scrobbles, 2)
}

func TestReporter_IgnoresOtherTracksAndShortTracks(t *testing.T) {
	f := &fakeScrobbler{}
	r := NewReporter(f)
	ctx := context.Background()
	short := track.Track{ID: "jingle", Title: "Jingle", DurationMS: 10000}
	other := track.Track{ID: "b", Title: "Other", DurationMS: 180000}

	r.HandleSnapshot(ctx, at(other, 170000))
	r.HandleEvent(ctx, started(short, 1))
	r.HandleSnapshot(ctx, at(short, 10000))
	r.HandleSnapshot(ctx, at(other, 170000))
	r.HandleEvent(ctx, playback.Event{Type: playback.EventTrackEnded, Track: &other})

	nowPlaying, scrobbles := f.counts()
	assert.Equal(t, 1, nowPlaying)
	assert.Equal(t, 0, scrobbles)
}

func TestReporter_ErrorsDoNotRetry(t *testing.T) {
	f := &fakeScrobbler{err: errors.New("offline")}
	r := NewReporter(f)
	ctx := context.Background()
	song := track.Track{ID: "a", Title: "Song", DurationMS: 60000}

	r.HandleEvent(ctx, started(song, 1))
	r.HandleSnapshot(ctx, at(song, 40000))
	r.HandleSnapshot(ctx, at(song, 50000))

	_, scrobbles := f.counts()
	assert.Equal(t, 1, scrobbles)
}

func TestReporter_Run(t *testing.T) {
	f := &fakeScrobbler{}
	r := NewReporter(f)
	song := track.Track{ID: "a", Title: "Song", DurationMS: 60000}

	snapshots := make(chan playback.Snapshot, 1)
	events := make(chan playback.Event, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background(), snapshots, events)
	}()

	events <- started(song, 1)
	require.Eventually(t, func() bool { n, _ := f.counts(); return n == 1 }, time.Second, time.Millisecond)
	snapshots <- at(song, 30000)
	require.Eventually(t, func() bool { _, n := f.counts(); return n == 1 }, time.Second, time.Millisecond)

	close(events)
	close(snapshots)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
}
