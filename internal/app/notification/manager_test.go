package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/app/session/state"
	"github.com/osa030/nowplaying/internal/domain/track"
)

func newMockManager() (*Manager, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	return NewManager(clk), clk
}

func recv(t *testing.T, ch <-chan playback.Snapshot) playback.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(time.Second):
		t.Fatal("no snapshot received")
		return playback.Snapshot{}
	}
}

func TestManager_SubscribeReplaysLatest(t *testing.T) {
	m, _ := newMockManager()

	first := m.Subscribe()
	defer first.Close()
	assert.Equal(t, state.Disconnected(), recv(t, first.C()).Session)

	tr := track.Track{ID: "a", DurationMS: 180000}
	m.Update(func(s *playback.Snapshot) {
		s.Session = state.Ready()
		s.Track = &tr
		s.PositionMS = 1000
		s.DurationMS = tr.DurationMS
		s.Playing = true
	})

	late := m.Subscribe()
	defer late.Close()
	got := recv(t, late.C())
	assert.Equal(t, "a", got.TrackID())
	assert.Equal(t, int64(1000), got.PositionMS)
	assert.True(t, got.Playing)
	assert.Equal(t, 2, m.SubscriberCount())
}

func TestManager_SlowSubscriberCoalesces(t *testing.T) {
	m, clk := newMockManager()
	slow := m.Subscribe()
	fast := m.Subscribe()
	recv(t, fast.C())

	var fastSeen []int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for s := range fast.C() {
			fastSeen = append(fastSeen, s.PositionMS)
			if s.PositionMS == 99 {
				return
			}
		}
	}()

	tr := track.Track{ID: "a"}
	for i := int64(0); i < 100; i++ {
		clk.Add(10 * time.Millisecond)
		m.Update(func(s *playback.Snapshot) {
			s.Track = &tr
			s.PositionMS = i
		})
	}
	wg.Wait()

	// The slow subscriber only sees the newest value.
	got := recv(t, slow.C())
	assert.Equal(t, int64(99), got.PositionMS)
	select {
	case s := <-slow.C():
		t.Fatalf("unexpected extra snapshot %+v", s)
	default:
	}

	// The fast subscriber sees an increasing subsequence ending at the newest value.
	require.NotEmpty(t, fastSeen)
	assert.Equal(t, int64(99), fastSeen[len(fastSeen)-1])
	for i := 1; i < len(fastSeen); i++ {
		assert.Greater(t, fastSeen[i], fastSeen[i-1])
	}
}

func TestManager_TimestampsNeverDecrease(t *testing.T) {
	m, clk := newMockManager()
	sub := m.Subscribe()
	defer sub.Close()
	prev := recv(t, sub.C()).TimestampMS

	steps := []time.Duration{5 * time.Millisecond, 0, -2 * time.Second, 30 * time.Millisecond}
	for _, d := range steps {
		clk.Set(clk.Now().Add(d))
		m.Update(func(s *playback.Snapshot) { s.PositionMS++ })
		got := recv(t, sub.C())
		assert.GreaterOrEqual(t, got.TimestampMS, prev)
		prev = got.TimestampMS
	}
}

func TestManager_UpdateNormalizes(t *testing.T) {
	m, _ := newMockManager()
	tr := track.Track{ID: "a", DurationMS: 1000}

	got := m.Update(func(s *playback.Snapshot) {
		s.Track = &tr
		s.PositionMS = 5000
		s.DurationMS = 1000
		s.Playing = true
	})
	assert.Equal(t, int64(1000), got.PositionMS)

	got = m.Update(func(s *playback.Snapshot) { s.Track = nil })
	assert.False(t, got.Playing)
}

func TestManager_LatestIsIsolated(t *testing.T) {
	m, _ := newMockManager()
	tr := track.Track{ID: "a"}
	m.Update(func(s *playback.Snapshot) { s.Track = &tr })

	latest := m.Latest()
	latest.Track.ID = "mutated"
	assert.Equal(t, "a", m.Latest().TrackID())
}

func TestManager_UnsubscribeClosesChannel(t *testing.T) {
	m, _ := newMockManager()
	sub := m.Subscribe()
	recv(t, sub.C())

	sub.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, m.SubscriberCount())

	// Double close is harmless.
	sub.Close()
	m.Update(func(s *playback.Snapshot) { s.PositionMS = 1 })
}

func TestManager_Events(t *testing.T) {
	m, clk := newMockManager()
	sub := m.SubscribeEvents()
	defer sub.Close()

	tr := track.Track{ID: "a"}
	m.Emit(playback.Event{Type: playback.EventTrackStarted, Track: &tr})
	clk.Add(time.Second)
	m.Emit(playback.Event{Type: playback.EventTrackEnded, Track: &tr, PositionMS: 1000})

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, playback.EventTrackStarted, first.Type)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, playback.EventTrackEnded, second.Type)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, first.AtMS+1000, second.AtMS)
}

func TestManager_EventsDropWhenFull(t *testing.T) {
	m, _ := newMockManager()
	sub := m.SubscribeEvents()
	defer sub.Close()

	for i := 0; i < EventBufferSize+10; i++ {
		m.Emit(playback.Event{Type: playback.EventStateChanged})
	}
	assert.Len(t, sub.C(), EventBufferSize)
}

func TestManager_Close(t *testing.T) {
	m, _ := newMockManager()
	sub := m.Subscribe()
	events := m.SubscribeEvents()
	recv(t, sub.C())

	m.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)
	_, ok = <-events.C()
	assert.False(t, ok)

	// A subscription after close still gets the latest snapshot, then closes.
	late := m.Subscribe()
	recv(t, late.C())
	_, ok = <-late.C()
	assert.False(t, ok)
}
