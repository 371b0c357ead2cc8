package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/domain/playlist"
	"github.com/osa030/nowplaying/internal/domain/track"
)

type recorder struct {
	mu   sync.Mutex
	seen []Command
}

func (r *recorder) exec(_ context.Context, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, cmd)
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.seen))
	for i, c := range r.seen {
		out[i] = c.Kind
	}
	return out
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	for i, c := range r.seen {
		out[i] = c.ID
	}
	return out
}

func fixedNow() int64 { return 1_700_000_000_000 }

func TestQueue_BuffersUntilReadyThenFlushesInOrder(t *testing.T) {
	q := NewQueue(fixedNow)
	rec := &recorder{}

	submitted := []Command{
		Play(track.Track{ID: "a", MediaRef: "m"}),
		SeekTo(30000),
		Pause(),
	}
	for _, c := range submitted {
		require.True(t, q.Submit(c))
	}
	assert.Equal(t, 3, q.Pending())
	assert.Empty(t, rec.kinds())

	q.OnReady(context.Background(), rec.exec)
	require.Eventually(t, func() bool { return len(rec.kinds()) == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []Kind{KindPlay, KindSeekTo, KindPause}, rec.kinds())
	assert.Equal(t, []string{submitted[0].ID, submitted[1].ID, submitted[2].ID}, rec.ids())
	assert.Equal(t, 0, q.Pending())
	assert.Equal(t, fixedNow(), rec.seen[0].EnqueuedAtMS)

	// Live submissions after ready keep flowing in order.
	q.Submit(Resume())
	q.Submit(SkipNext())
	require.Eventually(t, func() bool { return len(rec.kinds()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Kind{KindPlay, KindSeekTo, KindPause, KindResume, KindSkipNext}, rec.kinds())
}

func TestQueue_ExactlyOnceUnderConcurrentSubmit(t *testing.T) {
	q := NewQueue(fixedNow)
	rec := &recorder{}

	const perWriter = 200
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				q.Submit(SeekTo(int64(i)))
			}
		}()
		if w == 1 {
			q.OnReady(context.Background(), rec.exec)
		}
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(rec.kinds()) == 4*perWriter }, 2*time.Second, 5*time.Millisecond)

	seen := make(map[string]int)
	for _, id := range rec.ids() {
		seen[id]++
	}
	assert.Len(t, seen, 4*perWriter)
	for id, n := range seen {
		assert.Equal(t, 1, n, "command %s executed %d times", id, n)
	}
}

func TestQueue_TeardownDropsEverything(t *testing.T) {
	q := NewQueue(fixedNow)
	rec := &recorder{}

	q.Submit(Play(track.Track{ID: "a", MediaRef: "m"}))
	q.Submit(Pause())

	dropped := q.OnTeardown()
	assert.Len(t, dropped, 2)
	assert.Equal(t, uint64(2), q.Dropped())
	assert.True(t, q.IsClosed())

	// Ready after teardown never executes anything.
	q.OnReady(context.Background(), rec.exec)
	assert.False(t, q.Submit(Resume()))
	assert.Equal(t, uint64(3), q.Dropped())
	assert.Nil(t, q.Done())
	assert.Empty(t, rec.kinds())

	assert.Nil(t, q.OnTeardown())
}

func TestQueue_TeardownStopsConsumerAfterInflight(t *testing.T) {
	q := NewQueue(fixedNow)

	started := make(chan struct{})
	unblock := make(chan struct{})
	var executed []Kind
	var mu sync.Mutex
	q.OnReady(context.Background(), func(ctx context.Context, cmd Command) {
		mu.Lock()
		executed = append(executed, cmd.Kind)
		mu.Unlock()
		if cmd.Kind == KindPlay {
			close(started)
			<-unblock
		}
	})

	q.Submit(Play(track.Track{ID: "a", MediaRef: "m"}))
	<-started
	q.Submit(Pause())
	q.Submit(Stop())

	dropped := q.OnTeardown()
	close(unblock)

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit")
	}

	assert.Len(t, dropped, 2)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Kind{KindPlay}, executed)
}

func TestQueue_OnReadyIsIdempotent(t *testing.T) {
	q := NewQueue(fixedNow)
	rec := &recorder{}
	q.OnReady(context.Background(), rec.exec)
	first := q.Done()
	q.OnReady(context.Background(), rec.exec)
	assert.Equal(t, first, q.Done())
	assert.True(t, q.IsReady())

	q.OnTeardown()
	<-q.Done()
	assert.False(t, q.IsReady())
}

func TestQueue_ContextCancelStopsConsumer(t *testing.T) {
	q := NewQueue(fixedNow)
	ctx, cancel := context.WithCancel(context.Background())
	q.OnReady(ctx, func(context.Context, Command) {})
	cancel()

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit")
	}
}

func TestCommand_String(t *testing.T) {
	tests := []struct {
		cmd      Command
		expected string
	}{
		{cmd: Play(track.Track{ID: "a"}), expected: "play(a)"},
		{cmd: PlayList(make([]track.Track, 3), 1), expected: "play_list(items=3 start=1)"},
		{cmd: SeekTo(1500), expected: "seek_to(1500ms)"},
		{cmd: SetRepeat(playlist.RepeatAll), expected: "set_repeat(all)"},
		{cmd: SetShuffle(true), expected: "set_shuffle(true)"},
		{cmd: TrackEnded("a"), expected: "track_ended(a)"},
		{cmd: Stop(), expected: "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cmd.String())
			assert.NotEmpty(t, tt.cmd.ID)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("skip_previous")
	require.True(t, ok)
	assert.Equal(t, KindSkipPrevious, k)

	_, ok = ParseKind("track_ended")
	assert.False(t, ok)
	_, ok = ParseKind("bogus")
	assert.False(t, ok)
}

func TestPlayList_CopiesItems(t *testing.T) {
	items := []track.Track{{ID: "a"}, {ID: "b"}}
	c := PlayList(items, 0)
	items[0].ID = "z"
	assert.Equal(t, "a", c.Items[0].ID)
}
