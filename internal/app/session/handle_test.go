package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/command"
	"github.com/osa030/nowplaying/internal/app/engine"
	"github.com/osa030/nowplaying/internal/app/position"
	"github.com/osa030/nowplaying/internal/app/session/state"
	"github.com/osa030/nowplaying/internal/domain/track"
)

type fakeEngine struct {
	events   chan engine.Event
	released atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan engine.Event, 4)}
}

func (f *fakeEngine) Play(context.Context, track.Track) error { return nil }
func (f *fakeEngine) Pause(context.Context) error             { return nil }
func (f *fakeEngine) Resume(context.Context) error            { return nil }
func (f *fakeEngine) SeekTo(context.Context, int64) error     { return nil }
func (f *fakeEngine) Stop(context.Context) error              { return nil }
func (f *fakeEngine) PositionMS() int64                       { return 0 }
func (f *fakeEngine) DurationMS() int64                       { return 0 }
func (f *fakeEngine) IsPlaying() bool                         { return false }
func (f *fakeEngine) Events() <-chan engine.Event             { return f.events }
func (f *fakeEngine) Release() error {
	f.released.Add(1)
	return nil
}

// gatedConnector blocks Connect until the test resolves it.
type gatedConnector struct {
	calls  atomic.Int32
	result chan connectResult
}

type connectResult struct {
	eng engine.Handle
	err error
}

func newGatedConnector() *gatedConnector {
	return &gatedConnector{result: make(chan connectResult, 1)}
}

func (c *gatedConnector) Connect(ctx context.Context, _ string) (engine.Handle, error) {
	c.calls.Add(1)
	select {
	case r := <-c.result:
		return r.eng, r.err
	case <-ctx.Done():
		// Simulate an engine that still hands out a handle after cancellation.
		select {
		case r := <-c.result:
			return r.eng, r.err
		case <-time.After(50 * time.Millisecond):
			return nil, ctx.Err()
		}
	}
}

type harness struct {
	mu       sync.Mutex
	states   []state.State
	executed []command.Kind
	dropped  []command.Command
}

func (h *harness) hooks() Hooks {
	return Hooks{
		OnState: func(s state.State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states = append(h.states, s)
		},
		Exec: func(_ context.Context, _ engine.Handle, cmd command.Command) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.executed = append(h.executed, cmd.Kind)
		},
		OnDropped: func(cmds []command.Command) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.dropped = append(h.dropped, cmds...)
		},
		Sample: func(position.Sample) {},
	}
}

func (h *harness) phases() []state.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]state.Phase, len(h.states))
	for i, s := range h.states {
		out[i] = s.Phase
	}
	return out
}

func (h *harness) executedKinds() []command.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]command.Kind(nil), h.executed...)
}

func (h *harness) droppedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.dropped)
}

func await(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatal("connect did not resolve")
		return nil
	}
}

func TestHandle_BufferedCommandsFlushOnReady(t *testing.T) {
	conn := newGatedConnector()
	h := &harness{}
	handle := NewHandle(conn, clock.NewMock(), Config{SessionID: "s1"}, h.hooks())
	t.Cleanup(func() { _ = handle.Release() })

	handle.Submit(command.Play(track.Track{ID: "a", MediaRef: "m"}))
	handle.Submit(command.SeekTo(30000))
	handle.Submit(command.Pause())

	res := handle.Connect(context.Background())
	assert.Equal(t, state.PhaseConnecting, handle.State().Phase)
	assert.Equal(t, 3, handle.Pending())
	assert.Empty(t, h.executedKinds())

	conn.result <- connectResult{eng: newFakeEngine()}
	require.NoError(t, await(t, res))

	require.Eventually(t, func() bool { return len(h.executedKinds()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []command.Kind{command.KindPlay, command.KindSeekTo, command.KindPause}, h.executedKinds())
	assert.Equal(t, []state.Phase{state.PhaseConnecting, state.PhaseReady}, h.phases())
}

func TestHandle_ConnectFailureDropsEverything(t *testing.T) {
	conn := newGatedConnector()
	h := &harness{}
	handle := NewHandle(conn, clock.NewMock(), Config{}, h.hooks())

	handle.Submit(command.Play(track.Track{ID: "a", MediaRef: "m"}))
	handle.Submit(command.Resume())

	res := handle.Connect(context.Background())
	conn.result <- connectResult{err: errors.New("engine unavailable")}

	err := await(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrConnect))

	st := handle.State()
	assert.Equal(t, state.PhaseError, st.Phase)
	assert.Contains(t, st.Reason, "engine unavailable")
	assert.Equal(t, 2, h.droppedCount())
	assert.Empty(t, h.executedKinds())
	assert.True(t, handle.TornDown())

	// No automatic retry.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), conn.calls.Load())

	// Another connect on the same generation reports the same failure.
	assert.True(t, errors.Is(await(t, handle.Connect(context.Background())), engine.ErrConnect))
	assert.Equal(t, int32(1), conn.calls.Load())

	// Late submissions are dropped too.
	assert.False(t, handle.Submit(command.Pause()))
	assert.Equal(t, 3, h.droppedCount())
}

func TestHandle_ConnectIsIdempotent(t *testing.T) {
	conn := newGatedConnector()
	handle := NewHandle(conn, clock.NewMock(), Config{}, (&harness{}).hooks())
	t.Cleanup(func() { _ = handle.Release() })

	first := handle.Connect(context.Background())
	second := handle.Connect(context.Background())

	conn.result <- connectResult{eng: newFakeEngine()}
	require.NoError(t, await(t, first))
	require.NoError(t, await(t, second))

	require.NoError(t, await(t, handle.Connect(context.Background())))
	assert.Equal(t, int32(1), conn.calls.Load())
	assert.True(t, handle.State().IsReady())
}

func TestHandle_ReleaseIsIdempotent(t *testing.T) {
	conn := newGatedConnector()
	h := &harness{}
	handle := NewHandle(conn, clock.NewMock(), Config{}, h.hooks())

	eng := newFakeEngine()
	res := handle.Connect(context.Background())
	conn.result <- connectResult{eng: eng}
	require.NoError(t, await(t, res))

	require.NoError(t, handle.Release())
	require.NoError(t, handle.Release())

	assert.Equal(t, int32(1), eng.released.Load())
	assert.Equal(t, state.PhaseDisconnected, handle.State().Phase)
	assert.Equal(t, []state.Phase{state.PhaseConnecting, state.PhaseReady, state.PhaseDisconnected}, h.phases())
	assert.True(t, errors.Is(await(t, handle.Connect(context.Background())), ErrReleased))
}

func TestHandle_ReleaseDuringConnect(t *testing.T) {
	conn := newGatedConnector()
	h := &harness{}
	handle := NewHandle(conn, clock.NewMock(), Config{}, h.hooks())

	handle.Submit(command.Play(track.Track{ID: "a", MediaRef: "m"}))
	res := handle.Connect(context.Background())
	require.NoError(t, handle.Release())

	assert.Equal(t, state.PhaseDisconnected, handle.State().Phase)
	assert.Equal(t, 1, h.droppedCount())

	// The engine hands out a handle anyway; it must be released, never used.
	eng := newFakeEngine()
	conn.result <- connectResult{eng: eng}
	err := await(t, res)
	assert.True(t, errors.Is(err, ErrReleased) || errors.Is(err, context.Canceled), "got %v", err)

	require.Eventually(t, func() bool {
		return eng.released.Load() == 1 || len(conn.result) == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, h.executedKinds())
	assert.Equal(t, []state.Phase{state.PhaseConnecting, state.PhaseDisconnected}, h.phases())
}

func TestHandle_ReleaseBeforeConnect(t *testing.T) {
	conn := newGatedConnector()
	h := &harness{}
	handle := NewHandle(conn, clock.NewMock(), Config{}, h.hooks())

	handle.Submit(command.Stop())
	require.NoError(t, handle.Release())

	assert.Empty(t, h.phases())
	assert.Equal(t, 1, h.droppedCount())
	assert.True(t, errors.Is(await(t, handle.Connect(context.Background())), ErrReleased))
	assert.Equal(t, int32(0), conn.calls.Load())
}

func TestHandle_LostEngineReleases(t *testing.T) {
	conn := newGatedConnector()
	h := &harness{}
	handle := NewHandle(conn, clock.NewMock(), Config{}, h.hooks())

	eng := newFakeEngine()
	res := handle.Connect(context.Background())
	conn.result <- connectResult{eng: eng}
	require.NoError(t, await(t, res))

	close(eng.events)
	require.Eventually(t, func() bool {
		return handle.State().Phase == state.PhaseDisconnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), eng.released.Load())
}
