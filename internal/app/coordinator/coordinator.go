// Package coordinator provides the playback coordinator: the single owner
// of the engine connection, the queue and the broadcast snapshot.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/command"
	"github.com/osa030/nowplaying/internal/app/engine"
	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/app/position"
	"github.com/osa030/nowplaying/internal/app/session"
	"github.com/osa030/nowplaying/internal/app/session/state"
	"github.com/osa030/nowplaying/internal/domain/playlist"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("coordinator is closed")

// Config holds coordinator configuration.
type Config struct {
	SessionID    string
	PollInterval time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock used for sampling and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithShuffle replaces the shuffle permutation.
func WithShuffle(fn playback.ShuffleFunc) Option {
	return func(c *Coordinator) { c.shuffle = fn }
}

// Status is a point-in-time summary for diagnostics.
type Status struct {
	SessionID       string
	GenerationID    string
	Session         state.State
	Pending         int    // Commands waiting for Ready in the current generation
	Dropped         uint64 // Commands discarded across all generations
	Failed          uint64 // Engine command errors across all generations
	Executed        uint64 // Commands executed across all generations
	SubscriberCount int
}

// Coordinator is the facade observers and controllers talk to.
// Commands are fire-and-forget: Submit never blocks and never reports
// the command's outcome. Dropped and failed commands are logged and
// counted in Status.
type Coordinator struct {
	config    Config
	connector engine.Connector
	clock     clock.Clock
	shuffle   playback.ShuffleFunc

	queue *playback.QueueManager
	hub   *notification.Manager

	mu     sync.Mutex
	gen    *session.Handle
	closed bool

	dropped  atomic.Uint64
	failed   atomic.Uint64
	executed atomic.Uint64
	starts   atomic.Uint64 // Bumped once a started track replaces the engine's previous one
}

// New creates a coordinator in Disconnected. connector is only used by Connect.
func New(config Config, connector engine.Connector, opts ...Option) *Coordinator {
	c := &Coordinator{
		config:    config,
		connector: connector,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.config.SessionID == "" {
		c.config.SessionID = uuid.New().String()
	}
	c.queue = playback.NewQueueManager(c.shuffle)
	c.hub = notification.NewManager(c.clock)
	c.gen = c.newGeneration()
	return c
}

func (c *Coordinator) newGeneration() *session.Handle {
	var h *session.Handle
	h = session.NewHandle(c.connector, c.clock, session.Config{
		SessionID:    c.config.SessionID,
		PollInterval: c.config.PollInterval,
	}, session.Hooks{
		OnState:   c.publishState,
		Exec:      c.execute,
		OnDropped: c.onDropped,
		Sample:    c.onSample,
		SampleSeq: c.starts.Load,
		OnEnded: func(trackID string) {
			h.Submit(command.TrackEnded(trackID))
		},
		OnLost: func() {
			zlog.Warn().Msgf("coordinator: engine lost, releasing: generation=%s", h.ID())
			if err := h.Release(); err != nil {
				zlog.Error().Msgf("coordinator: release after engine loss failed: %v", err)
			}
		},
	})
	return h
}

// current returns the live generation, rolling a fresh one when the
// previous generation has been torn down.
func (c *Coordinator) current() (*session.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.gen.TornDown() {
		c.gen = c.newGeneration()
		zlog.Debug().Msgf("coordinator: new generation: generation=%s", c.gen.ID())
	}
	return c.gen, nil
}

// Connect starts connecting the engine. The returned channel receives
// nil once Ready, or the connect error. Calling Connect while a connect
// is in flight or the engine is Ready has no additional effect.
func (c *Coordinator) Connect(ctx context.Context) <-chan error {
	h, err := c.current()
	if err != nil {
		out := make(chan error, 1)
		out <- err
		return out
	}
	return h.Connect(ctx)
}

// Release tears down the current generation. Subscribers stay attached
// and keep the last snapshot with the session shown as Disconnected.
func (c *Coordinator) Release() error {
	c.mu.Lock()
	h := c.gen
	c.mu.Unlock()
	err := h.Release()

	// A generation rolled after a failed connect starts in Disconnected and
	// publishes nothing on release, so the failure would stay on display.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == h && c.hub.Latest().Session.Phase != state.PhaseDisconnected {
		c.publishState(state.Disconnected())
	}
	return err
}

// Submit enqueues cmd without blocking. Commands submitted before the
// engine is Ready are replayed in order once it is.
func (c *Coordinator) Submit(cmd command.Command) {
	h, err := c.current()
	if err != nil {
		c.onDropped([]command.Command{cmd})
		return
	}
	h.Submit(cmd)
}

// Subscribe returns a subscription that immediately yields the latest snapshot.
func (c *Coordinator) Subscribe() *notification.Subscription {
	return c.hub.Subscribe()
}

// SubscribeEvents returns a subscription to playback history events.
func (c *Coordinator) SubscribeEvents() *notification.EventSubscription {
	return c.hub.SubscribeEvents()
}

// Latest returns the latest snapshot.
func (c *Coordinator) Latest() playback.Snapshot {
	return c.hub.Latest()
}

// CurrentQueue returns a copy of the queue.
func (c *Coordinator) CurrentQueue() playlist.Queue {
	return c.queue.Snapshot()
}

// Status returns diagnostic counters.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	h := c.gen
	c.mu.Unlock()

	return Status{
		SessionID:       c.config.SessionID,
		GenerationID:    h.ID(),
		Session:         c.hub.Latest().Session,
		Pending:         h.Pending(),
		Dropped:         c.dropped.Load(),
		Failed:          c.failed.Load(),
		Executed:        c.executed.Load(),
		SubscriberCount: c.hub.SubscriberCount(),
	}
}

// Close releases the engine and closes every subscription.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	h := c.gen
	c.mu.Unlock()

	err := h.Release()
	c.hub.Close()
	return err
}

func (c *Coordinator) publishState(s state.State) {
	c.hub.Update(func(snap *playback.Snapshot) {
		snap.Session = s
		if !s.IsReady() {
			snap.Playing = false
		}
	})
	c.hub.Emit(playback.Event{Type: playback.EventStateChanged, Session: s})
}

func (c *Coordinator) onDropped(cmds []command.Command) {
	if len(cmds) == 0 {
		return
	}
	c.dropped.Add(uint64(len(cmds)))
	for _, cmd := range cmds {
		zlog.Warn().Msgf("coordinator: command dropped: command=%s id=%s enqueued_at=%d", cmd, cmd.ID, cmd.EnqueuedAtMS)
	}
	c.hub.Emit(playback.Event{
		Type:    playback.EventCommandsDropped,
		Session: c.hub.Latest().Session,
		Count:   len(cmds),
	})
}

func (c *Coordinator) onSample(s position.Sample) {
	if s.Source == position.SourcePoll && s.Seq != c.starts.Load() {
		zlog.Debug().Msgf("coordinator: stale poll sample ignored: position_ms=%d", s.PositionMS)
		return
	}
	c.hub.Update(func(snap *playback.Snapshot) {
		if !snap.Session.IsReady() {
			return
		}
		snap.PositionMS = s.PositionMS
		if s.DurationMS > 0 {
			snap.DurationMS = s.DurationMS
		} else if snap.Track != nil {
			snap.DurationMS = snap.Track.DurationMS
		}
		snap.Playing = s.Playing
	})
}
