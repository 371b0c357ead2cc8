// Package session provides the engine connection lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/command"
	"github.com/osa030/nowplaying/internal/app/engine"
	"github.com/osa030/nowplaying/internal/app/position"
	"github.com/osa030/nowplaying/internal/app/session/state"
)

// ErrReleased is delivered to Connect callers once the handle has been released.
var ErrReleased = errors.New("session handle released")

// Config holds handle configuration.
type Config struct {
	SessionID    string
	PollInterval time.Duration
}

// Hooks connect a handle to the rest of the coordinator. All hooks are optional.
type Hooks struct {
	// OnState is called for every state transition, in order.
	OnState func(state.State)
	// Exec runs a command against the connected engine.
	Exec func(ctx context.Context, eng engine.Handle, cmd command.Command)
	// OnDropped receives commands discarded by teardown.
	OnDropped func([]command.Command)
	// Sample receives position samples while Ready.
	Sample func(position.Sample)
	// OnEnded is called when the engine reports the natural end of a track.
	OnEnded func(trackID string)
	// OnLost is called when the engine connection goes away on its own.
	OnLost func()
	// SampleSeq stamps poll samples. See position.Config.Seq.
	SampleSeq func() uint64
}

// Handle is one generation of the engine connection. It moves through
// Disconnected, Connecting, then Ready or Error, and back to Disconnected
// on Release. A handle is never reused after Release.
type Handle struct {
	id        string
	connector engine.Connector
	clock     clock.Clock
	config    Config
	hooks     Hooks
	state     *state.Manager
	commands  *command.Queue

	mu            sync.Mutex
	attempted     bool
	attemptDone   bool
	attemptErr    error
	waiters       []chan error
	connectCancel context.CancelFunc
	eng           engine.Handle
	tracker       *position.Tracker
	released      bool
	releaseOnce   sync.Once
}

// NewHandle creates a handle in Disconnected with an empty command buffer.
func NewHandle(connector engine.Connector, clk clock.Clock, config Config, hooks Hooks) *Handle {
	if clk == nil {
		clk = clock.New()
	}
	h := &Handle{
		id:        uuid.New().String(),
		connector: connector,
		clock:     clk,
		config:    config,
		hooks:     hooks,
		commands:  command.NewQueue(func() int64 { return clk.Now().UnixMilli() }),
	}
	h.state = state.New(func(s state.State) {
		zlog.Info().Msgf("session: state changed: state=%s generation=%s session_id=%s", s, h.id, config.SessionID)
		if hooks.OnState != nil {
			hooks.OnState(s)
		}
	})
	return h
}

// ID returns the generation ID.
func (h *Handle) ID() string { return h.id }

// State returns the current state.
func (h *Handle) State() state.State { return h.state.Get() }

// Pending returns the number of commands waiting for Ready.
func (h *Handle) Pending() int { return h.commands.Pending() }

// Dropped returns the number of commands discarded by this generation.
func (h *Handle) Dropped() uint64 { return h.commands.Dropped() }

// TornDown reports whether this generation can no longer execute commands.
func (h *Handle) TornDown() bool { return h.commands.IsClosed() }

// Submit hands cmd to the command queue without blocking.
// It returns false when the generation is torn down and cmd was dropped.
func (h *Handle) Submit(cmd command.Command) bool {
	if !h.commands.Submit(cmd) {
		zlog.Warn().Msgf("session: command dropped after teardown: command=%s id=%s generation=%s", cmd, cmd.ID, h.id)
		if h.hooks.OnDropped != nil {
			h.hooks.OnDropped([]command.Command{cmd})
		}
		return false
	}
	return true
}

// Connect starts connecting and returns a channel that receives the
// outcome exactly once. Calls while Connecting or Ready start nothing new
// and resolve with the outcome of the first attempt. There is no retry.
func (h *Handle) Connect(ctx context.Context) <-chan error {
	out := make(chan error, 1)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		out <- ErrReleased
		return out
	}
	if h.attemptDone {
		out <- h.attemptErr
		return out
	}
	h.waiters = append(h.waiters, out)
	if h.attempted {
		return out
	}

	h.attempted = true
	connectCtx, cancel := context.WithCancel(ctx)
	h.connectCancel = cancel
	if err := h.state.Transition(state.Connecting()); err != nil {
		cancel()
		h.finishLocked(err)
		return out
	}
	go h.connect(connectCtx)
	return out
}

func (h *Handle) connect(ctx context.Context) {
	start := h.clock.Now()
	eng, err := h.connector.Connect(ctx, h.config.SessionID)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectCancel = nil

	if h.released {
		if eng != nil {
			if rerr := eng.Release(); rerr != nil {
				zlog.Warn().Msgf("session: release of late engine failed: generation=%s err=%v", h.id, rerr)
			}
		}
		h.finishLocked(ErrReleased)
		return
	}

	if err != nil {
		err = errors.Mark(errors.Wrap(err, "connect"), engine.ErrConnect)
		zlog.Error().Msgf("session: connect failed: generation=%s elapsed=%v err=%v", h.id, h.clock.Since(start), err)
		h.transitionFromConnecting(state.Failed(err.Error()))
		h.teardownCommandsLocked()
		h.finishLocked(err)
		return
	}

	h.eng = eng
	h.tracker = position.New(eng, h.clock, position.Config{
		PollInterval: h.config.PollInterval,
		Sink:         h.hooks.Sample,
		OnEnded:      h.hooks.OnEnded,
		OnLost:       h.lost,
		Seq:          h.hooks.SampleSeq,
	})
	h.transitionFromConnecting(state.Ready())
	zlog.Info().Msgf("session: engine connected: generation=%s elapsed=%v pending=%d", h.id, h.clock.Since(start), h.commands.Pending())

	h.tracker.Start(context.Background())
	h.commands.OnReady(context.Background(), func(ctx context.Context, cmd command.Command) {
		if h.hooks.Exec != nil {
			h.hooks.Exec(ctx, eng, cmd)
		}
	})
	h.finishLocked(nil)
}

// transitionFromConnecting applies the outcome of a connect attempt only
// while the handle is still Connecting.
func (h *Handle) transitionFromConnecting(next state.State) {
	ok, err := h.state.TransitionFrom(state.PhaseConnecting, next)
	if err != nil || !ok {
		zlog.Warn().Msgf("session: connect outcome ignored: state=%s next=%s generation=%s err=%v", h.state.Get(), next, h.id, err)
	}
}

// finishLocked resolves every pending Connect caller.
// Must be called with h.mu held.
func (h *Handle) finishLocked(err error) {
	h.attemptDone = true
	h.attemptErr = err
	for _, w := range h.waiters {
		w <- err
	}
	h.waiters = nil
}

// teardownCommandsLocked discards the command buffer.
// Must be called with h.mu held.
func (h *Handle) teardownCommandsLocked() {
	dropped := h.commands.OnTeardown()
	if len(dropped) == 0 {
		return
	}
	zlog.Warn().Msgf("session: dropped buffered commands: count=%d generation=%s", len(dropped), h.id)
	if h.hooks.OnDropped != nil {
		h.hooks.OnDropped(dropped)
	}
}

func (h *Handle) lost() {
	zlog.Warn().Msgf("session: engine connection lost: generation=%s", h.id)
	if h.hooks.OnLost != nil {
		h.hooks.OnLost()
		return
	}
	_ = h.Release()
}

// Release tears the generation down from any state: it cancels an
// in-flight connect, stops position tracking, drops buffered commands,
// moves to Disconnected and releases the engine. Only the first call has
// any effect.
func (h *Handle) Release() error {
	var err error
	h.releaseOnce.Do(func() {
		err = h.release()
	})
	return err
}

func (h *Handle) release() error {
	h.mu.Lock()
	h.released = true
	if h.connectCancel != nil {
		h.connectCancel()
		h.connectCancel = nil
	}
	tracker := h.tracker
	eng := h.eng
	h.eng = nil
	h.mu.Unlock()

	if tracker != nil {
		tracker.Stop()
	}

	h.mu.Lock()
	h.teardownCommandsLocked()
	h.mu.Unlock()

	// The executing command must finish before the engine goes away.
	if done := h.commands.Done(); done != nil {
		<-done
	}

	h.mu.Lock()
	from := h.state.GetPhase()
	if from != state.PhaseDisconnected {
		if _, err := h.state.TransitionFrom(from, state.Disconnected()); err != nil {
			zlog.Warn().Msgf("session: release transition failed: generation=%s err=%v", h.id, err)
		}
	}
	h.mu.Unlock()

	if eng == nil {
		return nil
	}
	if err := eng.Release(); err != nil {
		return errors.Wrapf(err, "release engine: generation=%s", h.id)
	}
	zlog.Info().Msgf("session: engine released: generation=%s", h.id)
	return nil
}
