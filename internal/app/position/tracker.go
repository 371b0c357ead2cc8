// Package position samples engine position on a fixed cadence and merges
// the samples with engine push events.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/engine"
)

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 400 * time.Millisecond

// Source is where a sample came from.
type Source int

const (
	SourcePoll Source = iota
	SourcePush
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourcePush:
		return "push"
	default:
		return "unknown"
	}
}

// Sample is one observation of the engine.
type Sample struct {
	Source     Source
	Event      engine.EventType // Push only
	Status     engine.Status    // Push only
	TrackID    string           // Push only, may be empty
	Seq        uint64           // Poll only, Config.Seq read before the engine
	PositionMS int64
	DurationMS int64
	Playing    bool
}

// Engine is the read side of an engine handle.
type Engine interface {
	PositionMS() int64
	DurationMS() int64
	IsPlaying() bool
	Events() <-chan engine.Event
}

// Config holds tracker configuration.
type Config struct {
	PollInterval time.Duration
	Sink         func(Sample)         // Receives every sample
	OnEnded      func(trackID string) // Called when the engine reports end of track
	OnLost       func()               // Called once when the engine event stream closes
	Seq          func() uint64        // Optional, stamps poll samples so late ones can be recognised
}

// Tracker runs the sampling loop for one engine connection.
type Tracker struct {
	eng    Engine
	clock  clock.Clock
	config Config

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a tracker. It does nothing until Start.
func New(eng Engine, clk clock.Clock, config Config) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &Tracker{
		eng:    eng,
		clock:  clk,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start publishes an initial sample and starts the loop. Calls after the
// first, or after Stop, do nothing.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	ticker := t.clock.Ticker(t.config.PollInterval)
	t.publish(t.poll())
	go t.run(ctx, ticker)
}

// Stop cancels the loop and waits for it to exit. No sample is delivered
// after Stop returns. Must not be called from a Sink or OnEnded callback.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	cancel := t.cancel
	t.mu.Unlock()

	if !started {
		close(t.done)
		return
	}
	cancel()
	<-t.done
}

// Done is closed when the loop exits.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(t.done)
	defer ticker.Stop()
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("position: tracker panic recovered: %v", r)
		}
	}()

	events := t.eng.Events()
	var pushed *bool

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				zlog.Warn().Msg("position: engine event stream closed")
				if t.config.OnLost != nil && !t.isStopped() {
					go t.config.OnLost()
				}
				return
			}
			playing := ev.Playing()
			pushed = &playing
			ticker.Reset(t.config.PollInterval)
			t.publish(Sample{
				Source:     SourcePush,
				Event:      ev.Type,
				Status:     ev.Status,
				TrackID:    ev.TrackID,
				PositionMS: ev.PositionMS,
				DurationMS: ev.DurationMS,
				Playing:    playing,
			})
			if ev.Type == engine.EventPlaybackStateChanged && ev.Status == engine.StatusEnded &&
				t.config.OnEnded != nil && !t.isStopped() {
				t.config.OnEnded(ev.TrackID)
			}

		case <-ticker.C:
			s := t.poll()
			if pushed != nil {
				s.Playing = *pushed
				pushed = nil
			}
			t.publish(s)
		}
	}
}

func (t *Tracker) poll() Sample {
	var seq uint64
	if t.config.Seq != nil {
		seq = t.config.Seq()
	}
	return Sample{
		Source:     SourcePoll,
		Seq:        seq,
		PositionMS: t.eng.PositionMS(),
		DurationMS: t.eng.DurationMS(),
		Playing:    t.eng.IsPlaying(),
	}
}

func (t *Tracker) publish(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.config.Sink == nil {
		return
	}
	t.config.Sink(s)
}

func (t *Tracker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
