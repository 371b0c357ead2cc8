// Package simengine provides an in-process playback engine that plays
// tracks against the wall clock without producing audio.
package simengine

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/engine"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// ErrNoTrack is returned by transport operations when nothing is loaded.
var ErrNoTrack = errors.New("no track loaded")

const eventBufferSize = 32

// Player is a simulated engine connection.
type Player struct {
	mu    sync.Mutex
	clock clock.Clock

	current       *track.Track
	status        engine.Status
	playWhenReady bool
	startTime     time.Time // Wall time at which position 0 was played
	pausedAt      *time.Time
	pausedElapsed time.Duration

	endTimer *clock.Timer
	playSeq  uint64 // Bumped on every timer reschedule to discard stale fires

	events   chan engine.Event
	released bool
}

func newPlayer(clk clock.Clock) *Player {
	return &Player{
		clock:  clk,
		status: engine.StatusIdle,
		events: make(chan engine.Event, eventBufferSize),
	}
}

// Play loads t and starts it from the beginning.
func (p *Player) Play(_ context.Context, t track.Track) error {
	if err := t.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return engine.ErrReleased
	}

	p.current = &t
	p.startTime = toWallTime(p.clock.Now())
	p.pausedAt = nil
	p.pausedElapsed = 0
	p.status = engine.StatusReady
	p.playWhenReady = true
	p.startTrackTimerLocked(t.Duration())

	zlog.Debug().Msgf("simengine: play: track=%s duration=%v", t.ID, t.Duration())
	p.sendEventLocked(engine.EventTrackChanged)
	p.sendEventLocked(engine.EventPlaybackStateChanged)
	return nil
}

// Pause pauses playback. Pausing while paused does nothing.
func (p *Player) Pause(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	if !p.playWhenReady {
		return nil
	}

	now := toWallTime(p.clock.Now())
	p.pausedAt = &now
	p.playWhenReady = false
	p.stopTimerLocked()
	p.sendEventLocked(engine.EventPlayWhenReadyChanged)
	return nil
}

// Resume resumes paused playback. Resuming an ended track does nothing
// until it is seeked or replaced.
func (p *Player) Resume(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	if p.playWhenReady {
		return nil
	}

	p.unpauseLocked()
	p.playWhenReady = true
	if p.status == engine.StatusIdle {
		p.status = engine.StatusReady
	}
	if p.status == engine.StatusReady {
		p.startTrackTimerLocked(p.remainingLocked())
	}
	p.sendEventLocked(engine.EventPlayWhenReadyChanged)
	return nil
}

// SeekTo moves the position. Targets outside the track are clamped.
func (p *Player) SeekTo(_ context.Context, positionMS int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}

	target := time.Duration(positionMS) * time.Millisecond
	if target < 0 {
		target = 0
	}
	if d := p.current.Duration(); d > 0 && target > d {
		target = d
	}

	now := toWallTime(p.clock.Now())
	p.startTime = now.Add(-target)
	p.pausedElapsed = 0
	if p.pausedAt != nil {
		p.pausedAt = &now
	}
	if p.status == engine.StatusEnded || p.status == engine.StatusIdle {
		p.status = engine.StatusReady
	}
	if p.playWhenReady {
		p.startTrackTimerLocked(p.remainingLocked())
	}
	p.sendEventLocked(engine.EventPositionDiscontinuity)
	return nil
}

// Stop halts playback and rewinds to the beginning. The track stays loaded.
func (p *Player) Stop(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return engine.ErrReleased
	}
	if p.current == nil {
		return nil
	}

	now := toWallTime(p.clock.Now())
	p.stopTimerLocked()
	p.startTime = now
	p.pausedAt = &now
	p.pausedElapsed = 0
	p.playWhenReady = false
	p.status = engine.StatusIdle
	p.sendEventLocked(engine.EventPlaybackStateChanged)
	return nil
}

// PositionMS returns the current position.
func (p *Player) PositionMS() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked().Milliseconds()
}

// DurationMS returns the length of the loaded track.
func (p *Player) DurationMS() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return 0
	}
	return p.current.DurationMS
}

// IsPlaying reports whether the position is advancing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playWhenReady && p.status == engine.StatusReady
}

// Events returns the push event channel. It is closed by Release.
func (p *Player) Events() <-chan engine.Event {
	return p.events
}

// Release stops the player and closes the event channel.
func (p *Player) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}
	p.released = true
	p.stopTimerLocked()
	close(p.events)
	return nil
}

func (p *Player) checkLocked() error {
	if p.released {
		return engine.ErrReleased
	}
	if p.current == nil {
		return ErrNoTrack
	}
	return nil
}

func (p *Player) unpauseLocked() {
	if p.pausedAt != nil {
		p.pausedElapsed += toWallTime(p.clock.Now()).Sub(*p.pausedAt)
	}
	p.pausedAt = nil
}

func (p *Player) positionLocked() time.Duration {
	if p.current == nil {
		return 0
	}
	if p.status == engine.StatusEnded {
		return p.current.Duration()
	}

	now := toWallTime(p.clock.Now())
	if now.Before(p.startTime) {
		return 0
	}
	elapsed := now.Sub(p.startTime) - p.pausedElapsed
	if p.pausedAt != nil {
		elapsed -= now.Sub(*p.pausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if d := p.current.Duration(); d > 0 && elapsed > d {
		elapsed = d
	}
	return elapsed
}

func (p *Player) remainingLocked() time.Duration {
	if p.current == nil || p.current.DurationMS == 0 {
		return 0
	}
	return p.current.Duration() - p.positionLocked()
}

// startTrackTimerLocked schedules the end of the current track.
// Tracks of unknown length never end on their own.
func (p *Player) startTrackTimerLocked(remaining time.Duration) {
	p.stopTimerLocked()
	if p.current == nil || p.current.DurationMS == 0 {
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	seq := p.playSeq
	p.endTimer = p.clock.AfterFunc(remaining, func() {
		p.onTrackEnd(seq)
	})
}

func (p *Player) stopTimerLocked() {
	p.playSeq++
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}

func (p *Player) onTrackEnd(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released || seq != p.playSeq || p.current == nil {
		return
	}

	p.endTimer = nil
	p.status = engine.StatusEnded
	zlog.Debug().Msgf("simengine: track ended: track=%s", p.current.ID)
	p.sendEventLocked(engine.EventPlaybackStateChanged)
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (p *Player) sendEventLocked(typ engine.EventType) {
	if p.released {
		return
	}
	ev := engine.Event{
		Type:          typ,
		PlayWhenReady: p.playWhenReady,
		Status:        p.status,
		PositionMS:    p.positionLocked().Milliseconds(),
	}
	if p.current != nil {
		ev.TrackID = p.current.ID
		ev.DurationMS = p.current.DurationMS
	}
	select {
	case p.events <- ev:
	default:
		zlog.Warn().Msgf("simengine: event dropped, buffer full: type=%s", typ)
	}
}

// toWallTime returns the time with monotonic clock stripped.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
