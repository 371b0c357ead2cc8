package coordinator

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/command"
	"github.com/osa030/nowplaying/internal/app/engine"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// execute runs one command on the command queue's consumer goroutine.
// It is the only writer of the queue manager, so navigation and the
// engine calls it triggers are never interleaved with another command.
func (c *Coordinator) execute(ctx context.Context, eng engine.Handle, cmd command.Command) {
	c.executed.Add(1)
	zlog.Debug().Msgf("coordinator: executing command: command=%s id=%s", cmd, cmd.ID)

	var err error
	switch cmd.Kind {
	case command.KindPlay:
		err = c.play(ctx, eng, cmd.Track)
	case command.KindPlayList:
		err = c.playList(ctx, eng, cmd.Items, cmd.StartIndex)
	case command.KindPause:
		err = eng.Pause(ctx)
	case command.KindResume:
		err = eng.Resume(ctx)
	case command.KindSeekTo:
		err = c.seek(ctx, eng, cmd.PositionMS)
	case command.KindSkipNext:
		err = c.skipNext(ctx, eng)
	case command.KindSkipPrevious:
		err = c.skipPrevious(ctx, eng)
	case command.KindStop:
		err = c.stop(ctx, eng)
	case command.KindSetRepeat:
		c.queue.SetRepeat(cmd.Repeat)
	case command.KindSetShuffle:
		c.queue.SetShuffle(cmd.Shuffle)
	case command.KindTrackEnded:
		err = c.trackEnded(ctx, eng, cmd.TrackID)
	default:
		err = errors.Newf("unknown command kind %d", cmd.Kind)
	}

	if err != nil {
		c.failed.Add(1)
		zlog.Error().Msgf("coordinator: command failed: command=%s id=%s err=%v", cmd, cmd.ID, err)
	}
}

func (c *Coordinator) play(ctx context.Context, eng engine.Handle, t track.Track) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.queue.Play(t)
	return c.start(ctx, eng, t)
}

func (c *Coordinator) playList(ctx context.Context, eng engine.Handle, items []track.Track, startIndex int) error {
	for i, t := range items {
		if err := t.Validate(); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
	}
	t, ok := c.queue.PlayList(items, startIndex)
	if !ok {
		if err := c.stop(ctx, eng); err != nil {
			return err
		}
		c.hub.Update(func(s *playback.Snapshot) {
			s.Track = nil
			s.DurationMS = 0
		})
		return nil
	}
	return c.start(ctx, eng, t)
}

// seek clamps the target into [0, duration]. The duration comes from the
// engine, falling back to the track metadata when the engine has none yet.
func (c *Coordinator) seek(ctx context.Context, eng engine.Handle, positionMS int64) error {
	duration := eng.DurationMS()
	if duration <= 0 {
		if cur, ok := c.queue.Current(); ok {
			duration = cur.DurationMS
		}
	}
	target := clampPosition(positionMS, duration)
	if target != positionMS {
		zlog.Debug().Msgf("coordinator: seek clamped: requested=%d target=%d duration=%d", positionMS, target, duration)
	}
	if err := eng.SeekTo(ctx, target); err != nil {
		return err
	}
	c.hub.Update(func(s *playback.Snapshot) { s.PositionMS = target })
	return nil
}

func clampPosition(positionMS, durationMS int64) int64 {
	if positionMS < 0 {
		return 0
	}
	if durationMS > 0 && positionMS > durationMS {
		return durationMS
	}
	return positionMS
}

func (c *Coordinator) skipNext(ctx context.Context, eng engine.Handle) error {
	prev, hadPrev := c.queue.Current()
	t, move := c.queue.SkipNext()
	switch move {
	case playback.MoveNone:
		return nil
	case playback.MoveBoundary:
		zlog.Debug().Msg("coordinator: skip next at end of queue, stopping")
		c.emit(playback.EventQueueEnded, &t)
		return c.stop(ctx, eng)
	}
	if hadPrev {
		c.emit(playback.EventTrackSkipped, &prev)
	}
	return c.start(ctx, eng, t)
}

func (c *Coordinator) skipPrevious(ctx context.Context, eng engine.Handle) error {
	prev, hadPrev := c.queue.Current()
	t, move := c.queue.SkipPrevious()
	if !move.Moved() {
		return nil
	}
	if hadPrev {
		c.emit(playback.EventTrackSkipped, &prev)
	}
	return c.start(ctx, eng, t)
}

func (c *Coordinator) stop(ctx context.Context, eng engine.Handle) error {
	if err := eng.Stop(ctx); err != nil {
		return err
	}
	c.hub.Update(func(s *playback.Snapshot) {
		s.Playing = false
		s.PositionMS = 0
	})
	return nil
}

// trackEnded applies the natural end-of-track rule. End reports for a
// track that is no longer current are stale and ignored.
func (c *Coordinator) trackEnded(ctx context.Context, eng engine.Handle, trackID string) error {
	cur, ok := c.queue.Current()
	if !ok {
		return nil
	}
	if trackID != "" && trackID != cur.ID {
		zlog.Debug().Msgf("coordinator: stale track end ignored: ended=%s current=%s", trackID, cur.ID)
		return nil
	}
	c.emit(playback.EventTrackEnded, &cur)

	t, move := c.queue.Advance()
	switch move {
	case playback.MoveNone:
		return nil
	case playback.MoveBoundary:
		c.emit(playback.EventQueueEnded, &cur)
		c.hub.Update(func(s *playback.Snapshot) { s.Playing = false })
		return nil
	}
	return c.start(ctx, eng, t)
}

func (c *Coordinator) start(ctx context.Context, eng engine.Handle, t track.Track) error {
	if err := eng.Play(ctx, t); err != nil {
		return errors.Wrapf(err, "play %s", t.ID)
	}
	c.starts.Add(1)
	c.hub.Update(func(s *playback.Snapshot) {
		s.Track = &t
		s.PositionMS = 0
		s.DurationMS = t.DurationMS
	})
	c.emit(playback.EventTrackStarted, &t)
	zlog.Info().Msgf("coordinator: track started: track_id=%s title=%s", t.ID, t.Title)
	return nil
}

func (c *Coordinator) emit(typ playback.EventType, t *track.Track) {
	latest := c.hub.Latest()
	pos := latest.PositionMS
	if t != nil && latest.TrackID() != t.ID {
		pos = 0
	}
	c.hub.Emit(playback.Event{
		Type:       typ,
		Track:      t,
		Session:    latest.Session,
		PositionMS: pos,
	})
}
