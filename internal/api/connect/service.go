// Package connect provides the Connect RPC player service and its client.
package connect

import (
	"context"
	"net/http"
	"slices"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/osa030/nowplaying/internal/app/command"
	"github.com/osa030/nowplaying/internal/app/coordinator"
	"github.com/osa030/nowplaying/internal/app/filter"
	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/playlist"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// ServiceName is the fully-qualified name of the player service.
const ServiceName = "nowplaying.v1.PlayerService"

// Procedure paths.
const (
	ConnectProcedure         = "/" + ServiceName + "/Connect"
	ReleaseProcedure         = "/" + ServiceName + "/Release"
	SubmitProcedure          = "/" + ServiceName + "/Submit"
	GetQueueProcedure        = "/" + ServiceName + "/GetQueue"
	GetStatusProcedure       = "/" + ServiceName + "/GetStatus"
	SubscribeProcedure       = "/" + ServiceName + "/Subscribe"
	SubscribeEventsProcedure = "/" + ServiceName + "/SubscribeEvents"
)

// Player is the playback coordinator served by PlayerService.
type Player interface {
	Connect(ctx context.Context) <-chan error
	Release() error
	Submit(cmd command.Command)
	Subscribe() *notification.Subscription
	SubscribeEvents() *notification.EventSubscription
	CurrentQueue() playlist.Queue
	Status() coordinator.Status
}

// Resolver completes tracks submitted by reference and expands playlists.
type Resolver interface {
	Resolve(ctx context.Context, t track.Track) (track.Track, error)
	GetPlaylistTracks(ctx context.Context, ref string) ([]track.Track, error)
}

// PlayerService implements the player RPC service.
type PlayerService struct {
	player    Player
	resolver  Resolver
	admission *filter.Chain
	done      <-chan struct{}
}

// NewPlayerService creates a new PlayerService. resolver may be nil, in
// which case tracks must be submitted complete. admission may be nil to
// accept every valid track. Streams end when done is closed.
func NewPlayerService(player Player, resolver Resolver, admission *filter.Chain, done <-chan struct{}) *PlayerService {
	return &PlayerService{
		player:    player,
		resolver:  resolver,
		admission: admission,
		done:      done,
	}
}

// NewPlayerServiceHandler builds the HTTP handler for svc and returns the
// path prefix it serves.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append(slices.Clone(opts), connect.WithCodec(Codec{}))

	mux := http.NewServeMux()
	mux.Handle(ConnectProcedure, connect.NewUnaryHandler(ConnectProcedure, svc.Connect, opts...))
	mux.Handle(ReleaseProcedure, connect.NewUnaryHandler(ReleaseProcedure, svc.Release, opts...))
	mux.Handle(SubmitProcedure, connect.NewUnaryHandler(SubmitProcedure, svc.Submit, opts...))
	mux.Handle(GetQueueProcedure, connect.NewUnaryHandler(GetQueueProcedure, svc.GetQueue, opts...))
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, svc.Subscribe, opts...))
	mux.Handle(SubscribeEventsProcedure, connect.NewServerStreamHandler(SubscribeEventsProcedure, svc.SubscribeEvents, opts...))
	return "/" + ServiceName + "/", mux
}

// Connect connects the engine and waits for the outcome. The attempt keeps
// running if the caller goes away.
func (s *PlayerService) Connect(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[Status], error) {
	result := s.player.Connect(context.WithoutCancel(ctx))

	select {
	case err := <-result:
		if err != nil {
			return nil, connect.NewError(connect.CodeUnavailable, err)
		}
	case <-ctx.Done():
		return nil, connect.NewError(connect.CodeDeadlineExceeded, ctx.Err())
	}

	status := fromStatus(s.player.Status())
	return connect.NewResponse(&status), nil
}

// Release tears the engine connection down.
func (s *PlayerService) Release(
	_ context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[Status], error) {
	if err := s.player.Release(); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	status := fromStatus(s.player.Status())
	return connect.NewResponse(&status), nil
}

// Submit converts and enqueues a command. It returns once the command is
// queued, not once it has run.
func (s *PlayerService) Submit(
	ctx context.Context,
	req *connect.Request[Command],
) (*connect.Response[SubmitResponse], error) {
	cmd, err := s.toCommand(ctx, req.Msg)
	if err != nil {
		return nil, err
	}

	s.player.Submit(cmd)
	zlog.Debug().Msgf("api: command submitted: id=%s command=%s", cmd.ID, cmd)
	return connect.NewResponse(&SubmitResponse{CommandID: cmd.ID}), nil
}

// GetQueue returns the play queue and the tracks after the current one.
func (s *PlayerService) GetQueue(
	_ context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[Queue], error) {
	q := fromQueue(s.player.CurrentQueue())
	return connect.NewResponse(&q), nil
}

// GetStatus returns the coordinator status.
func (s *PlayerService) GetStatus(
	_ context.Context,
	_ *connect.Request[emptypb.Empty],
) (*connect.Response[Status], error) {
	status := fromStatus(s.player.Status())
	return connect.NewResponse(&status), nil
}

// Subscribe streams snapshots, starting with the latest one. Slow clients
// skip intermediate snapshots.
func (s *PlayerService) Subscribe(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[Snapshot],
) error {
	sub := s.player.Subscribe()
	defer sub.Close()
	zlog.Debug().Msgf("api: snapshot subscriber attached: id=%s", sub.ID)

	return pump(ctx, s.done, sub.C(), func(snap playback.Snapshot) error {
		msg := fromSnapshot(snap)
		return stream.Send(&msg)
	})
}

// SubscribeEvents streams playback history events from now on.
func (s *PlayerService) SubscribeEvents(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[Event],
) error {
	sub := s.player.SubscribeEvents()
	defer sub.Close()
	zlog.Debug().Msgf("api: event subscriber attached: id=%s", sub.ID)

	return pump(ctx, s.done, sub.C(), func(e playback.Event) error {
		msg := fromEvent(e)
		return stream.Send(&msg)
	})
}

// pump forwards values from ch to send until ctx or done ends or ch closes.
func pump[T any](ctx context.Context, done <-chan struct{}, ch <-chan T, send func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(v); err != nil {
				return err
			}
		}
	}
}

func (s *PlayerService) toCommand(ctx context.Context, m *Command) (command.Command, error) {
	kind, ok := command.ParseKind(m.Kind)
	if !ok {
		return command.Command{}, connect.NewError(connect.CodeInvalidArgument, errors.Newf("unknown command kind: %q", m.Kind))
	}

	switch kind {
	case command.KindPlay:
		if m.Track == nil {
			return command.Command{}, connect.NewError(connect.CodeInvalidArgument, errors.New("play requires a track"))
		}
		t, err := s.resolve(ctx, m.Track.toDomain())
		if err != nil {
			return command.Command{}, err
		}
		if s.admission != nil {
			if result := s.admission.Execute(ctx, t, nil); !result.Accepted {
				return command.Command{}, connect.NewError(connect.CodeFailedPrecondition,
					errors.Newf("track %s rejected: %s", t.ID, result.Code))
			}
		}
		return command.Play(t), nil

	case command.KindPlayList:
		items, err := s.resolveList(ctx, m)
		if err != nil {
			return command.Command{}, err
		}
		items, start, rejected := s.admission.Admit(ctx, items, m.StartIndex)
		for _, r := range rejected {
			zlog.Info().Msgf("api: track rejected: index=%d track_id=%s code=%s", r.Index, r.TrackID, r.Code)
		}
		if len(items) == 0 && len(rejected) > 0 {
			return command.Command{}, connect.NewError(connect.CodeFailedPrecondition,
				errors.Newf("all %d tracks rejected", len(rejected)))
		}
		return command.PlayList(items, start), nil

	case command.KindPause:
		return command.Pause(), nil
	case command.KindResume:
		return command.Resume(), nil
	case command.KindSeekTo:
		return command.SeekTo(m.PositionMS), nil
	case command.KindSkipNext:
		return command.SkipNext(), nil
	case command.KindSkipPrevious:
		return command.SkipPrevious(), nil
	case command.KindStop:
		return command.Stop(), nil

	case command.KindSetRepeat:
		mode, err := playlist.ParseRepeatMode(m.Repeat)
		if err != nil {
			return command.Command{}, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return command.SetRepeat(mode), nil

	case command.KindSetShuffle:
		return command.SetShuffle(m.Shuffle), nil
	}

	return command.Command{}, connect.NewError(connect.CodeInvalidArgument, errors.Newf("unsupported command kind: %s", kind))
}

func (s *PlayerService) resolve(ctx context.Context, t track.Track) (track.Track, error) {
	if s.resolver != nil {
		resolved, err := s.resolver.Resolve(ctx, t)
		if err != nil {
			return track.Track{}, connect.NewError(connect.CodeNotFound, err)
		}
		t = resolved
	}
	if err := t.Validate(); err != nil {
		return track.Track{}, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return t, nil
}

func (s *PlayerService) resolveList(ctx context.Context, m *Command) ([]track.Track, error) {
	if m.PlaylistRef != "" {
		if s.resolver == nil {
			return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("playlist references are not supported without a catalog"))
		}
		items, err := s.resolver.GetPlaylistTracks(ctx, m.PlaylistRef)
		if err != nil {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		return items, nil
	}

	items := make([]track.Track, 0, len(m.Items))
	for _, w := range m.Items {
		t, err := s.resolve(ctx, w.toDomain())
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, nil
}
