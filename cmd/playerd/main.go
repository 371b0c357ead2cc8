// Package main provides the playback daemon entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/nowplaying/internal/api/connect"
	"github.com/osa030/nowplaying/internal/app/command"
	"github.com/osa030/nowplaying/internal/app/coordinator"
	"github.com/osa030/nowplaying/internal/app/filter"
	"github.com/osa030/nowplaying/internal/app/presence"
	"github.com/osa030/nowplaying/internal/domain/playlist"
	"github.com/osa030/nowplaying/internal/domain/track"
	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/lastfm"
	"github.com/osa030/nowplaying/internal/infra/logger"
	"github.com/osa030/nowplaying/internal/infra/spotify"
)

var (
	app        = kingpin.New("playerd", "nowplaying playback daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/playerd.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main daemon logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var catalog *spotify.Client
	if cfg.NeedsSpotify() {
		c, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		catalog = c
	}

	connector, err := newConnector(cfg, catalog)
	if err != nil {
		return err
	}

	coord := coordinator.New(coordinator.Config{
		SessionID:    cfg.Session.ID,
		PollInterval: time.Duration(cfg.Tracker.PollIntervalMs) * time.Millisecond,
	}, connector)
	zlog.Info().Msgf("Session created: session_id=%s engine=%s", coord.Status().SessionID, cfg.Engine.Type)

	admission, err := filter.Build(cfg.GetFilterSettings)
	if err != nil {
		return errors.Wrap(err, "failed to set up admission filters")
	}

	if err := loadSession(ctx, cfg, coord, catalog, admission); err != nil {
		return err
	}

	if cfg.Presence.Enabled {
		if err := startPresence(ctx, cfg, coord); err != nil {
			return err
		}
	}

	// Streams end when done is closed, before the server shuts down.
	done := make(chan struct{})
	var resolver apiconnect.Resolver
	if catalog != nil {
		resolver = catalog
	}
	svc := apiconnect.NewPlayerService(coord, resolver, admission, done)
	path, handler := apiconnect.NewPlayerServiceHandler(svc,
		connect.WithInterceptors(apiconnect.NewControlAuthInterceptor(cfg.Server.ControlToken)),
	)
	if cfg.Server.ControlToken == "" {
		zlog.Warn().Msg("Control token not configured, control procedures are open")
	}

	mux := http.NewServeMux()
	mux.Handle(path, handler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	if !cfg.Session.Standby {
		go func() {
			if err := <-coord.Connect(ctx); err != nil {
				zlog.Error().Msgf("Engine connect failed: %v", err)
				return
			}
			zlog.Info().Msg("Engine connected")
		}()
	}

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	close(done)
	cancel()
	if err := coord.Close(); err != nil {
		zlog.Error().Msgf("Failed to release engine: %v", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// loadSession submits the configured repeat and shuffle modes and the
// session playlist. They are replayed once the engine is ready.
func loadSession(ctx context.Context, cfg *config.Config, coord *coordinator.Coordinator, catalog *spotify.Client, admission *filter.Chain) error {
	mode, err := playlist.ParseRepeatMode(cfg.Session.Repeat)
	if err != nil {
		return err
	}
	if mode != playlist.RepeatOff {
		coord.Submit(command.SetRepeat(mode))
	}
	if cfg.Session.Shuffle {
		coord.Submit(command.SetShuffle(true))
	}

	if cfg.Session.PlaylistURL == "" {
		zlog.Info().Msg("Session playlist not configured, waiting for commands")
		return nil
	}

	items, err := fetchPlaylist(ctx, catalog, cfg.Session.PlaylistURL)
	if err != nil {
		return errors.Wrapf(err, "session playlist (%s)", cfg.Session.PlaylistURL)
	}
	items, start, rejected := admission.Admit(ctx, items, 0)
	for _, r := range rejected {
		zlog.Info().Msgf("Session track rejected: index=%d track_id=%s code=%s", r.Index, r.TrackID, r.Code)
	}
	if len(items) == 0 {
		return errors.New("every track of the session playlist was rejected")
	}
	coord.Submit(command.PlayList(items, start))
	zlog.Info().Msgf("Session playlist loaded: url=%s tracks=%d", cfg.Session.PlaylistURL, len(items))
	return nil
}

// fetchPlaylist loads a playlist, retrying to ride out transient errors during startup.
func fetchPlaylist(ctx context.Context, catalog *spotify.Client, url string) ([]track.Track, error) {
	const maxRetries = 5
	baseDelay := time.Second

	var lastErr error
	for i := range maxRetries {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<uint(i-1))
			zlog.Info().Msgf("Retrying playlist fetch in %v...", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		items, err := catalog.GetPlaylistTracks(ctx, url)
		if err != nil {
			lastErr = err
			zlog.Warn().Msgf("Failed to fetch playlist (attempt %d/%d): %v", i+1, maxRetries, err)
			continue
		}
		if len(items) == 0 {
			return nil, errors.New("playlist is empty")
		}
		return items, nil
	}
	return nil, errors.Wrapf(lastErr, "failed after %d attempts", maxRetries)
}

// startPresence reports playback to Last.fm until ctx is done.
func startPresence(ctx context.Context, cfg *config.Config, coord *coordinator.Coordinator) error {
	client, err := lastfm.New(lastfm.Config{
		APIKey:     cfg.Presence.LastFM.APIKey,
		APISecret:  cfg.Presence.LastFM.APISecret,
		SessionKey: cfg.Presence.LastFM.SessionKey,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Last.fm client")
	}

	reporter := presence.NewReporter(client)
	snapshots := coord.Subscribe()
	events := coord.SubscribeEvents()
	go func() {
		defer snapshots.Close()
		defer events.Close()
		reporter.Run(ctx, snapshots.C(), events.C())
	}()
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
