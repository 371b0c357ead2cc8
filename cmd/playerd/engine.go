package main

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/engine"
	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/simengine"
	"github.com/osa030/nowplaying/internal/infra/spotify"
)

// newConnector creates the engine connector selected by cfg.Engine.Type.
func newConnector(cfg *config.Config, catalog *spotify.Client) (engine.Connector, error) {
	switch cfg.Engine.Type {
	case config.EngineSimulated:
		var settings simengine.Settings
		if err := config.DecodeSettings(cfg.Engine.Settings, &settings); err != nil {
			return nil, errors.Wrap(err, "simulated engine settings")
		}
		zlog.Debug().Msgf("engine: simulated: settings=%+v", settings)
		return simengine.NewConnector(nil, settings), nil

	case config.EngineSpotify:
		if catalog == nil {
			return nil, errors.New("spotify engine requires spotify credentials")
		}
		var settings spotify.Settings
		if err := config.DecodeSettings(cfg.Engine.Settings, &settings); err != nil {
			return nil, errors.Wrap(err, "spotify engine settings")
		}
		zlog.Debug().Msgf("engine: spotify: settings=%+v", settings)
		return spotify.NewConnector(catalog, nil, settings), nil

	default:
		return nil, errors.Newf("unsupported engine type: %s", cfg.Engine.Type)
	}
}
