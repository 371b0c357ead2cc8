package simengine

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/engine"
)

// ErrUnavailable is returned by Connect when the engine is configured to refuse connections.
var ErrUnavailable = errors.New("simulated engine unavailable")

// Settings holds simulated engine settings.
type Settings struct {
	ConnectDelayMS int  `mapstructure:"connect_delay_ms" default:"150" validate:"gte=0,lte=60000"`
	FailConnect    bool `mapstructure:"fail_connect"`
}

// Connector creates simulated players.
type Connector struct {
	clock    clock.Clock
	settings Settings
}

// NewConnector creates a connector. A nil clock uses the wall clock.
func NewConnector(clk clock.Clock, settings Settings) *Connector {
	if clk == nil {
		clk = clock.New()
	}
	return &Connector{clock: clk, settings: settings}
}

// Connect waits for the configured delay and returns a new player.
func (c *Connector) Connect(ctx context.Context, sessionID string) (engine.Handle, error) {
	zlog.Debug().Msgf("simengine: connecting: session_id=%s delay_ms=%d", sessionID, c.settings.ConnectDelayMS)

	if c.settings.ConnectDelayMS > 0 {
		timer := c.clock.Timer(time.Duration(c.settings.ConnectDelayMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "simengine connect")
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "simengine connect")
	}

	if c.settings.FailConnect {
		return nil, ErrUnavailable
	}
	return newPlayer(c.clock), nil
}
