package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/simengine"
)

func TestNewConnector(t *testing.T) {
	tests := []struct {
		name    string
		engine  config.EngineConfig
		wantSim bool
		wantErr bool
	}{
		{
			name:    "simulated with defaults",
			engine:  config.EngineConfig{Type: config.EngineSimulated},
			wantSim: true,
		},
		{
			name:    "simulated with settings",
			engine:  config.EngineConfig{Type: config.EngineSimulated, Settings: map[string]any{"connect_delay_ms": 0}},
			wantSim: true,
		},
		{
			name:    "spotify without catalog",
			engine:  config.EngineConfig{Type: config.EngineSpotify},
			wantErr: true,
		},
		{
			name:    "unknown type",
			engine:  config.EngineConfig{Type: "vlc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := newConnector(&config.Config{Engine: tt.engine}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, ok := c.(*simengine.Connector)
			assert.Equal(t, tt.wantSim, ok)
		})
	}
}
