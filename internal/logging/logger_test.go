package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/orrn/catspool/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		level   zapcore.Level
		wantErr bool
	}{
		{name: "json info", cfg: config.LoggingConfig{Level: "info", Format: "json"}, level: zapcore.InfoLevel},
		{name: "text debug", cfg: config.LoggingConfig{Level: "debug", Format: "text"}, level: zapcore.DebugLevel},
		{name: "plain warn", cfg: config.LoggingConfig{Level: "warn", Format: "plain"}, level: zapcore.WarnLevel},
		{name: "bad level", cfg: config.LoggingConfig{Level: "loud", Format: "json"}, wantErr: true},
		{name: "bad format", cfg: config.LoggingConfig{Level: "info", Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.level))
			assert.False(t, logger.Core().Enabled(tt.level-1))
		})
	}
}
