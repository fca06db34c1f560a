package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Logger(t *testing.T) {
	t.Run("new by environment", func(t *testing.T) {
		tests := []struct {
			name        string
			environment string
			wantErr     bool
		}{
			{name: "dev", environment: EnvDevelopment},
			{name: "prod", environment: EnvProduction},
			{name: "unknown", environment: "staging", wantErr: true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				l, err := New(tt.environment, LevelInfo)

				if tt.wantErr {
					require.Error(t, err, "unknown environment must not be silently defaulted")
					return
				}
				require.NoError(t, err)
				require.NotNil(t, l)
			})
		}
	})

	t.Run("parse level", func(t *testing.T) {
		assert.Equal(t, slog.LevelDebug, parseLevelString("debug"))
		assert.Equal(t, slog.LevelInfo, parseLevelString("info"))
		assert.Equal(t, slog.LevelWarn, parseLevelString("WARN"), "level parsing should not be case sensitive")
		assert.Equal(t, slog.LevelError, parseLevelString("error"))
		assert.Equal(t, slog.LevelInfo, parseLevelString("garbage"), "unknown level defaults to info")
	})

	t.Run("noop logger does not panic", func(t *testing.T) {
		l := NewNoOpLogger()

		l.Debug("msg", "k", "v")
		l.Info("msg")
		l.Warn("msg")
		l.Error("msg")
		l.With("k", "v").Info("msg")
		l.WithGroup("g").Info("msg")
	})
}
