package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Output: &buf})
		require.NoError(t, err)
		defer logger.Close()

		component := logger.Component("executor")
		component.Info().Msg("hello")

		assert.Contains(t, buf.String(), `"component":"executor"`)
		assert.Contains(t, buf.String(), `"message":"hello"`)
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "stepflow.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		z := logger.Zerolog()
		z.Debug().Msg("debug line")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "debug line")
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "warn", Console: true, Output: &buf})
		require.NoError(t, err)

		z := logger.Zerolog()
		z.Info().Msg("dropped")
		z.Warn().Msg("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, logger.Zerolog().GetLevel())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
}
