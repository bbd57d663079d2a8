package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/lherman-cs/bagextract/internal/config"
)

func TestNewConfig(t *testing.T) {
	zapConfig, err := NewConfig(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	assert.Equal(t, zapcore.DebugLevel, zapConfig.Level.Level())
	assert.Equal(t, "json", zapConfig.Encoding)
	assert.Equal(t, []string{"stderr"}, zapConfig.OutputPaths)
	assert.True(t, zapConfig.DisableStacktrace)
}

func TestNew(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewBadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "console"})
	assert.Error(t, err)
}
