package logger

import (
	"testing"

	"marketplace/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_ProductionJSON(t *testing.T) {
	log, err := New("prod", config.LoggerConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestNew_DevelopmentDebug(t *testing.T) {
	log, err := New("dev", config.LoggerConfig{Level: "debug", Encoding: "console"})
	require.NoError(t, err)

	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("dev", config.LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
