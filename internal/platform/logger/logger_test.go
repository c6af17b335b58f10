package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weconnect/internal/config"
)

func testConfig(level, format string) config.Config {
	return config.Config{
		Service: &config.ServiceConfig{Name: "weconnect-test", Env: "test"},
		Logger:  &config.LoggerConfig{Level: level, Format: format},
	}
}

func TestNewLoggerJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := newLogger(&buf, testConfig("info", "json"))
	log.Info("directory - subscribe - success", "owner_id", "u1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "directory - subscribe - success", entry["msg"])
	assert.Equal(t, "weconnect-test", entry["service"])
	assert.Equal(t, "u1", entry["owner_id"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseLevel(in))
		})
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := newLogger(&buf, testConfig("info", "text"))
	log.Debug("hidden")
	assert.Empty(t, buf.String())
}
