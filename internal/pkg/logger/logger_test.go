package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "level %q", input)
	}
}

func TestNew_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	log, closer := newLogger(Options{Level: "info"}, &buf, false)
	defer closer.Close()

	log.Debug("hidden")
	log.Info("visible", "component", "test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestNew_TextOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	log, _ := newLogger(Options{Level: "debug"}, &buf, true)

	log.Debug("hello", "k", "v")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "k=v")
}

func TestNew_WritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	var buf bytes.Buffer
	log, closer := newLogger(Options{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1}, &buf, true)

	log.Info("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.Contains(t, buf.String(), `"msg":"to both"`)
}
