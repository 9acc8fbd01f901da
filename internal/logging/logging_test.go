package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONFileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "splitflow.log")
	var console bytes.Buffer

	logger, closeFn, err := New(Options{Path: path, Level: "info", Console: &console})
	require.NoError(t, err)
	logger.Info("dispatched", zap.String("run", "r1"), zap.Int("splits", 3))
	logger.Debug("hidden")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "dispatched", entry["msg"])
	require.Equal(t, "r1", entry["run"])
	require.EqualValues(t, 3, entry["splits"])

	require.Contains(t, console.String(), "dispatched")
	require.NotContains(t, console.String(), "hidden")
}

func TestVerboseEnablesDebug(t *testing.T) {
	var console bytes.Buffer
	logger, closeFn, err := New(Options{Level: "error", Verbose: true, Console: &console})
	require.NoError(t, err)
	logger.Debug("detail")
	require.NoError(t, closeFn())
	require.Contains(t, console.String(), "detail")
}

func TestNewWithoutSinksIsNop(t *testing.T) {
	logger, closeFn, err := New(Options{})
	require.NoError(t, err)
	logger.Info("dropped")
	require.NoError(t, closeFn())
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, zapcore.WarnLevel, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}
