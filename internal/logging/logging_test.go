package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildDefaultsToWarn(t *testing.T) {
	var buf bytes.Buffer
	log, err := Build(Options{Stderr: &buf})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", zap.String("protocol", "aave"))
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "aave", entry["protocol"])
	assert.Equal(t, "warn", entry["level"])
}

func TestBuildConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := Build(Options{Level: "debug", Format: "console", Stderr: &buf})
	require.NoError(t, err)
	log.Debug("tick")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "tick")
}

func TestBuildRejectsBadInput(t *testing.T) {
	_, err := Build(Options{Level: "loud"})
	require.Error(t, err)
	_, err = Build(Options{Format: "xml"})
	require.Error(t, err)
}

func TestBuildWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defiact.log")
	log, err := Build(Options{Level: "info", File: path})
	require.NoError(t, err)
	log.Info("to file")
	require.NoError(t, log.Sync())

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "to file")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	log := zap.NewExample()
	assert.Same(t, log, OrNop(log))
}
