package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
project:
  name: deep-well
scan:
  max_batch_size: 50
  timeouts:
    calculate_sec: 300
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "deep-well", cfg.Project.Name)
	assert.Equal(t, 50, cfg.Scan.MaxBatchSize)
	assert.Equal(t, 300, cfg.Scan.Timeouts.CalculateSec)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Bridge.MaxAttempts)
	assert.Equal(t, "cerberus.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, "button24", cfg.Scan.Controls.ResultsTable)
}

func TestLoadConfig_BackfillsTimeouts(t *testing.T) {
	path := writeConfig(t, `
scan:
  timeouts:
    control_sec: 0
    calculate_sec: 240
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 90, cfg.Scan.Timeouts.ControlSec)
	assert.Equal(t, 240, cfg.Scan.Timeouts.CalculateSec)
}

func TestLoadConfig_CollectFallsBackToCalculate(t *testing.T) {
	path := writeConfig(t, `
scan:
  timeouts:
    calculate_sec: 240
    collect_sec: 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 240, cfg.Scan.Timeouts.CollectSec)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "scan: [not a mapping")
	_, err := LoadConfig(path)
	require.Error(t, err)
}
