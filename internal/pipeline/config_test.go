package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipestat/pipestat/internal/meter"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, 5, cfg.Meter.FlushInterval)
	assert.Equal(t, -1, cfg.Meter.ClearInterval)
	assert.Equal(t, meter.EmitPerGroup, cfg.Meter.Emit)
	assert.True(t, cfg.Sinks.Log.Enabled)
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
meter:
  group:
    - "http_%{response}"
  group_ignore:
    - "http_%{response}"
  flush_interval: 10
  clear_interval: 60
  emit: combined
ingest:
  addr: ":8081"
  workers: 8
sinks:
  log:
    enabled: true
  http:
    enabled: true
    address: "http://vector:9005/events"
    compression: zstd
health:
  addr: ":9091"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"http_%{response}"}, cfg.Meter.Group.Templates)
	assert.Equal(t, []string{"http_%{response}"}, cfg.Meter.GroupIgnore)
	assert.Equal(t, 10, cfg.Meter.FlushInterval)
	assert.Equal(t, 60, cfg.Meter.ClearInterval)
	assert.Equal(t, meter.EmitCombined, cfg.Meter.Emit)
	assert.Equal(t, ":8081", cfg.Ingest.Addr)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.True(t, cfg.Sinks.HTTP.Enabled)
	assert.Equal(t, "http://vector:9005/events", cfg.Sinks.HTTP.Address)
	assert.Equal(t, "zstd", cfg.Sinks.HTTP.Compression)
	assert.Equal(t, ":9091", cfg.Health.Addr)
}

func TestLoadConfigNamedGroups(t *testing.T) {
	yaml := `
meter:
  group:
    status: "%{response}"
    verb: "%{method}"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Meter.Group.Named)
	assert.Equal(t, []string{"status", "verb"}, cfg.Meter.Group.Names)
	assert.Equal(t, []string{"%{response}", "%{method}"}, cfg.Meter.Group.Templates)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate_BadFlushInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Meter.FlushInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meter:")
}

func TestValidate_NoSinks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Meter.Group.Templates = []string{"%{response}"}
	cfg.Sinks.Log.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sinks enabled")
}
