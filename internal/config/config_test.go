package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/metrics", cfg.Server.Path)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, "neo4j", cfg.Neo4j.Username)
	assert.Equal(t, "metrics.yaml", cfg.Collector.MetricsFile)
	assert.Equal(t, 10*time.Second, cfg.Collector.QueryTimeout)
	assert.Equal(t, 4, cfg.Collector.Concurrency)
	assert.Zero(t, cfg.Collector.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":9100", cfg.ListenAddr())
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 8000
  path: /neo4j/metrics
neo4j:
  uri: bolt://db:7687
  username: ops
  password: secret
  strict_startup: true
collector:
  metrics_file: defs.yaml
  query_timeout: 2s
  concurrency: 8
  interval: 30s
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "/neo4j/metrics", cfg.Server.Path)
	assert.Equal(t, "bolt://db:7687", cfg.Neo4j.URI)
	assert.True(t, cfg.Neo4j.StrictStartup)
	assert.Equal(t, "defs.yaml", cfg.Collector.MetricsFile)
	assert.Equal(t, 2*time.Second, cfg.Collector.QueryTimeout)
	assert.Equal(t, 8, cfg.Collector.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Collector.Interval)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("neo4j:\n  uri: bolt://file:7687\n"), 0o644))

	t.Setenv("NEO4J_URI", "bolt://env:7687")
	t.Setenv("NEO4J_USER", "envuser")
	t.Setenv("NEO4J_PASSWORD", "envpass")
	t.Setenv("NEO4J_EXPORTER_PORT", "9200")
	t.Setenv("NEO4J_EXPORTER_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bolt://env:7687", cfg.Neo4j.URI)
	assert.Equal(t, "envuser", cfg.Neo4j.Username)
	assert.Equal(t, "envpass", cfg.Neo4j.Password)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidPortEnvIsIgnored(t *testing.T) {
	t.Setenv("NEO4J_EXPORTER_PORT", "not-a-port")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "port out of range", data: "server:\n  port: 70000\n"},
		{name: "path without slash", data: "server:\n  path: metrics\n"},
		{name: "query timeout too short", data: "collector:\n  query_timeout: 1ms\n"},
		{name: "interval below query timeout", data: "collector:\n  interval: 5s\n  query_timeout: 10s\n"},
		{name: "negative concurrency", data: "collector:\n  concurrency: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
