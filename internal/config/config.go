package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host    string        `yaml:"host"`
		Port    int           `yaml:"port"`
		Path    string        `yaml:"path"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	Neo4j struct {
		URI           string `yaml:"uri"`
		Username      string `yaml:"username"`
		Password      string `yaml:"password"`
		Database      string `yaml:"database"`
		StrictStartup bool   `yaml:"strict_startup"`
	} `yaml:"neo4j"`

	Collector struct {
		MetricsFile  string        `yaml:"metrics_file"`
		QueryTimeout time.Duration `yaml:"query_timeout"`
		Concurrency  int           `yaml:"concurrency"`
		Interval     time.Duration `yaml:"interval"`
	} `yaml:"collector"`

	System struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"system"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads the configuration file, then layers environment overrides,
// defaults and validation on top. An empty path means no file: environment
// and defaults only. CLI flags are applied by the caller afterwards, so the
// precedence order is flags over environment over file over defaults.
func Load(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	config.applyEnv()
	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NEO4J_URI"); v != "" {
		c.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		c.Neo4j.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.Neo4j.Password = v
	}
	if v := os.Getenv("NEO4J_EXPORTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("NEO4J_EXPORTER_DEBUG"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			c.Logging.Level = "debug"
		}
	}
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 9100
	}
	if c.Server.Path == "" {
		c.Server.Path = "/metrics"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Neo4j.URI == "" {
		c.Neo4j.URI = "bolt://localhost:7687"
	}
	if c.Neo4j.Username == "" {
		c.Neo4j.Username = "neo4j"
	}

	if c.Collector.MetricsFile == "" {
		c.Collector.MetricsFile = "metrics.yaml"
	}
	if c.Collector.QueryTimeout == 0 {
		c.Collector.QueryTimeout = 10 * time.Second
	}
	if c.Collector.Concurrency == 0 {
		c.Collector.Concurrency = 4
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the effective configuration. Load runs it, and callers
// that layer CLI flags on top afterwards must run it again.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server path must start with /: %q", c.Server.Path)
	}
	if c.Collector.QueryTimeout < 100*time.Millisecond {
		return fmt.Errorf("query timeout too short: %v", c.Collector.QueryTimeout)
	}
	if c.Collector.Concurrency < 1 {
		return fmt.Errorf("collector concurrency must be at least 1")
	}
	if c.Collector.Interval != 0 && c.Collector.Interval <= c.Collector.QueryTimeout {
		return fmt.Errorf("collector interval (%v) must exceed the query timeout (%v)",
			c.Collector.Interval, c.Collector.QueryTimeout)
	}
	return nil
}

// ListenAddr joins host and port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
