package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a navcore configuration file.
// Supports environment variable expansion in string values via ${VAR} syntax.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills in defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Storage.Dir == "" && !c.Storage.InMemory {
		c.Storage.Dir = "/var/lib/navcore"
	}
	if c.Ledger.Capacity == 0 {
		c.Ledger.Capacity = 1000
	}
	if c.Ledger.TopRoutes == 0 {
		c.Ledger.TopRoutes = 10
	}
	if c.Timing.MaxLive == 0 {
		c.Timing.MaxLive = 50
	}
	if c.History.Capacity == 0 {
		c.History.Capacity = 50
	}
	if c.History.FailureTTL == 0 {
		c.History.FailureTTL = 5 * time.Minute
	}
	if c.Connectivity.Interface == "" {
		c.Connectivity.Interface = "eth0"
	}
	if c.Queue.DefaultMaxAttempts == 0 {
		c.Queue.DefaultMaxAttempts = 3
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.SuccessRateFloor == 0 {
		c.Breaker.SuccessRateFloor = 0.5
	}
	if c.Breaker.WindowSize == 0 {
		c.Breaker.WindowSize = 20
	}
	if c.Breaker.CoolDown == 0 {
		c.Breaker.CoolDown = 30 * time.Second
	}
	if c.Breaker.MaxCoolDown == 0 {
		c.Breaker.MaxCoolDown = 5 * time.Minute
	}
	if c.Fallback.Root == "" {
		c.Fallback.Root = "/"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Control.Addr == "" {
		c.Control.Addr = ":8080"
	}
	if c.Export.BatchSize == 0 {
		c.Export.BatchSize = 100
	}
	if c.Export.FlushInterval == 0 {
		c.Export.FlushInterval = 5 * time.Second
	}
}
