package config

import (
	"fmt"
	"time"
)

// Config is the top-level navcore configuration.
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Timing       TimingConfig       `yaml:"timing"`
	History      HistoryConfig      `yaml:"history"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Queue        QueueConfig        `yaml:"queue"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Fallback     FallbackConfig     `yaml:"fallback"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Control      ControlConfig      `yaml:"control"`
	Export       ExportConfig       `yaml:"export"`
}

// StorageConfig configures the durable local store.
type StorageConfig struct {
	Dir      string `yaml:"dir"`       // badger data directory
	InMemory bool   `yaml:"in_memory"` // ephemeral store, nothing survives a restart
}

// LedgerConfig configures the navigation event ledger.
type LedgerConfig struct {
	Capacity  int `yaml:"capacity"`   // max retained events; oldest evicted first
	TopRoutes int `yaml:"top_routes"` // N for top-routes-by-frequency in computed metrics
}

// TimingConfig configures the timing correlator.
type TimingConfig struct {
	MaxLive int `yaml:"max_live"` // max in-flight timings before oldest is evicted
}

// HistoryConfig configures the history and failure tracker.
type HistoryConfig struct {
	Capacity   int           `yaml:"capacity"`    // max visited routes retained
	FailureTTL time.Duration `yaml:"failure_ttl"` // failed-route entries expire after this
}

// ConnectivityConfig configures the connectivity monitor.
type ConnectivityConfig struct {
	Interface string `yaml:"interface"`  // network interface to watch, e.g. "eth0"
	StatePath string `yaml:"state_path"` // overrides the operstate file path (tests)
}

// QueueConfig configures the deferred action queue.
type QueueConfig struct {
	DefaultMaxAttempts int `yaml:"default_max_attempts"`
}

// BreakerConfig configures the per-service health breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`  // consecutive failures before opening
	SuccessRateFloor float64       `yaml:"success_rate_floor"` // open when rolling success rate drops below
	WindowSize       int           `yaml:"window_size"`        // rolling outcome window per service
	CoolDown         time.Duration `yaml:"cool_down"`          // open duration before a half-open trial
	MaxCoolDown      time.Duration `yaml:"max_cool_down"`      // backoff cap for repeatedly re-opened services
}

// FallbackConfig is the static route hierarchy used by the fallback resolver.
type FallbackConfig struct {
	Root      string            `yaml:"root"`      // final fallback destination
	Hierarchy map[string]string `yaml:"hierarchy"` // child route -> parent route
}

// MetricsConfig configures the Prometheus metrics and health endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"` // pointer to distinguish unset from false; default true
	Addr    string `yaml:"addr"`    // listen address; default ":9090"
}

// MetricsEnabled returns whether the metrics server should run.
func (m MetricsConfig) MetricsEnabled() bool {
	if m.Enabled == nil {
		return true // default: enabled
	}
	return *m.Enabled
}

// ControlConfig configures the operator REST/websocket surface.
type ControlConfig struct {
	Addr string `yaml:"addr"` // listen address; default ":8080"
}

// ExportConfig configures continuous event export.
type ExportConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Sink          string        `yaml:"sink"` // "stdout", "file", "http", "nop"
	FilePath      string        `yaml:"file_path"`
	EndpointAddr  string        `yaml:"endpoint_addr"` // full endpoint URL for the http sink
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if c.Ledger.Capacity < 0 {
		return fmt.Errorf("config: ledger.capacity must be positive, got %d", c.Ledger.Capacity)
	}
	if c.Timing.MaxLive < 0 {
		return fmt.Errorf("config: timing.max_live must be positive, got %d", c.Timing.MaxLive)
	}
	if c.History.Capacity < 0 {
		return fmt.Errorf("config: history.capacity must be positive, got %d", c.History.Capacity)
	}
	if c.History.FailureTTL < 0 {
		return fmt.Errorf("config: history.failure_ttl must be positive, got %s", c.History.FailureTTL)
	}
	if c.Breaker.SuccessRateFloor < 0 || c.Breaker.SuccessRateFloor > 1.0 {
		return fmt.Errorf("config: breaker.success_rate_floor must be in [0,1], got %.2f", c.Breaker.SuccessRateFloor)
	}
	if c.Breaker.MaxCoolDown > 0 && c.Breaker.MaxCoolDown < c.Breaker.CoolDown {
		return fmt.Errorf("config: breaker.max_cool_down (%s) must be >= cool_down (%s)",
			c.Breaker.MaxCoolDown, c.Breaker.CoolDown)
	}
	if c.Fallback.Root == "" {
		return fmt.Errorf("config: fallback.root cannot be empty")
	}
	for child, parent := range c.Fallback.Hierarchy {
		if child == "" {
			return fmt.Errorf("config: fallback.hierarchy contains an empty route")
		}
		if child == parent {
			return fmt.Errorf("config: fallback.hierarchy maps %q to itself", child)
		}
	}
	switch c.Export.Sink {
	case "", "stdout", "file", "http", "nop":
	default:
		return fmt.Errorf("config: unknown export sink %q", c.Export.Sink)
	}
	if c.Export.Sink == "http" && c.Export.EndpointAddr == "" {
		return fmt.Errorf("config: export.endpoint_addr is required for the http sink")
	}
	if !c.Storage.InMemory && c.Storage.Dir == "" {
		return fmt.Errorf("config: storage.dir is required unless storage.in_memory is set")
	}
	return nil
}
