// Package config loads the simulation engine's top-level configuration,
// mirroring the teacher's yncp.Config/DefaultConfig/LoadConfig shape.
package config

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the engine's top-level configuration.
type Config struct {
	// Logging configuration.
	Logging LoggingConfig `yaml:"logging"`
	// GraphPath is the path to the network graph file.
	GraphPath string `yaml:"graph_path"`
	// Worker pool configuration.
	Worker WorkerConfig `yaml:"worker"`
	// Simulation timing configuration.
	Simulation SimulationConfig `yaml:"simulation"`
}

// LoggingConfig is the configuration for the logging subsystem.
type LoggingConfig struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// HostFilter is a glob pattern (github.com/gobwas/glob syntax) over
	// host names of the form "host-<id>"; when non-empty, only hosts whose
	// name matches emit per-round debug log lines. Leave empty to log
	// every host.
	HostFilter string `yaml:"host_filter"`
}

// WorkerConfig configures the event-queue worker pool.
type WorkerConfig struct {
	// Parallelism is the maximum number of concurrent host rounds.
	Parallelism int `yaml:"parallelism"`
	// NumThreads is the number of worker threads kept in the pool,
	// always >= Parallelism.
	NumThreads int `yaml:"num_threads"`
	// PinThreads enables CPU affinity pinning per processor slot.
	PinThreads bool `yaml:"pin_threads"`
}

// SimulationConfig configures the overall run.
type SimulationConfig struct {
	// StopTime is when the simulation ends, e.g. "60s".
	StopTime string `yaml:"stop_time"`
	// BootstrapEndTime is when bandwidth/reliability limits start being
	// enforced, e.g. "5s".
	BootstrapEndTime string `yaml:"bootstrap_end_time"`
	// Seed seeds every host's reliability-draw RNG.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: zapcore.InfoLevel},
		Worker: WorkerConfig{
			Parallelism: 1,
			NumThreads:  1,
			PinThreads:  false,
		},
		Simulation: SimulationConfig{
			StopTime:         "60s",
			BootstrapEndTime: "0s",
			Seed:             1,
		},
	}
}

// LoadConfig loads the configuration from the given path, merging it
// over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	if cfg.Worker.NumThreads < cfg.Worker.Parallelism {
		cfg.Worker.NumThreads = cfg.Worker.Parallelism
	}

	return cfg, nil
}
