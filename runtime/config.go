// Package runtime wires the independently testable core packages
// (value, object, task, interp, scheduler, native, telemetry) into one
// embeddable unit: load a Config, construct a Runtime, hand it a
// compiled *bytecode.Module, call Start.
//
// Grounded on barn/cmd/barn/main.go's own flag-then-server-construction
// flow, generalized from "build one *server.Server" to "build one
// *scheduler.Scheduler plus everything it needs".
package runtime

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the YAML-loadable shape backing SPEC_FULL.md §10.3.
// Zero values are replaced by scheduler.Config's own defaults except
// where noted.
type Config struct {
	Workers                int           `yaml:"workers"`
	PreemptQuantum         time.Duration `yaml:"preempt_quantum"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	MonitorInterval        time.Duration `yaml:"monitor_interval"`
	MaxConcurrentHostCalls int64         `yaml:"max_concurrent_host_calls"`

	// GCThresholdBytes is the heap's soft byte budget (value.Heap.Threshold).
	// 0 means "no automatic trigger". When it is 0, cmd/loomrun sets the
	// Go runtime's memory limit (GOMEMLIMIT) from the cgroup limit
	// instead; this field itself stays 0 (§10.5).
	GCThresholdBytes int64 `yaml:"gc_threshold_bytes"`

	LogLevel       string `yaml:"log_level"`
	LogDevelopment bool   `yaml:"log_development"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Default returns a Config with LogLevel "info" and MetricsEnabled set;
// every other field is left zero and resolves to the
// underlying package's own default (scheduler.Config.withDefaults,
// value.NewHeap(0) meaning GC-threshold-disabled) when left unset.
func Default() Config {
	return Config{
		LogLevel:       "info",
		LogDevelopment: false,
		MetricsEnabled: true,
	}
}

// Load reads a YAML config file, starting from Default() so a partial
// file only overrides the fields it mentions.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("runtime: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("runtime: parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ZapLevel parses LogLevel, defaulting to info on an empty or
// unrecognized string rather than failing startup over a typo'd config
// value.
func (c Config) ZapLevel() zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.Set(c.LogLevel); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
