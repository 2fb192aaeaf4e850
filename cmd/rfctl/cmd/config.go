package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the rfctl YAML configuration file.
type Config struct {
	// Transport selects the default transport kind for discovery.
	Transport string `yaml:"transport"`
	// NoProbe lists card UIDs that hotplug discovery must never touch.
	NoProbe []uint64 `yaml:"no_probe"`
	// MetricsListen enables the Prometheus endpoint during streaming.
	MetricsListen string `yaml:"metrics_listen"`

	Sim SimConfig `yaml:"sim"`
}

// SimConfig configures the simulated transport.
type SimConfig struct {
	Enabled bool `yaml:"enabled"`
	// UIDs are the synthetic cards the simulated transport reports.
	UIDs []uint64 `yaml:"uids"`
	// FeedIntervalMS is the synthetic receive block period.
	FeedIntervalMS int `yaml:"feed_interval_ms"`
}

func defaultConfig() Config {
	return Config{
		Transport: "custom",
		Sim: SimConfig{
			Enabled:        true,
			UIDs:           []uint64{1},
			FeedIntervalMS: 10,
		},
	}
}

// loadConfig reads the YAML config at path into out, starting from
// defaults. An empty path keeps the defaults.
func loadConfig(path string, out *Config) error {
	*out = defaultConfig()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}
