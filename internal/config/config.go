package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Backend struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		ConfigTTL      string `yaml:"config_ttl"`
		DebounceWindow string `yaml:"debounce_window"`
		TickInterval   string `yaml:"tick_interval"`
		Warnings       []int  `yaml:"warning_seconds"`
	} `yaml:"quiz"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or
// malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// WarningThresholds converts configured warning seconds into durations,
// falling back to the standard 5m/1m/30s ladder when unset.
func WarningThresholds(seconds []int) []time.Duration {
	if len(seconds) == 0 {
		return []time.Duration{5 * time.Minute, time.Minute, 30 * time.Second}
	}
	out := make([]time.Duration, 0, len(seconds))
	for _, s := range seconds {
		if s > 0 {
			out = append(out, time.Duration(s)*time.Second)
		}
	}
	return out
}
