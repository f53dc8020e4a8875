// Package config loads the static YAML registration used by the
// relaymq serve command: downlink-buffer path and the
// applications/networks to bring up. The logLevel and metricsAddr keys
// are parsed (logLevel is defaulted) but serve does not apply them; it
// takes the log level and metrics address from its command-line flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Endpoint is one application or network registration.
type Endpoint struct {
	UnitID   string `yaml:"unitId"`
	UnitCode string `yaml:"unitCode"`
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	HostURI  string `yaml:"hostUri"`
}

// Config is the top-level shape of the relaymq config file.
type Config struct {
	LogLevel     string     `yaml:"logLevel"`
	BufferPath   string     `yaml:"bufferPath"`
	MetricsAddr  string     `yaml:"metricsAddr"`
	Applications []Endpoint `yaml:"applications"`
	Networks     []Endpoint `yaml:"networks"`
}

const (
	defaultLogLevel   = "info"
	defaultBufferPath = "./relaymq-buffer.db"
)

// Load reads and parses the YAML config file at path, filling in defaults
// for omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.BufferPath == "" {
		cfg.BufferPath = defaultBufferPath
	}

	for i, app := range cfg.Applications {
		if app.ID == "" {
			return nil, fmt.Errorf("config: applications[%d]: id is required", i)
		}
		if app.HostURI == "" {
			return nil, fmt.Errorf("config: applications[%d]: hostUri is required", i)
		}
	}
	for i, net := range cfg.Networks {
		if net.ID == "" {
			return nil, fmt.Errorf("config: networks[%d]: id is required", i)
		}
		if net.HostURI == "" {
			return nil, fmt.Errorf("config: networks[%d]: hostUri is required", i)
		}
	}

	return &cfg, nil
}
