// Package config loads the machine configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMemoryMB is the RAM size used when no config overrides it.
const DefaultMemoryMB = 128

// DefaultTickBudget bounds a run before it is declared hung.
const DefaultTickBudget = 2_000_000

// Config describes one machine.
type Config struct {
	MemoryMB   uint64 `yaml:"memoryMB,omitempty"`
	Disk       string `yaml:"disk,omitempty"`
	Bootargs   string `yaml:"bootargs,omitempty"`
	TickBudget uint64 `yaml:"tickBudget,omitempty"`
	Trace      bool   `yaml:"trace,omitempty"`
}

// Normalize fills in defaults.
func (c *Config) Normalize() {
	if c.MemoryMB == 0 {
		c.MemoryMB = DefaultMemoryMB
	}
	if c.TickBudget == 0 {
		c.TickBudget = DefaultTickBudget
	}
}

// MemoryBytes returns the configured RAM size in bytes.
func (c *Config) MemoryBytes() uint64 {
	return c.MemoryMB << 20
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.Normalize()
	return &c, nil
}
