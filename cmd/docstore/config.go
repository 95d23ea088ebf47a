package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type config struct {
	Path            string `yaml:"path"`
	Backend         string `yaml:"backend"`
	Verbose         bool   `yaml:"verbose"`
	MaxRevTreeDepth int    `yaml:"maxRevTreeDepth"`
	JournalDir      string `yaml:"journalDir"`
}

// loadConfig reads a YAML config file. An empty path gives the defaults.
func loadConfig(path string) (config, error) {
	cfg := config{
		Path:    "docstore.db",
		Backend: "bolt",
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
