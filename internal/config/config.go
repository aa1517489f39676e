// Package config loads the optional project configuration file. Flags
// always override file values; the file only supplies defaults for a
// working tree that many workers and monitors share.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config filename looked up in the working tree.
const DefaultFile = "ralph.yaml"

// DefaultDir is the coordination directory used when neither flag nor
// config file names one.
const DefaultDir = ".ralph"

// Config holds project-level defaults for the CLI.
type Config struct {
	// Dir is the coordination directory, relative to the working tree.
	Dir string `yaml:"dir"`
	// Task describes the overall unit of work for init.
	Task string `yaml:"task"`
	// CompletionPromise is the marker text monitors search for.
	CompletionPromise string `yaml:"completion_promise"`
	// TestCommand is the external verification command for validate.
	TestCommand string `yaml:"test_command"`
	// MaxIterations bounds the loop; 0 means unbounded.
	MaxIterations int `yaml:"max_iterations"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{Dir: DefaultDir}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. An empty path means DefaultFile.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	return cfg, nil
}
