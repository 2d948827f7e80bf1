package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment variables, and
// unmarshals into a Config struct.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// MessageLoader returns a function reading the status message from path
// on every call. An empty path yields fallback.
func MessageLoader(path, fallback string) func() (string, error) {
	return func() (string, error) {
		if path == "" {
			return fallback, nil
		}
		cfg, err := Load(path)
		if err != nil {
			return fallback, err
		}
		return cfg.Message.Text, nil
	}
}
