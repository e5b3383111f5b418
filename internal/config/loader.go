package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// applyFile overlays a YAML config file on top of cfg. ${VAR} references in
// the file are expanded from the environment before parsing.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	return nil
}
