package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileNames are tried in order inside each config directory.
var fileNames = []string{"config.yaml", "config.yml", "config.json"}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// A file only overrides the keys it sets. Missing files are not errors;
// malformed files and invalid results are.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.kanban/config.{yaml,yml,json}
// Project: .kanban/config.{yaml,yml,json} (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(Find(filepath.Join(homeDir, ".kanban")), Find(".kanban"))
}

// Find returns the first config file present in dir, or "" if none is.
func Find(dir string) string {
	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// mergeConfigFile decodes the file at path over base, so only keys present
// in the file change. The format follows the extension.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, base)
	} else {
		err = json.Unmarshal(data, base)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
