package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".torcirc.yml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadFile merges settings from a YAML file into cfg. Fields absent from
// the file keep their current values, so defaults and flag values survive.
// If the file does not exist, ErrConfigNotFound is returned; callers decide
// whether that matters based on whether the path was given explicitly.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigNotFound
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// FindConfigFile locates the configuration file:
//  1. the explicit path, if given
//  2. .torcirc.yml in the current directory
//  3. .torcirc.yml in the user's home directory
//
// Returns an empty string when no file is found.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return ""
}
