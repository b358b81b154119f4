// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves turretd's daemon configuration: catalog
// location, socket paths, replay window, and identity files, the way the
// teacher's project config is loaded and saved.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/overyonder/turret/internal/clierr"
)

const configVersion = "1"

// Config is turretd's on-disk configuration.
type Config struct {
	Version          string `yaml:"version"`
	BunkerPath       string `yaml:"bunker_path"`
	AgentSock        string `yaml:"agent_sock"`
	RepeaterSock     string `yaml:"repeater_sock"`
	ReplayWindowMs   uint64 `yaml:"replay_window_ms"`
	HostIdentity     string `yaml:"host_identity"`
	OperatorIdentity string `yaml:"operator_identity,omitempty"`
	MetricsAddr      string `yaml:"metrics_addr,omitempty"`
}

// DefaultConfig returns a Config with the conventional local paths and
// the spec's default replay window.
func DefaultConfig() *Config {
	return &Config{
		Version:        configVersion,
		BunkerPath:     ".turret/bunker.age",
		AgentSock:      "turret-agent.sock",
		RepeaterSock:   "turret-repeater.sock",
		ReplayWindowMs: 120_000,
		HostIdentity:   ".turret/host.key",
	}
}

// LoadConfig reads, parses, and version-checks the config file at path.
// TURRET_CONFIG_PATH overrides path when set and path is empty.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("TURRET_CONFIG_PATH"); env != "" {
			path = env
		} else {
			path = filepath.Join(".turret", "daemon.yaml")
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.NewConfigError(
			"Cannot read daemon configuration",
			fmt.Sprintf("Failed to read %s", path),
			"Check the file exists and is readable, or run 'turretctl bunker init' first",
			err,
		)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, clierr.NewConfigError(
			"Invalid daemon configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors", path),
			err,
		)
	}

	if cfg.Version != configVersion {
		return nil, clierr.NewConfigError(
			"Unsupported daemon configuration version",
			fmt.Sprintf("Config version %q is not supported (expected %q)", cfg.Version, configVersion),
			"Regenerate the configuration file for this version of turretd",
			nil,
		)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TURRET_BUNKER_PATH"); v != "" {
		cfg.BunkerPath = v
	}
	if v := os.Getenv("TURRET_AGENT_SOCK"); v != "" {
		cfg.AgentSock = v
	}
	if v := os.Getenv("TURRET_REPEATER_SOCK"); v != "" {
		cfg.RepeaterSock = v
	}
	if v := os.Getenv("TURRET_HOST_IDENTITY"); v != "" {
		cfg.HostIdentity = v
	}
	if v := os.Getenv("TURRET_OPERATOR_IDENTITY"); v != "" {
		cfg.OperatorIdentity = v
	}
	if v := os.Getenv("TURRET_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

// SaveConfig marshals cfg to YAML and writes it to path, creating the
// parent directory if necessary.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return clierr.NewInternalError(
			"Cannot encode daemon configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug, please report it with your configuration details",
			err,
		)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return clierr.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("Permission denied creating %s", dir),
			"Check directory permissions",
			err,
		)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return clierr.NewPermissionError(
			"Cannot write daemon configuration file",
			fmt.Sprintf("Permission denied writing to %s", path),
			"Check file permissions and available disk space",
			err,
		)
	}
	return nil
}
