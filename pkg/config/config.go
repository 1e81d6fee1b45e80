// Copyright 2025 Nova Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves the .nova/config.yaml workspace
// configuration: cache root, debounce windows, GC policy, memory budget,
// and source roots. Environment variables override file values after load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/novaide/nova/internal/errors"
	"github.com/novaide/nova/pkg/cachegc"
)

const (
	defaultConfigDir  = ".nova"
	defaultConfigFile = "config.yaml"
	configVersion     = "1"
)

// Config represents the .nova/config.yaml configuration file.
type Config struct {
	Version   string          `yaml:"version"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Cache     CacheConfig     `yaml:"cache"`
	Watch     WatchConfig     `yaml:"watch"`
	GC        GCConfig        `yaml:"gc"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// WorkspaceConfig names the roots the watcher and loader operate over.
type WorkspaceConfig struct {
	SourceRoots          []string `yaml:"source_roots"`
	GeneratedSourceRoots []string `yaml:"generated_source_roots,omitempty"`
}

// CacheConfig locates the global cache root.
type CacheConfig struct {
	Root string `yaml:"root,omitempty"` // empty means ~/.nova/cache
}

// WatchConfig holds the per-category debounce windows and the consumer-side
// minimum reload interval. 'nova watch' reads only MinReloadIntervalMs; its
// watcher uses fixed 200ms (source) and 1200ms (build) windows and does not
// read SourceDebounceMs or BuildDebounceMs.
type WatchConfig struct {
	SourceDebounceMs    int `yaml:"source_debounce_ms"`
	BuildDebounceMs     int `yaml:"build_debounce_ms"`
	MinReloadIntervalMs int `yaml:"min_reload_interval_ms"`
}

// GCConfig is the project-cache GC policy.
type GCConfig struct {
	MaxTotalBytes uint64 `yaml:"max_total_bytes"`
	MaxAgeMs      int64  `yaml:"max_age_ms,omitempty"` // 0 disables the age criterion
	KeepLatestN   int    `yaml:"keep_latest_n"`
}

// MemoryConfig sizes the in-process memory manager.
type MemoryConfig struct {
	BudgetBytes int64 `yaml:"budget_bytes"`
}

// DefaultConfig returns a config with sensible defaults for a standalone
// workspace rooted at the current directory.
func DefaultConfig() *Config {
	return &Config{
		Version: configVersion,
		Workspace: WorkspaceConfig{
			SourceRoots: []string{"src/main/java", "src/test/java"},
		},
		Watch: WatchConfig{
			SourceDebounceMs:    200,
			BuildDebounceMs:     1200,
			MinReloadIntervalMs: 2000,
		},
		GC: GCConfig{
			MaxTotalBytes: 8 << 30, // 8 GiB across all project caches
			KeepLatestN:   2,
		},
		Memory: MemoryConfig{
			BudgetBytes: 512 << 20,
		},
	}
}

// CacheRoot resolves the effective cache root with precedence:
// NOVA_CACHE_DIR > cache.root > ~/.nova/cache.
func (c *Config) CacheRoot() (string, error) {
	if v := os.Getenv("NOVA_CACHE_DIR"); v != "" {
		return v, nil
	}
	if c != nil && c.Cache.Root != "" {
		return c.Cache.Root, nil
	}
	root, err := cachegc.CacheRoot()
	if err != nil {
		return "", errors.NewInternalError(
			"Cannot determine home directory",
			"Operating system did not provide user home directory path",
			"Check your system configuration or set HOME environment variable",
			err,
		)
	}
	return root, nil
}

// LoadConfig loads configuration from the specified path or finds it
// automatically by walking up from the current directory. Environment
// variables are applied on top of file-based values after load.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("NOVA_CONFIG_PATH")
	}
	if configPath == "" {
		var err error
		configPath, err = findConfigFile()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // G304: path comes from user config or discovery
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", configPath),
			"Check file permissions and ensure the file exists",
			err,
		)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors, or delete it to start over", configPath),
			err,
		)
	}

	if cfg.Version != configVersion {
		return nil, errors.NewConfigError(
			"Unsupported configuration version",
			fmt.Sprintf("Config version '%s' is not supported (expected '%s')", cfg.Version, configVersion),
			"Regenerate the configuration file with 'nova config --init'",
			nil,
		)
	}

	cfg.applyEnvOverrides()
	return &cfg, nil
}

// SaveConfig writes the configuration to the specified path as YAML,
// creating the .nova directory if needed. The file is written to a
// temporary sibling and then renamed into place.
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug. Please report it with your configuration details",
			err,
		)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("Permission denied creating %s", dir),
			"Check directory permissions or run with appropriate privileges",
			err,
		)
	}

	tmp := configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("Permission denied writing to %s", tmp),
			"Check file permissions and ensure sufficient disk space",
			err,
		)
	}
	if err := os.Rename(tmp, configPath); err != nil {
		_ = os.Remove(tmp)
		return errors.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("Failed to replace %s", configPath),
			"Check file permissions and ensure sufficient disk space",
			err,
		)
	}

	return nil
}

// ConfigPath returns <dir>/.nova/config.yaml.
func ConfigPath(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// ConfigDir returns <dir>/.nova.
func ConfigDir(dir string) string {
	return filepath.Join(dir, defaultConfigDir)
}

// FindWorkspaceRoot returns the directory owning the discovered
// .nova/config.yaml, or fallback when no configuration exists upward of
// the current directory. Commands that operate on "the workspace" anchor
// themselves here rather than on whatever directory they were invoked
// from.
func FindWorkspaceRoot(fallback string) string {
	configPath, err := findConfigFile()
	if err != nil {
		return fallback
	}
	return filepath.Dir(filepath.Dir(configPath))
}

// findConfigFile searches for .nova/config.yaml in the current directory
// and every parent up to the filesystem root.
func findConfigFile() (string, error) {
	if configPath := os.Getenv("NOVA_CONFIG_PATH"); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", errors.NewConfigError(
			"Configuration file not found",
			fmt.Sprintf("NOVA_CONFIG_PATH is set to '%s' but the file does not exist", configPath),
			"Fix the NOVA_CONFIG_PATH environment variable or create the config file",
			nil,
		)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"Check system permissions and try again",
			err,
		)
	}

	for {
		configPath := ConfigPath(dir)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.NewConfigError(
		"Configuration not found",
		"No .nova/config.yaml file found in current directory or any parent directory",
		"Run 'nova config --init' to create a new configuration",
		nil,
	)
}

// applyEnvOverrides applies environment variable overrides on top of the
// file-based configuration.
//
// Supported environment variables:
//   - NOVA_CACHE_DIR: override the cache root
//   - NOVA_MEMORY_BUDGET_BYTES: override the memory manager budget
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("NOVA_CACHE_DIR"); dir != "" {
		c.Cache.Root = dir
	}
	if v := os.Getenv("NOVA_MEMORY_BUDGET_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Memory.BudgetBytes = n
		}
	}
}
