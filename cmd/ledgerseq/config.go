// Copyright 2025 KrakLabs
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
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/ledgerseq/internal/errors"
)

const (
	defaultConfigDir  = ".ledgerseq"
	defaultConfigFile = "pipeline.yaml"
	configVersion     = "1"
)

// Config represents the .ledgerseq/pipeline.yaml configuration file.
type Config struct {
	Version   string          `yaml:"version"`
	ProjectID string          `yaml:"project_id"`
	Paths     PathsConfig     `yaml:"paths"`
	Extract   ExtractConfig   `yaml:"extract"`
	Sequences SequencesConfig `yaml:"sequences"`
	Graph     GraphConfig     `yaml:"graph"`
}

// PathsConfig names the input tables and the pipeline data directory.
type PathsConfig struct {
	// Entities is the entity reference table (entity_id,component_id).
	Entities string `yaml:"entities"`

	// Components is the component label table (component_id,label).
	Components string `yaml:"components"`

	// Relationships is the curated relationship table (src,dst,time_key).
	Relationships string `yaml:"relationships"`

	// Ledger is the oversized ledger CSV, optionally gzip-compressed.
	Ledger string `yaml:"ledger"`

	// DataDir holds all pipeline outputs and checkpoints.
	DataDir string `yaml:"data_dir"`
}

// ExtractConfig contains streaming extraction settings.
type ExtractConfig struct {
	FeatureWidth       int  `yaml:"feature_width"`       // fixed feature vector width F
	ChunkSize          int  `yaml:"chunk_size"`          // records per scan step
	CheckpointInterval int  `yaml:"checkpoint_interval"` // chunks between checkpoints
	Resume             bool `yaml:"resume"`              // resume from checkpoint when valid
}

// SequencesConfig contains sequence builder settings.
type SequencesConfig struct {
	Window             int `yaml:"window"`              // window length K
	CheckpointInterval int `yaml:"checkpoint_interval"` // entities between checkpoints
	Workers            int `yaml:"workers"`             // parallel shards (1 = sequential)
}

// GraphConfig contains graph assembly and split settings.
type GraphConfig struct {
	TrainRatio float64 `yaml:"train_ratio"`
	ValRatio   float64 `yaml:"val_ratio"`
	Seed       int64   `yaml:"seed"`
}

// DefaultConfig returns a config with the standard pipeline defaults.
func DefaultConfig(projectID string) *Config {
	return &Config{
		Version:   configVersion,
		ProjectID: projectID,
		Paths: PathsConfig{
			Entities:      "data/entities.csv",
			Components:    "data/components.csv",
			Relationships: "data/relationships.csv",
			Ledger:        "data/ledger.csv",
			DataDir:       filepath.Join(defaultConfigDir, "data"),
		},
		Extract: ExtractConfig{
			FeatureWidth:       95,
			ChunkSize:          50000,
			CheckpointInterval: 1000,
			Resume:             true,
		},
		Sequences: SequencesConfig{
			Window:             50,
			CheckpointInterval: 10000,
			Workers:            1,
		},
		Graph: GraphConfig{
			TrainRatio: 0.7,
			ValRatio:   0.15,
			Seed:       42,
		},
	}
}

// LoadConfig loads configuration from the specified path or finds it by
// walking up from the current directory. LEDGERSEQ_CONFIG_PATH overrides
// the search; environment overrides are applied after parsing.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("LEDGERSEQ_CONFIG_PATH")
	}
	if configPath == "" {
		var err error
		configPath, err = findConfigFile()
		if err != nil {
			return nil, err // findConfigFile returns UserError
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
			fmt.Sprintf("Edit %s to fix syntax errors, or run 'ledgerseq init --force' to recreate", configPath),
			err,
		)
	}

	if cfg.Version != configVersion {
		return nil, errors.NewConfigError(
			"Unsupported configuration version",
			fmt.Sprintf("Config version '%s' is not supported (expected '%s')", cfg.Version, configVersion),
			"Run 'ledgerseq init --force' to regenerate the configuration file",
			nil,
		)
	}

	// Relative paths in the config resolve against the config's directory,
	// so subcommands behave the same from any subdirectory.
	base := filepath.Dir(filepath.Dir(configPath))
	cfg.resolvePaths(base)
	cfg.applyEnvOverrides()

	return &cfg, nil
}

// SaveConfig writes the configuration to the specified path as YAML.
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
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("Permission denied creating %s", dir),
			"Check directory permissions or run with appropriate privileges",
			err,
		)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return errors.NewPermissionError(
			"Cannot write configuration file",
			fmt.Sprintf("Permission denied writing to %s", configPath),
			"Check file permissions and ensure sufficient disk space",
			err,
		)
	}
	return nil
}

// ConfigPath returns <dir>/.ledgerseq/pipeline.yaml.
func ConfigPath(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// ConfigDir returns <dir>/.ledgerseq.
func ConfigDir(dir string) string {
	return filepath.Join(dir, defaultConfigDir)
}

// findConfigFile searches for .ledgerseq/pipeline.yaml in the current and
// parent directories.
func findConfigFile() (string, error) {
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
		"No .ledgerseq/pipeline.yaml file found in current directory or any parent directory",
		"Run 'ledgerseq init' to create a new configuration",
		nil,
	)
}

// resolvePaths makes relative config paths absolute against base.
func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Paths.Entities)
	resolve(&c.Paths.Components)
	resolve(&c.Paths.Relationships)
	resolve(&c.Paths.Ledger)
	resolve(&c.Paths.DataDir)
}

// applyEnvOverrides applies environment variable overrides.
//
// Supported:
//   - LEDGERSEQ_PROJECT_ID: override project identifier
//   - LEDGERSEQ_LEDGER: override ledger path
//   - LEDGERSEQ_DATA_DIR: override data directory
func (c *Config) applyEnvOverrides() {
	if id := os.Getenv("LEDGERSEQ_PROJECT_ID"); id != "" {
		c.ProjectID = id
	}
	if p := os.Getenv("LEDGERSEQ_LEDGER"); p != "" {
		c.Paths.Ledger = p
	}
	if p := os.Getenv("LEDGERSEQ_DATA_DIR"); p != "" {
		c.Paths.DataDir = p
	}
}
