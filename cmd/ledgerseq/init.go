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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ledgerseq/internal/errors"
	"github.com/kraklabs/ledgerseq/internal/ui"
)

// initFlags holds parsed flags for the init command.
type initFlags struct {
	force, nonInteractive           bool
	projectID, ledger, dataDir      string
	entities, components, relations string
}

// runInit creates the .ledgerseq/pipeline.yaml configuration. Interactive
// by default; -y accepts all defaults.
func runInit(args []string, globals GlobalFlags) {
	flags := parseInitFlags(args)

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"This is unexpected. Please report this issue if it persists",
			err,
		), globals.JSON)
	}

	configPath := ConfigPath(cwd)
	if _, err := os.Stat(configPath); err == nil && !flags.force {
		errors.FatalError(errors.NewInputError(
			"Configuration already exists",
			fmt.Sprintf("%s already exists in this directory", configPath),
			"Use 'ledgerseq init --force' to overwrite the existing configuration",
		), globals.JSON)
	}

	cfg := createInitConfig(cwd, flags)

	if !flags.nonInteractive {
		runInteractiveConfig(bufio.NewReader(os.Stdin), cfg)
	}

	if err := os.MkdirAll(ConfigDir(cwd), 0750); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot create .ledgerseq directory",
			fmt.Sprintf("Permission denied creating directory: %s", ConfigDir(cwd)),
			"Check directory permissions or run with appropriate privileges",
			err,
		), globals.JSON)
	}
	if err := SaveConfig(cfg, configPath); err != nil {
		errors.FatalError(err, globals.JSON) // SaveConfig returns UserError
	}

	ui.Successf("Created %s", configPath)
	printNextSteps()
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.BoolVar(&f.force, "force", false, "Overwrite existing configuration")
	fs.BoolVarP(&f.nonInteractive, "yes", "y", false, "Non-interactive mode (use defaults)")
	fs.StringVar(&f.projectID, "project-id", "", "Project identifier (default: directory name)")
	fs.StringVar(&f.ledger, "ledger", "", "Path to the ledger CSV (optionally .gz)")
	fs.StringVar(&f.entities, "entities", "", "Path to the entity reference table")
	fs.StringVar(&f.components, "components", "", "Path to the component label table")
	fs.StringVar(&f.relations, "relationships", "", "Path to the relationship table")
	fs.StringVar(&f.dataDir, "data-dir", "", "Pipeline data directory")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ledgerseq init [options]

Description:
  Create a .ledgerseq/pipeline.yaml configuration file for the current
  directory.

  By default, runs in interactive mode with prompts for each setting.
  Use -y for non-interactive mode with sensible defaults.

  The configuration defines:
  - Input table and ledger locations
  - Extraction parameters (feature width, chunk size, checkpoint interval)
  - Sequence window length and worker count
  - Graph split ratios and shuffle seed

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Interactive setup with prompts
  ledgerseq init

  # Non-interactive with all defaults
  ledgerseq init -y

  # Point at existing input files
  ledgerseq init --ledger /data/ledger.csv.gz --entities /data/entities.csv

Notes:
  Configuration is stored in .ledgerseq/pipeline.yaml. You can edit this
  file manually or re-run init with --force to recreate.

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	return f
}

func createInitConfig(cwd string, f initFlags) *Config {
	pid := f.projectID
	if pid == "" {
		pid = filepath.Base(cwd)
	}
	cfg := DefaultConfig(pid)
	if f.ledger != "" {
		cfg.Paths.Ledger = f.ledger
	}
	if f.entities != "" {
		cfg.Paths.Entities = f.entities
	}
	if f.components != "" {
		cfg.Paths.Components = f.components
	}
	if f.relations != "" {
		cfg.Paths.Relationships = f.relations
	}
	if f.dataDir != "" {
		cfg.Paths.DataDir = f.dataDir
	}
	return cfg
}

func runInteractiveConfig(reader *bufio.Reader, cfg *Config) {
	ui.Header("Pipeline Configuration")
	fmt.Println()

	cfg.ProjectID = prompt(reader, "Project ID", cfg.ProjectID)
	cfg.Paths.Ledger = prompt(reader, "Ledger path", cfg.Paths.Ledger)
	cfg.Paths.Entities = prompt(reader, "Entity table path", cfg.Paths.Entities)
	cfg.Paths.Components = prompt(reader, "Component table path", cfg.Paths.Components)
	cfg.Paths.Relationships = prompt(reader, "Relationship table path", cfg.Paths.Relationships)

	fmt.Println()
	widthStr := prompt(reader, "Feature width (columns after src,dst,time_key)", fmt.Sprintf("%d", cfg.Extract.FeatureWidth))
	var width int
	if _, err := fmt.Sscanf(widthStr, "%d", &width); err == nil && width > 0 {
		cfg.Extract.FeatureWidth = width
	}
	windowStr := prompt(reader, "Sequence window length", fmt.Sprintf("%d", cfg.Sequences.Window))
	var window int
	if _, err := fmt.Sscanf(windowStr, "%d", &window); err == nil && window > 0 {
		cfg.Sequences.Window = window
	}
	fmt.Println()
}

func printNextSteps() {
	fmt.Println()
	ui.SubHeader("Next steps:")
	fmt.Printf("  1. Review and edit %s if needed\n", ui.DimText(".ledgerseq/pipeline.yaml"))
	fmt.Printf("  2. Run '%s' to build the entity index\n", ui.Cyan.Sprint("ledgerseq index"))
	fmt.Printf("  3. Run '%s' for the whole pipeline\n", ui.Cyan.Sprint("ledgerseq run"))
}

// prompt displays an interactive prompt and reads user input from stdin.
// An empty answer keeps the default value.
func prompt(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}
