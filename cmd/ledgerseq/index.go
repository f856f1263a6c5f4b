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
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ledgerseq/internal/errors"
	"github.com/kraklabs/ledgerseq/internal/ui"
	"github.com/kraklabs/ledgerseq/pkg/entityindex"
)

// runIndex executes the 'index' CLI command, building the entity index from
// the reference tables and persisting it to the data directory.
//
// Flags:
//   - --debug: Enable debug logging (default: false)
//
// Examples:
//
//	ledgerseq index            Build and persist the entity index
func runIndex(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ledgerseq index [options]

Description:
  Build the entity index from the configured reference tables: the entity
  table assigns every entity a dense index in first-seen order, the
  component table supplies labels, and the relationship table is validated
  against the entity universe.

  The index is written atomically to <data_dir>/index.json. Rebuilding on
  unchanged inputs produces identical indices.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Build the entity index
  ledgerseq index

Notes:
  A changed entity table invalidates downstream checkpoints: extraction
  and sequencing detect the new index fingerprint and start cold.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON) // LoadConfig returns UserError
	}

	logger := newLogger(globals, *debug)

	result, err := executeIndex(cfg, logger)
	if err != nil {
		errors.FatalError(errors.NewDataError(
			"Entity index build failed",
			"The reference tables could not be turned into a consistent index",
			"Check the error details above and fix the offending table row",
			err,
		), globals.JSON)
	}

	printIndexResult(cfg, result)
}

// executeIndex builds and persists the entity index. Shared with 'run'.
func executeIndex(cfg *Config, logger *slog.Logger) (*entityindex.BuildResult, error) {
	builder := entityindex.NewBuilder(logger)
	result, err := builder.Build(entityindex.Sources{
		Entities:      cfg.Paths.Entities,
		Components:    cfg.Paths.Components,
		Relationships: cfg.Paths.Relationships,
	})
	if err != nil {
		return nil, err
	}

	if err := result.Index.Save(IndexPath(cfg.Paths.DataDir)); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}
	return result, nil
}

// printIndexResult prints the index build summary to stdout.
func printIndexResult(cfg *Config, result *entityindex.BuildResult) {
	counts := result.Index.LabelCounts()

	ui.Header("Entity Index Built")
	fmt.Printf("%s %s\n", ui.Label("Project ID:"), cfg.ProjectID)
	fmt.Printf("Entities: %s\n", ui.CountText(result.Entities))
	fmt.Printf("Components: %s\n", ui.CountText(result.Components))
	fmt.Printf("Relationships: %s\n", ui.CountText(result.Relationships))
	fmt.Printf("Licit: %s\n", ui.CountText(counts[entityindex.LabelLicit]))
	fmt.Printf("Suspicious: %s\n", ui.CountText(counts[entityindex.LabelSuspicious]))
	if result.Unlabeled > 0 {
		_, _ = ui.Yellow.Printf("Unlabeled: %d\n", result.Unlabeled)
	}
	fmt.Println()
	fmt.Printf("Duration: %s\n", ui.DimText(result.Duration.String()))
	fmt.Printf("Index stored in: %s\n", ui.DimText(IndexPath(cfg.Paths.DataDir)))
}
