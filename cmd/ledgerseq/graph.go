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
	"github.com/kraklabs/ledgerseq/pkg/extract"
	"github.com/kraklabs/ledgerseq/pkg/graph"
)

// runGraph executes the 'graph' CLI command, assembling the edge tensors,
// split file, and metadata from the entity index and relationship table.
//
// Flags:
//   - --seed: Override the configured shuffle seed
//   - --debug: Enable debug logging (default: false)
//
// Examples:
//
//	ledgerseq graph            Assemble graph artifacts
//	ledgerseq graph --seed 7   Reproduce splits with a specific seed
func runGraph(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	seed := fs.Int64("seed", -1, "Shuffle seed for splits (-1 = config value)")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ledgerseq graph [options]

Description:
  Assemble the relationship graph artifacts: an edge index tensor, an
  edge attribute tensor with normalized time keys, a deterministic
  stratified train/val/test split over labeled entities, and a metadata
  file describing the whole dataset.

  The same seed and inputs always produce the same split. Unlabeled
  entities are excluded from all splits.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Assemble graph artifacts with the configured seed
  ledgerseq graph

  # Reproduce a split with an explicit seed
  ledgerseq graph --seed 7

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON) // LoadConfig returns UserError
	}
	if *seed >= 0 {
		cfg.Graph.Seed = *seed
	}

	logger := newLogger(globals, *debug)

	result, err := executeGraph(cfg, logger)
	if err != nil {
		errors.FatalError(errors.NewDataError(
			"Graph assembly failed",
			"An error occurred while assembling graph artifacts",
			"Check the error details above and the relationship table",
			err,
		), globals.JSON)
	}

	printGraphResult(cfg, result)
}

// executeGraph wires the index and assembler together. Shared with 'run'.
func executeGraph(cfg *Config, logger *slog.Logger) (*graph.Result, error) {
	indexPath := IndexPath(cfg.Paths.DataDir)
	index, err := entityindex.Load(indexPath)
	if err != nil {
		return nil, fmt.Errorf("load entity index: %w", err)
	}

	var maxTimeKey int64
	if summary, err := extract.LoadSummary(CheckpointDir(cfg.Paths.DataDir)); err == nil && summary != nil {
		maxTimeKey = summary.MaxTimeKey
	}

	assembler := graph.New(graph.Config{
		RelationshipsPath: cfg.Paths.Relationships,
		OutputDir:         GraphDir(cfg.Paths.DataDir),
		Window:            cfg.Sequences.Window,
		FeatureWidth:      cfg.Extract.FeatureWidth,
		MaxTimeKey:        maxTimeKey,
		TrainRatio:        cfg.Graph.TrainRatio,
		ValRatio:          cfg.Graph.ValRatio,
		Seed:              cfg.Graph.Seed,
	}, index, logger)

	return assembler.Run()
}

// printGraphResult prints the graph assembly summary to stdout.
func printGraphResult(cfg *Config, result *graph.Result) {
	ui.Header("Graph Assembly Complete")
	fmt.Printf("Edges: %s\n", ui.CountText(result.Edges))
	fmt.Printf("Labeled Entities: %s\n", ui.CountText(result.Labeled))
	if result.Unlabeled > 0 {
		fmt.Printf("Unlabeled (excluded): %s\n", ui.DimText(fmt.Sprintf("%d", result.Unlabeled)))
	}
	fmt.Println()
	ui.SubHeader("Splits:")
	fmt.Printf("  Train: %s\n", ui.CountText(result.Train))
	fmt.Printf("  Val:   %s\n", ui.CountText(result.Val))
	fmt.Printf("  Test:  %s\n", ui.CountText(result.Test))
	fmt.Println()
	fmt.Printf("Duration: %s\n", ui.DimText(result.Duration.String()))
	fmt.Printf("Artifacts stored in: %s\n", ui.DimText(GraphDir(cfg.Paths.DataDir)))
}
