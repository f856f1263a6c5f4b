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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ledgerseq/internal/errors"
	"github.com/kraklabs/ledgerseq/internal/ui"
)

// runAll executes the 'run' CLI command: index, extract, sequences, graph
// in order, stopping at the first phase that fails. Failed phases leave
// their checkpoints behind, so a later 'run' resumes where this one
// stopped.
//
// Flags:
//   - --full: Ignore all checkpoints and rebuild everything
//   - --workers: Parallel shards for the sequence phase
//   - --debug: Enable debug logging (default: false)
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
func runAll(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	full := fs.Bool("full", false, "Ignore all checkpoints and rebuild everything")
	workers := fs.Int("workers", 0, "Parallel shards for the sequence phase (0 = config value)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ledgerseq run [options]

Description:
  Run the whole pipeline end to end: build the entity index, stream the
  ledger into partitions, build sequence tensors, and assemble graph
  artifacts. Execution stops at the first phase that fails; completed
  phases keep their outputs and checkpoints, so re-running continues
  where the failure occurred.

  An interrupt (Ctrl-C) checkpoints the active phase and stops cleanly.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Run the whole pipeline, resuming any interrupted phase
  ledgerseq run

  # Rebuild everything from scratch with 4 sequence shards
  ledgerseq run --full --workers 4

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON) // LoadConfig returns UserError
	}
	if *workers > 0 {
		cfg.Sequences.Workers = *workers
	}

	logger := newLogger(globals, *debug)
	startMetricsServer(*metricsAddr, logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	ui.Header("Pipeline Run")
	fmt.Printf("%s %s\n", ui.Label("Project ID:"), cfg.ProjectID)
	fmt.Println()

	// Phase 1: entity index.
	ui.SubHeader("[1/4] Entity index")
	indexResult, err := executeIndex(cfg, logger)
	if err != nil {
		errors.FatalError(errors.NewDataError(
			"Entity index build failed",
			"The pipeline stopped at the index phase",
			"Fix the reference tables and re-run 'ledgerseq run'",
			err,
		), globals.JSON)
	}
	ui.Successf("%d entities indexed", indexResult.Entities)

	// Phase 2: extraction.
	ui.SubHeader("[2/4] Extraction")
	extractResult, err := executeExtract(ctx, cfg, logger, *full, globals)
	if err != nil {
		errors.FatalError(errors.NewDataError(
			"Extraction failed",
			"The pipeline stopped at the extraction phase",
			"Check the error details above; re-running resumes from the last checkpoint",
			err,
		), globals.JSON)
	}
	if extractResult.Interrupted {
		stopInterrupted("extraction")
	}
	ui.Successf("%d records matched", extractResult.RecordsMatched)

	// Phase 3: sequences.
	ui.SubHeader("[3/4] Sequences")
	seqResult, err := executeSequences(ctx, cfg, logger, *full, globals)
	if err != nil {
		errors.FatalError(errors.NewDataError(
			"Sequence build failed",
			"The pipeline stopped at the sequence phase",
			"Check the error details above; re-running resumes from the last checkpoint",
			err,
		), globals.JSON)
	}
	if seqResult.Interrupted {
		stopInterrupted("sequence build")
	}
	ui.Successf("%d tensors written", seqResult.EntitiesProcessed)

	// Phase 4: graph.
	ui.SubHeader("[4/4] Graph")
	graphResult, err := executeGraph(cfg, logger)
	if err != nil {
		errors.FatalError(errors.NewDataError(
			"Graph assembly failed",
			"The pipeline stopped at the graph phase",
			"Check the error details above and the relationship table",
			err,
		), globals.JSON)
	}
	ui.Successf("%d edges, %d/%d/%d split", graphResult.Edges, graphResult.Train, graphResult.Val, graphResult.Test)

	fmt.Println()
	ui.Header("Pipeline Complete")
	fmt.Printf("Data stored in: %s\n", ui.DimText(cfg.Paths.DataDir))
}

// stopInterrupted reports a clean interruption and exits without error
// output: checkpoints are saved and the next run resumes.
func stopInterrupted(phase string) {
	fmt.Println()
	_, _ = ui.Yellow.Printf("Interrupted during %s. Progress was checkpointed.\n", phase)
	fmt.Println("Re-run 'ledgerseq run' to resume.")
	os.Exit(130)
}
