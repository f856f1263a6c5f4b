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
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ledgerseq/internal/errors"
	"github.com/kraklabs/ledgerseq/internal/ui"
	"github.com/kraklabs/ledgerseq/pkg/checkpoint"
	"github.com/kraklabs/ledgerseq/pkg/entityindex"
	"github.com/kraklabs/ledgerseq/pkg/extract"
	"github.com/kraklabs/ledgerseq/pkg/partition"
	"github.com/kraklabs/ledgerseq/pkg/sequence"
)

// runSequences executes the 'sequences' CLI command, building one
// [2, K, F+1] tensor per entity from its partition logs.
//
// Flags:
//   - --full: Ignore checkpoints and rebuild every tensor
//   - --workers: Parallel shards (overrides config; 1 = sequential)
//   - --debug: Enable debug logging (default: false)
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//
// Examples:
//
//	ledgerseq sequences                Build tensors (resumes)
//	ledgerseq sequences --workers 4    Build with 4 parallel shards
func runSequences(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("sequences", flag.ExitOnError)
	full := fs.Bool("full", false, "Ignore checkpoints and rebuild every tensor")
	workers := fs.Int("workers", 0, "Parallel shards (0 = config value)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ledgerseq sequences [options]

Description:
  Build one fixed-shape [2, K, F+1] tensor per entity: inbound and
  outbound records are sorted by time key, windowed to the most recent K,
  left-padded with sentinel rows, and annotated with a normalized time
  column. Tensors are written atomically, so an interrupted run resumes
  from the last checkpoint and re-emitting an entity is harmless.

  With --workers N entities are sharded by index modulo N; each shard
  keeps its own checkpoint.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Build sequences, resuming from the last checkpoint
  ledgerseq sequences

  # Rebuild everything with 4 parallel shards
  ledgerseq sequences --full --workers 4

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

	result, err := executeSequences(ctx, cfg, logger, *full, globals)
	if err != nil {
		errors.FatalError(errors.NewDataError(
			"Sequence build failed",
			"An error occurred while building entity tensors",
			"Check the error details above. Re-running resumes from the last checkpoint",
			err,
		), globals.JSON)
	}

	printSequencesResult(result)
}

// executeSequences wires the index, partition store, and sequence builder
// together. Shared with 'run'.
func executeSequences(ctx context.Context, cfg *Config, logger *slog.Logger, full bool, globals GlobalFlags) (*sequence.Result, error) {
	indexPath := IndexPath(cfg.Paths.DataDir)
	index, err := entityindex.Load(indexPath)
	if err != nil {
		return nil, fmt.Errorf("load entity index: %w", err)
	}
	indexFP, err := checkpoint.Fingerprint(indexPath)
	if err != nil {
		return nil, fmt.Errorf("fingerprint entity index: %w", err)
	}

	store, err := partition.NewFileStore(PartitionsDir(cfg.Paths.DataDir), cfg.Extract.FeatureWidth)
	if err != nil {
		return nil, fmt.Errorf("open partition store: %w", err)
	}
	defer func() { _ = store.Close() }()

	// The extraction summary carries the observed maximum time key. When it
	// is missing the builder derives one from the partitions directly.
	var maxTimeKey int64
	if summary, err := extract.LoadSummary(CheckpointDir(cfg.Paths.DataDir)); err == nil && summary != nil {
		maxTimeKey = summary.MaxTimeKey
	}

	builder := sequence.New(sequence.Config{
		OutputDir:          SequencesDir(cfg.Paths.DataDir),
		Window:             cfg.Sequences.Window,
		FeatureWidth:       cfg.Extract.FeatureWidth,
		CheckpointInterval: cfg.Sequences.CheckpointInterval,
		Workers:            cfg.Sequences.Workers,
		MaxTimeKey:         maxTimeKey,
		ForceRestart:       full,
	}, index, store, CheckpointDir(cfg.Paths.DataDir), indexFP, logger)

	progressCfg := NewProgressConfig(globals)
	var bar *progressbar.ProgressBar
	builder.SetProgressCallback(func(current, total int64, phase string) {
		if bar == nil {
			bar = NewProgressBar(progressCfg, total, "Building sequences")
		}
		if bar != nil {
			_ = bar.Set64(current)
		}
	})

	result, err := builder.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	return result, err
}

// printSequencesResult prints the sequence build summary to stdout.
func printSequencesResult(result *sequence.Result) {
	fmt.Println()

	if result.Interrupted {
		ui.Header("Sequence Build Interrupted")
		_, _ = ui.Yellow.Println("Progress was checkpointed. Re-run 'ledgerseq sequences' to resume.")
	} else {
		ui.Header("Sequence Build Complete")
	}

	fmt.Printf("Entities: %s / %s\n", ui.CountText(int(result.EntitiesProcessed)), ui.CountText(result.EntitiesTotal))
	if result.EntitiesSkipped > 0 {
		fmt.Printf("Already Built (skipped): %s\n", ui.DimText(fmt.Sprintf("%d", result.EntitiesSkipped)))
	}
	fmt.Printf("Empty Inbound Logs: %s\n", ui.CountText(int(result.EmptyInbound)))
	fmt.Printf("Empty Outbound Logs: %s\n", ui.CountText(int(result.EmptyOutbound)))
	fmt.Printf("Windows Truncated: %s\n", ui.CountText(int(result.Truncated)))
	fmt.Printf("Max Time Key: %s\n", ui.CountText(int(result.MaxTimeKey)))
	fmt.Println()
	fmt.Printf("Duration: %s\n", ui.DimText(result.Duration.String()))
}
