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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ledgerseq/internal/errors"
	"github.com/kraklabs/ledgerseq/internal/ui"
	"github.com/kraklabs/ledgerseq/pkg/entityindex"
	"github.com/kraklabs/ledgerseq/pkg/extract"
	"github.com/kraklabs/ledgerseq/pkg/partition"
)

// runExtract executes the 'extract' CLI command, streaming the ledger into
// per-entity partition logs.
//
// Flags:
//   - --full: Ignore checkpoints and extract from the beginning
//   - --chunk-size: Override the configured records-per-chunk
//   - --debug: Enable debug logging (default: false)
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//
// Examples:
//
//	ledgerseq extract                  Incremental extraction (resumes)
//	ledgerseq extract --full           Force extraction from scratch
//	ledgerseq extract --metrics-addr :9090
func runExtract(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	full := fs.Bool("full", false, "Ignore checkpoints and extract from the beginning")
	chunkSize := fs.Int("chunk-size", 0, "Records per chunk (0 = config value)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ledgerseq extract [options]

Description:
  Stream the configured ledger and route every record whose source or
  destination is a known entity into that entity's partition log. The
  ledger is read in fixed-size chunks; partition writes are flushed
  before each checkpoint, so an interrupted run resumes from the last
  checkpoint without losing or duplicating records.

  A changed ledger file (different size, mtime, or content prefix)
  invalidates the checkpoint and restarts extraction from the beginning.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Extract, resuming from the last checkpoint if one exists
  ledgerseq extract

  # Force extraction from the beginning
  ledgerseq extract --full

  # Enable debug logging and expose metrics
  ledgerseq extract --debug --metrics-addr :9090

Notes:
  Extraction of a multi-GB ledger may take a long time. Interrupt with
  Ctrl-C at any point; the next run resumes from the last checkpoint.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON) // LoadConfig returns UserError
	}
	if *chunkSize > 0 {
		cfg.Extract.ChunkSize = *chunkSize
	}

	logger := newLogger(globals, *debug)
	startMetricsServer(*metricsAddr, logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	result, err := executeExtract(ctx, cfg, logger, *full, globals)
	if err != nil {
		errors.FatalError(errors.NewDataError(
			"Extraction failed",
			"An error occurred while streaming the ledger",
			"Check the error details above. Re-running resumes from the last checkpoint",
			err,
		), globals.JSON)
	}

	printExtractResult(result)
}

// executeExtract wires the index, partition store, and extractor together.
// Shared with 'run'.
func executeExtract(ctx context.Context, cfg *Config, logger *slog.Logger, full bool, globals GlobalFlags) (*extract.Result, error) {
	index, err := entityindex.Load(IndexPath(cfg.Paths.DataDir))
	if err != nil {
		return nil, fmt.Errorf("load entity index: %w", err)
	}

	store, err := partition.NewFileStore(PartitionsDir(cfg.Paths.DataDir), cfg.Extract.FeatureWidth)
	if err != nil {
		return nil, fmt.Errorf("open partition store: %w", err)
	}
	defer func() { _ = store.Close() }()

	extractor := extract.New(extract.Config{
		LedgerPath:         cfg.Paths.Ledger,
		FeatureWidth:       cfg.Extract.FeatureWidth,
		ChunkSize:          cfg.Extract.ChunkSize,
		CheckpointInterval: cfg.Extract.CheckpointInterval,
		ForceRestart:       full || !cfg.Extract.Resume,
	}, index, store, CheckpointDir(cfg.Paths.DataDir), logger)

	progressCfg := NewProgressConfig(globals)
	var bar *progressbar.ProgressBar
	extractor.SetProgressCallback(func(current, total int64, phase string) {
		if bar == nil {
			if total <= 0 {
				total = -1 // spinner for gzip input
			}
			bar = NewProgressBar(progressCfg, total, "Extracting records")
		}
		if bar != nil {
			_ = bar.Set64(current)
		}
	})

	result, err := extractor.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	return result, err
}

// printExtractResult prints the extraction summary to stdout.
func printExtractResult(result *extract.Result) {
	fmt.Println()

	if result.Interrupted {
		ui.Header("Extraction Interrupted")
		_, _ = ui.Yellow.Println("Progress was checkpointed. Re-run 'ledgerseq extract' to resume.")
	} else {
		ui.Header("Extraction Complete")
	}

	if result.Resumed {
		fmt.Printf("Resumed from cursor: %s\n", ui.DimText(fmt.Sprintf("%d", result.ResumeCursor)))
	}
	fmt.Printf("Records Scanned: %s\n", ui.CountText(int(result.RecordsScanned)))
	fmt.Printf("Records Matched: %s\n", ui.CountText(int(result.RecordsMatched)))
	fmt.Printf("Records Discarded: %s\n", ui.CountText(int(result.RecordsDiscard)))
	if result.ParseErrors > 0 {
		_, _ = ui.Yellow.Printf("Parse Errors: %d\n", result.ParseErrors)
	}
	fmt.Printf("Chunks Processed: %s\n", ui.CountText(int(result.ChunksProcessed)))
	fmt.Printf("Max Time Key: %s\n", ui.CountText(int(result.MaxTimeKey)))
	fmt.Println()
	fmt.Printf("Duration: %s\n", ui.DimText(result.Duration.String()))
}

// startMetricsServer exposes /metrics on addr when non-empty.
func startMetricsServer(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	return ctx, cancel
}
