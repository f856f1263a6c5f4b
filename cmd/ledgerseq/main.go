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
// Package main implements the ledgerseq CLI, a crash-resumable pipeline that
// turns an oversized relationship ledger into fixed-shape temporal tensors
// and graph artifacts for a curated entity universe.
//
// Usage:
//
//	ledgerseq init                 Create .ledgerseq/pipeline.yaml configuration
//	ledgerseq index                Build the entity index from reference tables
//	ledgerseq extract              Stream the ledger into per-entity partitions
//	ledgerseq sequences            Build per-entity sequence tensors
//	ledgerseq graph                Assemble graph artifacts and splits
//	ledgerseq run                  Run index, extract, sequences, graph in order
//	ledgerseq status [--json]      Show pipeline status
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ledgerseq/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool // Output in JSON format (for applicable commands)
	NoColor bool // Disable color output
	Verbose int  // Verbosity level: 0=normal, 1=-v (info), 2=-vv (debug)
	Quiet   bool // Suppress non-essential output (progress, info messages)
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .ledgerseq/pipeline.yaml (default: discovered from cwd)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	// Stop parsing at the first non-flag argument (the command name) so
	// subcommand flags like "extract --full" reach the subcommand parsers.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ledgerseq - Ledger Sequence Pipeline

ledgerseq streams a large timestamped relationship ledger and produces
fixed-shape temporal tensors, per-entity partition logs, and graph
artifacts for a curated entity universe. All long phases checkpoint
their progress and resume after interruption.

Usage:
  ledgerseq <command> [options]

Commands:
  init          Create .ledgerseq/pipeline.yaml configuration
  index         Build the entity index from reference tables
  extract       Stream the ledger into per-entity partition logs
  sequences     Build per-entity [2, K, F+1] sequence tensors
  graph         Assemble edge tensors and stratified splits
  run           Run index, extract, sequences, graph in order
  status        Show pipeline status
  reset         Delete pipeline data (destructive!)

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output (progress, info messages)
  -c, --config      Path to .ledgerseq/pipeline.yaml
  -V, --version     Show version and exit

Examples:
  ledgerseq init                     Create configuration interactively
  ledgerseq index                    Build the entity index
  ledgerseq extract                  Stream the ledger (resumes if interrupted)
  ledgerseq extract --full           Force extraction from the beginning
  ledgerseq sequences --workers 4    Build sequences with 4 parallel shards
  ledgerseq run                      Run the whole pipeline end to end
  ledgerseq status --json            Machine-readable pipeline status

Getting Started:
  1. Initialize configuration:  ledgerseq init
  2. Build the entity index:    ledgerseq index
  3. Run the full pipeline:     ledgerseq run
  4. Check progress any time:   ledgerseq status

Data Storage:
  Pipeline outputs and checkpoints live in the configured data directory
  (default: .ledgerseq/data/)

Environment Variables:
  LEDGERSEQ_CONFIG_PATH  Explicit path to pipeline.yaml
  LEDGERSEQ_LEDGER       Override the ledger input path
  LEDGERSEQ_DATA_DIR     Override the data directory

For detailed command help: ledgerseq <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("ledgerseq version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	// JSON mode auto-enables quiet so progress bars cannot corrupt output.
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}

	if globals.NoColor {
		ui.DisableColor()
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "index":
		runIndex(cmdArgs, *configPath, globals)
	case "extract":
		runExtract(cmdArgs, *configPath, globals)
	case "sequences":
		runSequences(cmdArgs, *configPath, globals)
	case "graph":
		runGraph(cmdArgs, *configPath, globals)
	case "run":
		runAll(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "reset":
		runReset(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

