// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ledgerseq/internal/errors"
	"github.com/kraklabs/ledgerseq/internal/ui"
)

// runReset executes the 'reset' CLI command, deleting all pipeline data.
func runReset(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ledgerseq reset [options]

Description:
  WARNING: This is a destructive operation that deletes all pipeline
  outputs for the current project.

  Removes the configured data directory, including:
  - The entity index
  - All partition logs
  - All sequence tensors and graph artifacts
  - All phase checkpoints

  Use this if the data directory is corrupted or you want to start
  fresh. You'll need to re-run 'ledgerseq run' after resetting.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Reset pipeline data
  ledgerseq reset --yes

Notes:
  This only affects pipeline outputs. Configuration and input files are
  not deleted. To reset configuration, use 'ledgerseq init --force'.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*confirm {
		errors.FatalError(errors.NewInputError(
			"Confirmation required",
			"The --yes flag is required to confirm this destructive operation",
			"Run 'ledgerseq reset --yes' to confirm that you want to delete all pipeline data",
		), globals.JSON)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON) // LoadConfig returns UserError
	}

	dataDir := cfg.Paths.DataDir
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "No pipeline data found for project %s\n", cfg.ProjectID)
		return
	}

	fmt.Printf("Resetting project %s (deleting %s)...\n", cfg.ProjectID, dataDir)

	if err := os.RemoveAll(dataDir); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot delete data directory",
			fmt.Sprintf("Failed to remove %s - permission denied or file locked", dataDir),
			"Check directory permissions, ensure no other ledgerseq processes are running, and try again",
			err,
		), globals.JSON)
	}

	ui.Success("Reset complete. All pipeline data has been deleted.")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  ledgerseq run    Rebuild the pipeline outputs")
}
