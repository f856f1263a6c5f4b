// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"io"
	"log/slog"
	"os"
)

// newLogger builds the slog logger shared by the pipeline phases. The
// --debug subcommand flag or -vv raises the level to debug; quiet mode
// discards everything below warning.
func newLogger(globals GlobalFlags, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || globals.Verbose >= 2 {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	if globals.Quiet {
		level = slog.LevelWarn
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
