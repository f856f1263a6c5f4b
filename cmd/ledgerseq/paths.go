// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import "path/filepath"

// Pipeline data layout under the configured data directory. Every phase
// reads and writes only inside its own subtree, except checkpoints, which
// are shared across phases.

// IndexPath returns the persisted entity index file.
func IndexPath(dataDir string) string {
	return filepath.Join(dataDir, "index.json")
}

// CheckpointDir returns the checkpoint directory shared by all phases.
func CheckpointDir(dataDir string) string {
	return filepath.Join(dataDir, "checkpoints")
}

// PartitionsDir returns the per-entity partition log root.
func PartitionsDir(dataDir string) string {
	return filepath.Join(dataDir, "partitions")
}

// SequencesDir returns the sequence tensor output root.
func SequencesDir(dataDir string) string {
	return filepath.Join(dataDir, "sequences")
}

// GraphDir returns the graph artifact directory.
func GraphDir(dataDir string) string {
	return filepath.Join(dataDir, "graph")
}
