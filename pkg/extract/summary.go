// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Summary holds the extractor's running totals across resumes. It is saved
// right before each checkpoint (after the partition flush), so a resumed
// run continues the counts instead of restarting them, and the conservation
// property holds across interruptions.
type Summary struct {
	Fingerprint     string `json:"fingerprint"`
	RecordsScanned  int64  `json:"records_scanned"`
	RecordsMatched  int64  `json:"records_matched"`
	RecordsDiscard  int64  `json:"records_discarded"`
	ParseErrors     int64  `json:"parse_errors"`
	ChunksProcessed int64  `json:"chunks_processed"`

	// MaxTimeKey is the largest time key seen on any matched record. The
	// sequence builder normalizes time keys against it.
	MaxTimeKey int64 `json:"max_time_key"`
}

// summaryPath returns the summary file location inside the checkpoint dir.
func summaryPath(checkpointDir string) string {
	return filepath.Join(checkpointDir, "extract-summary.json")
}

// loadSummary reads a prior summary; returns nil when absent or when the
// fingerprint no longer matches (input changed, totals invalid).
func loadSummary(checkpointDir, fingerprint string) (*Summary, error) {
	data, err := os.ReadFile(summaryPath(checkpointDir)) //nolint:gosec // G304: path built from checkpoint dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read extract summary: %w", err)
	}

	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nil // corrupt summary: cold start, same as a stale checkpoint
	}
	if s.Fingerprint != fingerprint {
		return nil, nil
	}
	return &s, nil
}

// save writes the summary atomically. The summary is saved before the
// checkpoint, so on a cold start this is the first write into the
// checkpoint dir and must create it.
func (s *Summary) save(checkpointDir string) error {
	if err := os.MkdirAll(checkpointDir, 0750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal extract summary: %w", err)
	}

	path := summaryPath(checkpointDir)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write extract summary temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename extract summary: %w", err)
	}
	return nil
}

// clearSummary removes a stale summary on cold start.
func clearSummary(checkpointDir string) {
	_ = os.Remove(summaryPath(checkpointDir))
}

// LoadSummary reads the persisted extraction summary for downstream phases
// (sequence normalization, status reporting). Returns nil when no
// extraction has completed a checkpoint yet.
func LoadSummary(checkpointDir string) (*Summary, error) {
	data, err := os.ReadFile(summaryPath(checkpointDir)) //nolint:gosec // G304: path built from checkpoint dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read extract summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse extract summary: %w", err)
	}
	return &s, nil
}
