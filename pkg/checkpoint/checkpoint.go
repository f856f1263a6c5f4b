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

// Package checkpoint persists per-phase progress for crash-resumable runs.
//
// A checkpoint records a monotonically advancing cursor into a phase's input
// plus a fingerprint of that input. On load, a fingerprint mismatch means
// the input changed since the checkpoint was written: the checkpoint is
// stale and the phase must cold-start. Saves go through a temp file and an
// atomic rename so a crash mid-write never leaves a corrupt checkpoint
// visible to a later load.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrWriteFailed indicates a checkpoint could not be durably recorded.
// Phases must treat this as fatal: continuing without recorded progress
// accumulates work that cannot be recovered after a crash.
var ErrWriteFailed = errors.New("checkpoint: write failed")

// fingerprintSampleBytes is how much of the input head feeds the content
// hash. Enough to catch header/prefix edits without reading a 70 GB file.
const fingerprintSampleBytes = 64 * 1024

// Checkpoint is the persisted progress record for one phase.
type Checkpoint struct {
	// Phase tags which pipeline phase owns this checkpoint.
	Phase string `json:"phase"`

	// Cursor is the position in the phase's input up to which all output
	// has been flushed. Its interpretation is owned by the phase (byte
	// offset for seekable scans, record ordinal otherwise). It never
	// decreases across saves within a run.
	Cursor int64 `json:"cursor"`

	// Fingerprint identifies the input the cursor refers to.
	Fingerprint string `json:"fingerprint"`

	// Completed counts fully durable output units (chunks, entities).
	Completed int64 `json:"completed"`

	// UpdatedAt is when this checkpoint was saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes checkpoint files under a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a checkpoint store rooted at dir.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Load returns the checkpoint for phase, or nil if none exists or the
// stored fingerprint does not match currentFingerprint. A mismatch is a
// detected state (the input changed), not an error: it is logged as a
// warning and the phase cold-starts.
func (s *Store) Load(phase, currentFingerprint string) (*Checkpoint, error) {
	path := s.path(phase)

	data, err := os.ReadFile(path) //nolint:gosec // G304: path built from store dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // cold start
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// A corrupt checkpoint must never wedge the phase. Treat as absent.
		s.logger.Warn("checkpoint.corrupt", "phase", phase, "path", path, "err", err)
		return nil, nil
	}

	if cp.Fingerprint != currentFingerprint {
		s.logger.Warn("checkpoint.stale",
			"phase", phase,
			"stored_fingerprint", cp.Fingerprint,
			"current_fingerprint", currentFingerprint,
		)
		return nil, nil
	}

	return &cp, nil
}

// Save writes the checkpoint atomically. Saving an identical checkpoint is
// a no-op in effect: the same bytes replace themselves.
func (s *Store) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("%w: create checkpoint dir: %v", ErrWriteFailed, err)
	}

	cp.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrWriteFailed, err)
	}

	path := s.path(cp.Phase)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("%w: write temp: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %v", ErrWriteFailed, err)
	}
	return nil
}

// Clear removes the checkpoint for phase, if any.
func (s *Store) Clear(phase string) error {
	if err := os.Remove(s.path(phase)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func (s *Store) path(phase string) string {
	return filepath.Join(s.dir, fmt.Sprintf("checkpoint-%s.json", phase))
}

// Fingerprint computes a cheap, deterministic identity for an input file:
// size, mtime, and a content hash of the first 64 KiB. Two files with the
// same fingerprint are treated as the same input for resume purposes.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}

	f, err := os.Open(path) //nolint:gosec // G304: caller-provided input path
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.CopyN(h, f, fingerprintSampleBytes); err != nil && err != io.EOF {
		return "", fmt.Errorf("hash input head: %w", err)
	}

	return fmt.Sprintf("%d:%d:%s",
		info.Size(),
		info.ModTime().UnixNano(),
		hex.EncodeToString(h.Sum(nil)[:8]),
	), nil
}
