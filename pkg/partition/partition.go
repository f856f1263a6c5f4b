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

// Package partition implements the per-entity append-only observation logs.
//
// Each entity has two logs, inbound and outbound. Records are appended in
// scan order and never rewritten; the sequence builder reads them back in
// that order. The Store interface hides the physical layout so the builder
// works the same whether partitions are separate files or sharded segments.
package partition

import (
	"errors"
	"fmt"
)

// Direction distinguishes an entity's two partition logs.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// String returns the direction's file suffix.
func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// Record is one relationship observation as seen from one entity.
type Record struct {
	// Counterpart is the dense index of the other endpoint, or -1 when the
	// counterpart is outside the entity universe.
	Counterpart int32

	// TimeKey orders the observation in time.
	TimeKey int64

	// Features is the fixed-width numeric feature vector.
	Features []float32
}

// ErrCorruptLog indicates a partition log that cannot be decoded.
var ErrCorruptLog = errors.New("partition: corrupt log")

// Store is the capability set over partition logs.
//
// Append buffers; Flush makes everything appended so far durable. The
// extractor relies on Flush completing before a checkpoint is saved.
type Store interface {
	// Append buffers records for one entity's log in one direction.
	Append(idx int, dir Direction, recs ...Record) error

	// ReadAll returns every record of one entity's log in append order.
	// A missing log yields an empty slice, not an error.
	ReadAll(idx int, dir Direction) ([]Record, error)

	// Exists reports whether the entity has any records in the direction.
	Exists(idx int, dir Direction) (bool, error)

	// Flush persists all buffered appends.
	Flush() error

	// Reset discards every partition log. Used on cold start when no valid
	// checkpoint exists: a prior interrupted run cannot be trusted to be
	// append-safe.
	Reset() error

	// Close flushes and releases resources.
	Close() error
}

// widthError builds the standard feature-width mismatch error.
func widthError(path string, line, got, want int) error {
	return fmt.Errorf("%w: %s line %d has %d features, want %d", ErrCorruptLog, path, line, got, want)
}
