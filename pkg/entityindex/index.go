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

// Package entityindex builds and persists the dense bidirectional mapping
// over the entity universe.
//
// The index is built once per run from the small reference tables, assigns
// dense indices in first-seen order of the entity table (so unchanged inputs
// reproduce identical indices), and is read-only afterwards. It is shared by
// the streaming extractor, the sequence builder, and the graph assembler
// without locking.
package entityindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Label is the categorical label attached to an entity's component.
type Label int8

const (
	LabelUnknown Label = iota
	LabelLicit
	LabelSuspicious
)

// String returns the label name used in reference tables and reports.
func (l Label) String() string {
	switch l {
	case LabelLicit:
		return "licit"
	case LabelSuspicious:
		return "suspicious"
	default:
		return "unknown"
	}
}

// ParseLabel maps a reference-table label string to a Label.
func ParseLabel(s string) Label {
	switch s {
	case "licit":
		return LabelLicit
	case "suspicious":
		return LabelSuspicious
	default:
		return LabelUnknown
	}
}

// FormatVersion is the persisted index schema version.
const FormatVersion = 1

// Index is the immutable entity lookup structure.
//
// Invariant: IDToIndex and IndexToID are exact inverses and every index in
// [0, N) is populated.
type Index struct {
	// Version is the persisted schema version.
	Version int `json:"version"`

	// IDToIndex maps raw entity identifiers to dense indices.
	IDToIndex map[string]int `json:"id_to_index"`

	// IndexToID is the inverse mapping, positional.
	IndexToID []string `json:"index_to_id"`

	// Labels holds the categorical label per dense index.
	Labels []Label `json:"labels"`

	// ComponentOf holds the grouping identifier per dense index.
	ComponentOf []string `json:"component_of"`
}

// N returns the number of entities in the universe.
func (ix *Index) N() int {
	return len(ix.IndexToID)
}

// Lookup resolves a raw identifier to its dense index.
func (ix *Index) Lookup(id string) (int, bool) {
	idx, ok := ix.IDToIndex[id]
	return idx, ok
}

// IDOf returns the raw identifier for a dense index.
func (ix *Index) IDOf(idx int) string {
	return ix.IndexToID[idx]
}

// LabelOf returns the label for a dense index.
func (ix *Index) LabelOf(idx int) Label {
	return ix.Labels[idx]
}

// ComponentOfIndex returns the grouping identifier for a dense index.
func (ix *Index) ComponentOfIndex(idx int) string {
	return ix.ComponentOf[idx]
}

// LabelCounts returns the number of entities per label.
func (ix *Index) LabelCounts() map[Label]int {
	counts := make(map[Label]int, 3)
	for _, l := range ix.Labels {
		counts[l]++
	}
	return counts
}

// validate checks the inverse-mapping invariant after build or load.
func (ix *Index) validate() error {
	n := len(ix.IndexToID)
	if len(ix.IDToIndex) != n || len(ix.Labels) != n || len(ix.ComponentOf) != n {
		return fmt.Errorf("index arrays disagree on size: ids=%d map=%d labels=%d components=%d",
			n, len(ix.IDToIndex), len(ix.Labels), len(ix.ComponentOf))
	}
	for idx, id := range ix.IndexToID {
		got, ok := ix.IDToIndex[id]
		if !ok || got != idx {
			return fmt.Errorf("mapping not inverse at index %d (id %q)", idx, id)
		}
	}
	return nil
}

// Save persists the index as JSON via temp-file-and-rename.
func (ix *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	data, err := json.Marshal(ix)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0640); err != nil { //nolint:gosec // G306: shared pipeline artifact
		return fmt.Errorf("write index temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}

// Load reads a persisted index and re-checks its invariants.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: pipeline artifact path
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if ix.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported index version %d", ix.Version)
	}
	if err := ix.validate(); err != nil {
		return nil, fmt.Errorf("validate index: %w", err)
	}
	return &ix, nil
}

// errors shared with the builder
var (
	// ErrDuplicateEntity is returned when an identifier appears twice in
	// the entity table. Fatal: no partial index is persisted.
	ErrDuplicateEntity = errors.New("entityindex: duplicate entity")

	// ErrMalformedReference is returned when the relationship table
	// references an entity absent from the entity table.
	ErrMalformedReference = errors.New("entityindex: malformed reference data")
)
