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

package entityindex

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Sources names the reference tables the builder consumes. All of them are
// small enough to load fully in memory. Labels may be empty: entities whose
// component has no label entry stay LabelUnknown.
type Sources struct {
	// Entities is the entity table: entity_id,component_id per row.
	Entities string

	// Components is the grouping table: component_id,label per row.
	Components string

	// Relationships is the curated relationship table:
	// src_id,dst_id,time_key per row. Used here only to validate that
	// every referenced endpoint exists in the entity table.
	Relationships string
}

// Builder constructs an Index from reference tables.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates an index builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// BuildResult summarizes an index build.
type BuildResult struct {
	Index         *Index
	Entities      int
	Components    int
	Relationships int
	Unlabeled     int
	Duration      time.Duration
}

// Build reads the reference tables and produces the index.
//
// Indices are assigned in first-seen order of the entity table, so re-running
// on unchanged inputs yields identical indices. Fails with
// ErrDuplicateEntity or ErrMalformedReference; on failure nothing is
// persisted.
func (b *Builder) Build(src Sources) (*BuildResult, error) {
	start := time.Now()
	b.logger.Info("index.build.start",
		"entities", src.Entities,
		"components", src.Components,
		"relationships", src.Relationships,
	)

	componentLabels, err := b.loadComponentLabels(src.Components)
	if err != nil {
		return nil, err
	}

	ix, unlabeled, err := b.loadEntities(src.Entities, componentLabels)
	if err != nil {
		return nil, err
	}

	relCount, err := b.validateRelationships(src.Relationships, ix)
	if err != nil {
		return nil, err
	}

	if err := ix.validate(); err != nil {
		return nil, fmt.Errorf("validate built index: %w", err)
	}

	result := &BuildResult{
		Index:         ix,
		Entities:      ix.N(),
		Components:    len(componentLabels),
		Relationships: relCount,
		Unlabeled:     unlabeled,
		Duration:      time.Since(start),
	}

	counts := ix.LabelCounts()
	b.logger.Info("index.build.complete",
		"entities", result.Entities,
		"components", result.Components,
		"relationships", result.Relationships,
		"licit", counts[LabelLicit],
		"suspicious", counts[LabelSuspicious],
		"unlabeled", unlabeled,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// loadComponentLabels reads component_id,label rows.
func (b *Builder) loadComponentLabels(path string) (map[string]Label, error) {
	rows, err := readTable(path, 2)
	if err != nil {
		return nil, fmt.Errorf("load component table: %w", err)
	}

	labels := make(map[string]Label, len(rows))
	for _, row := range rows {
		labels[row[0]] = ParseLabel(row[1])
	}
	return labels, nil
}

// loadEntities reads entity_id,component_id rows in order, assigning dense
// indices as they appear.
func (b *Builder) loadEntities(path string, componentLabels map[string]Label) (*Index, int, error) {
	rows, err := readTable(path, 2)
	if err != nil {
		return nil, 0, fmt.Errorf("load entity table: %w", err)
	}

	ix := &Index{
		Version:     FormatVersion,
		IDToIndex:   make(map[string]int, len(rows)),
		IndexToID:   make([]string, 0, len(rows)),
		Labels:      make([]Label, 0, len(rows)),
		ComponentOf: make([]string, 0, len(rows)),
	}

	unlabeled := 0
	for i, row := range rows {
		id, component := row[0], row[1]
		if _, dup := ix.IDToIndex[id]; dup {
			return nil, 0, fmt.Errorf("%w: %q at entity table row %d", ErrDuplicateEntity, id, i+2)
		}

		label, ok := componentLabels[component]
		if !ok {
			label = LabelUnknown
			unlabeled++
		}

		ix.IDToIndex[id] = len(ix.IndexToID)
		ix.IndexToID = append(ix.IndexToID, id)
		ix.Labels = append(ix.Labels, label)
		ix.ComponentOf = append(ix.ComponentOf, component)
	}

	if unlabeled > 0 {
		b.logger.Warn("index.build.unlabeled_entities", "count", unlabeled)
	}
	return ix, unlabeled, nil
}

// validateRelationships checks every relationship endpoint against the
// entity table and that time keys are numeric.
func (b *Builder) validateRelationships(path string, ix *Index) (int, error) {
	rows, err := readTable(path, 3)
	if err != nil {
		return 0, fmt.Errorf("load relationship table: %w", err)
	}

	for i, row := range rows {
		src, dst, timeKey := row[0], row[1], row[2]
		if _, ok := ix.Lookup(src); !ok {
			return 0, fmt.Errorf("%w: relationship row %d references unknown entity %q", ErrMalformedReference, i+2, src)
		}
		if _, ok := ix.Lookup(dst); !ok {
			return 0, fmt.Errorf("%w: relationship row %d references unknown entity %q", ErrMalformedReference, i+2, dst)
		}
		if _, err := strconv.ParseInt(timeKey, 10, 64); err != nil {
			return 0, fmt.Errorf("%w: relationship row %d has non-numeric time key %q", ErrMalformedReference, i+2, timeKey)
		}
	}
	return len(rows), nil
}

// readTable loads a small CSV reference table, skipping the header row and
// enforcing a minimum column count.
func readTable(path string, minCols int) ([][]string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: caller-provided reference table
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	// Header row is required for reference tables.
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(row) < minCols {
			return nil, fmt.Errorf("row %d has %d columns, want at least %d", len(rows)+2, len(row), minCols)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
