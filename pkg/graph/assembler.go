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

// Package graph assembles the entity relationship graph artifacts: edge
// index and edge attribute tensors plus a deterministic stratified
// train/val/test split over labeled entities.
//
// Everything here fits in memory, so unlike extraction and sequencing this
// phase has no checkpoints; rerunning it rewrites all outputs atomically.
package graph

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/kraklabs/ledgerseq/pkg/entityindex"
	"github.com/kraklabs/ledgerseq/pkg/tensor"
)

// Output file names under the graph output directory.
const (
	EdgeIndexFile = "edge_index.ten"
	EdgeAttrFile  = "edge_attr.ten"
	SplitsFile    = "splits.json"
	MetadataFile  = "metadata.json"
)

// ErrBadRelationship indicates a relationship row that cannot be resolved
// against the entity index.
var ErrBadRelationship = errors.New("graph: malformed relationship row")

// Config controls graph assembly.
type Config struct {
	// RelationshipsPath is the curated relationship table
	// (src_id,dst_id,time_key).
	RelationshipsPath string

	// OutputDir receives the edge tensors, split file, and metadata.
	OutputDir string

	// Window and FeatureWidth are recorded in metadata so downstream
	// consumers can validate sequence tensor shapes against the graph.
	Window       int
	FeatureWidth int

	// MaxTimeKey normalizes edge time keys. When 0, the maximum over the
	// relationship table is used.
	MaxTimeKey int64

	// TrainRatio and ValRatio partition each label class; the remainder is
	// the test split.
	TrainRatio float64
	ValRatio   float64

	// Seed drives the per-class shuffle. Same seed, same inputs, same
	// split.
	Seed int64
}

// Splits holds dense entity indices per partition. Unlabeled entities are
// excluded: they cannot participate in supervised training.
type Splits struct {
	Train []int `json:"train"`
	Val   []int `json:"val"`
	Test  []int `json:"test"`
}

// Metadata describes the assembled graph.
type Metadata struct {
	Entities     int            `json:"entities"`
	Edges        int            `json:"edges"`
	Window       int            `json:"window"`
	FeatureWidth int            `json:"feature_width"`
	MaxTimeKey   int64          `json:"max_time_key"`
	Seed         int64          `json:"seed"`
	ClassCounts  map[string]int `json:"class_counts"`
	SplitCounts  SplitCounts    `json:"split_counts"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// SplitCounts is the per-split class distribution.
type SplitCounts struct {
	Train map[string]int `json:"train"`
	Val   map[string]int `json:"val"`
	Test  map[string]int `json:"test"`
}

// Result summarizes a graph assembly run.
type Result struct {
	Edges     int
	Labeled   int
	Unlabeled int
	Train     int
	Val       int
	Test      int
	Duration  time.Duration
}

// Assembler builds the graph artifacts.
type Assembler struct {
	cfg    Config
	logger *slog.Logger
	index  *entityindex.Index
}

// New creates a graph assembler.
func New(cfg Config, index *entityindex.Index, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TrainRatio <= 0 {
		cfg.TrainRatio = 0.7
	}
	if cfg.ValRatio <= 0 {
		cfg.ValRatio = 0.15
	}
	return &Assembler{cfg: cfg, logger: logger, index: index}
}

// Run loads the relationship table and writes all graph artifacts.
func (a *Assembler) Run() (*Result, error) {
	start := time.Now()
	a.logger.Info("graph.start",
		"relationships", a.cfg.RelationshipsPath,
		"output", a.cfg.OutputDir,
		"seed", a.cfg.Seed,
	)

	edges, maxTimeKey, err := a.loadEdges()
	if err != nil {
		return nil, err
	}
	if a.cfg.MaxTimeKey > 0 {
		maxTimeKey = a.cfg.MaxTimeKey
	}

	if err := os.MkdirAll(a.cfg.OutputDir, 0750); err != nil {
		return nil, fmt.Errorf("create graph output dir: %w", err)
	}

	if err := a.writeEdgeTensors(edges, maxTimeKey); err != nil {
		return nil, err
	}

	splits, labeled, unlabeled := a.splitEntities()
	if err := writeJSON(filepath.Join(a.cfg.OutputDir, SplitsFile), splits); err != nil {
		return nil, fmt.Errorf("write splits: %w", err)
	}

	meta := a.buildMetadata(len(edges), maxTimeKey, splits)
	if err := writeJSON(filepath.Join(a.cfg.OutputDir, MetadataFile), meta); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	result := &Result{
		Edges:     len(edges),
		Labeled:   labeled,
		Unlabeled: unlabeled,
		Train:     len(splits.Train),
		Val:       len(splits.Val),
		Test:      len(splits.Test),
		Duration:  time.Since(start),
	}

	a.logger.Info("graph.complete",
		"edges", result.Edges,
		"train", result.Train,
		"val", result.Val,
		"test", result.Test,
		"unlabeled_excluded", result.Unlabeled,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

type edge struct {
	src, dst int
	timeKey  int64
}

// loadEdges reads the relationship table, resolving both endpoints to dense
// indices. Returns the edges in table order and the maximum time key seen.
func (a *Assembler) loadEdges() ([]edge, int64, error) {
	f, err := os.Open(a.cfg.RelationshipsPath) //nolint:gosec // G304: caller-provided reference table
	if err != nil {
		return nil, 0, fmt.Errorf("open relationship table: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return nil, 0, fmt.Errorf("read relationship header: %w", err)
	}

	var edges []edge
	var maxTimeKey int64
	row := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read relationship row: %w", err)
		}
		row++
		if len(rec) < 3 {
			return nil, 0, fmt.Errorf("%w: row %d has %d columns, want 3", ErrBadRelationship, row, len(rec))
		}

		src, ok := a.index.Lookup(rec[0])
		if !ok {
			return nil, 0, fmt.Errorf("%w: row %d references unknown entity %q", ErrBadRelationship, row, rec[0])
		}
		dst, ok := a.index.Lookup(rec[1])
		if !ok {
			return nil, 0, fmt.Errorf("%w: row %d references unknown entity %q", ErrBadRelationship, row, rec[1])
		}
		timeKey, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil || timeKey < 0 {
			return nil, 0, fmt.Errorf("%w: row %d has bad time key %q", ErrBadRelationship, row, rec[2])
		}

		edges = append(edges, edge{src: src, dst: dst, timeKey: timeKey})
		if timeKey > maxTimeKey {
			maxTimeKey = timeKey
		}
	}
	if maxTimeKey == 0 {
		maxTimeKey = 1
	}
	return edges, maxTimeKey, nil
}

// writeEdgeTensors emits edge_index [2, E, 1] and edge_attr [E, 1, 1].
// Dense indices stay well under float32's exact-integer range.
func (a *Assembler) writeEdgeTensors(edges []edge, maxTimeKey int64) error {
	e := len(edges)
	if e == 0 {
		return fmt.Errorf("%w: relationship table has no rows", ErrBadRelationship)
	}

	edgeIndex := tensor.New(2, e, 1)
	edgeAttr := tensor.New(e, 1, 1)
	for i, ed := range edges {
		edgeIndex.Set(0, i, 0, float32(ed.src))
		edgeIndex.Set(1, i, 0, float32(ed.dst))
		edgeAttr.Set(i, 0, 0, float32(ed.timeKey)/float32(maxTimeKey))
	}

	if err := tensor.WriteFile(filepath.Join(a.cfg.OutputDir, EdgeIndexFile), edgeIndex); err != nil {
		return fmt.Errorf("write edge index: %w", err)
	}
	if err := tensor.WriteFile(filepath.Join(a.cfg.OutputDir, EdgeAttrFile), edgeAttr); err != nil {
		return fmt.Errorf("write edge attr: %w", err)
	}
	return nil
}

// splitEntities stratifies labeled entities into train/val/test. Each label
// class is shuffled independently with a class-offset seed and partitioned
// by the configured ratios, so class balance carries into every split.
func (a *Assembler) splitEntities() (*Splits, int, int) {
	byClass := map[entityindex.Label][]int{}
	unlabeled := 0
	for idx := 0; idx < a.index.N(); idx++ {
		label := a.index.LabelOf(idx)
		if label == entityindex.LabelUnknown {
			unlabeled++
			continue
		}
		byClass[label] = append(byClass[label], idx)
	}

	splits := &Splits{Train: []int{}, Val: []int{}, Test: []int{}}
	labeled := 0

	// Iterate classes in a fixed order so output is reproducible.
	classes := make([]entityindex.Label, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	for _, label := range classes {
		members := byClass[label]
		labeled += len(members)

		rng := rand.New(rand.NewSource(a.cfg.Seed + int64(label))) //nolint:gosec // G404: reproducible split, not crypto
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })

		nTrain := int(float64(len(members)) * a.cfg.TrainRatio)
		nVal := int(float64(len(members)) * a.cfg.ValRatio)
		splits.Train = append(splits.Train, members[:nTrain]...)
		splits.Val = append(splits.Val, members[nTrain:nTrain+nVal]...)
		splits.Test = append(splits.Test, members[nTrain+nVal:]...)
	}

	sort.Ints(splits.Train)
	sort.Ints(splits.Val)
	sort.Ints(splits.Test)
	return splits, labeled, unlabeled
}

func (a *Assembler) buildMetadata(edges int, maxTimeKey int64, splits *Splits) *Metadata {
	classCounts := map[string]int{}
	for label, n := range a.index.LabelCounts() {
		classCounts[label.String()] = n
	}

	return &Metadata{
		Entities:     a.index.N(),
		Edges:        edges,
		Window:       a.cfg.Window,
		FeatureWidth: a.cfg.FeatureWidth,
		MaxTimeKey:   maxTimeKey,
		Seed:         a.cfg.Seed,
		ClassCounts:  classCounts,
		SplitCounts: SplitCounts{
			Train: a.countByClass(splits.Train),
			Val:   a.countByClass(splits.Val),
			Test:  a.countByClass(splits.Test),
		},
		GeneratedAt: time.Now().UTC(),
	}
}

func (a *Assembler) countByClass(indices []int) map[string]int {
	counts := map[string]int{}
	for _, idx := range indices {
		counts[a.index.LabelOf(idx).String()]++
	}
	return counts
}

// writeJSON marshals v to path via temp-file-and-rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0640); err != nil { //nolint:gosec // G306: pipeline-owned artifact
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
