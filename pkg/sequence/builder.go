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

// Package sequence converts per-entity partition logs into fixed-shape
// temporal tensors.
//
// Entities are processed in ascending dense index order so count-based
// checkpoints are meaningful. Each entity's records are stable-sorted by
// time key (ties keep append order), windowed to the most recent K,
// left-padded with sentinel rows, and written as one [2, K, F+1] tensor.
// Tensor writes are atomic whole-file replacements, so re-emitting an
// entity after a resume is idempotent.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/ledgerseq/pkg/checkpoint"
	"github.com/kraklabs/ledgerseq/pkg/entityindex"
	"github.com/kraklabs/ledgerseq/pkg/partition"
	"github.com/kraklabs/ledgerseq/pkg/tensor"
)

// PhaseTag identifies the sequence phase in checkpoint files. Parallel
// shards use PhaseTag + "-shard<i>".
const PhaseTag = "sequences"

// TimeKeyInvalid marks sentinel (padded) positions in the time column.
// Real time keys are normalized to [0, 1], so -1 is unambiguous.
const TimeKeyInvalid = float32(-1)

// numShards mirrors the partition store's directory sharding.
const numShards = 256

// ErrNoExtraction is returned when the partition set has no recorded
// maximum time key and none can be derived.
var ErrNoExtraction = errors.New("sequence: no extraction summary and empty partitions")

// ProgressCallback reports entities completed out of the universe size.
type ProgressCallback func(current, total int64, phase string)

// Config controls the sequence builder.
type Config struct {
	// OutputDir receives one tensor file per entity, sharded.
	OutputDir string

	// Window is the fixed window length K.
	Window int

	// FeatureWidth is the feature vector width F; tensors are [2, K, F+1].
	FeatureWidth int

	// CheckpointInterval is the number of entities between checkpoint
	// saves.
	CheckpointInterval int

	// Workers shards entities across a bounded pool when > 1. Each shard
	// keeps its own checkpoint cursor.
	Workers int

	// MaxTimeKey normalizes time keys. When 0, it is derived by a
	// pre-pass over the partition logs.
	MaxTimeKey int64

	// ForceRestart ignores existing checkpoints.
	ForceRestart bool
}

// Result summarizes a sequence build run.
type Result struct {
	EntitiesTotal int

	// EntitiesProcessed counts tensors actually built by this run;
	// EntitiesSkipped counts entities a checkpoint marked already done.
	EntitiesProcessed int64
	EntitiesSkipped   int64

	EmptyInbound      int64
	EmptyOutbound     int64
	Truncated         int64
	MaxTimeKey        int64
	Resumed           bool
	Interrupted       bool
	Duration          time.Duration
}

// Builder emits one SequenceTensor per entity.
type Builder struct {
	cfg         Config
	logger      *slog.Logger
	index       *entityindex.Index
	store       partition.Store
	checkpoints *checkpoint.Store
	indexFP     string
	onProgress  ProgressCallback

	processed atomic.Int64
	skipped   atomic.Int64
	emptyIn   atomic.Int64
	emptyOut  atomic.Int64
	truncated atomic.Int64
}

// New creates a sequence builder. indexFingerprint identifies the entity
// index file: it pins checkpoints to the fixed iteration order they count.
func New(cfg Config, index *entityindex.Index, store partition.Store, checkpointDir, indexFingerprint string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 10000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Builder{
		cfg:         cfg,
		logger:      logger,
		index:       index,
		store:       store,
		checkpoints: checkpoint.NewStore(checkpointDir, logger),
		indexFP:     indexFingerprint,
	}
}

// SetProgressCallback sets an optional progress callback.
func (b *Builder) SetProgressCallback(cb ProgressCallback) {
	b.onProgress = cb
}

// Run builds tensors for every entity in the index.
func (b *Builder) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	total := b.index.N()

	maxTimeKey := b.cfg.MaxTimeKey
	if maxTimeKey <= 0 {
		var err error
		maxTimeKey, err = b.deriveMaxTimeKey()
		if err != nil {
			return nil, err
		}
		b.logger.Info("sequences.max_time_key.derived", "max_time_key", maxTimeKey)
	}

	b.logger.Info("sequences.start",
		"entities", total,
		"window", b.cfg.Window,
		"feature_width", b.cfg.FeatureWidth,
		"workers", b.cfg.Workers,
		"max_time_key", maxTimeKey,
	)

	var resumed bool
	var interrupted bool
	var err error
	if b.cfg.Workers == 1 {
		resumed, interrupted, err = b.runShard(ctx, PhaseTag, 0, 1, maxTimeKey)
	} else {
		resumed, interrupted, err = b.runParallel(ctx, maxTimeKey)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		EntitiesTotal:     total,
		EntitiesProcessed: b.processed.Load(),
		EntitiesSkipped:   b.skipped.Load(),
		EmptyInbound:      b.emptyIn.Load(),
		EmptyOutbound:     b.emptyOut.Load(),
		Truncated:         b.truncated.Load(),
		MaxTimeKey:        maxTimeKey,
		Resumed:           resumed,
		Interrupted:       interrupted,
		Duration:          time.Since(start),
	}

	b.logger.Info("sequences.complete",
		"entities", result.EntitiesProcessed,
		"skipped", result.EntitiesSkipped,
		"empty_inbound", result.EmptyInbound,
		"empty_outbound", result.EmptyOutbound,
		"truncated", result.Truncated,
		"interrupted", result.Interrupted,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// runShard processes entities idx ≡ shard (mod stride) in ascending order,
// checkpointing by completed count under the given phase tag.
func (b *Builder) runShard(ctx context.Context, phase string, shard, stride int, maxTimeKey int64) (resumed, interrupted bool, err error) {
	// Shard-local fixed order.
	var order []int
	for idx := shard; idx < b.index.N(); idx += stride {
		order = append(order, idx)
	}

	startAt := int64(0)
	if !b.cfg.ForceRestart {
		cp, err := b.checkpoints.Load(phase, b.indexFP)
		if err != nil {
			return false, false, fmt.Errorf("load checkpoint: %w", err)
		}
		if cp != nil {
			startAt = cp.Completed
			resumed = startAt > 0
			if resumed {
				b.logger.Info("sequences.resume", "phase", phase, "skip", startAt)
				b.skipped.Add(startAt)
			}
		}
	} else if err := b.checkpoints.Clear(phase); err != nil {
		return false, false, fmt.Errorf("clear checkpoint: %w", err)
	}

	completed := startAt
	sinceCheckpoint := 0
	total := int64(b.index.N())

	for _, idx := range order[int(min64(startAt, int64(len(order)))):] {
		select {
		case <-ctx.Done():
			if err := b.saveShard(phase, completed); err != nil {
				return resumed, true, err
			}
			b.logger.Info("sequences.interrupted", "phase", phase, "completed", completed)
			return resumed, true, nil
		default:
		}

		if err := b.buildEntity(idx, maxTimeKey); err != nil {
			return resumed, false, err
		}
		completed++
		sinceCheckpoint++
		metricSequencesBuilt.Inc()

		if b.onProgress != nil {
			// Skipped entities count toward position so a resumed bar
			// starts where the last run stopped.
			b.onProgress(b.skipped.Load()+b.processed.Load(), total, "sequencing")
		}

		// A tensor counts as done only once its write is durable and the
		// checkpoint covering it is saved.
		if sinceCheckpoint >= b.cfg.CheckpointInterval {
			if err := b.saveShard(phase, completed); err != nil {
				return resumed, false, err
			}
			sinceCheckpoint = 0
		}
	}

	if err := b.saveShard(phase, completed); err != nil {
		return resumed, false, err
	}
	return resumed, false, nil
}

// runParallel shards entities across the worker pool. Each shard owns its
// checkpoint file, so no cross-worker cursor merging is needed.
func (b *Builder) runParallel(ctx context.Context, maxTimeKey int64) (resumed, interrupted bool, err error) {
	workers := b.cfg.Workers
	errs := make([]error, workers)
	resumedFlags := make([]bool, workers)
	interruptedFlags := make([]bool, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			phase := fmt.Sprintf("%s-shard%d", PhaseTag, shard)
			resumedFlags[shard], interruptedFlags[shard], errs[shard] = b.runShard(ctx, phase, shard, workers, maxTimeKey)
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		if errs[w] != nil {
			return false, false, fmt.Errorf("shard %d: %w", w, errs[w])
		}
		resumed = resumed || resumedFlags[w]
		interrupted = interrupted || interruptedFlags[w]
	}
	return resumed, interrupted, nil
}

func (b *Builder) saveShard(phase string, completed int64) error {
	return b.checkpoints.Save(&checkpoint.Checkpoint{
		Phase:       phase,
		Cursor:      completed,
		Fingerprint: b.indexFP,
		Completed:   completed,
	})
}

// buildEntity assembles and writes one entity's [2, K, F+1] tensor.
func (b *Builder) buildEntity(idx int, maxTimeKey int64) error {
	k := b.cfg.Window
	t := tensor.New(2, k, b.cfg.FeatureWidth+1)

	// Sentinel time column everywhere; filled rows overwrite it.
	for dir := 0; dir < 2; dir++ {
		for j := 0; j < k; j++ {
			t.Set(dir, j, b.cfg.FeatureWidth, TimeKeyInvalid)
		}
	}

	for _, dir := range []partition.Direction{partition.Inbound, partition.Outbound} {
		recs, err := b.store.ReadAll(idx, dir)
		if err != nil {
			return fmt.Errorf("read partition entity %d %s: %w", idx, dir, err)
		}

		if len(recs) == 0 {
			if dir == partition.Inbound {
				b.emptyIn.Add(1)
			} else {
				b.emptyOut.Add(1)
			}
			continue
		}

		// Stable sort: coarse time resolution makes ties common, and
		// append order must break them deterministically.
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].TimeKey < recs[j].TimeKey })

		if len(recs) > k {
			recs = recs[len(recs)-k:]
			b.truncated.Add(1)
		}

		row := int(dir) // 0 inbound, 1 outbound
		pad := k - len(recs)
		for j, rec := range recs {
			dst := t.Row(row, pad+j)
			copy(dst, rec.Features)
			dst[b.cfg.FeatureWidth] = float32(rec.TimeKey) / float32(maxTimeKey)
		}
	}

	if err := tensor.WriteFile(b.tensorPath(idx), t); err != nil {
		return fmt.Errorf("write tensor entity %d: %w", idx, err)
	}
	b.processed.Add(1)
	return nil
}

// TensorPath returns the output file for a dense entity index.
func TensorPath(outputDir string, idx int) string {
	return filepath.Join(outputDir, fmt.Sprintf("%03d", idx%numShards), fmt.Sprintf("ent_%d.ten", idx))
}

func (b *Builder) tensorPath(idx int) string {
	return TensorPath(b.cfg.OutputDir, idx)
}

// deriveMaxTimeKey scans every partition log for the largest time key.
// Fallback for when the extraction summary is unavailable; per-entity data
// is bounded, so this stays within the memory ceiling.
func (b *Builder) deriveMaxTimeKey() (int64, error) {
	var maxKey int64
	seen := false
	for idx := 0; idx < b.index.N(); idx++ {
		for _, dir := range []partition.Direction{partition.Inbound, partition.Outbound} {
			recs, err := b.store.ReadAll(idx, dir)
			if err != nil {
				return 0, fmt.Errorf("read partition entity %d %s: %w", idx, dir, err)
			}
			for _, rec := range recs {
				seen = true
				if rec.TimeKey > maxKey {
					maxKey = rec.TimeKey
				}
			}
		}
	}
	if !seen {
		return 0, ErrNoExtraction
	}
	if maxKey == 0 {
		// Records exist but every time key is zero; normalize by 1 so the
		// time column stays defined.
		return 1, nil
	}
	return maxKey, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
