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

// Package extract implements the streaming extractor: a single sequential
// scan over the oversized ledger that routes matching records into
// per-entity partition logs with crash-resumable checkpoints.
//
// Memory is bounded by the chunk size and the partition write buffers,
// independent of total ledger size. Correctness under interruption rests on
// one ordering invariant: partition writes are flushed to durable storage
// before the checkpoint covering them is saved. A resume therefore never
// loses a record (everything before the cursor was flushed) and never
// duplicates one (scanning restarts exactly at the cursor).
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/kraklabs/ledgerseq/pkg/checkpoint"
	"github.com/kraklabs/ledgerseq/pkg/entityindex"
	"github.com/kraklabs/ledgerseq/pkg/partition"
)

// PhaseTag identifies the extraction phase in checkpoint files.
const PhaseTag = "extract"

// ErrInputCorrupt indicates the ledger cannot be read or seeked. Fatal for
// the phase; the last valid checkpoint is left intact so a future run can
// still resume from it.
var ErrInputCorrupt = errors.New("extract: input corrupt")

// ProgressCallback reports scan progress. For plain ledgers current/total
// are bytes; for gzip input total is 0 (indeterminate).
type ProgressCallback func(current, total int64, phase string)

// Config controls the streaming extractor.
type Config struct {
	// LedgerPath is the oversized ledger CSV (optionally .gz).
	LedgerPath string

	// FeatureWidth is the fixed feature vector width F.
	FeatureWidth int

	// ChunkSize is the number of records per scan step.
	ChunkSize int

	// CheckpointInterval is the number of chunks between checkpoint saves.
	CheckpointInterval int

	// ForceRestart ignores any existing checkpoint and starts clean.
	ForceRestart bool
}

// Result summarizes an extraction run. Counts are cumulative across
// resumes of the same input.
type Result struct {
	RecordsScanned  int64
	RecordsMatched  int64
	RecordsDiscard  int64
	ParseErrors     int64
	ChunksProcessed int64
	MaxTimeKey      int64
	Resumed         bool
	ResumeCursor    int64
	Interrupted     bool
	Duration        time.Duration
}

// Extractor is the streaming extraction pipeline.
type Extractor struct {
	cfg         Config
	logger      *slog.Logger
	index       *entityindex.Index
	store       partition.Store
	checkpoints *checkpoint.Store
	cpDir       string
	onProgress  ProgressCallback
}

// New creates a streaming extractor over the given entity index and
// partition store. checkpointDir holds the phase checkpoint and the running
// summary.
func New(cfg Config, index *entityindex.Index, store partition.Store, checkpointDir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50000
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 1000
	}
	return &Extractor{
		cfg:         cfg,
		logger:      logger,
		index:       index,
		store:       store,
		checkpoints: checkpoint.NewStore(checkpointDir, logger),
		cpDir:       checkpointDir,
	}
}

// SetProgressCallback sets an optional progress callback.
func (e *Extractor) SetProgressCallback(cb ProgressCallback) {
	e.onProgress = cb
}

// Run scans the ledger to completion (or context cancellation). On
// cancellation it returns the partial result with Interrupted set; progress
// up to the last checkpoint is durable and a later run resumes there.
func (e *Extractor) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	fp, err := checkpoint.Fingerprint(e.cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint ledger: %v", ErrInputCorrupt, err)
	}

	summary, resumeCursor, resumed, err := e.prepare(fp)
	if err != nil {
		return nil, err
	}

	scanner, err := openLedger(e.cfg.LedgerPath, e.cfg.FeatureWidth, resumeCursor)
	if err != nil {
		return nil, err
	}
	defer func() { _ = scanner.Close() }()

	e.logger.Info("extract.start",
		"ledger", e.cfg.LedgerPath,
		"fingerprint", fp,
		"chunk_size", e.cfg.ChunkSize,
		"checkpoint_interval", e.cfg.CheckpointInterval,
		"resumed", resumed,
		"cursor", resumeCursor,
	)

	result := &Result{Resumed: resumed, ResumeCursor: resumeCursor}
	interrupted, err := e.scan(ctx, scanner, summary)
	if err != nil {
		return nil, err
	}
	result.Interrupted = interrupted

	// Final flush-then-checkpoint, also after cancellation: everything
	// scanned so far becomes durable resume state.
	if err := e.saveProgress(scanner.Cursor(), summary); err != nil {
		return nil, err
	}

	result.RecordsScanned = summary.RecordsScanned
	result.RecordsMatched = summary.RecordsMatched
	result.RecordsDiscard = summary.RecordsDiscard
	result.ParseErrors = summary.ParseErrors
	result.ChunksProcessed = summary.ChunksProcessed
	result.MaxTimeKey = summary.MaxTimeKey
	result.Duration = time.Since(start)

	e.logger.Info("extract.complete",
		"records_scanned", result.RecordsScanned,
		"records_matched", result.RecordsMatched,
		"records_discarded", result.RecordsDiscard,
		"parse_errors", result.ParseErrors,
		"chunks", result.ChunksProcessed,
		"max_time_key", result.MaxTimeKey,
		"interrupted", result.Interrupted,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// prepare resolves the starting state: a valid checkpoint resumes; anything
// else resets the partition store first, because partitions written by an
// interrupted run without a usable checkpoint cannot be trusted.
func (e *Extractor) prepare(fp string) (*Summary, int64, bool, error) {
	if !e.cfg.ForceRestart {
		cp, err := e.checkpoints.Load(PhaseTag, fp)
		if err != nil {
			return nil, 0, false, fmt.Errorf("load checkpoint: %w", err)
		}
		if cp != nil {
			summary, err := loadSummary(e.cpDir, fp)
			if err != nil {
				return nil, 0, false, err
			}
			if summary != nil {
				e.logger.Info("extract.resume", "cursor", cp.Cursor, "chunks_done", cp.Completed)
				return summary, cp.Cursor, true, nil
			}
			e.logger.Warn("extract.resume.summary_missing", "cursor", cp.Cursor)
		}
	}

	// Cold start: clear derived state from any earlier attempt.
	if err := e.store.Reset(); err != nil {
		return nil, 0, false, fmt.Errorf("reset partitions: %w", err)
	}
	if err := e.checkpoints.Clear(PhaseTag); err != nil {
		return nil, 0, false, fmt.Errorf("clear checkpoint: %w", err)
	}
	clearSummary(e.cpDir)
	return &Summary{Fingerprint: fp}, 0, false, nil
}

// scan drives the chunk loop. Returns interrupted=true on context
// cancellation at a chunk boundary.
func (e *Extractor) scan(ctx context.Context, scanner *ledgerScanner, summary *Summary) (bool, error) {
	lines := make([]string, 0, e.cfg.ChunkSize)
	scratch := make([]float32, e.cfg.FeatureWidth)
	chunksSinceCheckpoint := 0

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("extract.interrupted", "cursor", scanner.Cursor())
			return true, nil
		default:
		}

		chunk, done, err := scanner.NextChunk(e.cfg.ChunkSize, lines)
		if err != nil {
			return false, err
		}

		if len(chunk) > 0 {
			if err := e.processChunk(chunk, scratch, summary); err != nil {
				return false, err
			}
			summary.ChunksProcessed++
			chunksSinceCheckpoint++
			metricChunkCursor.Set(float64(scanner.Cursor()))

			if e.onProgress != nil {
				current, total := scanner.Progress()
				e.onProgress(current, total, "scanning")
			}

			if chunksSinceCheckpoint >= e.cfg.CheckpointInterval {
				if err := e.saveProgress(scanner.Cursor(), summary); err != nil {
					return false, err
				}
				chunksSinceCheckpoint = 0
			}
		}

		if done {
			return false, nil
		}
	}
}

// processChunk parses and routes one chunk of raw record lines. An append
// failure is fatal: swallowing it would count a record as matched without
// it reaching a partition, breaking conservation.
func (e *Extractor) processChunk(chunk []string, scratch []float32, summary *Summary) error {
	for _, line := range chunk {
		summary.RecordsScanned++
		metricRecordsScanned.Inc()

		srcID, dstID, rest, ok := splitEndpoints(line)
		if !ok {
			summary.ParseErrors++
			metricParseErrors.Inc()
			e.logger.Debug("extract.record.malformed", "reason", "missing endpoint fields")
			continue
		}

		srcIdx, srcKnown := e.index.Lookup(srcID)
		dstIdx, dstKnown := e.index.Lookup(dstID)
		if !srcKnown && !dstKnown {
			// Background noise; dominant by volume and not an error.
			summary.RecordsDiscard++
			metricRecordsDiscarded.Inc()
			continue
		}

		timeKey, feats, perr := parsePayload(rest, scratch)
		if perr != nil {
			summary.ParseErrors++
			metricParseErrors.Inc()
			e.logger.Debug("extract.record.malformed", "src", srcID, "dst", dstID, "err", perr)
			continue
		}

		if timeKey > summary.MaxTimeKey {
			summary.MaxTimeKey = timeKey
		}

		// A record between two known entities is appended to both sides:
		// outbound for the source, inbound for the destination.
		if srcKnown {
			counterpart := int32(-1)
			if dstKnown {
				counterpart = int32(dstIdx) //nolint:gosec // dense index fits int32
			}
			rec := partition.Record{Counterpart: counterpart, TimeKey: timeKey, Features: cloneFeatures(feats)}
			if err := e.store.Append(srcIdx, partition.Outbound, rec); err != nil {
				return fmt.Errorf("append entity %d outbound: %w", srcIdx, err)
			}
		}
		if dstKnown {
			counterpart := int32(-1)
			if srcKnown {
				counterpart = int32(srcIdx) //nolint:gosec // dense index fits int32
			}
			rec := partition.Record{Counterpart: counterpart, TimeKey: timeKey, Features: cloneFeatures(feats)}
			if err := e.store.Append(dstIdx, partition.Inbound, rec); err != nil {
				return fmt.Errorf("append entity %d inbound: %w", dstIdx, err)
			}
		}

		summary.RecordsMatched++
		metricRecordsMatched.Inc()
	}
	return nil
}

// saveProgress is the flush-then-checkpoint sequence: partition writes
// first, then the running summary, then the checkpoint whose cursor covers
// them. A crash between any two steps leaves a consistent resume point.
func (e *Extractor) saveProgress(cursor int64, summary *Summary) error {
	if err := e.store.Flush(); err != nil {
		return fmt.Errorf("flush partitions: %w", err)
	}
	if err := summary.save(e.cpDir); err != nil {
		return fmt.Errorf("%w: %v", checkpoint.ErrWriteFailed, err)
	}
	if err := e.checkpoints.Save(&checkpoint.Checkpoint{
		Phase:       PhaseTag,
		Cursor:      cursor,
		Fingerprint: summary.Fingerprint,
		Completed:   summary.ChunksProcessed,
	}); err != nil {
		return err
	}
	metricCheckpointsSaved.Inc()
	e.logger.Debug("extract.checkpoint.saved", "cursor", cursor, "chunks", summary.ChunksProcessed)
	return nil
}

// splitEndpoints peels src and dst off a record line without touching the
// payload. Endpoint lookup happens before payload parsing so the dominant
// unmatched records cost two map probes and no float parsing.
func splitEndpoints(line string) (src, dst, rest string, ok bool) {
	i := indexComma(line)
	if i < 0 {
		return "", "", "", false
	}
	src, line = line[:i], line[i+1:]

	i = indexComma(line)
	if i < 0 {
		return "", "", "", false
	}
	dst, rest = line[:i], line[i+1:]
	if src == "" || dst == "" {
		return "", "", "", false
	}
	return src, dst, rest, true
}

// parsePayload parses "time_key,f1,...,fF" into scratch; the returned slice
// aliases scratch and must be cloned before retention.
func parsePayload(rest string, scratch []float32) (int64, []float32, error) {
	i := indexComma(rest)
	if i < 0 {
		return 0, nil, fmt.Errorf("missing feature fields")
	}
	timeKey, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("time key %q non-numeric", rest[:i])
	}
	if timeKey < 0 {
		return 0, nil, fmt.Errorf("time key %d negative", timeKey)
	}

	rest = rest[i+1:]
	n := 0
	for {
		var field string
		if j := indexComma(rest); j >= 0 {
			field, rest = rest[:j], rest[j+1:]
		} else {
			field, rest = rest, ""
		}
		if n >= len(scratch) {
			return 0, nil, fmt.Errorf("too many feature fields")
		}
		v, err := strconv.ParseFloat(field, 32)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, nil, fmt.Errorf("feature %d %q non-numeric", n+1, field)
		}
		scratch[n] = float32(v)
		n++
		if rest == "" {
			break
		}
	}
	if n != len(scratch) {
		return 0, nil, fmt.Errorf("%d feature fields, want %d", n, len(scratch))
	}
	return timeKey, scratch, nil
}

func cloneFeatures(feats []float32) []float32 {
	out := make([]float32, len(feats))
	copy(out, feats)
	return out
}

func indexComma(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return i
		}
	}
	return -1
}
