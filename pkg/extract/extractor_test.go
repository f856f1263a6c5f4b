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

package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ledgerseq/pkg/entityindex"
	"github.com/kraklabs/ledgerseq/pkg/partition"
)

// testLedger exercises every record class: dual-match, one-sided matches,
// background noise, and malformed payloads.
const testLedger = `src,dst,time_key,f1,f2
e1,e2,10,0.5,1.5
x1,x2,11,1,1
e1,x9,12,2,2
x9,e3,13,3,3
e2,e1,bad,1,1
e1,e2,14,nan,1
x1,x3,15,1,1
`

func testIndex() *entityindex.Index {
	return &entityindex.Index{
		Version:     entityindex.FormatVersion,
		IDToIndex:   map[string]int{"e1": 0, "e2": 1, "e3": 2},
		IndexToID:   []string{"e1", "e2", "e3"},
		Labels:      []entityindex.Label{entityindex.LabelLicit, entityindex.LabelLicit, entityindex.LabelSuspicious},
		ComponentOf: []string{"c1", "c1", "c2"},
	}
}

type fixture struct {
	ledger string
	cpDir  string
	store  *partition.FileStore
	index  *entityindex.Index
}

func newFixture(t *testing.T, ledger string) *fixture {
	t.Helper()
	dir := t.TempDir()

	ledgerPath := filepath.Join(dir, "ledger.csv")
	require.NoError(t, os.WriteFile(ledgerPath, []byte(ledger), 0600))

	store, err := partition.NewFileStore(filepath.Join(dir, "partitions"), 2)
	require.NoError(t, err)

	return &fixture{
		ledger: ledgerPath,
		cpDir:  filepath.Join(dir, "checkpoints"),
		store:  store,
		index:  testIndex(),
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context, force bool) *Result {
	t.Helper()
	ex := New(Config{
		LedgerPath:         f.ledger,
		FeatureWidth:       2,
		ChunkSize:          2,
		CheckpointInterval: 1,
		ForceRestart:       force,
	}, f.index, f.store, f.cpDir, nil)

	result, err := ex.Run(ctx)
	require.NoError(t, err)
	return result
}

func TestRunRoutesAndCounts(t *testing.T) {
	f := newFixture(t, testLedger)
	result := f.run(t, context.Background(), false)

	assert.Equal(t, int64(7), result.RecordsScanned)
	assert.Equal(t, int64(3), result.RecordsMatched)
	assert.Equal(t, int64(2), result.RecordsDiscard)
	assert.Equal(t, int64(2), result.ParseErrors)
	assert.Equal(t, int64(13), result.MaxTimeKey)
	assert.False(t, result.Resumed)
	assert.False(t, result.Interrupted)

	// Conservation: every scanned record lands in exactly one bucket.
	assert.Equal(t, result.RecordsScanned,
		result.RecordsMatched+result.RecordsDiscard+result.ParseErrors)
}

func TestRunDualAppend(t *testing.T) {
	f := newFixture(t, testLedger)
	f.run(t, context.Background(), false)

	// e1 -> e2 at t=10 appears in e1's outbound and e2's inbound log.
	e1out, err := f.store.ReadAll(0, partition.Outbound)
	require.NoError(t, err)
	require.Len(t, e1out, 2)
	assert.Equal(t, int32(1), e1out[0].Counterpart)
	assert.Equal(t, int64(10), e1out[0].TimeKey)
	assert.Equal(t, []float32{0.5, 1.5}, e1out[0].Features)

	// e1 -> x9 at t=12: counterpart unknown, sentinel -1.
	assert.Equal(t, int32(-1), e1out[1].Counterpart)
	assert.Equal(t, int64(12), e1out[1].TimeKey)

	e2in, err := f.store.ReadAll(1, partition.Inbound)
	require.NoError(t, err)
	require.Len(t, e2in, 1)
	assert.Equal(t, int32(0), e2in[0].Counterpart)
	assert.Equal(t, int64(10), e2in[0].TimeKey)

	// x9 -> e3 at t=13: inbound only, counterpart -1.
	e3in, err := f.store.ReadAll(2, partition.Inbound)
	require.NoError(t, err)
	require.Len(t, e3in, 1)
	assert.Equal(t, int32(-1), e3in[0].Counterpart)

	// No spurious logs for the unmatched direction.
	e3out, err := f.store.ReadAll(2, partition.Outbound)
	require.NoError(t, err)
	assert.Empty(t, e3out)
}

func TestRunResumeIsExactlyOnce(t *testing.T) {
	f := newFixture(t, testLedger)
	first := f.run(t, context.Background(), false)

	// A second run resumes at EOF: no new records, totals preserved,
	// partitions unchanged.
	second := f.run(t, context.Background(), false)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.RecordsScanned, second.RecordsScanned)
	assert.Equal(t, first.RecordsMatched, second.RecordsMatched)
	assert.Equal(t, first.MaxTimeKey, second.MaxTimeKey)

	e1out, err := f.store.ReadAll(0, partition.Outbound)
	require.NoError(t, err)
	assert.Len(t, e1out, 2, "resume must not duplicate records")
}

func TestRunForceRestart(t *testing.T) {
	f := newFixture(t, testLedger)
	f.run(t, context.Background(), false)

	result := f.run(t, context.Background(), true)
	assert.False(t, result.Resumed)
	assert.Equal(t, int64(7), result.RecordsScanned)

	e1out, err := f.store.ReadAll(0, partition.Outbound)
	require.NoError(t, err)
	assert.Len(t, e1out, 2, "force restart resets partitions before rescanning")
}

func TestRunColdStartsWhenLedgerChanges(t *testing.T) {
	f := newFixture(t, testLedger)
	f.run(t, context.Background(), false)

	// Rewrite the ledger: fingerprint changes, checkpoint is stale.
	changed := "src,dst,time_key,f1,f2\ne1,e2,20,1,1\n"
	require.NoError(t, os.WriteFile(f.ledger, []byte(changed), 0600))

	result := f.run(t, context.Background(), false)
	assert.False(t, result.Resumed)
	assert.Equal(t, int64(1), result.RecordsScanned)
	assert.Equal(t, int64(20), result.MaxTimeKey)

	// Old partitions were reset; only the new record remains.
	e1out, err := f.store.ReadAll(0, partition.Outbound)
	require.NoError(t, err)
	require.Len(t, e1out, 1)
	assert.Equal(t, int64(20), e1out[0].TimeKey)
}

func TestRunInterruptThenResume(t *testing.T) {
	f := newFixture(t, testLedger)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.run(t, cancelled, false)
	assert.True(t, result.Interrupted)
	assert.Zero(t, result.RecordsScanned)

	// The interrupted run checkpointed cursor 0; the next run picks up
	// from there and processes everything exactly once.
	resumed := f.run(t, context.Background(), false)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, int64(7), resumed.RecordsScanned)
	assert.Equal(t, int64(3), resumed.RecordsMatched)

	e1out, err := f.store.ReadAll(0, partition.Outbound)
	require.NoError(t, err)
	assert.Len(t, e1out, 2)
}

func TestRunMidFileInterruptResumesWithoutDuplicates(t *testing.T) {
	f := newFixture(t, testLedger)

	// Cancel after the first chunk: the checkpoint written at that chunk
	// boundary (interval 1) becomes the resume point.
	ctx, cancel := context.WithCancel(context.Background())
	ex := New(Config{
		LedgerPath:         f.ledger,
		FeatureWidth:       2,
		ChunkSize:          2,
		CheckpointInterval: 1,
	}, f.index, f.store, f.cpDir, nil)
	ex.SetProgressCallback(func(current, total int64, phase string) { cancel() })

	first, err := ex.Run(ctx)
	require.NoError(t, err)
	assert.True(t, first.Interrupted)
	assert.Equal(t, int64(2), first.RecordsScanned)

	resumed := f.run(t, context.Background(), false)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, int64(7), resumed.RecordsScanned)
	assert.Equal(t, int64(3), resumed.RecordsMatched)
	assert.Equal(t, int64(13), resumed.MaxTimeKey)

	e1out, err := f.store.ReadAll(0, partition.Outbound)
	require.NoError(t, err)
	require.Len(t, e1out, 2, "records before the cut must not be re-appended")
	assert.Equal(t, int64(10), e1out[0].TimeKey)
	assert.Equal(t, int64(12), e1out[1].TimeKey)
}

// brokenStore fails every append; used to prove routing failures are fatal
// rather than silently uncounted.
type brokenStore struct {
	partition.Store
}

func (b *brokenStore) Append(idx int, dir partition.Direction, recs ...partition.Record) error {
	return fmt.Errorf("append rejected")
}

func TestRunFailsWhenAppendFails(t *testing.T) {
	f := newFixture(t, testLedger)

	ex := New(Config{
		LedgerPath:         f.ledger,
		FeatureWidth:       2,
		ChunkSize:          2,
		CheckpointInterval: 1,
	}, f.index, &brokenStore{Store: f.store}, f.cpDir, nil)

	_, err := ex.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append entity")

	// Nothing was checkpointed, so a later run with a working store starts
	// clean and still satisfies conservation.
	result := f.run(t, context.Background(), false)
	assert.False(t, result.Resumed)
	assert.Equal(t, int64(7), result.RecordsScanned)
	assert.Equal(t, result.RecordsScanned,
		result.RecordsMatched+result.RecordsDiscard+result.ParseErrors)
}

func TestRunRejectsHeaderWidthMismatch(t *testing.T) {
	f := newFixture(t, "src,dst,time_key,f1\ne1,e2,10,1\n")

	ex := New(Config{
		LedgerPath:   f.ledger,
		FeatureWidth: 2, // header advertises 1 feature column
		ChunkSize:    2,
	}, f.index, f.store, f.cpDir, nil)

	_, err := ex.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputCorrupt)
}

func TestRunGzipLedger(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.csv.gz")

	fh, err := os.Create(ledgerPath) //nolint:gosec // test fixture
	require.NoError(t, err)
	gw := gzip.NewWriter(fh)
	_, err = gw.Write([]byte(testLedger))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, fh.Close())

	store, err := partition.NewFileStore(filepath.Join(dir, "partitions"), 2)
	require.NoError(t, err)

	f := &fixture{
		ledger: ledgerPath,
		cpDir:  filepath.Join(dir, "checkpoints"),
		store:  store,
		index:  testIndex(),
	}

	result := f.run(t, context.Background(), false)
	assert.Equal(t, int64(7), result.RecordsScanned)
	assert.Equal(t, int64(3), result.RecordsMatched)

	// Resume over gzip uses a record-ordinal cursor.
	second := f.run(t, context.Background(), false)
	assert.True(t, second.Resumed)
	assert.Equal(t, int64(7), second.RecordsScanned)

	e1out, err := store.ReadAll(0, partition.Outbound)
	require.NoError(t, err)
	assert.Len(t, e1out, 2)
}

func TestRunGzipResumeIgnoresBlankLines(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.csv.gz")

	// Interior blank line: not a record, so it must not advance the
	// record-ordinal cursor on the resume skip either.
	blanked := "src,dst,time_key,f1,f2\ne1,e2,10,0.5,1.5\n\nx1,x2,11,1,1\ne1,x9,12,2,2\n"
	fh, err := os.Create(ledgerPath) //nolint:gosec // test fixture
	require.NoError(t, err)
	gw := gzip.NewWriter(fh)
	_, err = gw.Write([]byte(blanked))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, fh.Close())

	store, err := partition.NewFileStore(filepath.Join(dir, "partitions"), 2)
	require.NoError(t, err)

	f := &fixture{
		ledger: ledgerPath,
		cpDir:  filepath.Join(dir, "checkpoints"),
		store:  store,
		index:  testIndex(),
	}

	first := f.run(t, context.Background(), false)
	assert.Equal(t, int64(3), first.RecordsScanned)
	assert.Equal(t, int64(2), first.RecordsMatched)

	second := f.run(t, context.Background(), false)
	assert.True(t, second.Resumed)
	assert.Equal(t, int64(3), second.RecordsScanned, "resume must not rescan past the blank line")

	e1out, err := store.ReadAll(0, partition.Outbound)
	require.NoError(t, err)
	assert.Len(t, e1out, 2, "no record may be duplicated by a desynchronized skip")
}

func TestSummaryRoundtrip(t *testing.T) {
	dir := t.TempDir()

	s := &Summary{
		Fingerprint:    "fp",
		RecordsScanned: 100,
		RecordsMatched: 40,
		MaxTimeKey:     77,
	}
	require.NoError(t, s.save(dir))

	loaded, err := loadSummary(dir, "fp")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(100), loaded.RecordsScanned)
	assert.Equal(t, int64(77), loaded.MaxTimeKey)

	// Fingerprint mismatch means the totals belong to a different input.
	stale, err := loadSummary(dir, "other")
	require.NoError(t, err)
	assert.Nil(t, stale)

	public, err := LoadSummary(dir)
	require.NoError(t, err)
	require.NotNil(t, public)
	assert.Equal(t, int64(40), public.RecordsMatched)
}

func TestSplitEndpoints(t *testing.T) {
	src, dst, rest, ok := splitEndpoints("a,b,1,0.5")
	require.True(t, ok)
	assert.Equal(t, "a", src)
	assert.Equal(t, "b", dst)
	assert.Equal(t, "1,0.5", rest)

	_, _, _, ok = splitEndpoints("only-one-field")
	assert.False(t, ok)

	_, _, _, ok = splitEndpoints(",b,1,0.5")
	assert.False(t, ok, "empty src must be rejected")
}

func TestParsePayload(t *testing.T) {
	scratch := make([]float32, 2)

	timeKey, feats, err := parsePayload("10,0.5,1.5", scratch)
	require.NoError(t, err)
	assert.Equal(t, int64(10), timeKey)
	assert.Equal(t, []float32{0.5, 1.5}, feats)

	_, _, err = parsePayload("-3,1,1", scratch)
	assert.Error(t, err, "negative time key")

	_, _, err = parsePayload("5,1", scratch)
	assert.Error(t, err, "too few features")

	_, _, err = parsePayload("5,1,2,3", scratch)
	assert.Error(t, err, "too many features")

	_, _, err = parsePayload("5,inf,1", scratch)
	assert.Error(t, err, "infinite feature")
}
