// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package partition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, width int) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "partitions"), width)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func rec(counterpart int32, timeKey int64, feats ...float32) Record {
	return Record{Counterpart: counterpart, TimeKey: timeKey, Features: feats}
}

func TestAppendFlushReadRoundtrip(t *testing.T) {
	store := newTestStore(t, 2)

	want := []Record{
		rec(5, 100, 1.5, -2.25),
		rec(-1, 101, 0, 3),
		rec(9, 99, 0.001, 1e6),
	}
	if err := store.Append(3, Outbound, want...); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, err := store.ReadAll(3, Outbound)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Counterpart != want[i].Counterpart || got[i].TimeKey != want[i].TimeKey {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
		for j := range want[i].Features {
			if got[i].Features[j] != want[i].Features[j] {
				t.Errorf("record %d feature %d = %v, want %v", i, j, got[i].Features[j], want[i].Features[j])
			}
		}
	}
}

func TestReadAllPreservesAppendOrder(t *testing.T) {
	store := newTestStore(t, 1)

	// Append across multiple flushes; order must survive.
	for i := int64(0); i < 10; i++ {
		if err := store.Append(0, Inbound, rec(int32(i), i, float32(i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if i%3 == 0 {
			if err := store.Flush(); err != nil {
				t.Fatalf("flush: %v", err)
			}
		}
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("final flush: %v", err)
	}

	got, err := store.ReadAll(0, Inbound)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d records, want 10", len(got))
	}
	for i, r := range got {
		if r.TimeKey != int64(i) {
			t.Errorf("record %d has time key %d, want %d", i, r.TimeKey, i)
		}
	}
}

func TestDirectionsAreSeparateLogs(t *testing.T) {
	store := newTestStore(t, 1)

	if err := store.Append(7, Inbound, rec(1, 10, 0.5)); err != nil {
		t.Fatalf("append in: %v", err)
	}
	if err := store.Append(7, Outbound, rec(2, 20, 1.5), rec(3, 30, 2.5)); err != nil {
		t.Fatalf("append out: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	in, err := store.ReadAll(7, Inbound)
	if err != nil {
		t.Fatalf("read in: %v", err)
	}
	out, err := store.ReadAll(7, Outbound)
	if err != nil {
		t.Fatalf("read out: %v", err)
	}
	if len(in) != 1 || len(out) != 2 {
		t.Errorf("got %d inbound and %d outbound, want 1 and 2", len(in), len(out))
	}
}

func TestAppendRejectsWrongWidth(t *testing.T) {
	store := newTestStore(t, 3)

	err := store.Append(0, Inbound, rec(1, 10, 0.5))
	if err == nil {
		t.Fatal("expected width mismatch error")
	}
	if !errors.Is(err, ErrCorruptLog) {
		t.Errorf("error = %v, want ErrCorruptLog", err)
	}
}

func TestReadAllMissingLogIsEmpty(t *testing.T) {
	store := newTestStore(t, 1)

	got, err := store.ReadAll(42, Outbound)
	if err != nil {
		t.Fatalf("read missing: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty slice, got %d records", len(got))
	}
}

func TestReadAllRejectsCorruptLine(t *testing.T) {
	store := newTestStore(t, 2)

	if err := store.Append(1, Inbound, rec(0, 5, 1, 2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Corrupt the log in place.
	path := store.logPath(1, Inbound)
	if err := os.WriteFile(path, []byte("0,5,1,2\nnot,a,record\n"), 0600); err != nil {
		t.Fatalf("corrupt log: %v", err)
	}

	_, err := store.ReadAll(1, Inbound)
	if !errors.Is(err, ErrCorruptLog) {
		t.Errorf("error = %v, want ErrCorruptLog", err)
	}
}

func TestExists(t *testing.T) {
	store := newTestStore(t, 1)

	ok, err := store.Exists(0, Inbound)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Error("log should not exist before append")
	}

	if err := store.Append(0, Inbound, rec(1, 1, 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ok, err = store.Exists(0, Inbound)
	if err != nil {
		t.Fatalf("exists after flush: %v", err)
	}
	if !ok {
		t.Error("log should exist after flush")
	}
}

func TestResetDiscardsEverything(t *testing.T) {
	store := newTestStore(t, 1)

	// One flushed, one still buffered.
	if err := store.Append(0, Inbound, rec(1, 1, 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := store.Append(1, Outbound, rec(2, 2, 0)); err != nil {
		t.Fatalf("append buffered: %v", err)
	}

	if err := store.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("flush after reset: %v", err)
	}

	for _, key := range []struct {
		idx int
		dir Direction
	}{{0, Inbound}, {1, Outbound}} {
		got, err := store.ReadAll(key.idx, key.dir)
		if err != nil {
			t.Fatalf("read after reset: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("entity %d %s has %d records after reset", key.idx, key.dir, len(got))
		}
	}
}

func TestDirectionString(t *testing.T) {
	if Inbound.String() != "in" || Outbound.String() != "out" {
		t.Errorf("direction suffixes = %q/%q, want in/out", Inbound, Outbound)
	}
}
