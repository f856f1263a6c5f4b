// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	input := writeInput(t, dir, "ledger.csv", "src,dst,t,f1\na,b,1,0.5\n")
	fp, err := Fingerprint(input)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	saved := &Checkpoint{
		Phase:       "extract",
		Cursor:      1234,
		Fingerprint: fp,
		Completed:   7,
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load("extract", fp)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected checkpoint, got nil")
	}
	if loaded.Cursor != 1234 {
		t.Errorf("cursor = %d, want 1234", loaded.Cursor)
	}
	if loaded.Completed != 7 {
		t.Errorf("completed = %d, want 7", loaded.Completed)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set on save")
	}
}

func TestLoadAbsentIsNil(t *testing.T) {
	store := NewStore(t.TempDir(), nil)

	cp, err := store.Load("extract", "anything")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil for absent checkpoint, got %+v", cp)
	}
}

func TestLoadStaleFingerprintIsNil(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	if err := store.Save(&Checkpoint{Phase: "extract", Cursor: 10, Fingerprint: "old"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Input changed: stored fingerprint no longer matches.
	cp, err := store.Load("extract", "new")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp != nil {
		t.Errorf("stale checkpoint should load as nil, got %+v", cp)
	}
}

func TestLoadCorruptIsNil(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	path := filepath.Join(dir, "checkpoint-extract.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write corrupt checkpoint: %v", err)
	}

	cp, err := store.Load("extract", "fp")
	if err != nil {
		t.Fatalf("corrupt checkpoint must not error: %v", err)
	}
	if cp != nil {
		t.Errorf("corrupt checkpoint should load as nil, got %+v", cp)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	cp := &Checkpoint{Phase: "sequences", Cursor: 50, Fingerprint: "fp", Completed: 50}
	if err := store.Save(cp); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := store.Load("sequences", "fp")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Cursor != 50 || loaded.Completed != 50 {
		t.Errorf("got cursor=%d completed=%d, want 50/50", loaded.Cursor, loaded.Completed)
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	if err := store.Save(&Checkpoint{Phase: "extract", Fingerprint: "fp"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear("extract"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cp, err := store.Load("extract", "fp")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp != nil {
		t.Error("checkpoint should be gone after Clear")
	}

	// Clearing again is fine.
	if err := store.Clear("extract"); err != nil {
		t.Fatalf("clear absent: %v", err)
	}
}

func TestPhasesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	if err := store.Save(&Checkpoint{Phase: "extract", Cursor: 1, Fingerprint: "fp"}); err != nil {
		t.Fatalf("save extract: %v", err)
	}
	if err := store.Save(&Checkpoint{Phase: "sequences", Cursor: 2, Fingerprint: "fp"}); err != nil {
		t.Fatalf("save sequences: %v", err)
	}

	ext, _ := store.Load("extract", "fp")
	seq, _ := store.Load("sequences", "fp")
	if ext.Cursor != 1 || seq.Cursor != 2 {
		t.Errorf("phase checkpoints interfere: extract=%d sequences=%d", ext.Cursor, seq.Cursor)
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	dir := t.TempDir()

	a := writeInput(t, dir, "a.csv", "header\nrow1\n")
	fpA, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint a: %v", err)
	}

	// Different content, same length.
	b := writeInput(t, dir, "b.csv", "header\nrow2\n")
	fpB, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("fingerprint b: %v", err)
	}

	if fpA == fpB {
		t.Error("fingerprints of different contents should differ")
	}

	// Unchanged file fingerprints the same.
	fpA2, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint a again: %v", err)
	}
	if fpA != fpA2 {
		t.Errorf("fingerprint not stable: %q vs %q", fpA, fpA2)
	}
}

func TestFingerprintChangesWithMtime(t *testing.T) {
	dir := t.TempDir()
	path := writeInput(t, dir, "a.csv", "header\nrow\n")

	fp1, err := Fingerprint(path)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	newTime := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(path, newTime, newTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fp2, err := Fingerprint(path)
	if err != nil {
		t.Fatalf("fingerprint after touch: %v", err)
	}
	if fp1 == fp2 {
		t.Error("fingerprint should change when mtime changes")
	}
}
