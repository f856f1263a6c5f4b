// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package tensor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAtSetRow(t *testing.T) {
	tn := New(2, 3, 4)

	tn.Set(1, 2, 3, 42.5)
	if got := tn.At(1, 2, 3); got != 42.5 {
		t.Errorf("At(1,2,3) = %v, want 42.5", got)
	}
	if got := tn.At(0, 0, 0); got != 0 {
		t.Errorf("zero-fill violated: At(0,0,0) = %v", got)
	}

	row := tn.Row(1, 2)
	if len(row) != 4 {
		t.Fatalf("row length = %d, want 4", len(row))
	}
	if row[3] != 42.5 {
		t.Errorf("row aliasing broken: row[3] = %v", row[3])
	}
	row[0] = 7
	if tn.At(1, 2, 0) != 7 {
		t.Error("Row should write through to the tensor")
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	tn := New(2, 5, 3)
	for i := range tn.Data {
		tn.Data[i] = float32(i) * 0.25
	}

	path := filepath.Join(t.TempDir(), "out", "ent_0.ten")
	if err := WriteFile(path, tn); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Dims != tn.Dims {
		t.Errorf("dims = %v, want %v", got.Dims, tn.Dims)
	}
	for i := range tn.Data {
		if got.Data[i] != tn.Data[i] {
			t.Fatalf("data[%d] = %v, want %v", i, got.Data[i], tn.Data[i])
		}
	}
}

func TestWriteIsAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ent_1.ten")

	first := New(1, 2, 2)
	first.Set(0, 0, 0, 1)
	if err := WriteFile(path, first); err != nil {
		t.Fatalf("first write: %v", err)
	}

	second := New(1, 2, 2)
	second.Set(0, 0, 0, 9)
	if err := WriteFile(path, second); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.At(0, 0, 0) != 9 {
		t.Errorf("At(0,0,0) = %v, want 9 (second write)", got.At(0, 0, 0))
	}

	// No temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after rename")
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ten")
	if err := os.WriteFile(path, []byte("NOPE\x01junkjunkjunk"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := ReadFile(path)
	if !errors.Is(err, ErrBadTensor) {
		t.Errorf("error = %v, want ErrBadTensor", err)
	}
}

func TestReadRejectsTruncatedPayload(t *testing.T) {
	tn := New(2, 2, 2)
	path := filepath.Join(t.TempDir(), "trunc.ten")
	if err := WriteFile(path, tn); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-5], 0600); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	_, err = ReadFile(path)
	if !errors.Is(err, ErrBadTensor) {
		t.Errorf("error = %v, want ErrBadTensor", err)
	}
}

func TestWriteRejectsShapeMismatch(t *testing.T) {
	tn := &Tensor{Dims: [3]int{2, 2, 2}, Data: make([]float32, 7)}

	err := WriteFile(filepath.Join(t.TempDir(), "bad.ten"), tn)
	if !errors.Is(err, ErrBadTensor) {
		t.Errorf("error = %v, want ErrBadTensor", err)
	}
}
