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

// Package tensor implements the fixed-shape float32 tensor container and its
// on-disk codec.
//
// Tensors are rank-3 ([direction, window, feature]) and stored in a compact
// binary file: a magic tag, format version, three int32 dimensions, then the
// little-endian float32 payload in row-major order. Files are written via
// temp-file-and-rename so a torn write is never visible to readers.
package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Magic identifies a ledgerseq tensor file.
const Magic = "LSQT"

// FormatVersion is the current on-disk format version.
const FormatVersion = 1

// ErrBadTensor indicates a tensor file that cannot be decoded.
var ErrBadTensor = errors.New("tensor: malformed tensor file")

// Tensor is a dense rank-3 float32 array in row-major order.
type Tensor struct {
	Dims [3]int
	Data []float32
}

// New allocates a zero-filled tensor with the given dimensions.
func New(d0, d1, d2 int) *Tensor {
	return &Tensor{
		Dims: [3]int{d0, d1, d2},
		Data: make([]float32, d0*d1*d2),
	}
}

// At returns the element at [i, j, k].
func (t *Tensor) At(i, j, k int) float32 {
	return t.Data[(i*t.Dims[1]+j)*t.Dims[2]+k]
}

// Set assigns the element at [i, j, k].
func (t *Tensor) Set(i, j, k int, v float32) {
	t.Data[(i*t.Dims[1]+j)*t.Dims[2]+k] = v
}

// Row returns the slice backing row [i, j, :]. Mutations write through.
func (t *Tensor) Row(i, j int) []float32 {
	off := (i*t.Dims[1] + j) * t.Dims[2]
	return t.Data[off : off+t.Dims[2]]
}

// WriteFile encodes the tensor to path atomically.
func WriteFile(path string, t *Tensor) error {
	if len(t.Data) != t.Dims[0]*t.Dims[1]*t.Dims[2] {
		return fmt.Errorf("%w: data length %d does not match dims %v", ErrBadTensor, len(t.Data), t.Dims)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create tensor dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640) //nolint:gosec // G304: path owned by pipeline
	if err != nil {
		return fmt.Errorf("create tensor temp: %w", err)
	}

	if err := encode(f, t); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode tensor: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close tensor temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename tensor: %w", err)
	}
	return nil
}

// ReadFile decodes a tensor file, validating magic, version, and shape.
func ReadFile(path string) (*Tensor, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path owned by pipeline
	if err != nil {
		return nil, fmt.Errorf("open tensor: %w", err)
	}
	defer func() { _ = f.Close() }()

	t, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode tensor %s: %w", filepath.Base(path), err)
	}
	return t, nil
}

func encode(w io.Writer, t *Tensor) error {
	if _, err := w.Write([]byte(Magic)); err != nil {
		return err
	}
	header := make([]byte, 1+3*4)
	header[0] = FormatVersion
	for i, d := range t.Dims {
		binary.LittleEndian.PutUint32(header[1+i*4:], uint32(d)) //nolint:gosec // dims are small positive
	}
	if _, err := w.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

func decode(r io.Reader) (*Tensor, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: short magic", ErrBadTensor)
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadTensor, magic)
	}

	header := make([]byte, 1+3*4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrBadTensor)
	}
	if header[0] != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadTensor, header[0])
	}

	var dims [3]int
	n := 1
	for i := range dims {
		d := int(binary.LittleEndian.Uint32(header[1+i*4:]))
		if d <= 0 || d > 1<<24 {
			return nil, fmt.Errorf("%w: implausible dimension %d", ErrBadTensor, d)
		}
		dims[i] = d
		n *= d
	}

	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: short payload", ErrBadTensor)
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return &Tensor{Dims: dims, Data: data}, nil
}
