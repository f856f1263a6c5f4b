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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// scanBufSize is the bufio read buffer for the sequential ledger scan.
const scanBufSize = 1 << 20

// ledgerScanner reads the oversized ledger sequentially in record chunks.
//
// Cursor semantics depend on the input kind:
//   - plain files: cursor is the byte offset after the last consumed record;
//     resume seeks directly to it.
//   - gzip files: cursor is the record ordinal after the header; resume
//     re-reads and discards that many records (gzip streams cannot seek).
//
// Either way the cursor is an opaque int64 the extractor round-trips
// through checkpoints; only the scanner interprets it.
type ledgerScanner struct {
	f       *os.File
	gz      *gzip.Reader
	r       *bufio.Reader
	gzipped bool

	cursor    int64 // current cursor (bytes or records, see above)
	bytesRead int64 // uncompressed bytes consumed, for progress
	totalSize int64 // compressed file size; 0 when unknown
}

// openLedger opens the ledger, validates its header against the expected
// feature width, and positions the stream at cursor (0 for a cold start).
func openLedger(path string, width int, cursor int64) (*ledgerScanner, error) {
	f, err := os.Open(path) //nolint:gosec // G304: caller-provided ledger path
	if err != nil {
		return nil, fmt.Errorf("%w: open ledger: %v", ErrInputCorrupt, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat ledger: %v", ErrInputCorrupt, err)
	}

	s := &ledgerScanner{
		f:         f,
		gzipped:   strings.HasSuffix(path, ".gz"),
		totalSize: info.Size(),
	}

	if s.gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: open gzip stream: %v", ErrInputCorrupt, err)
		}
		s.gz = gz
		s.r = bufio.NewReaderSize(gz, scanBufSize)
		s.totalSize = 0 // uncompressed size unknown; progress is indeterminate
	} else {
		s.r = bufio.NewReaderSize(f, scanBufSize)
	}

	if err := s.validateHeader(width); err != nil {
		_ = s.Close()
		return nil, err
	}

	if cursor > 0 {
		if err := s.seekTo(cursor); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// validateHeader consumes the header row and checks the column count:
// src, dst, time_key, then exactly width feature columns.
func (s *ledgerScanner) validateHeader(width int) error {
	header, err := s.readLine()
	if err != nil {
		return fmt.Errorf("%w: read header: %v", ErrInputCorrupt, err)
	}
	cols := strings.Count(header, ",") + 1
	if want := 3 + width; cols != want {
		return fmt.Errorf("%w: header has %d columns, want %d (src,dst,time_key + %d features)",
			ErrInputCorrupt, cols, want, width)
	}
	if !s.gzipped {
		// Header bytes never count toward the cursor; cursor 0 means
		// "no records consumed" and resume re-validates the header.
		s.cursor = s.bytesRead
	}
	return nil
}

// seekTo positions the stream at a previously checkpointed cursor.
func (s *ledgerScanner) seekTo(cursor int64) error {
	if s.gzipped {
		// Record-ordinal cursor: discard that many records. Blank lines
		// do not count, matching NextChunk's accounting.
		for skipped := int64(0); skipped < cursor; {
			line, err := s.readLine()
			if err != nil {
				return fmt.Errorf("%w: skip to record %d: %v", ErrInputCorrupt, cursor, err)
			}
			if line == "" {
				continue
			}
			skipped++
		}
		s.cursor = cursor
		return nil
	}

	if _, err := s.f.Seek(cursor, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to offset %d: %v", ErrInputCorrupt, cursor, err)
	}
	s.r.Reset(s.f)
	s.cursor = cursor
	s.bytesRead = cursor
	return nil
}

// NextChunk reads up to maxRecords raw record lines. Done is true once the
// input is exhausted; a chunk may be non-empty and done simultaneously.
// The scanner's cursor advances to the boundary after the returned chunk.
func (s *ledgerScanner) NextChunk(maxRecords int, lines []string) (chunk []string, done bool, err error) {
	chunk = lines[:0]
	for len(chunk) < maxRecords {
		line, err := s.readLine()
		if err == io.EOF {
			return chunk, true, nil
		}
		if err != nil {
			return chunk, false, fmt.Errorf("%w: read ledger: %v", ErrInputCorrupt, err)
		}
		if line == "" {
			continue // tolerate blank lines (trailing newline at EOF)
		}
		chunk = append(chunk, line)
		if s.gzipped {
			s.cursor++
		} else {
			s.cursor = s.bytesRead
		}
	}
	return chunk, false, nil
}

// readLine reads one newline-terminated line, tracking consumed bytes.
func (s *ledgerScanner) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if line == "" && err == io.EOF {
		return "", io.EOF
	}
	s.bytesRead += int64(len(line))
	return strings.TrimRight(line, "\r\n"), nil
}

// Cursor returns the resumable position after the last returned chunk.
func (s *ledgerScanner) Cursor() int64 { return s.cursor }

// Progress returns consumed and total bytes; total is 0 for gzip input.
func (s *ledgerScanner) Progress() (current, total int64) {
	if s.gzipped {
		return s.bytesRead, 0
	}
	return s.bytesRead, s.totalSize
}

// Close releases the underlying readers.
func (s *ledgerScanner) Close() error {
	if s.gz != nil {
		_ = s.gz.Close()
	}
	return s.f.Close()
}
