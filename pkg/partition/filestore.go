// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package partition

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// numShards spreads entity logs across subdirectories so no single
// directory holds hundreds of thousands of files.
const numShards = 256

// defaultFlushBytes caps buffered appends between explicit flushes.
const defaultFlushBytes = 8 << 20

// FileStore keeps one append-only log file per entity per direction,
// sharded by dense index. Appends are buffered in memory per log and
// written with open-append-close on Flush, so the store never holds more
// than one file descriptor at a time regardless of universe size.
type FileStore struct {
	dir        string
	width      int
	flushBytes int

	mu      sync.Mutex
	buffers map[logKey][]byte
	pending int
}

type logKey struct {
	idx int
	dir Direction
}

// NewFileStore creates (or reopens) a file-backed partition store with the
// given feature width.
func NewFileStore(dir string, width int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create partition dir: %w", err)
	}
	return &FileStore{
		dir:        dir,
		width:      width,
		flushBytes: defaultFlushBytes,
		buffers:    make(map[logKey][]byte),
	}, nil
}

// Append implements Store.
func (fs *FileStore) Append(idx int, dir Direction, recs ...Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := logKey{idx: idx, dir: dir}
	buf := fs.buffers[key]
	before := len(buf)
	for _, rec := range recs {
		if len(rec.Features) != fs.width {
			return fmt.Errorf("%w: append with %d features, store width %d", ErrCorruptLog, len(rec.Features), fs.width)
		}
		buf = appendRecord(buf, rec)
	}
	fs.buffers[key] = buf
	fs.pending += len(buf) - before

	if fs.pending >= fs.flushBytes {
		return fs.flushLocked()
	}
	return nil
}

// Flush implements Store.
func (fs *FileStore) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.flushLocked()
}

// flushLocked writes every buffered log in ascending key order. Ordering
// keeps flushes deterministic, which the resume-equivalence property
// depends on at chunk boundaries.
func (fs *FileStore) flushLocked() error {
	if len(fs.buffers) == 0 {
		return nil
	}

	keys := make([]logKey, 0, len(fs.buffers))
	for key := range fs.buffers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].idx != keys[j].idx {
			return keys[i].idx < keys[j].idx
		}
		return keys[i].dir < keys[j].dir
	})

	for _, key := range keys {
		data := fs.buffers[key]
		if len(data) == 0 {
			continue
		}
		if err := fs.appendFile(key, data); err != nil {
			return err
		}
		delete(fs.buffers, key)
	}
	fs.pending = 0
	return nil
}

func (fs *FileStore) appendFile(key logKey, data []byte) error {
	path := fs.logPath(key.idx, key.dir)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640) //nolint:gosec // G304: path built from store dir
	if err != nil {
		return fmt.Errorf("open partition log: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append partition log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close partition log: %w", err)
	}
	return nil
}

// ReadAll implements Store.
func (fs *FileStore) ReadAll(idx int, dir Direction) ([]Record, error) {
	path := fs.logPath(idx, dir)
	f, err := os.Open(path) //nolint:gosec // G304: path built from store dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open partition log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var recs []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		rec, err := parseRecord(scanner.Text(), fs.width)
		if err != nil {
			return nil, widthErrorOr(err, path, lineNo)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan partition log %s: %w", path, err)
	}
	return recs, nil
}

// Exists implements Store.
func (fs *FileStore) Exists(idx int, dir Direction) (bool, error) {
	info, err := os.Stat(fs.logPath(idx, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat partition log: %w", err)
	}
	return info.Size() > 0, nil
}

// Reset implements Store. Discards buffers and every on-disk log.
func (fs *FileStore) Reset() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.buffers = make(map[logKey][]byte)
	fs.pending = 0

	if err := os.RemoveAll(fs.dir); err != nil {
		return fmt.Errorf("remove partition dir: %w", err)
	}
	if err := os.MkdirAll(fs.dir, 0750); err != nil {
		return fmt.Errorf("recreate partition dir: %w", err)
	}
	return nil
}

// Close implements Store.
func (fs *FileStore) Close() error {
	return fs.Flush()
}

func (fs *FileStore) logPath(idx int, dir Direction) string {
	shard := idx % numShards
	return filepath.Join(fs.dir, fmt.Sprintf("%03d", shard), fmt.Sprintf("ent_%d_%s.log", idx, dir))
}

// appendRecord encodes one record as a CSV line:
// counterpart,time_key,f1,...,fF
func appendRecord(buf []byte, rec Record) []byte {
	buf = strconv.AppendInt(buf, int64(rec.Counterpart), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, rec.TimeKey, 10)
	for _, v := range rec.Features {
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	}
	return append(buf, '\n')
}

// parseRecord decodes one log line, enforcing the feature width.
func parseRecord(line string, width int) (Record, error) {
	rec := Record{Features: make([]float32, 0, width)}

	field, rest, err := nextField(line)
	if err != nil {
		return rec, err
	}
	counterpart, err := strconv.ParseInt(field, 10, 32)
	if err != nil {
		return rec, fmt.Errorf("counterpart %q: %w", field, err)
	}
	rec.Counterpart = int32(counterpart)

	field, rest, err = nextField(rest)
	if err != nil {
		return rec, err
	}
	rec.TimeKey, err = strconv.ParseInt(field, 10, 64)
	if err != nil {
		return rec, fmt.Errorf("time key %q: %w", field, err)
	}

	for rest != "" {
		field, rest, _ = nextField(rest)
		v, err := strconv.ParseFloat(field, 32)
		if err != nil || math.IsNaN(v) {
			return rec, fmt.Errorf("feature %q invalid", field)
		}
		rec.Features = append(rec.Features, float32(v))
	}
	if len(rec.Features) != width {
		return rec, errWidth{got: len(rec.Features), want: width}
	}
	return rec, nil
}

// nextField splits off the next comma-separated field without allocating.
func nextField(s string) (field, rest string, err error) {
	if s == "" {
		return "", "", fmt.Errorf("missing field")
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return s[:i], s[i+1:], nil
		}
	}
	return s, "", nil
}

type errWidth struct{ got, want int }

func (e errWidth) Error() string {
	return fmt.Sprintf("feature width %d, want %d", e.got, e.want)
}

func widthErrorOr(err error, path string, line int) error {
	if we, ok := err.(errWidth); ok {
		return widthError(path, line, we.got, we.want)
	}
	return fmt.Errorf("%w: %s line %d: %v", ErrCorruptLog, path, line, err)
}
