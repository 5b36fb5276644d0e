// Package wal implements the append-only, fsync-backed write-ahead log that
// the engine durably logs every Set to before publishing it to the index.
package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/flashdb/kvstore/internal/record"
)

// ErrIO wraps any underlying write, sync, or filesystem failure encountered
// while appending to or opening the log.
var ErrIO = errors.New("wal: io error")

// ErrCorruptLog is returned by Replay when a record fails to decode for a
// reason other than the file simply running out of bytes. That shape
// indicates mid-file corruption, which recovery does not attempt to repair.
var ErrCorruptLog = errors.New("wal: corrupt log (mid-file corruption)")

// Summary reports what Replay found, for the recovery driver to log and
// for the engine's recovery manifest.
type Summary struct {
	RecordsApplied int
	FinalOffset    int64
}

// WAL is an append-only log file. All appends are serialized by an internal
// mutex, so records are never interleaved at the byte level even if two
// engine goroutines happened to call AppendAndSync concurrently for different
// stripes.
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	limits record.Limits
	fsync  bool
}

// Open opens or creates the log file at path in append-only mode, with the
// write cursor positioned at the end of the file. limits bounds the size of
// records AppendAndSync will accept. fsyncOnAppend controls whether AppendAndSync
// actually calls fsync; disabling it violates durability invariant I1 and
// exists only for tests that don't care about crash survival.
func Open(path string, limits record.Limits, fsyncOnAppend bool) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating directory: %v", ErrIO, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening log file: %v", ErrIO, err)
	}

	return &WAL{
		file:   f,
		path:   path,
		limits: limits,
		fsync:  fsyncOnAppend,
	}, nil
}

// AppendAndSync serializes rec via the record codec, writes the entire
// frame, then (unless disabled) forces the write to stable storage. It
// returns only after the flush completes: a nil error means the record is
// durable.
func (w *WAL) AppendAndSync(rec record.Record) error {
	data, err := record.Encode(rec, w.limits)
	if err != nil {
		return err // KeyTooLarge / ValueTooLarge, not an IO failure
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("%w: writing record: %v", ErrIO, err)
	}
	if w.fsync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("%w: syncing record: %v", ErrIO, err)
		}
	}
	return nil
}

// Replay reopens the file for sequential reading from offset 0, decodes
// successive records and invokes visit(key, value) for each.
//
// A record cut short by physical end-of-file (the header, body, or CRC
// trailer ran out of bytes partway through) is a torn tail write: the file
// is truncated to the offset just before it and Replay returns normally.
// Any other decode failure — bad magic, unknown version, a declared length
// past the configured limits, or a CRC mismatch — means the bytes present
// are wrong rather than merely missing, which is mid-file corruption;
// Replay returns ErrCorruptLog without truncating anything.
func (w *WAL) Replay(visit func(key, value []byte)) (Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: reopening for replay: %v", ErrIO, err)
	}
	defer f.Close()

	var offset int64
	applied := 0

	for {
		rec, decErr := record.Decode(f, w.limits)
		if decErr == nil {
			visit(rec.Key, rec.Value)
			applied++
			offset += record.FrameLen(rec)
			continue
		}
		if decErr == io.EOF {
			// Clean boundary: the previous record was the last thing in
			// the file and nothing followed it.
			break
		}
		if errors.Is(decErr, io.ErrUnexpectedEOF) || errors.Is(decErr, io.EOF) {
			// A frame started (its header, or part of it, was read) but
			// the file ran out of bytes before the frame completed: a
			// torn tail write. Discard it and truncate back to the last
			// known-good offset.
			if err := w.file.Truncate(offset); err != nil {
				return Summary{}, fmt.Errorf("%w: truncating torn tail: %v", ErrIO, err)
			}
			break
		}

		// Any other decode failure (bad magic, unknown version, a
		// declared length past the configured limits, or a CRC mismatch)
		// means the bytes present are wrong, not incomplete — mid-file
		// corruption that recovery does not attempt to repair.
		return Summary{}, fmt.Errorf("%w: at offset %d: %v", ErrCorruptLog, offset, decErr)
	}

	return Summary{RecordsApplied: applied, FinalOffset: offset}, nil
}

// Close flushes and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("%w: syncing on close: %v", ErrIO, err)
	}
	return w.file.Close()
}

// Path returns the filesystem path this log was opened with.
func (w *WAL) Path() string {
	return w.path
}
