// Package wal implements the root-offset log: an append-only sequence
// of 8-byte big-endian page offsets recorded in a file beside the index
// file. The last record names the current root; reopening an existing
// log must not truncate it, since the last record is exactly the state
// a crash recovery needs to find.
package wal

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/nimrodshn/bptreeindex/pkg/kverr"
)

const recordSize = 8

// Wal is an append-only log of root page offsets.
type Wal struct {
	file *os.File
}

// Open opens (creating if necessary) the wal file at path. An existing
// file is opened for append without truncation, so a prior root record
// survives a restart.
func Open(path string) (*Wal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: open %s", path)
	}
	return &Wal{file: f}, nil
}

// HasRoot reports whether the log already holds at least one record,
// i.e. whether the tree this wal backs has been initialized before.
func (w *Wal) HasRoot() (bool, error) {
	info, err := w.file.Stat()
	if err != nil {
		return false, errors.Wrap(err, "wal: stat")
	}
	return info.Size() >= recordSize, nil
}

// GetRoot returns the most recently appended root offset. It returns
// kverr.ErrUnexpected if the log is empty.
func (w *Wal) GetRoot() (uint64, error) {
	info, err := w.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "wal: stat")
	}
	if info.Size() < recordSize {
		return 0, errors.Wrap(kverr.ErrUnexpected, "wal: get_root on an empty log")
	}
	if info.Size()%recordSize != 0 {
		return 0, errors.Wrapf(kverr.ErrCorrupt, "wal: trailing partial record (size %d)", info.Size())
	}

	buf := make([]byte, recordSize)
	lastOffset := info.Size() - recordSize
	if _, err := w.file.ReadAt(buf, lastOffset); err != nil {
		return 0, errors.Wrap(err, "wal: read last record")
	}
	return binary.BigEndian.Uint64(buf), nil
}

// SetRoot appends a new root record, making it the one GetRoot returns.
func (w *Wal) SetRoot(offset uint64) error {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf, offset)

	info, err := w.file.Stat()
	if err != nil {
		return errors.Wrap(err, "wal: stat")
	}
	if _, err := w.file.WriteAt(buf, info.Size()); err != nil {
		return errors.Wrap(err, "wal: append record")
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Wal) Close() error {
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "wal: sync")
	}
	return errors.Wrap(w.file.Close(), "wal: close")
}
