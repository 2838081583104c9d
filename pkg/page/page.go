// Package page implements the fixed-size byte buffer that backs every
// node in the index file. A Page knows nothing about B+Tree semantics:
// it only offers typed, bounds-checked access to a PAGE_SIZE window of
// bytes. The node package layers tree structure on top of it.
package page

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// Size is the fixed size, in bytes, of every page in the index file.
	Size = 4096

	// PtrSize is the width of every integer field the page format uses
	// (parent offsets, child offsets, counts). Pinned to 8 bytes so the
	// on-disk format does not depend on the host's native pointer width.
	PtrSize = 8
)

// Page is a mutable PAGE_SIZE-byte buffer.
type Page struct {
	buf [Size]byte
}

// New returns a zeroed page.
func New() *Page {
	return &Page{}
}

// FromBytes copies b into a new Page. b must be exactly Size bytes.
func FromBytes(b []byte) (*Page, error) {
	if len(b) != Size {
		return nil, errors.Errorf("page: expected %d bytes, got %d", Size, len(b))
	}
	p := &Page{}
	copy(p.buf[:], b)
	return p, nil
}

// ReadUint reads a PtrSize-wide big-endian unsigned integer at offset.
func (p *Page) ReadUint(offset int) (uint64, error) {
	if offset < 0 || offset+PtrSize > Size {
		return 0, errors.Errorf("page: read_u out of bounds at offset %d", offset)
	}
	return binary.BigEndian.Uint64(p.buf[offset : offset+PtrSize]), nil
}

// WriteUint overwrites the PtrSize-wide field at offset.
func (p *Page) WriteUint(offset int, v uint64) error {
	if offset < 0 || offset+PtrSize > Size {
		return errors.Errorf("page: write_u out of bounds at offset %d", offset)
	}
	binary.BigEndian.PutUint64(p.buf[offset:offset+PtrSize], v)
	return nil
}

// ReadBytes returns a copy of the size bytes starting at offset.
func (p *Page) ReadBytes(offset, size int) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > Size {
		return nil, errors.Errorf("page: read_bytes out of bounds [%d:%d]", offset, offset+size)
	}
	out := make([]byte, size)
	copy(out, p.buf[offset:offset+size])
	return out, nil
}

// WriteBytes overwrites the len(b) bytes starting at offset.
func (p *Page) WriteBytes(offset int, b []byte) error {
	if offset < 0 || offset+len(b) > Size {
		return errors.Errorf("page: write_bytes out of bounds [%d:%d]", offset, offset+len(b))
	}
	copy(p.buf[offset:offset+len(b)], b)
	return nil
}

// InsertBytes shifts the half-open range [offset, end) right by len(b)
// bytes, then writes b into the freed [offset, offset+len(b)) window.
// It fails if end+len(b) would run past the end of the page.
func (p *Page) InsertBytes(offset, end int, b []byte) error {
	size := len(b)
	if offset < 0 || end < offset || end+size > Size {
		return errors.Errorf("page: insert_bytes out of bounds [%d:%d]+%d", offset, end, size)
	}
	copy(p.buf[offset+size:end+size], p.buf[offset:end])
	copy(p.buf[offset:offset+size], b)
	return nil
}

// Snapshot returns a copy of the whole buffer, ready to be written to disk.
func (p *Page) Snapshot() []byte {
	out := make([]byte, Size)
	copy(out, p.buf[:])
	return out
}
