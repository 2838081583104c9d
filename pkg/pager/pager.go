// Package pager handles the persistence of pages to disk. It is
// deliberately ignorant of B+Tree semantics: it exposes a page-offset
// addressed file, and nothing more. The node package decides what bytes
// go into a page; the btree package decides which offset means what.
package pager

import (
	"os"

	"github.com/pkg/errors"

	"github.com/nimrodshn/bptreeindex/pkg/page"
)

// Pager wraps a single index file and serves whole-page reads and writes
// at PAGE_SIZE-aligned byte offsets.
type Pager struct {
	file *os.File
}

// Open opens (creating if necessary) the index file at path for
// page-addressed random access.
func Open(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "pager: open %s", path)
	}
	return &Pager{file: f}, nil
}

// GetPage reads the PAGE_SIZE-byte page at the given byte offset.
func (p *Pager) GetPage(offset uint64) (*page.Page, error) {
	buf := make([]byte, page.Size)
	if _, err := p.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, errors.Wrapf(err, "pager: read page at offset %d", offset)
	}
	return page.FromBytes(buf)
}

// WritePage appends pg to the end of the file and returns the byte
// offset it was written at.
func (p *Pager) WritePage(pg *page.Page) (uint64, error) {
	offset, err := p.NextOffset()
	if err != nil {
		return 0, err
	}
	if _, err := p.file.WriteAt(pg.Snapshot(), int64(offset)); err != nil {
		return 0, errors.Wrapf(err, "pager: write page at offset %d", offset)
	}
	return offset, nil
}

// NextOffset returns the byte offset the next WritePage call will land
// at, without writing anything. Callers that must know a page's future
// offset before its contents are final (e.g. a new root whose children
// need to record it as their parent) reserve it this way.
func (p *Pager) NextOffset() (uint64, error) {
	info, err := p.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "pager: stat")
	}
	return uint64(info.Size()), nil
}

// OverwritePage rewrites the page already occupying offset in place.
// It is the caller's responsibility to ensure offset was previously
// returned by WritePage; the file is never extended by this call.
func (p *Pager) OverwritePage(offset uint64, pg *page.Page) error {
	if _, err := p.file.WriteAt(pg.Snapshot(), int64(offset)); err != nil {
		return errors.Wrapf(err, "pager: overwrite page at offset %d", offset)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (p *Pager) Close() error {
	if err := p.file.Sync(); err != nil {
		return errors.Wrap(err, "pager: sync")
	}
	return errors.Wrap(p.file.Close(), "pager: close")
}
