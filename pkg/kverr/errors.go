// Package kverr defines the error taxonomy shared by the page, node,
// pager, wal and btree layers. Callers compare against these sentinels
// with errors.Is; the btree package wraps them with github.com/pkg/errors
// to attach call-site context without losing the sentinel identity.
package kverr

import "github.com/pkg/errors"

var (
	// ErrKeyNotFound is returned by Search or Delete against an absent key.
	ErrKeyNotFound = errors.New("kverr: key not found")

	// ErrKeyAlreadyExists is returned by Insert against a key already present.
	ErrKeyAlreadyExists = errors.New("kverr: key already exists")

	// ErrKeyOverflow is returned when a key exceeds node.KeySize bytes.
	ErrKeyOverflow = errors.New("kverr: key exceeds maximum size")

	// ErrValueOverflow is returned when a value exceeds node.ValueSize bytes.
	ErrValueOverflow = errors.New("kverr: value exceeds maximum size")

	// ErrEncode is returned when a caller-supplied key or value cannot be
	// represented on disk (e.g. it contains a zero byte).
	ErrEncode = errors.New("kverr: value cannot be encoded")

	// ErrDecode is returned when on-disk bytes do not decode into a valid
	// node (an unrecognized node_type tag). A count field whose records
	// run past the end of the page surfaces as the page package's bounds
	// error instead.
	ErrDecode = errors.New("kverr: malformed page")

	// ErrCorrupt indicates a structural inconsistency discovered while
	// reading the index files (e.g. a wal whose length is not a whole
	// number of records).
	ErrCorrupt = errors.New("kverr: index corruption detected")

	// ErrUnexpected marks an invariant violation that should not be
	// reachable in a correctly functioning tree (e.g. an empty wal on
	// get_root, a merged node that exceeds a page's capacity).
	ErrUnexpected = errors.New("kverr: unexpected invariant violation")
)
