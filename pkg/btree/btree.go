// Package btree is the algorithmic layer: it turns Insert/Search/Delete
// calls into a sequence of node splits, merges and page writes against
// the pager and wal packages. It owns no byte-layout knowledge of its
// own; that lives entirely in the node package.
package btree

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nimrodshn/bptreeindex/pkg/kverr"
	"github.com/nimrodshn/bptreeindex/pkg/node"
	"github.com/nimrodshn/bptreeindex/pkg/page"
	"github.com/nimrodshn/bptreeindex/pkg/pager"
	"github.com/nimrodshn/bptreeindex/pkg/wal"
)

// Config configures a Tree. Path names the index file; WalPath names
// the root log and defaults to Path+".wal" when empty. B is the
// branching factor: every non-root node holds between B-1 and 2B-1
// entries (leaf pairs) or between B and 2B children (internal),
// clamped to what a single page can physically hold.
type Config struct {
	Path    string
	WalPath string
	B       int
	Logger  *zap.Logger
}

// Tree is a persistent, single-writer B+Tree index over fixed-width
// keys and values.
type Tree struct {
	pager *pager.Pager
	wal   *wal.Wal
	b     int

	logger *zap.Logger
}

// Open opens the index file and wal at the configured paths, creating
// both and seeding an empty leaf root if they do not already exist. A
// reopen of an existing pair resumes from the wal's last recorded root.
func Open(cfg Config) (*Tree, error) {
	if cfg.B < 2 {
		return nil, errors.Errorf("btree: branching factor must be at least 2, got %d", cfg.B)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	walPath := cfg.WalPath
	if walPath == "" {
		walPath = cfg.Path + ".wal"
	}

	pgr, err := pager.Open(cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "btree: open index file")
	}
	w, err := wal.Open(walPath)
	if err != nil {
		return nil, errors.Wrap(err, "btree: open wal")
	}

	has, err := w.HasRoot()
	if err != nil {
		return nil, errors.Wrap(err, "btree: check for existing root")
	}
	if !has {
		root := node.NewLeafRoot()
		rootPage, err := node.ToPage(root)
		if err != nil {
			return nil, errors.Wrap(err, "btree: encode fresh root")
		}
		rootOffset, err := pgr.WritePage(rootPage)
		if err != nil {
			return nil, errors.Wrap(err, "btree: write fresh root")
		}
		if err := w.SetRoot(rootOffset); err != nil {
			return nil, errors.Wrap(err, "btree: record fresh root")
		}
		logger.Debug("initialized empty index", zap.String("path", cfg.Path), zap.Uint64("root_offset", rootOffset))
	}

	return &Tree{pager: pgr, wal: w, b: cfg.B, logger: logger}, nil
}

// Close flushes and closes the index file and wal.
func (t *Tree) Close() error {
	if err := t.pager.Close(); err != nil {
		return err
	}
	return t.wal.Close()
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return errors.New("btree: key must not be empty")
	}
	if len(key) > node.KeySize {
		return errors.Wrapf(kverr.ErrKeyOverflow, "btree: key of length %d exceeds %d bytes", len(key), node.KeySize)
	}
	if bytes.IndexByte(key, 0) != -1 {
		return errors.Wrap(kverr.ErrEncode, "btree: key must not contain a zero byte")
	}
	return nil
}

func validateValue(value []byte) error {
	if len(value) > node.ValueSize {
		return errors.Wrapf(kverr.ErrValueOverflow, "btree: value of length %d exceeds %d bytes", len(value), node.ValueSize)
	}
	if bytes.IndexByte(value, 0) != -1 {
		return errors.Wrap(kverr.ErrEncode, "btree: value must not contain a zero byte")
	}
	return nil
}

// internalChildIndex returns which child of n a descent for key must
// follow: the index of the first separator strictly greater than key,
// or len(Separators) if key is at least as large as all of them.
func internalChildIndex(n *node.Node, key []byte) int {
	return sort.Search(len(n.Separators), func(i int) bool {
		return bytes.Compare(key, n.Separators[i]) < 0
	})
}

// leafFind locates key within a leaf's ordered pairs, returning the
// index it occupies (if found) or the index it should be inserted at
// (if not).
func leafFind(n *node.Node, key []byte) (idx int, found bool) {
	idx = sort.Search(len(n.Pairs), func(i int) bool {
		return bytes.Compare(n.Pairs[i].Key, key) >= 0
	})
	found = idx < len(n.Pairs) && bytes.Equal(n.Pairs[idx].Key, key)
	return idx, found
}

func insertPairAt(pairs []node.KeyValuePair, idx int, kv node.KeyValuePair) []node.KeyValuePair {
	pairs = append(pairs, node.KeyValuePair{})
	copy(pairs[idx+1:], pairs[idx:])
	pairs[idx] = kv
	return pairs
}

func insertChildAt(children []uint64, idx int, offset uint64) []uint64 {
	children = append(children, 0)
	copy(children[idx+1:], children[idx:])
	children[idx] = offset
	return children
}

func insertKeyAt(keys [][]byte, idx int, key []byte) [][]byte {
	keys = append(keys, nil)
	copy(keys[idx+1:], keys[idx:])
	keys[idx] = key
	return keys
}

// Insert adds key/value to the tree. It returns kverr.ErrKeyAlreadyExists
// if key is already present.
func (t *Tree) Insert(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	rootOffset, err := t.wal.GetRoot()
	if err != nil {
		return errors.Wrap(err, "btree: insert: read root")
	}
	rootPage, err := t.pager.GetPage(rootOffset)
	if err != nil {
		return errors.Wrap(err, "btree: insert: read root page")
	}
	root, err := node.FromPage(rootPage)
	if err != nil {
		return errors.Wrap(err, "btree: insert: decode root")
	}

	if root.IsFull(t.b) {
		rootOffset, root, err = t.splitRoot(rootOffset, root)
		if err != nil {
			return errors.Wrap(err, "btree: insert: split root")
		}
	}

	return t.insertNonFull(rootOffset, root, key, value)
}

// splitRoot splits an overfull root in two and builds a fresh internal
// root above both halves. The old root's offset is reused for the left
// half; the sibling and the new root are appended.
func (t *Tree) splitRoot(oldRootOffset uint64, oldRoot *node.Node) (uint64, *node.Node, error) {
	median, sibling, err := oldRoot.Split(t.b)
	if err != nil {
		return 0, nil, err
	}

	siblingOffset, err := t.pager.NextOffset()
	if err != nil {
		return 0, nil, err
	}
	newRootOffset := siblingOffset + uint64(page.Size)

	oldRoot.HasParent = true
	oldRoot.ParentOffset = newRootOffset
	oldRootPage, err := node.ToPage(oldRoot)
	if err != nil {
		return 0, nil, err
	}
	if err := t.pager.OverwritePage(oldRootOffset, oldRootPage); err != nil {
		return 0, nil, err
	}

	sibling.HasParent = true
	sibling.ParentOffset = newRootOffset
	siblingPage, err := node.ToPage(sibling)
	if err != nil {
		return 0, nil, err
	}
	gotSiblingOffset, err := t.pager.WritePage(siblingPage)
	if err != nil {
		return 0, nil, err
	}
	if gotSiblingOffset != siblingOffset {
		return 0, nil, errors.Wrap(kverr.ErrUnexpected, "btree: sibling landed at an unreserved offset")
	}

	newRoot := &node.Node{
		Kind:       node.KindInternal,
		IsRoot:     true,
		Children:   []uint64{oldRootOffset, siblingOffset},
		Separators: [][]byte{median},
	}
	newRootPage, err := node.ToPage(newRoot)
	if err != nil {
		return 0, nil, err
	}
	gotNewRootOffset, err := t.pager.WritePage(newRootPage)
	if err != nil {
		return 0, nil, err
	}
	if gotNewRootOffset != newRootOffset {
		return 0, nil, errors.Wrap(kverr.ErrUnexpected, "btree: new root landed at an unreserved offset")
	}

	if err := t.wal.SetRoot(newRootOffset); err != nil {
		return 0, nil, err
	}

	t.logger.Debug("split root",
		zap.Uint64("old_root_offset", oldRootOffset),
		zap.Uint64("sibling_offset", siblingOffset),
		zap.Uint64("new_root_offset", newRootOffset),
	)

	return newRootOffset, newRoot, nil
}

// splitChild splits the child of parent (held at parentOffset) at
// childIndex, threading the median key back into parent.
func (t *Tree) splitChild(parentOffset uint64, parent *node.Node, childIndex int) error {
	childOffset := parent.Children[childIndex]
	childPage, err := t.pager.GetPage(childOffset)
	if err != nil {
		return err
	}
	child, err := node.FromPage(childPage)
	if err != nil {
		return err
	}

	median, sibling, err := child.Split(t.b)
	if err != nil {
		return err
	}

	childResultPage, err := node.ToPage(child)
	if err != nil {
		return err
	}
	if err := t.pager.OverwritePage(childOffset, childResultPage); err != nil {
		return err
	}

	siblingPage, err := node.ToPage(sibling)
	if err != nil {
		return err
	}
	siblingOffset, err := t.pager.WritePage(siblingPage)
	if err != nil {
		return err
	}

	parent.Separators = insertKeyAt(parent.Separators, childIndex, median)
	parent.Children = insertChildAt(parent.Children, childIndex+1, siblingOffset)

	parentPage, err := node.ToPage(parent)
	if err != nil {
		return err
	}
	if err := t.pager.OverwritePage(parentOffset, parentPage); err != nil {
		return err
	}

	t.logger.Debug("split child",
		zap.Uint64("parent_offset", parentOffset),
		zap.Uint64("child_offset", childOffset),
		zap.Uint64("sibling_offset", siblingOffset),
	)

	return nil
}

func (t *Tree) insertNonFull(offset uint64, n *node.Node, key, value []byte) error {
	if n.Kind == node.KindLeaf {
		idx, found := leafFind(n, key)
		if found {
			return errors.Wrapf(kverr.ErrKeyAlreadyExists, "btree: key %q", key)
		}
		n.Pairs = insertPairAt(n.Pairs, idx, node.KeyValuePair{Key: key, Value: value})

		p, err := node.ToPage(n)
		if err != nil {
			return err
		}
		return t.pager.OverwritePage(offset, p)
	}

	idx := internalChildIndex(n, key)
	childOffset := n.Children[idx]
	childPage, err := t.pager.GetPage(childOffset)
	if err != nil {
		return err
	}
	child, err := node.FromPage(childPage)
	if err != nil {
		return err
	}

	if child.IsFull(t.b) {
		if err := t.splitChild(offset, n, idx); err != nil {
			return err
		}
		idx = internalChildIndex(n, key)
		childOffset = n.Children[idx]
		childPage, err = t.pager.GetPage(childOffset)
		if err != nil {
			return err
		}
		child, err = node.FromPage(childPage)
		if err != nil {
			return err
		}
	}

	return t.insertNonFull(childOffset, child, key, value)
}

// Search returns the value stored under key, or kverr.ErrKeyNotFound.
func (t *Tree) Search(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	offset, err := t.wal.GetRoot()
	if err != nil {
		return nil, errors.Wrap(err, "btree: search: read root")
	}

	for {
		p, err := t.pager.GetPage(offset)
		if err != nil {
			return nil, errors.Wrap(err, "btree: search: read page")
		}
		n, err := node.FromPage(p)
		if err != nil {
			return nil, errors.Wrap(err, "btree: search: decode page")
		}

		if n.Kind == node.KindLeaf {
			idx, found := leafFind(n, key)
			if !found {
				return nil, errors.Wrapf(kverr.ErrKeyNotFound, "btree: key %q", key)
			}
			return append([]byte{}, n.Pairs[idx].Value...), nil
		}

		offset = n.Children[internalChildIndex(n, key)]
	}
}

// pathEntry records one node visited on the way down to the key being
// deleted, along with its position among its own parent's children
// (-1 for the root, which has no parent).
type pathEntry struct {
	offset        uint64
	n             *node.Node
	indexInParent int
}

// Delete removes key from the tree, merging underflowing nodes back up
// toward the root as necessary. It returns kverr.ErrKeyNotFound if key
// is absent.
func (t *Tree) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	rootOffset, err := t.wal.GetRoot()
	if err != nil {
		return errors.Wrap(err, "btree: delete: read root")
	}

	var path []pathEntry
	offset := rootOffset
	indexInParent := -1
	for {
		p, err := t.pager.GetPage(offset)
		if err != nil {
			return errors.Wrap(err, "btree: delete: read page")
		}
		n, err := node.FromPage(p)
		if err != nil {
			return errors.Wrap(err, "btree: delete: decode page")
		}
		path = append(path, pathEntry{offset: offset, n: n, indexInParent: indexInParent})
		if n.Kind == node.KindLeaf {
			break
		}
		indexInParent = internalChildIndex(n, key)
		offset = n.Children[indexInParent]
	}

	leaf := &path[len(path)-1]
	idx, found := leafFind(leaf.n, key)
	if !found {
		return errors.Wrapf(kverr.ErrKeyNotFound, "btree: key %q", key)
	}
	leaf.n.Pairs = append(leaf.n.Pairs[:idx], leaf.n.Pairs[idx+1:]...)

	leafPage, err := node.ToPage(leaf.n)
	if err != nil {
		return err
	}
	if err := t.pager.OverwritePage(leaf.offset, leafPage); err != nil {
		return err
	}

	return t.fixUnderflow(path)
}

// fixUnderflow walks path from the leaf up toward the root, merging a
// node with a sibling whenever it has fallen below the branching
// factor's minimum occupancy. There is no rotation/borrow step: an
// underflowing node always merges.
func (t *Tree) fixUnderflow(path []pathEntry) error {
	for i := len(path) - 1; i >= 0; i-- {
		cur := path[i]

		if cur.n.IsRoot {
			if cur.n.Kind == node.KindInternal && len(cur.n.Children) == 1 {
				return t.collapseRoot(cur.n.Children[0])
			}
			return nil
		}

		if !cur.n.IsUnderflow(t.b) {
			return nil
		}

		parentEntry := path[i-1]
		parent := parentEntry.n
		myIdx := cur.indexInParent

		var siblingIdx int
		if myIdx == 0 {
			siblingIdx = 1
		} else {
			siblingIdx = myIdx - 1
		}
		siblingOffset := parent.Children[siblingIdx]
		siblingPage, err := t.pager.GetPage(siblingOffset)
		if err != nil {
			return err
		}
		sibling, err := node.FromPage(siblingPage)
		if err != nil {
			return err
		}

		var left, right *node.Node
		var leftOffset uint64
		var sepIdx int
		if siblingIdx < myIdx {
			left, right = sibling, cur.n
			leftOffset, sepIdx = siblingOffset, siblingIdx
		} else {
			left, right = cur.n, sibling
			leftOffset, sepIdx = cur.offset, myIdx
		}

		merged, err := node.Merge(left, right, parent.Separators[sepIdx])
		if err != nil {
			return errors.Wrap(err, "btree: delete: merge siblings")
		}
		merged.HasParent = true
		merged.ParentOffset = parentEntry.offset

		mergedPage, err := node.ToPage(merged)
		if err != nil {
			return err
		}
		if err := t.pager.OverwritePage(leftOffset, mergedPage); err != nil {
			return err
		}

		removeIdx := sepIdx + 1
		parent.Children = append(parent.Children[:removeIdx], parent.Children[removeIdx+1:]...)
		parent.Separators = append(parent.Separators[:sepIdx], parent.Separators[sepIdx+1:]...)
		parent.Children[sepIdx] = leftOffset

		parentPage, err := node.ToPage(parent)
		if err != nil {
			return err
		}
		if err := t.pager.OverwritePage(parentEntry.offset, parentPage); err != nil {
			return err
		}

		t.logger.Debug("merged siblings",
			zap.Uint64("parent_offset", parentEntry.offset),
			zap.Uint64("merged_offset", leftOffset),
		)
	}
	return nil
}

func (t *Tree) collapseRoot(newRootOffset uint64) error {
	p, err := t.pager.GetPage(newRootOffset)
	if err != nil {
		return err
	}
	n, err := node.FromPage(p)
	if err != nil {
		return err
	}
	n.IsRoot = true
	n.HasParent = false
	n.ParentOffset = 0

	np, err := node.ToPage(n)
	if err != nil {
		return err
	}
	if err := t.pager.OverwritePage(newRootOffset, np); err != nil {
		return err
	}
	if err := t.wal.SetRoot(newRootOffset); err != nil {
		return err
	}

	t.logger.Debug("collapsed root", zap.Uint64("new_root_offset", newRootOffset))
	return nil
}

// Print writes a human-readable, indented dump of the tree to w. It is
// a diagnostic aid, not part of the index's durable format.
func (t *Tree) Print(w io.Writer) error {
	rootOffset, err := t.wal.GetRoot()
	if err != nil {
		return err
	}
	return t.printNode(w, rootOffset, 0)
}

func (t *Tree) printNode(w io.Writer, offset uint64, depth int) error {
	p, err := t.pager.GetPage(offset)
	if err != nil {
		return err
	}
	n, err := node.FromPage(p)
	if err != nil {
		return err
	}

	indent := strings.Repeat("  ", depth)
	if n.Kind == node.KindLeaf {
		keys := make([]string, len(n.Pairs))
		for i, kv := range n.Pairs {
			keys[i] = string(kv.Key)
		}
		fmt.Fprintf(w, "%sleaf@%d [%s]\n", indent, offset, strings.Join(keys, ", "))
		return nil
	}

	seps := make([]string, len(n.Separators))
	for i, s := range n.Separators {
		seps[i] = string(s)
	}
	fmt.Fprintf(w, "%sinternal@%d (%s)\n", indent, offset, strings.Join(seps, ", "))
	for _, child := range n.Children {
		if err := t.printNode(w, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
