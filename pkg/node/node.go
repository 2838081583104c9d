// Package node gives logical, tree-shaped meaning to a page.Page: the
// tagged union of Internal (ordered children + separators) and Leaf
// (ordered key/value pairs) described by the index file's page layout.
//
// Page layout (byte-exact):
//
//	Common header (10 bytes), present in both node kinds:
//	  0   1   is_root      (0x01 true, 0x00 false)
//	  1   1   node_type    (0x01 Internal, 0x02 Leaf)
//	  2   8   parent_offset (big-endian; 0 when the node is root)
//
//	Leaf header (18 bytes total):
//	  10  8   num_pairs
//	  Body starting at byte 18: num_pairs entries of (KEY_SIZE, VALUE_SIZE),
//	  each right-padded with zero bytes.
//
//	Internal header (18 bytes total):
//	  10  8   num_children
//	  Body starting at byte 18: num_children offsets of 8 bytes each,
//	  followed by num_children-1 keys of KEY_SIZE bytes each.
package node

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/nimrodshn/bptreeindex/pkg/kverr"
	"github.com/nimrodshn/bptreeindex/pkg/page"
)

// Fixed on-disk field sizes for keys and values.
const (
	KeySize   = 10
	ValueSize = 10
)

// Common header layout.
const (
	isRootOffset     = 0
	nodeTypeOffset   = 1
	parentOffset     = 2
	commonHeaderSize = 1 + 1 + page.PtrSize // 10
)

// Leaf and Internal headers share a layout: one PtrSize-wide count field
// right after the common header.
const (
	countOffset        = commonHeaderSize
	leafHeaderSize     = commonHeaderSize + page.PtrSize // 18
	internalHeaderSize = commonHeaderSize + page.PtrSize // 18
)

const (
	isRootByte    byte = 0x01
	isNotRootByte byte = 0x00
)

// Kind tags which half of the union a Node occupies.
type Kind uint8

const (
	KindInternal Kind = 0x01
	KindLeaf     Kind = 0x02
)

// KeyValuePair is an ordered (Key, Value) entry stored in a leaf.
type KeyValuePair struct {
	Key   []byte
	Value []byte
}

// Node is the in-memory logical form of a page.
type Node struct {
	Kind   Kind
	IsRoot bool

	// HasParent is false only for the root; ParentOffset is meaningless
	// when HasParent is false.
	HasParent    bool
	ParentOffset uint64

	// Children and Separators are populated for Internal nodes:
	// len(Children) == len(Separators)+1.
	Children   []uint64
	Separators [][]byte

	// Pairs is populated for Leaf nodes, kept in strictly ascending
	// key order.
	Pairs []KeyValuePair
}

// NewLeafRoot returns the empty leaf that seeds a fresh tree.
func NewLeafRoot() *Node {
	return &Node{Kind: KindLeaf, IsRoot: true}
}

// MaxLeafPairs is the largest number of pairs a leaf page can hold
// given PAGE_SIZE, KEY_SIZE and VALUE_SIZE.
func MaxLeafPairs() int {
	return (page.Size - leafHeaderSize) / (KeySize + ValueSize)
}

// MaxInternalChildren is the largest number of children an internal
// page can hold given PAGE_SIZE, PtrSize and KEY_SIZE.
func MaxInternalChildren() int {
	n := 0
	for {
		next := n + 1
		used := internalHeaderSize + next*page.PtrSize + (next-1)*KeySize
		if used > page.Size {
			break
		}
		n = next
	}
	return n
}

// EffectiveLeafCap is the "full" threshold for a leaf under branching
// factor b: the smaller of the nominal 2b-1 and what the page can
// physically hold (see spec's capacity-accounting note).
func EffectiveLeafCap(b int) int {
	return minInt(2*b-1, MaxLeafPairs())
}

// EffectiveInternalCap is the "full" threshold for an internal node
// under branching factor b.
func EffectiveInternalCap(b int) int {
	return minInt(2*b, MaxInternalChildren())
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// IsFull reports whether n has reached its effective capacity and must
// be split before another entry is added.
func (n *Node) IsFull(b int) bool {
	switch n.Kind {
	case KindLeaf:
		return len(n.Pairs) >= EffectiveLeafCap(b)
	case KindInternal:
		return len(n.Children) >= EffectiveInternalCap(b)
	default:
		return false
	}
}

// IsUnderflow reports whether n, assumed non-root, holds fewer entries
// than the branching factor b allows.
func (n *Node) IsUnderflow(b int) bool {
	switch n.Kind {
	case KindLeaf:
		return len(n.Pairs) < b-1
	case KindInternal:
		return len(n.Children) < b
	default:
		return false
	}
}

func trimZero(b []byte) []byte {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		return b
	}
	return b[:i]
}

func padRight(b []byte, width int) ([]byte, error) {
	if len(b) > width {
		return nil, errors.Errorf("node: value of length %d exceeds field width %d", len(b), width)
	}
	if bytes.IndexByte(b, 0) != -1 {
		return nil, errors.Wrap(kverr.ErrEncode, "node: value must not contain a zero byte")
	}
	out := make([]byte, width)
	copy(out, b)
	return out, nil
}

// FromPage decodes the logical node stored in p.
func FromPage(p *page.Page) (*Node, error) {
	isRootBytes, err := p.ReadBytes(isRootOffset, 1)
	if err != nil {
		return nil, errors.Wrap(err, "node: read is_root")
	}
	typeBytes, err := p.ReadBytes(nodeTypeOffset, 1)
	if err != nil {
		return nil, errors.Wrap(err, "node: read node_type")
	}

	n := &Node{IsRoot: isRootBytes[0] == isRootByte}

	switch Kind(typeBytes[0]) {
	case KindInternal:
		n.Kind = KindInternal
	case KindLeaf:
		n.Kind = KindLeaf
	default:
		return nil, errors.Wrapf(kverr.ErrDecode, "node: unrecognized node_type tag 0x%02x", typeBytes[0])
	}

	if !n.IsRoot {
		parent, err := p.ReadUint(parentOffset)
		if err != nil {
			return nil, errors.Wrap(err, "node: read parent_offset")
		}
		n.HasParent = true
		n.ParentOffset = parent
	}

	switch n.Kind {
	case KindLeaf:
		numPairs, err := p.ReadUint(countOffset)
		if err != nil {
			return nil, errors.Wrap(err, "node: read num_pairs")
		}
		pairWidth := KeySize + ValueSize
		n.Pairs = make([]KeyValuePair, 0, numPairs)
		for i := uint64(0); i < numPairs; i++ {
			base := leafHeaderSize + int(i)*pairWidth
			raw, err := p.ReadBytes(base, pairWidth)
			if err != nil {
				return nil, errors.Wrapf(err, "node: read pair %d", i)
			}
			key := trimZero(raw[:KeySize])
			val := trimZero(raw[KeySize:])
			n.Pairs = append(n.Pairs, KeyValuePair{
				Key:   append([]byte{}, key...),
				Value: append([]byte{}, val...),
			})
		}

	case KindInternal:
		numChildren, err := p.ReadUint(countOffset)
		if err != nil {
			return nil, errors.Wrap(err, "node: read num_children")
		}
		n.Children = make([]uint64, 0, numChildren)
		for i := uint64(0); i < numChildren; i++ {
			base := internalHeaderSize + int(i)*page.PtrSize
			childOffset, err := p.ReadUint(base)
			if err != nil {
				return nil, errors.Wrapf(err, "node: read child %d", i)
			}
			n.Children = append(n.Children, childOffset)
		}
		if numChildren > 0 {
			keysBase := internalHeaderSize + int(numChildren)*page.PtrSize
			n.Separators = make([][]byte, 0, numChildren-1)
			for i := uint64(0); i < numChildren-1; i++ {
				raw, err := p.ReadBytes(keysBase+int(i)*KeySize, KeySize)
				if err != nil {
					return nil, errors.Wrapf(err, "node: read separator %d", i)
				}
				key := trimZero(raw)
				n.Separators = append(n.Separators, append([]byte{}, key...))
			}
		}
	}

	return n, nil
}

// ToPage encodes n into a fresh page.
func ToPage(n *Node) (*page.Page, error) {
	p := page.New()

	isRoot := isNotRootByte
	if n.IsRoot {
		isRoot = isRootByte
	}
	if err := p.WriteBytes(isRootOffset, []byte{isRoot}); err != nil {
		return nil, err
	}
	if err := p.WriteBytes(nodeTypeOffset, []byte{byte(n.Kind)}); err != nil {
		return nil, err
	}
	if !n.IsRoot {
		if err := p.WriteUint(parentOffset, n.ParentOffset); err != nil {
			return nil, err
		}
	}

	switch n.Kind {
	case KindLeaf:
		if err := p.WriteUint(countOffset, uint64(len(n.Pairs))); err != nil {
			return nil, err
		}
		pairWidth := KeySize + ValueSize
		for i, kv := range n.Pairs {
			key, err := padRight(kv.Key, KeySize)
			if err != nil {
				return nil, errors.Wrapf(err, "node: encode key at pair %d", i)
			}
			val, err := padRight(kv.Value, ValueSize)
			if err != nil {
				return nil, errors.Wrapf(err, "node: encode value at pair %d", i)
			}
			base := leafHeaderSize + i*pairWidth
			if err := p.WriteBytes(base, key); err != nil {
				return nil, err
			}
			if err := p.WriteBytes(base+KeySize, val); err != nil {
				return nil, err
			}
		}

	case KindInternal:
		if err := p.WriteUint(countOffset, uint64(len(n.Children))); err != nil {
			return nil, err
		}
		for i, child := range n.Children {
			if err := p.WriteUint(internalHeaderSize+i*page.PtrSize, child); err != nil {
				return nil, err
			}
		}
		keysBase := internalHeaderSize + len(n.Children)*page.PtrSize
		for i, sep := range n.Separators {
			key, err := padRight(sep, KeySize)
			if err != nil {
				return nil, errors.Wrapf(err, "node: encode separator %d", i)
			}
			if err := p.WriteBytes(keysBase+i*KeySize, key); err != nil {
				return nil, err
			}
		}

	default:
		return nil, errors.Wrap(kverr.ErrUnexpected, "node: encode of unknown kind")
	}

	return p, nil
}

// Split divides an overfull node around its median. The cut point is
// derived from the node's actual occupancy rather than the raw
// branching factor b: when a page's physical capacity clamps
// EffectiveLeafCap/EffectiveInternalCap below the nominal 2b-1/2b (see
// those functions), a full node can hold far fewer entries than b
// itself, and cutting at b would strand the sibling with next to
// nothing. n is mutated in place to become the left half (and is
// marked non-root, since any node worth splitting either already had a
// parent or is about to receive one from the caller); the returned
// sibling holds the right half and inherits n's prior parent_offset.
func (n *Node) Split(b int) (median []byte, sibling *Node, err error) {
	switch n.Kind {
	case KindLeaf:
		total := len(n.Pairs)
		if total < 2 {
			return nil, nil, errors.Errorf("node: leaf has %d pairs, too few to split", total)
		}
		mid := total / 2
		left := append([]KeyValuePair{}, n.Pairs[:mid]...)
		right := append([]KeyValuePair{}, n.Pairs[mid:]...)

		sib := &Node{
			Kind:         KindLeaf,
			HasParent:    n.HasParent,
			ParentOffset: n.ParentOffset,
			Pairs:        right,
		}
		n.Pairs = left
		n.IsRoot = false
		return append([]byte{}, right[0].Key...), sib, nil

	case KindInternal:
		total := len(n.Children)
		if total < 2 {
			return nil, nil, errors.Errorf("node: internal has %d children, too few to split", total)
		}
		mid := total / 2
		leftChildren := append([]uint64{}, n.Children[:mid]...)
		leftSeparators := append([][]byte{}, n.Separators[:mid-1]...)
		medianKey := append([]byte{}, n.Separators[mid-1]...)
		rightChildren := append([]uint64{}, n.Children[mid:]...)
		rightSeparators := append([][]byte{}, n.Separators[mid:]...)

		sib := &Node{
			Kind:         KindInternal,
			HasParent:    n.HasParent,
			ParentOffset: n.ParentOffset,
			Children:     rightChildren,
			Separators:   rightSeparators,
		}
		n.Children = leftChildren
		n.Separators = leftSeparators
		n.IsRoot = false
		return medianKey, sib, nil

	default:
		return nil, nil, errors.Wrap(kverr.ErrUnexpected, "node: split of unknown kind")
	}
}

// Merge combines two same-kind sibling nodes into one, in left-to-right
// order. For Internal nodes, parentSeparator is the key the parent held
// between left and right; it is threaded between their children in the
// result (the classical CLRS B-Tree-Delete merge: the parent drops its
// copy, the merged node gains it) so that |children| = |separators|+1
// keeps holding. It is ignored for Leaf nodes, which have no separators
// of their own.
func Merge(left, right *Node, parentSeparator []byte) (*Node, error) {
	if left.Kind != right.Kind {
		return nil, errors.Wrap(kverr.ErrUnexpected, "node: cannot merge nodes of different kinds")
	}

	merged := &Node{
		Kind:         left.Kind,
		IsRoot:       left.IsRoot,
		HasParent:    left.HasParent,
		ParentOffset: left.ParentOffset,
	}

	switch left.Kind {
	case KindLeaf:
		merged.Pairs = append(append([]KeyValuePair{}, left.Pairs...), right.Pairs...)
		if len(merged.Pairs) > MaxLeafPairs() {
			return nil, errors.Wrapf(kverr.ErrUnexpected, "node: merged leaf holds %d pairs, exceeds capacity %d", len(merged.Pairs), MaxLeafPairs())
		}

	case KindInternal:
		merged.Children = append(append([]uint64{}, left.Children...), right.Children...)
		seps := append([][]byte{}, left.Separators...)
		seps = append(seps, parentSeparator)
		seps = append(seps, right.Separators...)
		merged.Separators = seps
		if len(merged.Children) > MaxInternalChildren() {
			return nil, errors.Wrapf(kverr.ErrUnexpected, "node: merged internal holds %d children, exceeds capacity %d", len(merged.Children), MaxInternalChildren())
		}

	default:
		return nil, errors.Wrap(kverr.ErrUnexpected, "node: merge of unknown kind")
	}

	return merged, nil
}
