package btree

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimrodshn/bptreeindex/pkg/kverr"
)

func openTestTree(t *testing.T, b int) *Tree {
	t.Helper()
	dir := t.TempDir()
	tr, err := Open(Config{Path: filepath.Join(dir, "index.db"), B: b})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// TestInsertAndSearch covers sequential insertion and lookup without
// triggering any split.
func TestInsertAndSearch(t *testing.T) {
	tr := openTestTree(t, 2)

	require.NoError(t, tr.Insert([]byte("a"), []byte("1")))
	require.NoError(t, tr.Insert([]byte("b"), []byte("2")))

	v, err := tr.Search([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	v, err = tr.Search([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	_, err = tr.Search([]byte("missing"))
	assert.True(t, errors.Is(err, kverr.ErrKeyNotFound))
}

// TestInsertDuplicateKeyRejected verifies Insert refuses to overwrite.
func TestInsertDuplicateKeyRejected(t *testing.T) {
	tr := openTestTree(t, 2)

	require.NoError(t, tr.Insert([]byte("a"), []byte("1")))
	err := tr.Insert([]byte("a"), []byte("2"))
	assert.True(t, errors.Is(err, kverr.ErrKeyAlreadyExists))
}

// TestSplitCascade drives a branching factor of 2 (effective leaf cap
// 3) through enough inserts to force a root split and a subsequent
// internal-node split, then verifies every key is still reachable.
func TestSplitCascade(t *testing.T) {
	tr := openTestTree(t, 2)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	for i, k := range keys {
		require.NoError(t, tr.Insert([]byte(k), []byte{byte('0' + i)}))
	}

	for i, k := range keys {
		v, err := tr.Search([]byte(k))
		require.NoErrorf(t, err, "searching for key %q", k)
		assert.Equal(t, []byte{byte('0' + i)}, v)
	}
}

// TestDeleteAfterSplits inserts enough keys to force splits, deletes a
// subset, and verifies the deleted keys are gone while the rest survive.
func TestDeleteAfterSplits(t *testing.T) {
	tr := openTestTree(t, 2)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	for i, k := range keys {
		require.NoError(t, tr.Insert([]byte(k), []byte{byte('0' + i)}))
	}

	toDelete := []string{"c", "f", "a"}
	for _, k := range toDelete {
		require.NoErrorf(t, tr.Delete([]byte(k)), "deleting key %q", k)
	}

	for _, k := range toDelete {
		_, err := tr.Search([]byte(k))
		assert.Truef(t, errors.Is(err, kverr.ErrKeyNotFound), "expected %q to be gone", k)
	}

	remaining := []string{"b", "d", "e", "g", "h", "i"}
	for _, k := range remaining {
		_, err := tr.Search([]byte(k))
		assert.NoErrorf(t, err, "expected %q to still be present", k)
	}
}

// TestDeleteMissingKey verifies the ErrKeyNotFound sentinel.
func TestDeleteMissingKey(t *testing.T) {
	tr := openTestTree(t, 2)
	require.NoError(t, tr.Insert([]byte("a"), []byte("1")))

	err := tr.Delete([]byte("z"))
	assert.True(t, errors.Is(err, kverr.ErrKeyNotFound))
}

// TestKeyOverflowRejected verifies a key longer than KeySize is
// rejected before ever touching disk.
func TestKeyOverflowRejected(t *testing.T) {
	tr := openTestTree(t, 2)

	tooLong := bytes.Repeat([]byte("x"), 11)
	err := tr.Insert(tooLong, []byte("1"))
	assert.True(t, errors.Is(err, kverr.ErrKeyOverflow))
}

// TestValueOverflowRejected verifies a value longer than ValueSize is
// rejected.
func TestValueOverflowRejected(t *testing.T) {
	tr := openTestTree(t, 2)

	tooLong := bytes.Repeat([]byte("y"), 11)
	err := tr.Insert([]byte("a"), tooLong)
	assert.True(t, errors.Is(err, kverr.ErrValueOverflow))
}

// TestReopenRecoversState simulates a crash: close the tree, reopen
// against the same files, and confirm all prior inserts are intact.
func TestReopenRecoversState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	tr1, err := Open(Config{Path: path, B: 2})
	require.NoError(t, err)

	keys := []string{"a", "b", "c", "d", "e"}
	for i, k := range keys {
		require.NoError(t, tr1.Insert([]byte(k), []byte{byte('0' + i)}))
	}
	require.NoError(t, tr1.Close())

	tr2, err := Open(Config{Path: path, B: 2})
	require.NoError(t, err)
	defer tr2.Close()

	for i, k := range keys {
		v, err := tr2.Search([]byte(k))
		require.NoErrorf(t, err, "key %q missing after reopen", k)
		assert.Equal(t, []byte{byte('0' + i)}, v)
	}
}
