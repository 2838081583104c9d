package wal

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/nimrodshn/bptreeindex/pkg/kverr"
)

// TestGetRootOnEmptyLog verifies the ErrUnexpected sentinel on a fresh log.
func TestGetRootOnEmptyLog(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "wal"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	has, err := w.HasRoot()
	if err != nil {
		t.Fatalf("HasRoot: %v", err)
	}
	if has {
		t.Error("expected a fresh log to report no root")
	}

	if _, err := w.GetRoot(); !errors.Is(err, kverr.ErrUnexpected) {
		t.Errorf("expected ErrUnexpected, got %v", err)
	}
}

// TestSetRootThenGetRoot verifies the last appended record wins.
func TestSetRootThenGetRoot(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "wal"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if err := w.SetRoot(0); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if err := w.SetRoot(4096); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if err := w.SetRoot(8192); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}

	got, err := w.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}
	if got != 8192 {
		t.Errorf("expected the last record 8192, got %d", got)
	}
}

// TestReopenDoesNotTruncate is the crash-recovery contract: reopening an
// existing wal must preserve its last record rather than starting fresh.
func TestReopenDoesNotTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal")

	w1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w1.SetRoot(4096); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()

	has, err := w2.HasRoot()
	if err != nil {
		t.Fatalf("HasRoot: %v", err)
	}
	if !has {
		t.Fatal("expected reopened log to report an existing root")
	}

	got, err := w2.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot after reopen: %v", err)
	}
	if got != 4096 {
		t.Errorf("expected the pre-restart root 4096 to survive, got %d", got)
	}
}
