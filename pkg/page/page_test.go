package page

import (
	"bytes"
	"testing"
)

// TestReadWriteUint verifies that WriteUint followed by ReadUint round
// trips a big-endian value, and that out-of-bounds offsets are rejected.
func TestReadWriteUint(t *testing.T) {
	p := New()

	if err := p.WriteUint(2, 0xdeadbeef); err != nil {
		t.Fatalf("WriteUint: %v", err)
	}
	got, err := p.ReadUint(2)
	if err != nil {
		t.Fatalf("ReadUint: %v", err)
	}
	if got != 0xdeadbeef {
		t.Errorf("expected 0xdeadbeef, got 0x%x", got)
	}

	if err := p.WriteUint(Size-PtrSize+1, 1); err == nil {
		t.Error("expected error writing past the end of the page")
	}
	if _, err := p.ReadUint(Size); err == nil {
		t.Error("expected error reading past the end of the page")
	}
}

// TestReadWriteBytes verifies byte-range reads and writes, including
// that ReadBytes returns a copy rather than a view into the buffer.
func TestReadWriteBytes(t *testing.T) {
	p := New()
	payload := []byte("shalom")

	if err := p.WriteBytes(10, payload); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := p.ReadBytes(10, len(payload))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("expected %q, got %q", payload, got)
	}

	// Mutating the returned slice must not affect the page.
	got[0] = 'X'
	again, _ := p.ReadBytes(10, len(payload))
	if !bytes.Equal(again, payload) {
		t.Error("ReadBytes leaked a mutable view into the page buffer")
	}

	if err := p.WriteBytes(Size-2, []byte("abc")); err == nil {
		t.Error("expected error writing bytes past the end of the page")
	}
}

// TestInsertBytes verifies that InsertBytes shifts the tail of a range
// right before writing the new bytes into the freed window.
func TestInsertBytes(t *testing.T) {
	p := New()
	_ = p.WriteBytes(0, []byte("helloworld"))

	// Insert "X" before "world", shifting it right by one byte.
	if err := p.InsertBytes(5, 10, []byte("X")); err != nil {
		t.Fatalf("InsertBytes: %v", err)
	}
	got, _ := p.ReadBytes(0, 11)
	if !bytes.Equal(got, []byte("helloXworld")) {
		t.Errorf("expected %q, got %q", "helloXworld", got)
	}

	if err := p.InsertBytes(Size-1, Size, []byte("ab")); err == nil {
		t.Error("expected error when insertion would run past the page end")
	}
}

// TestSnapshotIsACopy verifies that Snapshot returns an independent copy.
func TestSnapshotIsACopy(t *testing.T) {
	p := New()
	_ = p.WriteBytes(0, []byte("abc"))

	snap := p.Snapshot()
	snap[0] = 'z'

	got, _ := p.ReadBytes(0, 3)
	if !bytes.Equal(got, []byte("abc")) {
		t.Error("Snapshot aliased the live page buffer")
	}
	if len(snap) != Size {
		t.Errorf("expected snapshot of length %d, got %d", Size, len(snap))
	}
}

// TestFromBytesRejectsWrongLength verifies the page-size bound check.
func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, Size-1)); err == nil {
		t.Error("expected error for undersized buffer")
	}
	p, err := FromBytes(make([]byte, Size))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil page")
	}
}
