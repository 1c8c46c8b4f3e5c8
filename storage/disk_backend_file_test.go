package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFileDiskBackendReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	backend, err := NewFileDiskBackend(path)
	if err != nil {
		t.Fatalf("NewFileDiskBackend failed: %v", err)
	}
	defer backend.Close()

	page := bytes.Repeat([]byte{0xAB}, PageSize)
	if err := backend.WritePage(PageID(3), page); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}

	got, err := backend.ReadPage(PageID(3))
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}

	if !bytes.Equal(got, page) {
		t.Error("read page does not match written page")
	}
}

func TestFileDiskBackendWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	backend, err := NewFileDiskBackend(path)
	if err != nil {
		t.Fatalf("NewFileDiskBackend failed: %v", err)
	}
	defer backend.Close()

	if err := backend.WritePage(PageID(0), []byte{1, 2, 3}); err == nil {
		t.Error("expected error writing undersized page")
	}
}

func TestFileDiskBackendWritePagesV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	backend, err := NewFileDiskBackend(path)
	if err != nil {
		t.Fatalf("NewFileDiskBackend failed: %v", err)
	}
	defer backend.Close()

	writes := []PageWrite{
		{PageID: 0, Data: bytes.Repeat([]byte{0x01}, PageSize)},
		{PageID: 1, Data: bytes.Repeat([]byte{0x02}, PageSize)},
	}

	if err := backend.WritePagesV(writes); err != nil {
		t.Fatalf("WritePagesV failed: %v", err)
	}

	for _, w := range writes {
		got, err := backend.ReadPage(w.PageID)
		if err != nil {
			t.Fatalf("ReadPage(%d) failed: %v", w.PageID, err)
		}
		if !bytes.Equal(got, w.Data) {
			t.Errorf("page %d mismatch after WritePagesV", w.PageID)
		}
	}
}

func TestFileDiskBackendReadUnwrittenPageIsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	backend, err := NewFileDiskBackend(path)
	if err != nil {
		t.Fatalf("NewFileDiskBackend failed: %v", err)
	}
	defer backend.Close()

	// Write page 5 first so the file is long enough to read page 0 from.
	if err := backend.WritePage(PageID(5), bytes.Repeat([]byte{0xFF}, PageSize)); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}

	got, err := backend.ReadPage(PageID(0))
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}

	zero := make([]byte, PageSize)
	if !bytes.Equal(got, zero) {
		t.Error("expected unwritten page to read back as all zeros")
	}
}
