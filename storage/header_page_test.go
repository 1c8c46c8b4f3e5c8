package storage

import "testing"

func TestHeaderPageDefaultsToInvalid(t *testing.T) {
	h := NewHeaderPage(3)
	for i := uint32(0); i < 1<<3; i++ {
		if h.GetDirectoryPageID(i) != InvalidPageID {
			t.Fatalf("expected slot %d to start invalid", i)
		}
	}
}

func TestHeaderPageHashToDirectoryIndexUsesTopBits(t *testing.T) {
	h := NewHeaderPage(2)
	// top 2 bits of 0xC0000000 are 11.
	idx := h.HashToDirectoryIndex(0xC0000000)
	if idx != 3 {
		t.Errorf("expected index 3, got %d", idx)
	}
	idx = h.HashToDirectoryIndex(0x00000000)
	if idx != 0 {
		t.Errorf("expected index 0, got %d", idx)
	}
}

func TestHeaderPageSetAndGet(t *testing.T) {
	h := NewHeaderPage(2)
	h.SetDirectoryPageID(1, PageID(42))
	if got := h.GetDirectoryPageID(1); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestHeaderPageRoundTripsThroughSerialize(t *testing.T) {
	h := NewHeaderPage(3)
	h.SetDirectoryPageID(5, PageID(99))

	buf := make([]byte, HeaderPageSerializedSize(3))
	h.Serialize(buf)

	h2 := DeserializeHeaderPage(buf)
	if h2.MaxDepth() != 3 {
		t.Errorf("expected max depth 3, got %d", h2.MaxDepth())
	}
	if h2.GetDirectoryPageID(5) != 99 {
		t.Errorf("expected slot 5 to be 99, got %d", h2.GetDirectoryPageID(5))
	}
	if h2.GetDirectoryPageID(0) != InvalidPageID {
		t.Errorf("expected untouched slot to remain invalid")
	}
}
