package storage

import "testing"

func TestBucketPageInsertAndLookup(t *testing.T) {
	b := NewBucketPage[uint64, RecordID](4)

	if !b.Insert(1, RecordID{PageID: 10, SlotNum: 0}) {
		t.Fatal("expected insert to succeed")
	}

	v, ok := b.Lookup(1)
	if !ok || v.PageID != 10 {
		t.Fatalf("expected lookup to find RecordID{10,0}, got %+v, %v", v, ok)
	}
}

func TestBucketPageInsertDuplicateKeyFails(t *testing.T) {
	b := NewBucketPage[uint64, RecordID](4)
	b.Insert(1, RecordID{PageID: 10})

	if b.Insert(1, RecordID{PageID: 20}) {
		t.Error("expected duplicate key insert to fail")
	}
}

func TestBucketPageInsertFullFails(t *testing.T) {
	b := NewBucketPage[uint64, RecordID](2)
	b.Insert(1, RecordID{PageID: 1})
	b.Insert(2, RecordID{PageID: 2})

	if b.Insert(3, RecordID{PageID: 3}) {
		t.Error("expected insert into a full bucket to fail")
	}
	if !b.IsFull() {
		t.Error("expected IsFull to report true")
	}
}

func TestBucketPageRemove(t *testing.T) {
	b := NewBucketPage[uint64, RecordID](4)
	b.Insert(1, RecordID{PageID: 1})
	b.Insert(2, RecordID{PageID: 2})

	if !b.Remove(1) {
		t.Fatal("expected remove to succeed")
	}
	if _, ok := b.Lookup(1); ok {
		t.Error("expected key 1 to be gone")
	}
	if b.Remove(1) {
		t.Error("expected a second remove of the same key to fail")
	}
	if b.Size() != 1 {
		t.Errorf("expected size 1, got %d", b.Size())
	}
}

func TestBucketPageRoundTripsThroughSerialize(t *testing.T) {
	b := NewBucketPage[uint64, RecordID](4)
	b.Insert(7, RecordID{PageID: 3, SlotNum: 5})
	b.Insert(9, RecordID{PageID: 4, SlotNum: 1})

	buf := make([]byte, BucketPageSerializedSize(4, Uint64Serializer{}.Size(), RecordIDSerializer{}.Size()))
	b.Serialize(buf, Uint64Serializer{}, RecordIDSerializer{})

	b2 := DeserializeBucketPage[uint64, RecordID](buf, 4, Uint64Serializer{}, RecordIDSerializer{})
	if b2.Size() != 2 {
		t.Fatalf("expected size 2, got %d", b2.Size())
	}
	v, ok := b2.Lookup(7)
	if !ok || v.PageID != 3 || v.SlotNum != 5 {
		t.Errorf("expected RecordID{3,5} for key 7, got %+v", v)
	}
}
