package storage

import "encoding/binary"

// Serializer encodes and decodes a fixed-size value to and from raw page
// bytes. Size must be constant for a given Serializer instance so bucket
// pages can lay out entries at fixed offsets.
type Serializer[T any] interface {
	Size() int
	Encode(v T, buf []byte)
	Decode(buf []byte) T
}

type bucketEntry[K comparable, V any] struct {
	key   K
	value V
}

// BucketPage is a fixed-capacity, insertion-ordered array of unique-key
// entries. It holds no bloom filter itself: ExtendibleHashTable keeps a
// lazily-built, unpersisted PageBloomFilter per bucket page id to skip a
// lookup that's certain to miss, and drops it on every Insert/Remove.
type BucketPage[K comparable, V any] struct {
	maxSize int
	entries []bucketEntry[K, V]
}

func NewBucketPage[K comparable, V any](maxSize int) *BucketPage[K, V] {
	return &BucketPage[K, V]{maxSize: maxSize, entries: make([]bucketEntry[K, V], 0, maxSize)}
}

func (b *BucketPage[K, V]) IsFull() bool {
	return len(b.entries) >= b.maxSize
}

func (b *BucketPage[K, V]) IsEmpty() bool {
	return len(b.entries) == 0
}

func (b *BucketPage[K, V]) Size() int {
	return len(b.entries)
}

func (b *BucketPage[K, V]) Lookup(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Insert adds key/value if key is absent and the bucket has room. Returns
// false both when the bucket is full and when the key already exists;
// callers distinguish the two with a follow-up Lookup.
func (b *BucketPage[K, V]) Insert(key K, value V) bool {
	for _, e := range b.entries {
		if e.key == key {
			return false
		}
	}
	if b.IsFull() {
		return false
	}
	b.entries = append(b.entries, bucketEntry[K, V]{key: key, value: value})
	return true
}

func (b *BucketPage[K, V]) Remove(key K) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// EntryAt returns the key/value pair at index i, in insertion order.
func (b *BucketPage[K, V]) EntryAt(i int) (K, V) {
	e := b.entries[i]
	return e.key, e.value
}

// BucketPageSerializedSize returns the on-page footprint for maxSize
// entries of the given key/value encoded sizes.
func BucketPageSerializedSize(maxSize, keySize, valueSize int) int {
	return 2 + maxSize*(keySize+valueSize)
}

func (b *BucketPage[K, V]) Serialize(buf []byte, ks Serializer[K], vs Serializer[V]) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(b.entries)))
	entrySize := ks.Size() + vs.Size()
	offset := 2
	for _, e := range b.entries {
		ks.Encode(e.key, buf[offset:offset+ks.Size()])
		vs.Encode(e.value, buf[offset+ks.Size():offset+entrySize])
		offset += entrySize
	}
}

func DeserializeBucketPage[K comparable, V any](buf []byte, maxSize int, ks Serializer[K], vs Serializer[V]) *BucketPage[K, V] {
	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	b := NewBucketPage[K, V](maxSize)
	entrySize := ks.Size() + vs.Size()
	offset := 2
	for i := 0; i < count; i++ {
		key := ks.Decode(buf[offset : offset+ks.Size()])
		value := vs.Decode(buf[offset+ks.Size() : offset+entrySize])
		b.entries = append(b.entries, bucketEntry[K, V]{key: key, value: value})
		offset += entrySize
	}
	return b
}
