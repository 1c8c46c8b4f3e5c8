package storage

import "encoding/binary"

// RecordID identifies a tuple's slot within a page, the value half of a
// typical hash index entry.
type RecordID struct {
	PageID  PageID
	SlotNum uint32
}

// Uint64Serializer serializes a uint64 key or value to 8 bytes.
type Uint64Serializer struct{}

func (Uint64Serializer) Size() int                    { return 8 }
func (Uint64Serializer) Encode(v uint64, buf []byte)  { binary.LittleEndian.PutUint64(buf, v) }
func (Uint64Serializer) Decode(buf []byte) uint64     { return binary.LittleEndian.Uint64(buf) }

// Int64Serializer serializes an int64 key or value to 8 bytes.
type Int64Serializer struct{}

func (Int64Serializer) Size() int                   { return 8 }
func (Int64Serializer) Encode(v int64, buf []byte)  { binary.LittleEndian.PutUint64(buf, uint64(v)) }
func (Int64Serializer) Decode(buf []byte) int64     { return int64(binary.LittleEndian.Uint64(buf)) }

// RecordIDSerializer serializes a RecordID to 8 bytes: page id then slot.
type RecordIDSerializer struct{}

func (RecordIDSerializer) Size() int { return 8 }

func (RecordIDSerializer) Encode(v RecordID, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(v.PageID)))
	binary.LittleEndian.PutUint32(buf[4:8], v.SlotNum)
}

func (RecordIDSerializer) Decode(buf []byte) RecordID {
	return RecordID{
		PageID:  PageID(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		SlotNum: binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// HashUint64 is a FNV-1a style mix over a uint64, used as the default
// hash function for Uint64Serializer-keyed tables.
func HashUint64(v uint64) uint32 {
	h := uint64(14695981039346656037)
	for i := 0; i < 8; i++ {
		h ^= v & 0xff
		h *= 1099511628211
		v >>= 8
	}
	return uint32(h ^ (h >> 32))
}
