package storage

import "encoding/binary"

// HeaderPage is the root of an extendible hash index: a fixed array of
// directory page ids, indexed by the top maxDepth bits of a key's hash.
type HeaderPage struct {
	maxDepth   uint32
	dirPageIDs []PageID
}

// NewHeaderPage allocates an empty header with 2^maxDepth directory slots,
// all InvalidPageID.
func NewHeaderPage(maxDepth uint32) *HeaderPage {
	ids := make([]PageID, 1<<maxDepth)
	for i := range ids {
		ids[i] = InvalidPageID
	}
	return &HeaderPage{maxDepth: maxDepth, dirPageIDs: ids}
}

// HashToDirectoryIndex returns the index of hash's directory slot: its top
// maxDepth bits.
func (h *HeaderPage) HashToDirectoryIndex(hash uint32) uint32 {
	if h.maxDepth == 0 {
		return 0
	}
	return hash >> (32 - h.maxDepth)
}

func (h *HeaderPage) GetDirectoryPageID(idx uint32) PageID {
	return h.dirPageIDs[idx]
}

func (h *HeaderPage) SetDirectoryPageID(idx uint32, id PageID) {
	h.dirPageIDs[idx] = id
}

func (h *HeaderPage) MaxDepth() uint32 {
	return h.maxDepth
}

// SerializedSize returns the number of bytes HeaderPage occupies on a raw
// page for the given maxDepth.
func HeaderPageSerializedSize(maxDepth uint32) int {
	return 4 + int(1<<maxDepth)*4
}

// Serialize writes the header into buf, which must be at least
// HeaderPageSerializedSize(h.maxDepth) bytes.
func (h *HeaderPage) Serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.maxDepth)
	offset := 4
	for _, id := range h.dirPageIDs {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(int32(id)))
		offset += 4
	}
}

// DeserializeHeaderPage reconstructs a HeaderPage from raw page bytes.
func DeserializeHeaderPage(buf []byte) *HeaderPage {
	maxDepth := binary.LittleEndian.Uint32(buf[0:4])
	ids := make([]PageID, 1<<maxDepth)
	offset := 4
	for i := range ids {
		ids[i] = PageID(int32(binary.LittleEndian.Uint32(buf[offset : offset+4])))
		offset += 4
	}
	return &HeaderPage{maxDepth: maxDepth, dirPageIDs: ids}
}
