package storage

import "encoding/binary"

// DirectoryPage maps a key's low globalDepth hash bits to a bucket page.
// Entries beyond the live 2^globalDepth prefix are unused until a further
// IncrGlobalDepth grows into them.
type DirectoryPage struct {
	maxDepth      uint32
	globalDepth   uint32
	localDepths   []uint8
	bucketPageIDs []PageID
}

// NewDirectoryPage allocates an empty directory at global depth 0, with
// room to grow to maxDepth.
func NewDirectoryPage(maxDepth uint32) *DirectoryPage {
	ids := make([]PageID, 1<<maxDepth)
	for i := range ids {
		ids[i] = InvalidPageID
	}
	return &DirectoryPage{
		maxDepth:      maxDepth,
		localDepths:   make([]uint8, 1<<maxDepth),
		bucketPageIDs: ids,
	}
}

// Size returns the number of live slots, 2^globalDepth.
func (d *DirectoryPage) Size() uint32 {
	return 1 << d.globalDepth
}

func (d *DirectoryPage) GlobalDepth() uint32 {
	return d.globalDepth
}

func (d *DirectoryPage) MaxDepth() uint32 {
	return d.maxDepth
}

// HashToBucketIndex returns hash's slot: its low globalDepth bits.
func (d *DirectoryPage) HashToBucketIndex(hash uint32) uint32 {
	if d.globalDepth == 0 {
		return 0
	}
	return hash & ((1 << d.globalDepth) - 1)
}

func (d *DirectoryPage) GetBucketPageID(idx uint32) PageID {
	return d.bucketPageIDs[idx]
}

func (d *DirectoryPage) SetBucketPageID(idx uint32, id PageID) {
	d.bucketPageIDs[idx] = id
}

func (d *DirectoryPage) GetLocalDepth(idx uint32) uint32 {
	return uint32(d.localDepths[idx])
}

func (d *DirectoryPage) SetLocalDepth(idx uint32, depth uint32) {
	d.localDepths[idx] = uint8(depth)
}

// GetSplitImageIndex returns the slot idx shares a parent with once split
// at idx's current local depth: idx with its highest significant bit
// flipped.
func (d *DirectoryPage) GetSplitImageIndex(idx uint32) uint32 {
	localDepth := d.GetLocalDepth(idx)
	if localDepth == 0 {
		return idx
	}
	return idx ^ (1 << (localDepth - 1))
}

// GetLocalDepthMask returns the mask covering idx's local depth bits.
func (d *DirectoryPage) GetLocalDepthMask(idx uint32) uint32 {
	localDepth := d.GetLocalDepth(idx)
	if localDepth == 0 {
		return 0
	}
	return (1 << localDepth) - 1
}

// IncrGlobalDepth doubles the live directory, duplicating every slot's
// bucket id and local depth into its mirror at size+i. Fails once
// maxDepth is reached.
func (d *DirectoryPage) IncrGlobalDepth() error {
	if d.globalDepth >= d.maxDepth {
		return ErrDepthExceeded("IncrGlobalDepth")
	}
	size := d.Size()
	for i := uint32(0); i < size; i++ {
		d.bucketPageIDs[size+i] = d.bucketPageIDs[i]
		d.localDepths[size+i] = d.localDepths[i]
	}
	d.globalDepth++
	return nil
}

// DecrGlobalDepth halves the live directory. Callers must first confirm
// CanShrink; slots beyond the new size are left stale until reused by a
// later IncrGlobalDepth.
func (d *DirectoryPage) DecrGlobalDepth() {
	if d.globalDepth > 0 {
		d.globalDepth--
	}
}

// CanShrink reports whether every live slot's local depth is strictly
// less than the global depth, meaning no slot actually needs the extra
// addressing bit.
func (d *DirectoryPage) CanShrink() bool {
	size := d.Size()
	for i := uint32(0); i < size; i++ {
		if d.localDepths[i] >= uint8(d.globalDepth) {
			return false
		}
	}
	return true
}

// DirectoryPageSerializedSize returns the on-page footprint for maxDepth.
func DirectoryPageSerializedSize(maxDepth uint32) int {
	return 4 + int(1<<maxDepth) + int(1<<maxDepth)*4
}

func (d *DirectoryPage) Serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], d.globalDepth)
	n := len(d.localDepths)
	offset := 4
	copy(buf[offset:offset+n], d.localDepths)
	offset += n
	for _, id := range d.bucketPageIDs {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(int32(id)))
		offset += 4
	}
}

func DeserializeDirectoryPage(buf []byte, maxDepth uint32) *DirectoryPage {
	globalDepth := binary.LittleEndian.Uint32(buf[0:4])
	n := 1 << maxDepth
	localDepths := make([]uint8, n)
	offset := 4
	copy(localDepths, buf[offset:offset+n])
	offset += n
	ids := make([]PageID, n)
	for i := range ids {
		ids[i] = PageID(int32(binary.LittleEndian.Uint32(buf[offset : offset+4])))
		offset += 4
	}
	return &DirectoryPage{maxDepth: maxDepth, globalDepth: globalDepth, localDepths: localDepths, bucketPageIDs: ids}
}
