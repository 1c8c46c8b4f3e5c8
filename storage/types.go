package storage

// PageSize is the fixed size, in bytes, of every page and frame. It is a
// compile-time constant: the on-disk layout is a flat file indexed by
// pageID * PageSize.
const PageSize = 4096

// InvalidPageID is the sentinel meaning "no page".
const InvalidPageID PageID = -1

// PageID identifies a logical page. Allocation hands out monotonically
// increasing ids, except that ids freed by DeletePage may be recycled.
type PageID int32

// FrameID identifies a slot in the buffer pool's frame array.
type FrameID int
