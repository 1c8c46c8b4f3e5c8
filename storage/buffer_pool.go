package storage

import (
	"log/slog"
	"sync"
	"time"
)

// BufferPoolManager maps page identifiers to in-memory frames, pinning
// them for callers and scheduling their disk I/O. A single mutex
// serializes every state transition, including replacer membership, per
// the pool's concurrency model: eviction happens synchronously under that
// mutex, trading some throughput for a much simpler invariant set.
type BufferPoolManager struct {
	mu sync.Mutex

	poolSize  uint32
	frames    []*Frame
	freeList  []FrameID
	pageTable map[PageID]FrameID
	replacer  Replacer
	scheduler *DiskScheduler

	nextPageID  PageID
	recycledIDs []PageID

	metrics *Metrics
	logger  *slog.Logger
}

// NewBufferPoolManager creates a pool of poolSize frames, backed by
// scheduler for disk I/O and an LRU-K replacer parameterized by k.
func NewBufferPoolManager(poolSize uint32, k uint32, scheduler *DiskScheduler, metrics *Metrics, logger *slog.Logger) (*BufferPoolManager, error) {
	if poolSize == 0 {
		return nil, NewStorageError(ErrCodeInternal, "NewBufferPoolManager", "pool size must be greater than 0", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	bpm := &BufferPoolManager{
		poolSize:  poolSize,
		frames:    make([]*Frame, poolSize),
		freeList:  make([]FrameID, poolSize),
		pageTable: make(map[PageID]FrameID),
		replacer:  NewLRUKReplacer(int(poolSize), int(k)),
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logger,
	}

	for i := uint32(0); i < poolSize; i++ {
		bpm.frames[i] = NewFrame()
		bpm.freeList[i] = FrameID(i)
	}

	return bpm, nil
}

// AllocatePage hands out the next page identifier, preferring a recycled
// one left behind by a prior DeletePage.
func (bpm *BufferPoolManager) AllocatePage() PageID {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.allocatePageIDLocked()
}

func (bpm *BufferPoolManager) allocatePageIDLocked() PageID {
	if n := len(bpm.recycledIDs); n > 0 {
		id := bpm.recycledIDs[n-1]
		bpm.recycledIDs = bpm.recycledIDs[:n-1]
		return id
	}
	id := bpm.nextPageID
	bpm.nextPageID++
	return id
}

// getFrameLocked returns a frame ready to hold a new resident page, either
// from the free list or by evicting the replacer's victim. Eviction
// flushes a dirty victim synchronously before its frame is reused.
func (bpm *BufferPoolManager) getFrameLocked() (FrameID, bool) {
	if n := len(bpm.freeList); n > 0 {
		frameID := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return frameID, true
	}

	frameID, ok := bpm.replacer.Evict()
	if !ok {
		return 0, false
	}

	frame := bpm.frames[frameID]
	if frame.dirty {
		if err := bpm.scheduler.WritePage(frame.pageID, frame.Data()); err != nil {
			bpm.logger.Error("failed to flush victim page on eviction",
				"page_id", frame.pageID, "error", err)
		}
		bpm.metrics.RecordDirtyPageFlush()
	}
	delete(bpm.pageTable, frame.pageID)
	bpm.logger.Debug("evicted frame", "frame_id", frameID, "page_id", frame.pageID)
	bpm.metrics.RecordPageEviction()

	return frameID, true
}

// NewPage allocates a fresh page id, brings it into an available frame
// zeroed, and returns a basic guard pinning it.
func (bpm *BufferPoolManager) NewPage() (PageID, *BasicPageGuard, error) {
	bpm.mu.Lock()

	frameID, ok := bpm.getFrameLocked()
	if !ok {
		bpm.mu.Unlock()
		bpm.metrics.RecordPoolExhaustion()
		return InvalidPageID, nil, ErrPoolExhausted("NewPage")
	}

	pageID := bpm.allocatePageIDLocked()
	frame := bpm.frames[frameID]
	frame.reset()
	frame.pageID = pageID
	frame.pinCount = 1

	bpm.pageTable[pageID] = frameID
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	bpm.mu.Unlock()

	return pageID, newBasicPageGuard(bpm, frame, pageID), nil
}

// NewPageGuarded is an alias for NewPage, named to match the guard-first
// vocabulary the rest of the public surface uses.
func (bpm *BufferPoolManager) NewPageGuarded() (PageID, *BasicPageGuard, error) {
	return bpm.NewPage()
}

// FetchPage returns a guard pinning pageID, loading it from disk on a
// cache miss. It fails with ErrPageNotResident when pageID was never
// allocated, with ErrPoolExhausted when no frame is free or evictable, and
// with the scheduler's error when the disk read fails.
func (bpm *BufferPoolManager) FetchPage(pageID PageID) (*BasicPageGuard, error) {
	start := time.Now()
	defer func() { bpm.metrics.RecordPageFetchLatency(time.Since(start)) }()

	bpm.mu.Lock()

	if frameID, ok := bpm.pageTable[pageID]; ok {
		frame := bpm.frames[frameID]
		frame.pinCount++
		bpm.replacer.RecordAccess(frameID)
		bpm.replacer.SetEvictable(frameID, false)
		bpm.metrics.RecordCacheHit()
		bpm.mu.Unlock()
		return newBasicPageGuard(bpm, frame, pageID), nil
	}

	if pageID < 0 || pageID >= bpm.nextPageID {
		bpm.mu.Unlock()
		return nil, ErrPageNotResident("FetchPage", pageID)
	}

	bpm.metrics.RecordCacheMiss()

	frameID, ok := bpm.getFrameLocked()
	if !ok {
		bpm.mu.Unlock()
		bpm.metrics.RecordPoolExhaustion()
		return nil, ErrPoolExhausted("FetchPage")
	}

	data, err := bpm.scheduler.ReadPage(pageID)
	if err != nil {
		bpm.freeList = append(bpm.freeList, frameID)
		bpm.mu.Unlock()
		return nil, err
	}

	frame := bpm.frames[frameID]
	frame.reset()
	frame.pageID = pageID
	copy(frame.Data(), data)
	frame.pinCount = 1

	bpm.pageTable[pageID] = frameID
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	bpm.mu.Unlock()

	return newBasicPageGuard(bpm, frame, pageID), nil
}

// FetchPageBasic is an alias for FetchPage kept for symmetry with
// FetchPageRead/FetchPageWrite.
func (bpm *BufferPoolManager) FetchPageBasic(pageID PageID) (*BasicPageGuard, error) {
	return bpm.FetchPage(pageID)
}

// FetchPageRead fetches pageID and upgrades straight to a read guard.
func (bpm *BufferPoolManager) FetchPageRead(pageID PageID) (*ReadPageGuard, error) {
	guard, err := bpm.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	return guard.UpgradeRead(), nil
}

// FetchPageWrite fetches pageID and upgrades straight to a write guard.
func (bpm *BufferPoolManager) FetchPageWrite(pageID PageID) (*WritePageGuard, error) {
	guard, err := bpm.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	return guard.UpgradeWrite(), nil
}

// UnpinPage drops one pin on pageID, marking it dirty if requested, and
// returns false if the page was already unpinned to zero.
func (bpm *BufferPoolManager) UnpinPage(pageID PageID, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return false
	}

	frame := bpm.frames[frameID]
	if frame.pinCount <= 0 {
		return false
	}

	if isDirty {
		frame.dirty = true
	}

	frame.pinCount--
	if frame.pinCount == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}

	return true
}

// FlushPage writes pageID's frame to disk immediately, regardless of pin
// state, and clears the dirty flag on success.
func (bpm *BufferPoolManager) FlushPage(pageID PageID) error {
	start := time.Now()
	defer func() { bpm.metrics.RecordPageFlushLatency(time.Since(start)) }()

	bpm.mu.Lock()
	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		bpm.mu.Unlock()
		return ErrPageNotResident("FlushPage", pageID)
	}
	frame := bpm.frames[frameID]
	data := append([]byte(nil), frame.Data()...)
	bpm.mu.Unlock()

	if err := bpm.scheduler.WritePage(pageID, data); err != nil {
		return err
	}

	bpm.mu.Lock()
	frame.dirty = false
	bpm.mu.Unlock()

	return nil
}

// FlushAllPages flushes every dirty resident page, waiting for every
// write to complete before returning (the base engine's fire-and-forget
// behavior here is treated as a bug, not a feature).
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	writes := make([]PageWrite, 0)
	dirtyFrames := make([]*Frame, 0)
	for pageID, frameID := range bpm.pageTable {
		frame := bpm.frames[frameID]
		if frame.dirty {
			writes = append(writes, PageWrite{PageID: pageID, Data: append([]byte(nil), frame.Data()...)})
			dirtyFrames = append(dirtyFrames, frame)
		}
	}
	bpm.mu.Unlock()

	for _, w := range writes {
		if err := bpm.scheduler.WritePage(w.PageID, w.Data); err != nil {
			return err
		}
		bpm.metrics.RecordDirtyPageFlush()
	}

	bpm.mu.Lock()
	for _, frame := range dirtyFrames {
		frame.dirty = false
	}
	bpm.mu.Unlock()

	return nil
}

// DeletePage removes pageID from the pool, returning its frame to the
// free list and its id to the recycling list. Returns false, nil if the
// page is still pinned.
func (bpm *BufferPoolManager) DeletePage(pageID PageID) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return true, nil
	}

	frame := bpm.frames[frameID]
	if frame.pinCount > 0 {
		return false, nil
	}

	if err := bpm.replacer.Remove(frameID); err != nil {
		return false, err
	}

	delete(bpm.pageTable, pageID)
	frame.reset()
	bpm.freeList = append(bpm.freeList, frameID)
	bpm.recycledIDs = append(bpm.recycledIDs, pageID)

	return true, nil
}

// GetDirtyPageCount implements FlushableBufferPool for the adaptive
// flusher.
func (bpm *BufferPoolManager) GetDirtyPageCount() int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	count := 0
	for _, frameID := range bpm.pageTable {
		if bpm.frames[frameID].dirty {
			count++
		}
	}
	return count
}

// GetCapacity implements FlushableBufferPool.
func (bpm *BufferPoolManager) GetCapacity() int {
	return int(bpm.poolSize)
}

// GetDirtyPages implements FlushableBufferPool, returning up to maxPages
// dirty page ids.
func (bpm *BufferPoolManager) GetDirtyPages(maxPages int) []PageID {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	pages := make([]PageID, 0, maxPages)
	for pageID, frameID := range bpm.pageTable {
		if len(pages) >= maxPages {
			break
		}
		if bpm.frames[frameID].dirty {
			pages = append(pages, pageID)
		}
	}
	return pages
}

// GetPoolSize returns the number of frames in the pool.
func (bpm *BufferPoolManager) GetPoolSize() uint32 {
	return bpm.poolSize
}

// GetMetrics returns the pool's metrics tracker.
func (bpm *BufferPoolManager) GetMetrics() *Metrics {
	return bpm.metrics
}
