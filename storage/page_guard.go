package storage

import (
	"log/slog"
	"runtime"
)

// BasicPageGuard is a scoped, move-only handle on a pinned frame. Go has
// no destructors, so the contract is: call Drop exactly once. A
// finalizer backstops forgotten guards in tests without crashing
// production paths — it logs instead of panicking.
type BasicPageGuard struct {
	pool    *BufferPoolManager
	frame   *Frame
	pageID  PageID
	dirty   bool
	dropped bool
}

func newBasicPageGuard(pool *BufferPoolManager, frame *Frame, pageID PageID) *BasicPageGuard {
	g := &BasicPageGuard{pool: pool, frame: frame, pageID: pageID}
	runtime.SetFinalizer(g, finalizeBasicPageGuard)
	return g
}

func finalizeBasicPageGuard(g *BasicPageGuard) {
	if g.dropped {
		return
	}
	slog.Default().Error("page guard garbage collected without Drop", "page_id", g.pageID)
	g.pool.UnpinPage(g.pageID, g.dirty)
}

// PageID returns the id of the pinned page.
func (g *BasicPageGuard) PageID() PageID {
	return g.pageID
}

// GetData returns the page's bytes for reading.
func (g *BasicPageGuard) GetData() []byte {
	return g.frame.Data()
}

// GetDataMut returns the page's bytes for writing, marking it dirty.
func (g *BasicPageGuard) GetDataMut() []byte {
	g.dirty = true
	return g.frame.Data()
}

// Drop unpins the page. A no-op on a zero-value or already-dropped guard.
func (g *BasicPageGuard) Drop() {
	if g == nil || g.dropped || g.pool == nil {
		return
	}
	g.dropped = true
	runtime.SetFinalizer(g, nil)
	g.pool.UnpinPage(g.pageID, g.dirty)
}

// UpgradeRead consumes the basic guard and returns a guard holding the
// frame's read latch. The receiver is invalidated.
func (g *BasicPageGuard) UpgradeRead() *ReadPageGuard {
	g.frame.latch.RLock()
	rg := &ReadPageGuard{pool: g.pool, frame: g.frame, pageID: g.pageID}
	g.invalidate()
	runtime.SetFinalizer(rg, finalizeReadPageGuard)
	return rg
}

// UpgradeWrite consumes the basic guard and returns a guard holding the
// frame's write latch. The receiver is invalidated.
func (g *BasicPageGuard) UpgradeWrite() *WritePageGuard {
	g.frame.latch.Lock()
	wg := &WritePageGuard{pool: g.pool, frame: g.frame, pageID: g.pageID}
	g.invalidate()
	runtime.SetFinalizer(wg, finalizeWritePageGuard)
	return wg
}

// invalidate marks g as dropped without unpinning: ownership of the pin
// moved to the guard that replaces it.
func (g *BasicPageGuard) invalidate() {
	g.dropped = true
	runtime.SetFinalizer(g, nil)
}

// ReadPageGuard wraps a pin with the frame's read latch held.
type ReadPageGuard struct {
	pool    *BufferPoolManager
	frame   *Frame
	pageID  PageID
	dropped bool
}

func finalizeReadPageGuard(g *ReadPageGuard) {
	if g.dropped {
		return
	}
	slog.Default().Error("read page guard garbage collected without Drop", "page_id", g.pageID)
	g.frame.latch.RUnlock()
	g.pool.UnpinPage(g.pageID, false)
}

func (g *ReadPageGuard) PageID() PageID {
	return g.pageID
}

func (g *ReadPageGuard) GetData() []byte {
	return g.frame.Data()
}

// Drop releases the read latch, then the pin.
func (g *ReadPageGuard) Drop() {
	if g == nil || g.dropped {
		return
	}
	g.dropped = true
	runtime.SetFinalizer(g, nil)
	g.frame.latch.RUnlock()
	g.pool.UnpinPage(g.pageID, false)
}

// WritePageGuard wraps a pin with the frame's write latch held.
type WritePageGuard struct {
	pool    *BufferPoolManager
	frame   *Frame
	pageID  PageID
	dropped bool
}

func finalizeWritePageGuard(g *WritePageGuard) {
	if g.dropped {
		return
	}
	slog.Default().Error("write page guard garbage collected without Drop", "page_id", g.pageID)
	g.frame.dirty = true
	g.frame.latch.Unlock()
	g.pool.UnpinPage(g.pageID, true)
}

func (g *WritePageGuard) PageID() PageID {
	return g.pageID
}

func (g *WritePageGuard) GetData() []byte {
	return g.frame.Data()
}

func (g *WritePageGuard) GetDataMut() []byte {
	return g.frame.Data()
}

// Drop marks the frame dirty, then releases the write latch, then the pin.
func (g *WritePageGuard) Drop() {
	if g == nil || g.dropped {
		return
	}
	g.dropped = true
	runtime.SetFinalizer(g, nil)
	g.frame.dirty = true
	g.frame.latch.Unlock()
	g.pool.UnpinPage(g.pageID, true)
}
