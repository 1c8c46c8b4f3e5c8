package storage

import (
	"runtime"
	"sync/atomic"
)

// RWLatch is a lock-free reader-writer latch built on a single atomic
// uint64, used where sync.RWMutex's kernel-assisted blocking would cost
// more than a CPU-only spin: buffer pool frames and bucket pages, both
// latched far more often than they're contended.
//
// The word packs three fields:
//
//	bits  0-30  reader count
//	bit   31    writer active
//	bits 32-63  writers waiting: incremented together with setting the
//	            writer bit and decremented by Unlock, so it is 1 while a
//	            writer holds the latch (including while it drains readers)
//	            and 0 otherwise; a writer still spinning for another
//	            writer to release is not counted
type RWLatch struct {
	word uint64
}

const (
	latchReaderMask  uint64 = 1<<31 - 1
	latchWriterBit   uint64 = 1 << 31
	latchWaitersUnit uint64 = 1 << 32
	latchWaitersMask uint64 = ^uint64(0) &^ (latchWriterBit | latchReaderMask)
)

// latchState is word decoded into its three fields, computed once per
// loop iteration instead of re-masking inline at every call site.
type latchState struct {
	readers        uint64
	writerActive   bool
	writersWaiting uint64
}

func decodeLatchState(word uint64) latchState {
	return latchState{
		readers:        word & latchReaderMask,
		writerActive:   word&latchWriterBit != 0,
		writersWaiting: (word & latchWaitersMask) >> 32,
	}
}

func NewRWLatch() *RWLatch {
	return &RWLatch{}
}

// backoff is a small exponential spin helper shared by every retry loop
// below; it yields the goroutine rather than burning CPU on a tight spin.
type backoff struct{ n int }

func (b *backoff) wait() {
	if b.n < 1 {
		b.n = 1
	}
	for i := 0; i < b.n; i++ {
		runtime.Gosched()
	}
	if b.n < 1024 {
		b.n *= 2
	}
}

// RLock blocks until no writer is active or waiting, then registers as a
// reader. Any number of readers may hold the latch concurrently.
func (rw *RWLatch) RLock() {
	var bo backoff
	for {
		word := atomic.LoadUint64(&rw.word)
		st := decodeLatchState(word)
		if st.writerActive || st.writersWaiting > 0 {
			bo.wait()
			continue
		}
		if atomic.CompareAndSwapUint64(&rw.word, word, word+1) {
			return
		}
		bo.wait()
	}
}

// RUnlock releases one reader registration. Calling it without a matching
// RLock panics rather than silently corrupting the count.
func (rw *RWLatch) RUnlock() {
	for {
		word := atomic.LoadUint64(&rw.word)
		if word&latchReaderMask == 0 {
			panic("RWLatch: RUnlock called without corresponding RLock")
		}
		if atomic.CompareAndSwapUint64(&rw.word, word, word-1) {
			return
		}
		runtime.Gosched()
	}
}

// Lock waits until no other writer holds the latch, then in one step sets
// the writer bit and increments the writers-waiting field, and finally
// waits for existing readers to drain before returning. New readers are
// refused from the moment the writer bit is set.
func (rw *RWLatch) Lock() {
	var bo backoff
	for {
		word := atomic.LoadUint64(&rw.word)
		if word&latchWriterBit != 0 {
			bo.wait()
			continue
		}
		next := (word + latchWaitersUnit) | latchWriterBit
		if atomic.CompareAndSwapUint64(&rw.word, word, next) {
			break
		}
		bo.wait()
	}

	bo = backoff{}
	for {
		if atomic.LoadUint64(&rw.word)&latchReaderMask == 0 {
			return
		}
		bo.wait()
	}
}

// Unlock releases the write lock, clearing the writer bit and this
// writer's entry in the waiting count.
func (rw *RWLatch) Unlock() {
	for {
		word := atomic.LoadUint64(&rw.word)
		if word&latchWriterBit == 0 {
			panic("RWLatch: Unlock called without corresponding Lock")
		}
		next := (word &^ latchWriterBit) - latchWaitersUnit
		if atomic.CompareAndSwapUint64(&rw.word, word, next) {
			return
		}
		runtime.Gosched()
	}
}

// TryRLock acquires a read lock without blocking, failing if any writer is
// active or already waiting.
func (rw *RWLatch) TryRLock() bool {
	word := atomic.LoadUint64(&rw.word)
	st := decodeLatchState(word)
	if st.writerActive || st.writersWaiting > 0 {
		return false
	}
	return atomic.CompareAndSwapUint64(&rw.word, word, word+1)
}

// TryLock acquires a write lock without blocking, failing if a writer is
// active or any readers are present.
func (rw *RWLatch) TryLock() bool {
	word := atomic.LoadUint64(&rw.word)
	if word&latchWriterBit != 0 || word&latchReaderMask != 0 {
		return false
	}
	next := word | latchWriterBit | latchWaitersUnit
	return atomic.CompareAndSwapUint64(&rw.word, word, next)
}

// GetReaderCount returns the number of readers currently holding the
// latch.
func (rw *RWLatch) GetReaderCount() uint32 {
	return uint32(decodeLatchState(atomic.LoadUint64(&rw.word)).readers)
}

// IsWriterActive reports whether a writer currently holds the latch.
func (rw *RWLatch) IsWriterActive() bool {
	return decodeLatchState(atomic.LoadUint64(&rw.word)).writerActive
}

// GetWriterWaitingCount returns the writers-waiting field: 1 while a writer
// holds the latch (including while it drains readers), 0 otherwise.
// Writers spinning in Lock for another writer to release are not counted.
func (rw *RWLatch) GetWriterWaitingCount() uint32 {
	return uint32(decodeLatchState(atomic.LoadUint64(&rw.word)).writersWaiting)
}

// RWLatchStats is a single-read snapshot of all three latch fields,
// cheaper than three separate atomic loads when a caller wants all of
// them together.
type RWLatchStats struct {
	ReaderCount        uint32
	WriterActive       bool
	WriterWaitingCount uint32
}

func (rw *RWLatch) GetStats() RWLatchStats {
	st := decodeLatchState(atomic.LoadUint64(&rw.word))
	return RWLatchStats{
		ReaderCount:        uint32(st.readers),
		WriterActive:       st.writerActive,
		WriterWaitingCount: uint32(st.writersWaiting),
	}
}
