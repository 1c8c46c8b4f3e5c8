package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapDiskBackend provides disk access through a memory-mapped file.
// Pages are addressed the same way as FileDiskBackend (pageID*PageSize) but
// reads and writes copy to and from the mapping instead of going through a
// read or write system call on every call.
type MmapDiskBackend struct {
	file      *os.File
	mmapData  []byte
	fileSize  int64
	mutex     sync.RWMutex
	growMutex sync.Mutex // Separate mutex for file growth operations
}

const (
	// Initial file size: 1GB (256K pages * 4KB)
	InitialFileSize = 1024 * 1024 * 1024
	// Grow by 256MB when we run out of space
	FileGrowSize = 256 * 1024 * 1024
)

// NewMmapDiskBackend creates a new memory-mapped disk backend.
func NewMmapDiskBackend(fileName string) (*MmapDiskBackend, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, ErrIO("NewMmapDiskBackend", err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, ErrIO("NewMmapDiskBackend", err)
	}

	fileSize := fileInfo.Size()

	if fileSize < InitialFileSize {
		if err := file.Truncate(InitialFileSize); err != nil {
			file.Close()
			return nil, ErrIO("NewMmapDiskBackend", err)
		}
		fileSize = InitialFileSize
	}

	dm := &MmapDiskBackend{
		file:     file,
		fileSize: fileSize,
	}

	if err := dm.createMapping(); err != nil {
		file.Close()
		return nil, err
	}

	return dm, nil
}

// createMapping creates or recreates the memory mapping
func (dm *MmapDiskBackend) createMapping() error {
	data, err := unix.Mmap(int(dm.file.Fd()), 0, int(dm.fileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return ErrIO("createMapping", err)
	}

	dm.mmapData = data
	return nil
}

// growFile expands the file and recreates the mapping
func (dm *MmapDiskBackend) growFile() error {
	dm.growMutex.Lock()
	defer dm.growMutex.Unlock()

	if dm.mmapData != nil {
		if err := unix.Munmap(dm.mmapData); err != nil {
			return ErrIO("growFile", err)
		}
		dm.mmapData = nil
	}

	newSize := dm.fileSize + FileGrowSize
	if err := dm.file.Truncate(newSize); err != nil {
		dm.createMapping()
		return ErrIO("growFile", err)
	}

	dm.fileSize = newSize

	return dm.createMapping()
}

// EnsureCapacity grows the backing file until it can hold pageID, if
// needed. WritePage/WritePagesV call this before every write, so the file
// grows lazily as page ids climb past whatever was pre-allocated at open.
func (dm *MmapDiskBackend) EnsureCapacity(pageID PageID) error {
	dm.mutex.RLock()
	requiredSize := int64(pageID+1) * PageSize
	needsGrowth := requiredSize > dm.fileSize
	dm.mutex.RUnlock()

	if !needsGrowth {
		return nil
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	requiredSize = int64(pageID+1) * PageSize
	for requiredSize > dm.fileSize {
		if err := dm.growFile(); err != nil {
			return err
		}
	}

	return nil
}

// ReadPage reads a page from the memory-mapped region. The returned slice
// is a copy; the mapping itself is never handed out to callers.
func (dm *MmapDiskBackend) ReadPage(pageID PageID) ([]byte, error) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize

	if offset+PageSize > dm.fileSize {
		return nil, ErrIO("ReadPage", fmt.Errorf("page %d out of bounds (file size: %d)", pageID, dm.fileSize))
	}

	data := make([]byte, PageSize)
	copy(data, dm.mmapData[offset:offset+PageSize])
	return data, nil
}

// WritePage writes a page to the memory-mapped region, growing the backing
// file first if pageID falls beyond it. WritePage and WritePagesV both
// call EnsureCapacity themselves, so a caller doing it ahead of time is an
// optimization, not a requirement.
func (dm *MmapDiskBackend) WritePage(pageID PageID, data []byte) error {
	if len(data) != PageSize {
		return ErrIO("WritePage", fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data)))
	}

	if err := dm.EnsureCapacity(pageID); err != nil {
		return err
	}

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize

	if offset+PageSize > dm.fileSize {
		return ErrIO("WritePage", fmt.Errorf("page %d out of bounds (file size: %d)", pageID, dm.fileSize))
	}

	copy(dm.mmapData[offset:offset+PageSize], data)

	return nil
}

// WritePagesV writes multiple pages in a single batch operation, growing
// the file once for the highest pageID in the batch before writing any of
// them.
func (dm *MmapDiskBackend) WritePagesV(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}

	var maxPageID PageID
	for _, pw := range writes {
		if pw.PageID > maxPageID {
			maxPageID = pw.PageID
		}
	}
	if err := dm.EnsureCapacity(maxPageID); err != nil {
		return err
	}

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	for _, pw := range writes {
		if len(pw.Data) != PageSize {
			return ErrIO("WritePagesV", fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(pw.Data)))
		}

		offset := int64(pw.PageID) * PageSize

		if offset+PageSize > dm.fileSize {
			return ErrIO("WritePagesV", fmt.Errorf("page %d out of bounds (file size: %d)", pw.PageID, dm.fileSize))
		}

		copy(dm.mmapData[offset:offset+PageSize], pw.Data)
	}

	return nil
}

// Flush ensures all dirty pages are written to disk
func (dm *MmapDiskBackend) Flush() error {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	if dm.mmapData == nil {
		return nil
	}

	if err := unix.Msync(dm.mmapData, unix.MS_SYNC); err != nil {
		return ErrIO("Flush", err)
	}

	return dm.file.Sync()
}

// FlushPage flushes a specific page to disk
func (dm *MmapDiskBackend) FlushPage(pageID PageID) error {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize

	if offset+PageSize > dm.fileSize {
		return ErrIO("FlushPage", fmt.Errorf("page %d out of bounds (file size: %d)", pageID, dm.fileSize))
	}

	if err := unix.Msync(dm.mmapData[offset:offset+PageSize], unix.MS_SYNC); err != nil {
		return ErrIO("FlushPage", err)
	}

	return nil
}

// Advise provides hints to the OS about memory access patterns for a page
func (dm *MmapDiskBackend) Advise(pageID PageID, advice AdviceType) error {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return nil
	}

	var sysAdvice int
	switch advice {
	case AdviceRandom:
		sysAdvice = unix.MADV_RANDOM
	case AdviceSequential:
		sysAdvice = unix.MADV_SEQUENTIAL
	case AdviceWillNeed:
		sysAdvice = unix.MADV_WILLNEED
	case AdviceDontNeed:
		sysAdvice = unix.MADV_DONTNEED
	default:
		sysAdvice = unix.MADV_NORMAL
	}

	return unix.Madvise(dm.mmapData[offset:offset+PageSize], sysAdvice)
}

// AdviceType represents memory access advice
type AdviceType int

const (
	AdviceNormal     AdviceType = 0 // No special treatment
	AdviceRandom     AdviceType = 1 // Random access pattern
	AdviceSequential AdviceType = 2 // Sequential access pattern
	AdviceWillNeed   AdviceType = 3 // Will need these pages soon (prefetch)
	AdviceDontNeed   AdviceType = 4 // Won't need these pages (can evict)
)

// GetFileSize returns the current file size
func (dm *MmapDiskBackend) GetFileSize() int64 {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()
	return dm.fileSize
}

// Close unmaps memory and closes the file
func (dm *MmapDiskBackend) Close() error {
	dm.Flush()

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.mmapData != nil {
		if err := unix.Munmap(dm.mmapData); err != nil {
			return ErrIO("Close", err)
		}
		dm.mmapData = nil
	}

	if dm.file != nil {
		return dm.file.Close()
	}

	return nil
}

// MmapStats reports memory-mapped backend usage
type MmapStats struct {
	FileSize   int64
	MappedSize int64
}

func (dm *MmapDiskBackend) GetStats() MmapStats {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	return MmapStats{
		FileSize:   dm.fileSize,
		MappedSize: int64(len(dm.mmapData)),
	}
}
