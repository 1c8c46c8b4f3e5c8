package storage

import (
	"fmt"
	"os"
	"sync"
)

// diskBackend is the interface the disk scheduler dispatches read/write
// requests against. FileDiskBackend is the default offset-addressed
// implementation; MmapDiskBackend is the alternate memory-mapped one.
type diskBackend interface {
	ReadPage(pageID PageID) ([]byte, error)
	WritePage(pageID PageID, data []byte) error
	Close() error
}

// FileDiskBackend manages pages in a flat file addressed by pageID*PageSize.
// Page-id allocation is owned by the buffer pool manager, not the backend.
type FileDiskBackend struct {
	file  *os.File
	mutex sync.Mutex
}

// NewFileDiskBackend opens (creating if necessary) the backing data file.
func NewFileDiskBackend(fileName string) (*FileDiskBackend, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, ErrIO("NewFileDiskBackend", err)
	}

	return &FileDiskBackend{file: file}, nil
}

// ReadPage reads a page from disk given its page ID
func (dm *FileDiskBackend) ReadPage(pageID PageID) ([]byte, error) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	offset := int64(pageID) * PageSize
	data := make([]byte, PageSize)

	_, err := dm.file.ReadAt(data, offset)
	if err != nil {
		return nil, ErrIO("ReadPage", err)
	}

	return data, nil
}

// WritePage writes a page to disk at the specified page ID
func (dm *FileDiskBackend) WritePage(pageID PageID, data []byte) error {
	if len(data) != PageSize {
		return ErrIO("WritePage", fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data)))
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	offset := int64(pageID) * PageSize
	_, err := dm.file.WriteAt(data, offset)
	if err != nil {
		return ErrIO("WritePage", err)
	}

	return dm.file.Sync()
}

// PageWrite represents a single page write operation
type PageWrite struct {
	PageID PageID
	Data   []byte
}

// WritePagesV writes multiple pages in a single batch operation, amortizing
// the fsync cost across the whole batch.
func (dm *FileDiskBackend) WritePagesV(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	for _, pw := range writes {
		if len(pw.Data) != PageSize {
			return ErrIO("WritePagesV", fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(pw.Data)))
		}

		offset := int64(pw.PageID) * PageSize
		_, err := dm.file.WriteAt(pw.Data, offset)
		if err != nil {
			return ErrIO("WritePagesV", err)
		}
	}

	return dm.file.Sync()
}

// Close closes the disk backend and its underlying file
func (dm *FileDiskBackend) Close() error {
	if dm.file != nil {
		return dm.file.Close()
	}
	return nil
}
