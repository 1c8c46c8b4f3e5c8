package storage

import (
	"sync"
)

// DiskRequest is a single read or write scheduled against the disk backend.
// Buffer is borrowed for the lifetime of the request: the scheduler neither
// retains nor copies it past the point Done is signalled.
type DiskRequest struct {
	IsWrite bool
	PageID  PageID
	Buffer  []byte
	Done    chan error
}

// DiskScheduler serializes read/write requests onto a single background
// worker goroutine, FIFO, so concurrent callers never race on the
// underlying backend. Grounded on the host engine's group-commit worker: a
// buffered request channel feeding one consumer, with a graceful shutdown
// that drains in-flight requests before returning.
type DiskScheduler struct {
	backend     diskBackend
	compression CompressionType

	requestChan chan *DiskRequest
	shutdownCh  chan struct{}
	wg          sync.WaitGroup
}

// NewDiskScheduler starts the background worker over backend, with no
// page compression.
func NewDiskScheduler(backend diskBackend) *DiskScheduler {
	return NewDiskSchedulerWithCompression(backend, CompressionNone)
}

// NewDiskSchedulerWithCompression starts the background worker over
// backend, transparently compressing every page written and
// decompressing every page read. Compression happens here rather than in
// the backend because the backend's contract is a fixed PageSize blob;
// the scheduler pads a compressed page back out to PageSize before
// handing it to WritePage.
func NewDiskSchedulerWithCompression(backend diskBackend, compression CompressionType) *DiskScheduler {
	s := &DiskScheduler{
		backend:     backend,
		compression: compression,
		requestChan: make(chan *DiskRequest, 256),
		shutdownCh:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// Schedule enqueues a request and returns immediately; the caller receives
// the outcome on req.Done. Shutdown is checked first so a scheduler that
// has already stopped its worker never silently swallows a request into a
// channel nobody will drain.
func (s *DiskScheduler) Schedule(req *DiskRequest) {
	select {
	case <-s.shutdownCh:
		req.Done <- NewStorageError(ErrCodeInternal, "Schedule", "disk scheduler shut down", nil)
		return
	default:
	}

	select {
	case s.requestChan <- req:
	case <-s.shutdownCh:
		req.Done <- NewStorageError(ErrCodeInternal, "Schedule", "disk scheduler shut down", nil)
	}
}

// ReadPage schedules a read and blocks until it completes.
func (s *DiskScheduler) ReadPage(pageID PageID) ([]byte, error) {
	buf := make([]byte, PageSize)
	done := make(chan error, 1)
	s.Schedule(&DiskRequest{IsWrite: false, PageID: pageID, Buffer: buf, Done: done})
	if err := <-done; err != nil {
		return nil, err
	}
	return buf, nil
}

// WritePage schedules a write and blocks until it completes.
func (s *DiskScheduler) WritePage(pageID PageID, data []byte) error {
	done := make(chan error, 1)
	s.Schedule(&DiskRequest{IsWrite: true, PageID: pageID, Buffer: data, Done: done})
	return <-done
}

func (s *DiskScheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case req := <-s.requestChan:
			s.process(req)

		case <-s.shutdownCh:
			for {
				select {
				case req := <-s.requestChan:
					s.process(req)
				default:
					return
				}
			}
		}
	}
}

func (s *DiskScheduler) process(req *DiskRequest) {
	if req.IsWrite {
		payload := req.Buffer
		if s.compression != CompressionNone {
			compressed, err := CompressPageTransparent(req.Buffer, s.compression)
			if err != nil {
				req.Done <- err
				return
			}
			payload = padToPageSize(compressed)
		}
		req.Done <- s.backend.WritePage(req.PageID, payload)
		return
	}

	raw, err := s.backend.ReadPage(req.PageID)
	if err != nil {
		req.Done <- err
		return
	}

	data := raw
	if s.compression != CompressionNone {
		data, err = DecompressPageTransparent(raw)
		if err != nil {
			req.Done <- err
			return
		}
	}
	copy(req.Buffer, data)
	req.Done <- nil
}

// padToPageSize returns data padded with zeros up to PageSize, or
// truncated to it — the backend's WritePage contract requires exactly
// PageSize bytes regardless of how small compression made the payload.
func padToPageSize(data []byte) []byte {
	if len(data) >= PageSize {
		return data[:PageSize]
	}
	buf := make([]byte, PageSize)
	copy(buf, data)
	return buf
}

// Shutdown drains any in-flight requests and stops the worker.
func (s *DiskScheduler) Shutdown() error {
	close(s.shutdownCh)
	s.wg.Wait()
	return s.backend.Close()
}
