package storage

import (
	"log/slog"
	"os"
	"path/filepath"
)

// StorageEngine owns the pieces a Config wires together regardless of
// what's indexed on top: the disk backend, its scheduler, the buffer
// pool, and a background flusher. Indexes are generic over key/value
// types and so are built separately with NewExtendibleHashTableFromConfig
// against this engine's pool.
type StorageEngine struct {
	BufferPool *BufferPoolManager
	Scheduler  *DiskScheduler
	Flusher    *AdaptiveFlusher

	backend diskBackend
	cfg     *Config
}

// OpenStorageEngine validates cfg, opens (creating if needed) the
// configured disk backend under cfg.DataDirectory, and assembles the
// buffer pool and adaptive flusher on top of it.
func OpenStorageEngine(cfg *Config, logger *slog.Logger) (*StorageEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewStorageError(ErrCodeInternal, "OpenStorageEngine", err.Error(), err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevelFromConfig(cfg)}))
	}

	if err := os.MkdirAll(cfg.DataDirectory, 0755); err != nil {
		return nil, ErrIO("OpenStorageEngine", err)
	}
	dataFile := filepath.Join(cfg.DataDirectory, "pages.db")

	var backend diskBackend
	var err error
	if cfg.UseMmapBackend {
		backend, err = NewMmapDiskBackend(dataFile)
	} else {
		backend, err = NewFileDiskBackend(dataFile)
	}
	if err != nil {
		return nil, err
	}

	scheduler := NewDiskSchedulerWithCompression(backend, compressionTypeFromConfig(cfg))

	bpm, err := NewBufferPoolManager(cfg.PoolSize, cfg.ReplacerK, scheduler, NewMetrics(), logger)
	if err != nil {
		scheduler.Shutdown()
		return nil, err
	}

	flusher := NewAdaptiveFlusher(bpm, DefaultAdaptiveFlushConfig())
	if err := flusher.Start(); err != nil {
		scheduler.Shutdown()
		return nil, err
	}

	return &StorageEngine{
		BufferPool: bpm,
		Scheduler:  scheduler,
		Flusher:    flusher,
		backend:    backend,
		cfg:        cfg,
	}, nil
}

// Close stops the flusher, flushes every dirty page, and shuts the
// scheduler (and its backend) down.
func (e *StorageEngine) Close() error {
	if err := e.Flusher.Stop(); err != nil {
		return err
	}
	if err := e.BufferPool.FlushAllPages(); err != nil {
		return err
	}
	return e.Scheduler.Shutdown()
}

// logLevelFromConfig maps cfg.LogLevel onto a slog.Level, only consulted
// when the caller hasn't supplied its own logger.
func logLevelFromConfig(cfg *Config) slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func compressionTypeFromConfig(cfg *Config) CompressionType {
	if !cfg.CompressionEnabled {
		return CompressionNone
	}
	switch cfg.CompressionAlg {
	case "lz4":
		return CompressionLZ4
	case "snappy":
		return CompressionSnappy
	default:
		return CompressionNone
	}
}

// NewExtendibleHashTableFromConfig builds an index over e's buffer pool,
// sized per cfg's hash-index fields rather than hand-picked constants.
func NewExtendibleHashTableFromConfig[K comparable, V any](
	e *StorageEngine,
	keySerializer Serializer[K],
	valueSerializer Serializer[V],
	hashFn func(K) uint32,
	logger *slog.Logger,
) (*ExtendibleHashTable[K, V], error) {
	return NewExtendibleHashTable[K, V](
		e.BufferPool, keySerializer, valueSerializer, hashFn,
		e.cfg.HeaderMaxDepth, e.cfg.DirectoryMaxDepth, e.cfg.BucketMaxSize,
		e.cfg.BloomFilterEnabled, e.BufferPool.GetMetrics(), logger,
	)
}
