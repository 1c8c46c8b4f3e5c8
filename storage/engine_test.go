package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func testEngineConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.DataDirectory = t.TempDir()
	cfg.PoolSize = 16
	cfg.HeaderMaxDepth = 2
	cfg.DirectoryMaxDepth = 6
	cfg.BucketMaxSize = 4
	return cfg
}

func TestOpenStorageEngineCreatesDataFile(t *testing.T) {
	cfg := testEngineConfig(t)

	engine, err := OpenStorageEngine(cfg, nil)
	if err != nil {
		t.Fatalf("OpenStorageEngine failed: %v", err)
	}
	defer engine.Close()

	if _, err := os.Stat(filepath.Join(cfg.DataDirectory, "pages.db")); err != nil {
		t.Fatalf("expected data file to exist: %v", err)
	}
	if engine.BufferPool.GetPoolSize() != cfg.PoolSize {
		t.Errorf("expected pool size %d, got %d", cfg.PoolSize, engine.BufferPool.GetPoolSize())
	}
	if !engine.Flusher.IsRunning() {
		t.Error("expected adaptive flusher to be running after open")
	}
}

func TestOpenStorageEngineWithHashTableRoundTrips(t *testing.T) {
	cfg := testEngineConfig(t)

	engine, err := OpenStorageEngine(cfg, nil)
	if err != nil {
		t.Fatalf("OpenStorageEngine failed: %v", err)
	}
	defer engine.Close()

	ht, err := NewExtendibleHashTableFromConfig[uint64, RecordID](
		engine, Uint64Serializer{}, RecordIDSerializer{}, HashUint64, nil,
	)
	if err != nil {
		t.Fatalf("NewExtendibleHashTableFromConfig failed: %v", err)
	}

	if ok, err := ht.Insert(10, RecordID{PageID: 1, SlotNum: 2}); err != nil || !ok {
		t.Fatalf("Insert failed: ok=%v err=%v", ok, err)
	}

	v, found, err := ht.GetValue(10)
	if err != nil || !found || v.SlotNum != 2 {
		t.Errorf("expected RecordID with slot 2, got %+v found=%v err=%v", v, found, err)
	}
}

func TestOpenStorageEngineWithCompression(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.CompressionEnabled = true
	cfg.CompressionAlg = "lz4"

	engine, err := OpenStorageEngine(cfg, nil)
	if err != nil {
		t.Fatalf("OpenStorageEngine failed: %v", err)
	}
	defer engine.Close()

	pageID, guard, err := engine.BufferPool.NewPage()
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}
	data := guard.GetDataMut()
	for i := range data {
		data[i] = 0x11
	}
	guard.Drop()

	if err := engine.BufferPool.FlushPage(pageID); err != nil {
		t.Fatalf("FlushPage failed: %v", err)
	}

	got, err := engine.Scheduler.ReadPage(pageID)
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	for i, b := range got {
		if b != 0x11 {
			t.Fatalf("byte %d: expected 0x11, got 0x%x", i, b)
		}
	}
}

func TestOpenStorageEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.PoolSize = 0

	if _, err := OpenStorageEngine(cfg, nil); err == nil {
		t.Error("expected an error opening with an invalid config")
	}
}
