package storage

import (
	"log/slog"
	"sync"
	"time"
)

// ExtendibleHashTable is a disk-resident hash index: a single header page
// fans out to directory pages, each of which fans out to bucket pages.
// Every traversal crabs through the buffer pool's page guards, latching
// only as deep as the operation needs.
type ExtendibleHashTable[K comparable, V any] struct {
	bpm    *BufferPoolManager
	metrics *Metrics
	logger *slog.Logger

	headerPageID PageID

	keySerializer   Serializer[K]
	valueSerializer Serializer[V]
	hashFn          func(K) uint32

	directoryMaxDepth uint32
	bucketMaxSize     uint32

	bloomEnabled bool
	bloomMu      sync.Mutex
	bloomCache   map[PageID]*PageBloomFilter
}

// NewExtendibleHashTable allocates a fresh, empty index backed by bpm.
// headerMaxDepth/directoryMaxDepth/bucketMaxSize come from the engine's
// Config; the constructor rejects combinations that wouldn't fit a page.
func NewExtendibleHashTable[K comparable, V any](
	bpm *BufferPoolManager,
	keySerializer Serializer[K],
	valueSerializer Serializer[V],
	hashFn func(K) uint32,
	headerMaxDepth, directoryMaxDepth, bucketMaxSize uint32,
	bloomEnabled bool,
	metrics *Metrics,
	logger *slog.Logger,
) (*ExtendibleHashTable[K, V], error) {
	if HeaderPageSerializedSize(headerMaxDepth) > PageSize {
		return nil, NewStorageError(ErrCodeInternal, "NewExtendibleHashTable", "header depth does not fit a page", nil)
	}
	if DirectoryPageSerializedSize(directoryMaxDepth) > PageSize {
		return nil, NewStorageError(ErrCodeInternal, "NewExtendibleHashTable", "directory depth does not fit a page", nil)
	}
	entrySize := keySerializer.Size() + valueSerializer.Size()
	if BucketPageSerializedSize(int(bucketMaxSize), keySerializer.Size(), valueSerializer.Size()) > PageSize {
		return nil, NewStorageError(ErrCodeInternal, "NewExtendibleHashTable", "bucket capacity does not fit a page", nil)
	}
	_ = entrySize

	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	headerPageID, headerGuard, err := bpm.NewPage()
	if err != nil {
		return nil, err
	}
	header := NewHeaderPage(headerMaxDepth)
	header.Serialize(headerGuard.GetDataMut())
	headerGuard.Drop()

	return &ExtendibleHashTable[K, V]{
		bpm:               bpm,
		metrics:           metrics,
		logger:            logger,
		headerPageID:      headerPageID,
		keySerializer:     keySerializer,
		valueSerializer:   valueSerializer,
		hashFn:            hashFn,
		directoryMaxDepth: directoryMaxDepth,
		bucketMaxSize:     bucketMaxSize,
		bloomEnabled:      bloomEnabled,
		bloomCache:        make(map[PageID]*PageBloomFilter),
	}, nil
}

// HeaderPageID returns the root page id, for callers that persist an
// index's location (e.g. a catalog) across restarts.
func (ht *ExtendibleHashTable[K, V]) HeaderPageID() PageID {
	return ht.headerPageID
}

func (ht *ExtendibleHashTable[K, V]) keyBytes(key K) []byte {
	buf := make([]byte, ht.keySerializer.Size())
	ht.keySerializer.Encode(key, buf)
	return buf
}

func (ht *ExtendibleHashTable[K, V]) cachedBloom(pageID PageID) *PageBloomFilter {
	ht.bloomMu.Lock()
	defer ht.bloomMu.Unlock()
	return ht.bloomCache[pageID]
}

func (ht *ExtendibleHashTable[K, V]) ensureBloomCached(pageID PageID, bucket *BucketPage[K, V]) {
	ht.bloomMu.Lock()
	defer ht.bloomMu.Unlock()
	if _, ok := ht.bloomCache[pageID]; ok {
		return
	}
	bf := NewPageBloomFilter(pageID, DefaultBloomFilterConfig())
	for i := 0; i < bucket.Size(); i++ {
		k, _ := bucket.EntryAt(i)
		bf.InsertKey(ht.keyBytes(k))
	}
	ht.bloomCache[pageID] = bf
}

func (ht *ExtendibleHashTable[K, V]) invalidateBloom(pageID PageID) {
	ht.bloomMu.Lock()
	defer ht.bloomMu.Unlock()
	delete(ht.bloomCache, pageID)
}

func (ht *ExtendibleHashTable[K, V]) decodeDirectory(guard interface{ GetData() []byte }) *DirectoryPage {
	return DeserializeDirectoryPage(guard.GetData(), ht.directoryMaxDepth)
}

func (ht *ExtendibleHashTable[K, V]) decodeBucket(data []byte) *BucketPage[K, V] {
	return DeserializeBucketPage[K, V](data, int(ht.bucketMaxSize), ht.keySerializer, ht.valueSerializer)
}

// GetValue looks up key, returning (value, true, nil) on a hit and
// (zero, false, nil) on a confirmed miss.
func (ht *ExtendibleHashTable[K, V]) GetValue(key K) (V, bool, error) {
	start := time.Now()
	defer func() { ht.metrics.RecordIndexGetLatency(time.Since(start)) }()
	ht.metrics.RecordIndexLookup()

	var zero V
	hash := ht.hashFn(key)

	headerGuard, err := ht.bpm.FetchPageRead(ht.headerPageID)
	if err != nil {
		return zero, false, err
	}
	header := DeserializeHeaderPage(headerGuard.GetData())
	dirID := header.GetDirectoryPageID(header.HashToDirectoryIndex(hash))
	headerGuard.Drop()
	if dirID == InvalidPageID {
		return zero, false, nil
	}

	dirGuard, err := ht.bpm.FetchPageRead(dirID)
	if err != nil {
		return zero, false, err
	}
	dir := ht.decodeDirectory(dirGuard)
	bucketID := dir.GetBucketPageID(dir.HashToBucketIndex(hash))
	dirGuard.Drop()
	if bucketID == InvalidPageID {
		return zero, false, nil
	}

	if ht.bloomEnabled {
		if bf := ht.cachedBloom(bucketID); bf != nil && !bf.MayContainKey(ht.keyBytes(key)) {
			return zero, false, nil
		}
	}

	bucketGuard, err := ht.bpm.FetchPageRead(bucketID)
	if err != nil {
		return zero, false, err
	}
	defer bucketGuard.Drop()
	bucket := ht.decodeBucket(bucketGuard.GetData())

	if ht.bloomEnabled {
		ht.ensureBloomCached(bucketID, bucket)
	}

	value, found := bucket.Lookup(key)
	return value, found, nil
}

// Insert adds key/value, splitting buckets (and, when necessary, doubling
// the directory) as many times as needed to make room. Returns false
// without error if key already exists, or if the directory has reached
// its configured maximum depth and can split no further.
func (ht *ExtendibleHashTable[K, V]) Insert(key K, value V) (bool, error) {
	start := time.Now()
	defer func() { ht.metrics.RecordIndexInsertLatency(time.Since(start)) }()
	ht.metrics.RecordIndexInsert()

	hash := ht.hashFn(key)

	headerGuard, err := ht.bpm.FetchPageWrite(ht.headerPageID)
	if err != nil {
		return false, err
	}
	header := DeserializeHeaderPage(headerGuard.GetData())
	dirIdx := header.HashToDirectoryIndex(hash)
	dirID := header.GetDirectoryPageID(dirIdx)

	if dirID == InvalidPageID {
		return ht.insertToNewDirectory(header, headerGuard, dirIdx, hash, key, value)
	}

	dirGuard, err := ht.bpm.FetchPageWrite(dirID)
	if err != nil {
		headerGuard.Drop()
		return false, err
	}
	headerGuard.Drop()

	dir := ht.decodeDirectory(dirGuard)
	return ht.insertIntoDirectory(dir, dirGuard, dirID, hash, key, value)
}

func (ht *ExtendibleHashTable[K, V]) insertToNewDirectory(
	header *HeaderPage, headerGuard *WritePageGuard, dirIdx uint32, hash uint32, key K, value V,
) (bool, error) {
	defer func() {
		header.Serialize(headerGuard.GetDataMut())
		headerGuard.Drop()
	}()

	dirID, dirBasicGuard, err := ht.bpm.NewPage()
	if err != nil {
		return false, err
	}
	dirGuard := dirBasicGuard.UpgradeWrite()
	dir := NewDirectoryPage(ht.directoryMaxDepth)
	header.SetDirectoryPageID(dirIdx, dirID)

	bucketIdx := dir.HashToBucketIndex(hash)
	return ht.insertToNewBucket(dir, dirGuard, bucketIdx, key, value)
}

func (ht *ExtendibleHashTable[K, V]) insertToNewBucket(
	dir *DirectoryPage, dirGuard *WritePageGuard, bucketIdx uint32, key K, value V,
) (bool, error) {
	defer func() {
		dir.Serialize(dirGuard.GetDataMut())
		dirGuard.Drop()
	}()

	bucketID, bucketBasicGuard, err := ht.bpm.NewPage()
	if err != nil {
		return false, err
	}
	bucketGuard := bucketBasicGuard.UpgradeWrite()
	bucket := NewBucketPage[K, V](int(ht.bucketMaxSize))
	dir.SetBucketPageID(bucketIdx, bucketID)
	dir.SetLocalDepth(bucketIdx, 0)

	ok := bucket.Insert(key, value)
	bucket.Serialize(bucketGuard.GetDataMut(), ht.keySerializer, ht.valueSerializer)
	bucketGuard.Drop()
	ht.invalidateBloom(bucketID)
	return ok, nil
}

// insertIntoDirectory walks split after split until the insert succeeds
// or the directory cannot grow further, bounded by how many more times
// this bucket's local depth can increase before hitting
// directoryMaxDepth. The base algorithm retries by recursing on its own
// Insert; this loop does the same work without growing the call stack.
func (ht *ExtendibleHashTable[K, V]) insertIntoDirectory(
	dir *DirectoryPage, dirGuard *WritePageGuard, dirID PageID, hash uint32, key K, value V,
) (bool, error) {
	bucketIdx := dir.HashToBucketIndex(hash)
	bucketID := dir.GetBucketPageID(bucketIdx)
	if bucketID == InvalidPageID {
		return ht.insertToNewBucket(dir, dirGuard, bucketIdx, key, value)
	}

	maxAttempts := int(ht.directoryMaxDepth-dir.GetLocalDepth(bucketIdx)) + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		bucketGuard, err := ht.bpm.FetchPageWrite(bucketID)
		if err != nil {
			dir.Serialize(dirGuard.GetDataMut())
			dirGuard.Drop()
			return false, err
		}
		bucket := ht.decodeBucket(bucketGuard.GetData())

		if ok := bucket.Insert(key, value); ok {
			bucket.Serialize(bucketGuard.GetDataMut(), ht.keySerializer, ht.valueSerializer)
			bucketGuard.Drop()
			ht.invalidateBloom(bucketID)
			dir.Serialize(dirGuard.GetDataMut())
			dirGuard.Drop()
			return true, nil
		}

		if _, exists := bucket.Lookup(key); exists {
			bucketGuard.Drop()
			dir.Serialize(dirGuard.GetDataMut())
			dirGuard.Drop()
			return false, nil
		}

		// Bucket is full of other keys: split it.
		if dir.GetLocalDepth(bucketIdx) == dir.GlobalDepth() {
			if dir.GlobalDepth() >= ht.directoryMaxDepth {
				bucketGuard.Drop()
				dir.Serialize(dirGuard.GetDataMut())
				dirGuard.Drop()
				return false, nil
			}
			if err := dir.IncrGlobalDepth(); err != nil {
				bucketGuard.Drop()
				dir.Serialize(dirGuard.GetDataMut())
				dirGuard.Drop()
				return false, err
			}
			bucketIdx = dir.HashToBucketIndex(hash)
		}

		oldLocalDepth := dir.GetLocalDepth(bucketIdx)
		newLocalDepth := oldLocalDepth + 1
		highBit := uint32(1) << (newLocalDepth - 1)
		splitIdx := bucketIdx ^ highBit

		siblingID, siblingBasicGuard, err := ht.bpm.NewPage()
		if err != nil {
			bucketGuard.Drop()
			dir.Serialize(dirGuard.GetDataMut())
			dirGuard.Drop()
			return false, err
		}
		siblingGuard := siblingBasicGuard.UpgradeWrite()
		sibling := NewBucketPage[K, V](int(ht.bucketMaxSize))

		// Directory-slot retargeting fix: retarget every slot that points
		// at the old bucket, not just splitIdx, so duplicate slots created
		// by an earlier IncrGlobalDepth stay consistent.
		ht.retargetSlotsLocked(dir, bucketID, splitIdx, siblingID, newLocalDepth)

		ht.metrics.RecordIndexSplit()

		for i := 0; i < bucket.Size(); {
			k, v := bucket.EntryAt(i)
			idx := dir.HashToBucketIndex(ht.hashFn(k))
			if dir.GetBucketPageID(idx) == siblingID {
				sibling.Insert(k, v)
				bucket.Remove(k)
				continue
			}
			i++
		}

		bucket.Serialize(bucketGuard.GetDataMut(), ht.keySerializer, ht.valueSerializer)
		sibling.Serialize(siblingGuard.GetDataMut(), ht.keySerializer, ht.valueSerializer)
		bucketGuard.Drop()
		siblingGuard.Drop()
		ht.invalidateBloom(bucketID)
		ht.invalidateBloom(siblingID)

		bucketIdx = dir.HashToBucketIndex(hash)
		bucketID = dir.GetBucketPageID(bucketIdx)
	}

	dir.Serialize(dirGuard.GetDataMut())
	dirGuard.Drop()
	return false, ErrDepthExceeded("Insert")
}

// retargetSlotsLocked repoints every live directory slot currently
// pointing at originalBucketID: all of them take newLocalDepth, and the
// half matching splitIdx's new addressing bit move to siblingID.
func (ht *ExtendibleHashTable[K, V]) retargetSlotsLocked(
	dir *DirectoryPage, originalBucketID PageID, splitIdx uint32, siblingID PageID, newLocalDepth uint32,
) {
	size := dir.Size()
	highBit := uint32(1) << (newLocalDepth - 1)
	siblingBit := splitIdx & highBit
	for i := uint32(0); i < size; i++ {
		if dir.GetBucketPageID(i) != originalBucketID {
			continue
		}
		dir.SetLocalDepth(i, newLocalDepth)
		if i&highBit == siblingBit {
			dir.SetBucketPageID(i, siblingID)
		}
	}
}

// Remove deletes key, coalescing the bucket into its split image and
// shrinking the directory while the resulting structure allows it.
func (ht *ExtendibleHashTable[K, V]) Remove(key K) (bool, error) {
	ht.metrics.RecordIndexRemove()
	hash := ht.hashFn(key)

	headerGuard, err := ht.bpm.FetchPageRead(ht.headerPageID)
	if err != nil {
		return false, err
	}
	header := DeserializeHeaderPage(headerGuard.GetData())
	dirID := header.GetDirectoryPageID(header.HashToDirectoryIndex(hash))
	headerGuard.Drop()
	if dirID == InvalidPageID {
		return false, nil
	}

	dirGuard, err := ht.bpm.FetchPageWrite(dirID)
	if err != nil {
		return false, err
	}
	dir := ht.decodeDirectory(dirGuard)

	bucketIdx := dir.HashToBucketIndex(hash)
	bucketID := dir.GetBucketPageID(bucketIdx)
	if bucketID == InvalidPageID {
		dirGuard.Drop()
		return false, nil
	}

	bucketGuard, err := ht.bpm.FetchPageWrite(bucketID)
	if err != nil {
		dirGuard.Drop()
		return false, err
	}
	bucket := ht.decodeBucket(bucketGuard.GetData())

	if !bucket.Remove(key) {
		bucketGuard.Drop()
		dirGuard.Drop()
		return false, nil
	}
	bucket.Serialize(bucketGuard.GetDataMut(), ht.keySerializer, ht.valueSerializer)
	bucketGuard.Drop()
	ht.invalidateBloom(bucketID)

	for dir.GetLocalDepth(bucketIdx) > 0 {
		splitIdx := dir.GetSplitImageIndex(bucketIdx)
		if dir.GetLocalDepth(bucketIdx) != dir.GetLocalDepth(splitIdx) {
			break
		}

		primaryID := dir.GetBucketPageID(bucketIdx)
		siblingID := dir.GetBucketPageID(splitIdx)

		primaryEmpty, err := ht.bucketIsEmpty(primaryID)
		if err != nil {
			dirGuard.Drop()
			return false, err
		}
		siblingEmpty, err := ht.bucketIsEmpty(siblingID)
		if err != nil {
			dirGuard.Drop()
			return false, err
		}
		if !primaryEmpty && !siblingEmpty {
			break
		}

		survivorID, orphanID := primaryID, siblingID
		if primaryEmpty {
			survivorID, orphanID = siblingID, primaryID
		}

		newLocalDepth := dir.GetLocalDepth(bucketIdx) - 1
		ht.retargetToSurvivorLocked(dir, primaryID, siblingID, survivorID, newLocalDepth)

		if _, err := ht.bpm.DeletePage(orphanID); err != nil {
			dirGuard.Drop()
			return false, err
		}
		ht.invalidateBloom(orphanID)

		bucketIdx = dir.HashToBucketIndex(hash)
	}

	for dir.CanShrink() && dir.GlobalDepth() > 0 {
		dir.DecrGlobalDepth()
	}

	dir.Serialize(dirGuard.GetDataMut())
	dirGuard.Drop()
	return true, nil
}

// retargetToSurvivorLocked repoints every live slot pointing at either
// side of a coalesced pair to the survivor, decrementing its local
// depth — the same all-slots discipline Insert's split uses, applied in
// reverse.
func (ht *ExtendibleHashTable[K, V]) retargetToSurvivorLocked(
	dir *DirectoryPage, primaryID, siblingID, survivorID PageID, newLocalDepth uint32,
) {
	size := dir.Size()
	for i := uint32(0); i < size; i++ {
		id := dir.GetBucketPageID(i)
		if id == primaryID || id == siblingID {
			dir.SetBucketPageID(i, survivorID)
			dir.SetLocalDepth(i, newLocalDepth)
		}
	}
}

func (ht *ExtendibleHashTable[K, V]) bucketIsEmpty(pageID PageID) (bool, error) {
	guard, err := ht.bpm.FetchPageRead(pageID)
	if err != nil {
		return false, err
	}
	defer guard.Drop()
	bucket := ht.decodeBucket(guard.GetData())
	return bucket.IsEmpty(), nil
}
