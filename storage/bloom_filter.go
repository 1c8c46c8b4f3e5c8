package storage

import (
	"hash/fnv"
	"math"
)

// bitset is a packed array of bits, sized once at construction.
type bitset struct {
	bytes []byte
	nbits uint32
}

func newBitset(nbits uint32) bitset {
	return bitset{bytes: make([]byte, (nbits+7)/8), nbits: nbits}
}

func (b bitset) set(i uint32) {
	b.bytes[i/8] |= 1 << (i % 8)
}

func (b bitset) isSet(i uint32) bool {
	return b.bytes[i/8]&(1<<(i%8)) != 0
}

// BloomFilter is a fixed-size probabilistic set used ahead of a bucket
// page read: a miss here means the key is definitely absent, so the
// lookup can skip fetching the page entirely. A hit only means "maybe" and
// still requires the real lookup.
type BloomFilter struct {
	bits       bitset
	numHashes  uint32
	numInserts uint32
}

// BloomFilterConfig sizes a filter for an expected element count and a
// target false-positive rate.
type BloomFilterConfig struct {
	ExpectedElements  uint32
	FalsePositiveRate float64
}

// DefaultBloomFilterConfig assumes roughly 100 keys per bucket page and a
// 1% false-positive rate.
func DefaultBloomFilterConfig() BloomFilterConfig {
	return BloomFilterConfig{ExpectedElements: 100, FalsePositiveRate: 0.01}
}

// NewBloomFilter sizes the bit array and hash count from config using the
// standard optimal-parameters formulas: m = -n*ln(p)/ln(2)^2, k = (m/n)*ln(2).
func NewBloomFilter(config BloomFilterConfig) *BloomFilter {
	n := float64(config.ExpectedElements)
	p := config.FalsePositiveRate

	numBits := uint32(math.Ceil(-n * math.Log(p) / (math.Ln2 * math.Ln2)))
	numHashes := uint32(math.Ceil(float64(numBits) / n * math.Ln2))
	if numHashes < 1 {
		numHashes = 1
	}

	return &BloomFilter{
		bits:      newBitset(numBits),
		numHashes: numHashes,
	}
}

// Insert records key's membership by setting its numHashes derived bit
// positions.
func (bf *BloomFilter) Insert(key []byte) {
	h1, h2 := doubleHash(key)
	for i := uint32(0); i < bf.numHashes; i++ {
		bf.bits.set((h1 + i*h2) % bf.bits.nbits)
	}
	bf.numInserts++
}

// MayContain reports false only when key is provably absent; true means
// either key is present or this is a false positive.
func (bf *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := doubleHash(key)
	for i := uint32(0); i < bf.numHashes; i++ {
		if !bf.bits.isSet((h1 + i*h2) % bf.bits.nbits) {
			return false
		}
	}
	return true
}

// doubleHash derives two independent 32-bit hashes from a single key so
// Insert/MayContain can synthesize numHashes positions without hashing the
// key numHashes separate times (Kirsch-Mitzenmacher double hashing).
func doubleHash(key []byte) (h1, h2 uint32) {
	a, b := fnv.New32a(), fnv.New32()
	a.Write(key)
	b.Write(key)
	h1 = a.Sum32()
	h2 = b.Sum32()
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

// PageBloomFilter is the membership filter the hash table keeps per bucket
// page it has recently touched, built on the first lookup of that bucket
// from its current entries and discarded on any mutation (see extendible_hash_table.go's
// bloomCache).
type PageBloomFilter struct {
	pageID PageID
	filter *BloomFilter
}

// NewPageBloomFilter builds an empty filter for pageID; callers fill it by
// calling InsertKey once per key already in the bucket.
func NewPageBloomFilter(pageID PageID, config BloomFilterConfig) *PageBloomFilter {
	return &PageBloomFilter{pageID: pageID, filter: NewBloomFilter(config)}
}

func (pbf *PageBloomFilter) InsertKey(key []byte) {
	pbf.filter.Insert(key)
}

func (pbf *PageBloomFilter) MayContainKey(key []byte) bool {
	return pbf.filter.MayContain(key)
}
