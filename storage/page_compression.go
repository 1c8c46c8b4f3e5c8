package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType selects the codec a DiskScheduler applies to pages in
// flight between the buffer pool and the backend.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionLZ4
	CompressionSnappy
)

func (c CompressionType) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	default:
		return "none"
	}
}

// Wire layout for a compressed page, written in place of the raw PageSize
// bytes whenever compression saves enough to be worth the header:
//
//	[0:2]  magic (compressedPageMagic)
//	[2]    CompressionType
//	[3]    reserved
//	[4:6]  uncompressed size
//	[6:8]  compressed size
//	[8:12] CRC32 (IEEE) of the uncompressed page
//	[12:]  compressed bytes
const (
	compressedPageMagic  = 0xC0DE
	compressedHeaderSize = 12
	minCompressionGain   = 100 // bytes; below this, store the page uncompressed
)

// pageCodec is the pair of functions a CompressionType resolves to. Adding
// an algorithm means adding one entry to codecs, not a new branch in every
// function below.
type pageCodec struct {
	compress   func(src []byte) ([]byte, error)
	decompress func(src []byte, uncompressedSize int) ([]byte, error)
}

var codecs = map[CompressionType]pageCodec{
	CompressionLZ4: {
		compress: func(src []byte) ([]byte, error) {
			dst := make([]byte, lz4.CompressBlockBound(len(src)))
			n, err := lz4.CompressBlock(src, dst, nil)
			if err != nil {
				return nil, ErrCompression("lz4", "compress failed", err)
			}
			return dst[:n], nil
		},
		decompress: func(src []byte, uncompressedSize int) ([]byte, error) {
			dst := make([]byte, uncompressedSize)
			n, err := lz4.UncompressBlock(src, dst)
			if err != nil {
				return nil, ErrCompression("lz4", "decompress failed", err)
			}
			return dst[:n], nil
		},
	},
	CompressionSnappy: {
		compress: func(src []byte) ([]byte, error) {
			return snappy.Encode(nil, src), nil
		},
		decompress: func(src []byte, uncompressedSize int) ([]byte, error) {
			dst, err := snappy.Decode(nil, src)
			if err != nil {
				return nil, ErrCompression("snappy", "decompress failed", err)
			}
			return dst, nil
		},
	},
}

// CompressedPage is a page that has gone through a codec, or fell back to
// CompressionNone because compression didn't save enough to be worth it.
type CompressedPage struct {
	CompressionType  CompressionType
	UncompressedSize uint16
	CompressedSize   uint16
	CompressedData   []byte
	OriginalChecksum uint32
}

// CompressPage runs data through the requested codec, falling back to
// CompressionNone if the result doesn't save at least minCompressionGain
// bytes over storing it raw.
func CompressPage(data []byte, compressionType CompressionType) (*CompressedPage, error) {
	if len(data) != PageSize {
		return nil, ErrCompression("CompressPage", "page must be exactly PageSize bytes", nil)
	}

	checksum := crc32.ChecksumIEEE(data)

	payload := data
	if codec, ok := codecs[compressionType]; ok {
		compressed, err := codec.compress(data)
		if err != nil {
			return nil, err
		}
		if len(data)-len(compressed) >= minCompressionGain {
			payload = compressed
		} else {
			compressionType = CompressionNone
		}
	} else {
		compressionType = CompressionNone
	}

	return &CompressedPage{
		CompressionType:  compressionType,
		UncompressedSize: uint16(len(data)),
		CompressedSize:   uint16(len(payload)),
		CompressedData:   payload,
		OriginalChecksum: checksum,
	}, nil
}

// DecompressPage reverses CompressPage and verifies the checksum recorded
// at compress time, catching corruption the codec itself wouldn't notice.
func DecompressPage(cp *CompressedPage) ([]byte, error) {
	var decompressed []byte

	if cp.CompressionType == CompressionNone {
		decompressed = cp.CompressedData
	} else {
		codec, ok := codecs[cp.CompressionType]
		if !ok {
			return nil, ErrCompression("DecompressPage", "unsupported compression type", nil)
		}
		var err error
		decompressed, err = codec.decompress(cp.CompressedData, int(cp.UncompressedSize))
		if err != nil {
			return nil, err
		}
	}

	if crc32.ChecksumIEEE(decompressed) != cp.OriginalChecksum {
		return nil, ErrCompression("DecompressPage", "checksum mismatch, page is corrupt", nil)
	}
	return decompressed, nil
}

// SerializeCompressedPage packs cp into a PageSize-aligned buffer suitable
// for handing to a disk backend.
func SerializeCompressedPage(cp *CompressedPage) ([]byte, error) {
	total := compressedHeaderSize + len(cp.CompressedData)
	if total > PageSize {
		return nil, ErrCompression("SerializeCompressedPage", "compressed page exceeds PageSize", nil)
	}

	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint16(buf[0:2], compressedPageMagic)
	buf[2] = uint8(cp.CompressionType)
	binary.LittleEndian.PutUint16(buf[4:6], cp.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[6:8], cp.CompressedSize)
	binary.LittleEndian.PutUint32(buf[8:12], cp.OriginalChecksum)
	copy(buf[compressedHeaderSize:], cp.CompressedData)
	return buf, nil
}

// DeserializeCompressedPage reads back what SerializeCompressedPage wrote.
func DeserializeCompressedPage(data []byte) (*CompressedPage, error) {
	if len(data) < compressedHeaderSize {
		return nil, ErrCompression("DeserializeCompressedPage", "data too short for header", nil)
	}
	if binary.LittleEndian.Uint16(data[0:2]) != compressedPageMagic {
		return nil, ErrCompression("DeserializeCompressedPage", "bad magic number", nil)
	}

	compressedSize := binary.LittleEndian.Uint16(data[6:8])
	if compressedHeaderSize+int(compressedSize) > len(data) {
		return nil, ErrCompression("DeserializeCompressedPage", "truncated compressed payload", nil)
	}

	payload := make([]byte, compressedSize)
	copy(payload, data[compressedHeaderSize:compressedHeaderSize+int(compressedSize)])

	return &CompressedPage{
		CompressionType:  CompressionType(data[2]),
		UncompressedSize: binary.LittleEndian.Uint16(data[4:6]),
		CompressedSize:   compressedSize,
		CompressedData:   payload,
		OriginalChecksum: binary.LittleEndian.Uint32(data[8:12]),
	}, nil
}

// IsCompressedPage reports whether data's first two bytes are the
// compressed-page magic. A never-written, all-zero page reads as false.
func IsCompressedPage(data []byte) bool {
	return len(data) >= 2 && binary.LittleEndian.Uint16(data[0:2]) == compressedPageMagic
}

// CompressPageTransparent is CompressPage+SerializeCompressedPage in one
// call: the shape DiskScheduler wants for a write. A page that falls back
// to CompressionNone is returned as its raw bytes, which
// DecompressPageTransparent passes through; if such a page begins with the
// compressed-page magic it cannot be told apart on read, and an error is
// returned instead.
func CompressPageTransparent(data []byte, compressionType CompressionType) ([]byte, error) {
	cp, err := CompressPage(data, compressionType)
	if err != nil {
		return nil, err
	}
	if cp.CompressionType == CompressionNone && !IsCompressedPage(data) {
		return data, nil
	}
	return SerializeCompressedPage(cp)
}

// DecompressPageTransparent is the read-side counterpart: pages that were
// never run through the compressed format (including an unwritten,
// all-zero page) pass through unchanged rather than erroring.
func DecompressPageTransparent(data []byte) ([]byte, error) {
	if !IsCompressedPage(data) {
		return data, nil
	}
	cp, err := DeserializeCompressedPage(data)
	if err != nil {
		return nil, err
	}
	return DecompressPage(cp)
}
