package storage

import (
	"bytes"
	"testing"
)

// repeatingPage fills a PageSize buffer with data[i] = byte(i % period), a
// pattern every codec compresses well for period < 256.
func repeatingPage(period int) []byte {
	data := make([]byte, PageSize)
	for i := range data {
		data[i] = byte(i % period)
	}
	return data
}

// pseudoRandomPage fills a PageSize buffer with an LCG sequence, which no
// byte-oriented codec compresses meaningfully.
func pseudoRandomPage() []byte {
	data := make([]byte, PageSize)
	for i := range data {
		data[i] = byte((i*48271 + 12345) % 256)
	}
	return data
}

func ratio(cp *CompressedPage) float64 {
	if cp.CompressedSize == 0 {
		return 0
	}
	return float64(cp.UncompressedSize) / float64(cp.CompressedSize)
}

func TestCompressPageSelectsRequestedCodec(t *testing.T) {
	for _, tc := range []struct {
		name string
		typ  CompressionType
	}{
		{"LZ4", CompressionLZ4},
		{"Snappy", CompressionSnappy},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data := repeatingPage(100)
			cp, err := CompressPage(data, tc.typ)
			if err != nil {
				t.Fatalf("CompressPage: %v", err)
			}
			if cp.CompressionType != tc.typ {
				t.Errorf("CompressionType = %v, want %v", cp.CompressionType, tc.typ)
			}
			if cp.UncompressedSize != PageSize {
				t.Errorf("UncompressedSize = %d, want %d", cp.UncompressedSize, PageSize)
			}
			t.Logf("%s: %d -> %d bytes (%.2fx)", tc.name, cp.UncompressedSize, cp.CompressedSize, ratio(cp))
		})
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		typ  CompressionType
	}{
		{"None", CompressionNone},
		{"LZ4", CompressionLZ4},
		{"Snappy", CompressionSnappy},
	} {
		t.Run(tc.name, func(t *testing.T) {
			original := repeatingPage(256)

			cp, err := CompressPage(original, tc.typ)
			if err != nil {
				t.Fatalf("CompressPage: %v", err)
			}
			decompressed, err := DecompressPage(cp)
			if err != nil {
				t.Fatalf("DecompressPage: %v", err)
			}
			if !bytes.Equal(original, decompressed) {
				t.Error("round trip changed the page contents")
			}
		})
	}
}

func TestSerializeDeserializeCompressedPagePreservesMetadata(t *testing.T) {
	original := repeatingPage(50)

	cp, err := CompressPage(original, CompressionLZ4)
	if err != nil {
		t.Fatalf("CompressPage: %v", err)
	}

	serialized, err := SerializeCompressedPage(cp)
	if err != nil {
		t.Fatalf("SerializeCompressedPage: %v", err)
	}
	if len(serialized) != PageSize {
		t.Fatalf("serialized length = %d, want %d", len(serialized), PageSize)
	}

	deserialized, err := DeserializeCompressedPage(serialized)
	if err != nil {
		t.Fatalf("DeserializeCompressedPage: %v", err)
	}

	switch {
	case deserialized.CompressionType != cp.CompressionType:
		t.Error("CompressionType mismatch after round trip")
	case deserialized.UncompressedSize != cp.UncompressedSize:
		t.Error("UncompressedSize mismatch after round trip")
	case deserialized.CompressedSize != cp.CompressedSize:
		t.Error("CompressedSize mismatch after round trip")
	case deserialized.OriginalChecksum != cp.OriginalChecksum:
		t.Error("OriginalChecksum mismatch after round trip")
	}

	decompressed, err := DecompressPage(deserialized)
	if err != nil {
		t.Fatalf("DecompressPage after deserialize: %v", err)
	}
	if !bytes.Equal(original, decompressed) {
		t.Error("full compress/serialize/deserialize/decompress chain changed the page")
	}
}

func TestIsCompressedPage(t *testing.T) {
	cp, err := CompressPage(make([]byte, PageSize), CompressionLZ4)
	if err != nil {
		t.Fatalf("CompressPage: %v", err)
	}
	serialized, err := SerializeCompressedPage(cp)
	if err != nil {
		t.Fatalf("SerializeCompressedPage: %v", err)
	}
	if !IsCompressedPage(serialized) {
		t.Error("expected a serialized compressed page to be detected as such")
	}

	rawPage := make([]byte, PageSize)
	rawPage[0], rawPage[1] = 0xFF, 0xFF
	if IsCompressedPage(rawPage) {
		t.Error("raw page with non-magic bytes misdetected as compressed")
	}
}

func TestTransparentCompressionRoundTripAndPassthrough(t *testing.T) {
	original := repeatingPage(100)

	compressed, err := CompressPageTransparent(original, CompressionLZ4)
	if err != nil {
		t.Fatalf("CompressPageTransparent: %v", err)
	}
	decompressed, err := DecompressPageTransparent(compressed)
	if err != nil {
		t.Fatalf("DecompressPageTransparent: %v", err)
	}
	if !bytes.Equal(original, decompressed) {
		t.Error("transparent round trip changed the page contents")
	}

	passthrough, err := DecompressPageTransparent(original)
	if err != nil {
		t.Fatalf("DecompressPageTransparent on raw page: %v", err)
	}
	if !bytes.Equal(original, passthrough) {
		t.Error("DecompressPageTransparent modified a page that was never compressed")
	}
}

func TestCompressPageFallsBackBelowMinimumGain(t *testing.T) {
	cp, err := CompressPage(pseudoRandomPage(), CompressionLZ4)
	if err != nil {
		t.Fatalf("CompressPage: %v", err)
	}

	saved := int(cp.UncompressedSize) - int(cp.CompressedSize)
	if saved < minCompressionGain && cp.CompressionType != CompressionNone {
		t.Errorf("expected fallback to CompressionNone when savings (%d) are below the threshold (%d)",
			saved, minCompressionGain)
	}
}

func TestDecompressPageDetectsCorruption(t *testing.T) {
	cp, err := CompressPage(repeatingPage(256), CompressionLZ4)
	if err != nil {
		t.Fatalf("CompressPage: %v", err)
	}

	cp.CompressedData[10] ^= 0xFF

	if _, err := DecompressPage(cp); err == nil {
		t.Error("expected a checksum error after corrupting compressed data")
	}
}

func TestCompressPageOnAllZeroData(t *testing.T) {
	zeros := make([]byte, PageSize)

	for _, typ := range []CompressionType{CompressionLZ4, CompressionSnappy} {
		cp, err := CompressPage(zeros, typ)
		if err != nil {
			t.Fatalf("CompressPage: %v", err)
		}
		if r := ratio(cp); r < 10.0 {
			t.Errorf("%v: ratio %.2f too low for an all-zero page", typ, r)
		}
	}
}

func TestCompressPageOnIncompressibleDataStillRoundTrips(t *testing.T) {
	data := pseudoRandomPage()

	cp, err := CompressPage(data, CompressionLZ4)
	if err != nil {
		t.Fatalf("CompressPage: %v", err)
	}
	decompressed, err := DecompressPage(cp)
	if err != nil {
		t.Fatalf("DecompressPage: %v", err)
	}
	if !bytes.Equal(data, decompressed) {
		t.Error("round trip changed incompressible data")
	}
}

func TestCompressPageConcurrentWorkersDoNotCorruptEachOther(t *testing.T) {
	const workers = 10
	results := make(chan error, workers)

	for w := 0; w < workers; w++ {
		go func(id int) {
			data := make([]byte, PageSize)
			for i := range data {
				data[i] = byte((id + i) % 256)
			}

			cp, err := CompressPage(data, CompressionLZ4)
			if err != nil {
				results <- err
				return
			}
			decompressed, err := DecompressPage(cp)
			if err != nil {
				results <- err
				return
			}
			if !bytes.Equal(data, decompressed) {
				results <- ErrCompression("test", "round trip mismatch", nil)
				return
			}
			results <- nil
		}(w)
	}

	for w := 0; w < workers; w++ {
		if err := <-results; err != nil {
			t.Errorf("worker failed: %v", err)
		}
	}
}

func BenchmarkCompressPage(b *testing.B) {
	for _, typ := range []CompressionType{CompressionLZ4, CompressionSnappy} {
		b.Run(typ.String(), func(b *testing.B) {
			data := repeatingPage(256)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := CompressPage(data, typ); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkDecompressPage(b *testing.B) {
	for _, typ := range []CompressionType{CompressionLZ4, CompressionSnappy} {
		b.Run(typ.String(), func(b *testing.B) {
			data := repeatingPage(256)
			cp, err := CompressPage(data, typ)
			if err != nil {
				b.Fatal(err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := DecompressPage(cp); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSerializeDeserializeCompressedPage(b *testing.B) {
	data := repeatingPage(256)
	cp, err := CompressPage(data, CompressionLZ4)
	if err != nil {
		b.Fatal(err)
	}
	serialized, err := SerializeCompressedPage(cp)
	if err != nil {
		b.Fatal(err)
	}

	b.Run("Serialize", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := SerializeCompressedPage(cp); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("Deserialize", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := DeserializeCompressedPage(serialized); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkTransparentCompression(b *testing.B) {
	data := repeatingPage(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		compressed, err := CompressPageTransparent(data, CompressionLZ4)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := DecompressPageTransparent(compressed); err != nil {
			b.Fatal(err)
		}
	}
}
