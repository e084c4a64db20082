package catalog

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/BadgerOps/mirrorrank/internal/safety"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func compressZstd(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("creating zstd encoder: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func compressXZ(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("creating xz writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("writing xz: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing xz writer: %v", err)
	}
	return buf.Bytes()
}

func compressGzip(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

func TestDecompress(t *testing.T) {
	plain := []byte(sampleStatusJSON)

	tests := []struct {
		name   string
		data   []byte
		format string
	}{
		{"plain", plain, ""},
		{"zstd", compressZstd(t, plain), "zstd"},
		{"xz", compressXZ(t, plain), "xz"},
		{"gzip", compressGzip(t, plain), "gzip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, format, err := decompress(tt.data, DefaultMaxBytes)
			if err != nil {
				t.Fatalf("decompress() error: %v", err)
			}
			if format != tt.format {
				t.Errorf("format = %q, want %q", format, tt.format)
			}
			if !bytes.Equal(out, plain) {
				t.Errorf("decompressed payload differs from input")
			}
		})
	}
}

func TestDecompressLimit(t *testing.T) {
	data := compressGzip(t, bytes.Repeat([]byte("x"), 4096))
	_, _, err := decompress(data, 1024)
	if !errors.Is(err, safety.ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestDecompressCorrupt(t *testing.T) {
	data := append([]byte{0x1f, 0x8b}, []byte("not really gzip")...)
	if _, _, err := decompress(data, DefaultMaxBytes); err == nil {
		t.Fatal("expected error for corrupt gzip data")
	}
}

func TestFetcherCompressedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json.zst")
	if err := os.WriteFile(path, compressZstd(t, []byte(sampleStatusJSON)), 0644); err != nil {
		t.Fatalf("failed to write catalog file: %v", err)
	}

	cat, err := NewFetcher(nil, nil).Fetch(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cat.Mirrors) != 2 || cat.Version != 3 {
		t.Errorf("unexpected catalog: version %d, %d mirrors", cat.Version, len(cat.Mirrors))
	}
}
