package catalog

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/BadgerOps/mirrorrank/internal/safety"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// codec is a compression format recognized by its leading magic bytes.
type codec struct {
	name   string
	magic  []byte
	reader func(io.Reader) (io.ReadCloser, error)
}

var codecs = []codec{
	{
		name:  "zstd",
		magic: []byte{0x28, 0xb5, 0x2f, 0xfd},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
	},
	{
		name:  "xz",
		magic: []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			x, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(x), nil
		},
	},
	{
		name:  "gzip",
		magic: []byte{0x1f, 0x8b},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	},
}

// decompress inflates zstd, xz or gzip catalog snapshots. Plain JSON is
// returned unchanged. The inflated size is capped at limit.
func decompress(data []byte, limit int64) ([]byte, string, error) {
	for _, c := range codecs {
		if !bytes.HasPrefix(data, c.magic) {
			continue
		}
		rc, err := c.reader(bytes.NewReader(data))
		if err != nil {
			return nil, c.name, fmt.Errorf("creating %s reader: %w", c.name, err)
		}
		defer func() {
			_ = rc.Close()
		}()

		out, err := safety.ReadAllWithLimit(rc, limit)
		if err != nil {
			if errors.Is(err, safety.ErrBodyTooLarge) {
				return nil, c.name, fmt.Errorf("%s catalog exceeded %d bytes after decompression: %w", c.name, limit, err)
			}
			return nil, c.name, fmt.Errorf("decompressing %s: %w", c.name, err)
		}
		return out, c.name, nil
	}
	return data, "", nil
}
