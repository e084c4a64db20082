package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BadgerOps/mirrorrank/internal/safety"
)

// DefaultSource is the upstream mirror status document.
const DefaultSource = "https://archlinux.org/mirrors/status/json/"

// DefaultMaxBytes caps the size of a catalog document.
const DefaultMaxBytes int64 = 16 * 1024 * 1024

// ErrNoMirrors is returned when a document has no "urls" array.
var ErrNoMirrors = errors.New("catalog has no mirror list")

// Parse decodes a mirror status document.
func Parse(data []byte) (*Catalog, error) {
	var raw struct {
		Catalog
		Mirrors *[]MirrorRecord `json:"urls"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if raw.Mirrors == nil {
		return nil, ErrNoMirrors
	}
	cat := raw.Catalog
	cat.Mirrors = *raw.Mirrors
	return &cat, nil
}

// Fetcher loads catalogs from an HTTP(S) URL or a local file.
type Fetcher struct {
	client    *http.Client
	logger    *slog.Logger
	maxBytes  int64
	userAgent string
}

// NewFetcher creates a Fetcher. A nil client gets a hardened default.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = safety.NewHTTPClient(30 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:    client,
		logger:    logger,
		maxBytes:  DefaultMaxBytes,
		userAgent: safety.UserAgent,
	}
}

// SetMaxBytes overrides the document size limit.
func (f *Fetcher) SetMaxBytes(n int64) {
	if n > 0 {
		f.maxBytes = n
	}
}

// Fetch loads and parses the catalog at source. Sources with an http or
// https scheme are downloaded, anything else is read from disk. zstd, xz
// and gzip snapshots are inflated before parsing.
func (f *Fetcher) Fetch(ctx context.Context, source string) (*Catalog, error) {
	var (
		data []byte
		err  error
	)
	if isRemote(source) {
		data, err = f.fetchRemote(ctx, source)
	} else {
		data, err = f.readFile(source)
	}
	if err != nil {
		return nil, err
	}

	data, format, err := decompress(data, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("loading catalog from %s: %w", source, err)
	}
	if format != "" {
		f.logger.Debug("catalog decompressed", "source", source, "format", format, "bytes", len(data))
	}

	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog from %s: %w", source, err)
	}
	f.logger.Debug("catalog loaded", "source", source, "mirrors", len(cat.Mirrors), "last_check", cat.LastCheck)
	return cat, nil
}

func isRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return nil, fmt.Errorf("invalid catalog URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := safety.ReadAllWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("catalog exceeded %d bytes for %s: %w", f.maxBytes, url, err)
		}
		return nil, fmt.Errorf("reading catalog body: %w", err)
	}
	return body, nil
}

func (f *Fetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog file: %w", err)
	}
	defer file.Close()

	data, err := safety.ReadAllWithLimit(file, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file %s: %w", path, err)
	}
	return data, nil
}
