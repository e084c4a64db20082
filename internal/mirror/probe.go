package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BadgerOps/mirrorrank/internal/safety"
)

const (
	// DefaultProbeTimeout bounds a single probe request.
	DefaultProbeTimeout = 15 * time.Second

	// maxProbeBodyBytes caps how much of a repository index is downloaded.
	maxProbeBodyBytes int64 = 64 * 1024 * 1024
)

// Prober measures the latency of a single candidate.
type Prober interface {
	Probe(ctx context.Context, c Candidate) ProbeResult
}

// HTTPProber times a full GET of each candidate's probe target.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewHTTPProber creates a prober. The client is shared by every probe and
// must be safe for concurrent use; nil gets a hardened default.
func NewHTTPProber(client *http.Client, timeout time.Duration, logger *slog.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if client == nil {
		client = safety.NewHTTPClient(timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProber{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Timeout returns the per-probe timeout.
func (p *HTTPProber) Timeout() time.Duration {
	return p.timeout
}

// Probe fetches the candidate's probe target and reports the time from
// request start until the body has been fully read. Transport errors,
// timeouts and HTTP error statuses are failures. There are no retries.
func (p *HTTPProber) Probe(ctx context.Context, c Candidate) ProbeResult {
	url := c.Record.ProbeTarget()
	result := ProbeResult{Candidate: c}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer func() {
		if result.Err != nil {
			p.logger.Debug("probe failed", "url", url, "error", result.Err)
			return
		}
		p.logger.Debug("probe completed", "url", url, "latency_ms", result.Latency.Milliseconds())
	}()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Err = fmt.Errorf("creating request: %w", err)
		return result
	}
	req.Header.Set("User-Agent", safety.UserAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		result.Err = fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		return result
	}

	if _, err := safety.DrainWithLimit(resp.Body, maxProbeBodyBytes); err != nil {
		result.Err = fmt.Errorf("reading response body: %w", err)
		return result
	}

	result.Latency = time.Since(start)
	return result
}

// ProbeAll probes every candidate concurrently and returns once all probes
// have finished. Results are in candidate order. maxWorkers caps the number
// of in-flight probes; zero or negative means one goroutine per candidate
// with no cap.
func ProbeAll(ctx context.Context, prober Prober, candidates []Candidate, maxWorkers int) []ProbeResult {
	results := make([]ProbeResult, len(candidates))
	if len(candidates) == 0 {
		return results
	}

	var sem chan struct{}
	if maxWorkers > 0 {
		sem = make(chan struct{}, maxWorkers)
	}
	var wg sync.WaitGroup

	for i, c := range candidates {
		wg.Add(1)
		go func(idx int, cand Candidate) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			results[idx] = prober.Probe(ctx, cand)
		}(i, c)
	}

	wg.Wait()
	return results
}
