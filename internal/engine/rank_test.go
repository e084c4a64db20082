package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/mirrorrank/internal/catalog"
	"github.com/BadgerOps/mirrorrank/internal/config"
	"github.com/BadgerOps/mirrorrank/internal/mirror"
	"github.com/BadgerOps/mirrorrank/internal/store"
)

type stubFetcher struct {
	catalog *catalog.Catalog
	err     error
	sources []string
}

func (f *stubFetcher) Fetch(_ context.Context, source string) (*catalog.Catalog, error) {
	f.sources = append(f.sources, source)
	if f.err != nil {
		return nil, f.err
	}
	return f.catalog, nil
}

type stubProber struct {
	latency map[string]time.Duration
	fail    map[string]bool
}

func (p *stubProber) Probe(_ context.Context, c mirror.Candidate) mirror.ProbeResult {
	if p.fail[c.Record.URL] {
		return mirror.ProbeResult{Candidate: c, Err: errors.New("connection refused")}
	}
	return mirror.ProbeResult{Candidate: c, Latency: p.latency[c.Record.URL]}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Catalog.Source = "status.json"
	cfg.Output.Path = filepath.Join(t.TempDir(), "mirrorlist")
	return cfg
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Version: 3,
		Mirrors: []catalog.MirrorRecord{
			{URL: "https://slow.example.com/", Protocol: "https", Active: true, IPv4: true, Score: catalog.SomeReliability(1)},
			{URL: "https://fast.example.com/", Protocol: "https", Active: true, IPv4: true, Score: catalog.SomeReliability(1)},
			{URL: "https://down.example.com/", Protocol: "https", Active: true, IPv4: true, Score: catalog.SomeReliability(0.5)},
			{URL: "https://unscored.example.com/", Protocol: "https", Active: true, IPv4: true},
			{URL: "rsync://fast.example.com/", Protocol: "rsync", Active: true, IPv4: true, Score: catalog.SomeReliability(0.1)},
		},
	}
}

func testProber() *stubProber {
	return &stubProber{
		latency: map[string]time.Duration{
			"https://slow.example.com/": 4 * time.Second,
			"https://fast.example.com/": 80 * time.Millisecond,
		},
		fail: map[string]bool{"https://down.example.com/": true},
	}
}

func TestRankWritesMirrorlist(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig(t)
	fetcher := &stubFetcher{catalog: testCatalog()}

	m := NewRankManager(fetcher, testProber(), st, cfg, slog.Default())
	report, err := m.Rank(context.Background(), RankOptions{})
	if err != nil {
		t.Fatalf("Rank() failed: %v", err)
	}

	if len(report.Candidates) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(report.Candidates))
	}
	if report.ProbeFailed != 1 || report.ProbedOK() != 2 {
		t.Errorf("expected 2 ok / 1 failed probes, got %d / %d", report.ProbedOK(), report.ProbeFailed)
	}
	if len(report.Ranked) != 2 {
		t.Fatalf("expected 2 ranked mirrors, got %d", len(report.Ranked))
	}
	if report.Ranked[0].URL != "https://fast.example.com/" {
		t.Errorf("expected fast mirror first, got %s", report.Ranked[0].URL)
	}

	data, err := os.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("failed to read mirrorlist: %v", err)
	}
	out := string(data)
	fastIdx := strings.Index(out, "Server = https://fast.example.com/$repo/os/$arch")
	slowIdx := strings.Index(out, "Server = https://slow.example.com/$repo/os/$arch")
	if fastIdx < 0 || slowIdx < 0 || fastIdx > slowIdx {
		t.Errorf("unexpected mirrorlist content:\n%s", out)
	}
	if strings.Contains(out, "down.example.com") {
		t.Error("failed mirror must not be written")
	}
	if !strings.HasPrefix(out, "##") {
		t.Error("expected header comment block")
	}

	run, err := st.GetRankRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRankRun() failed: %v", err)
	}
	if run.Status != store.StatusSuccess {
		t.Errorf("run status = %q, want %q", run.Status, store.StatusSuccess)
	}
	if run.CatalogMirrors != 5 || run.Candidates != 3 || run.ProbedOK != 2 || run.ProbeFailed != 1 || run.Ranked != 2 {
		t.Errorf("unexpected run counts: %+v", run)
	}
	if run.EndTime.IsZero() {
		t.Error("expected run end time to be recorded")
	}
}

func TestRankDryRun(t *testing.T) {
	cfg := testConfig(t)
	m := NewRankManager(&stubFetcher{catalog: testCatalog()}, testProber(), nil, cfg, nil)

	report, err := m.Rank(context.Background(), RankOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Rank() failed: %v", err)
	}
	if len(report.Ranked) != 2 {
		t.Errorf("expected 2 ranked mirrors, got %d", len(report.Ranked))
	}
	if _, err := os.Stat(cfg.Output.Path); !os.IsNotExist(err) {
		t.Errorf("dry run should not write the mirrorlist, stat err = %v", err)
	}
	if report.RunID != 0 {
		t.Errorf("expected no run record without a recorder, got id %d", report.RunID)
	}
}

func TestRankCatalogErrorIsFatal(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig(t)
	fetcher := &stubFetcher{err: errors.New("unexpected status 502")}
	prober := &countingProber{}

	m := NewRankManager(fetcher, prober, st, cfg, slog.Default())
	if _, err := m.Rank(context.Background(), RankOptions{}); err == nil {
		t.Fatal("expected catalog error")
	}
	if prober.calls != 0 {
		t.Errorf("expected no probes after a catalog error, got %d", prober.calls)
	}
	if _, err := os.Stat(cfg.Output.Path); !os.IsNotExist(err) {
		t.Error("no mirrorlist may be written after a catalog error")
	}

	runs, err := st.ListRankRuns(0)
	if err != nil {
		t.Fatalf("ListRankRuns() failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.StatusFailed {
		t.Fatalf("expected one failed run, got %+v", runs)
	}
	if !strings.Contains(runs[0].ErrorMessage, "502") {
		t.Errorf("expected error message to be recorded, got %q", runs[0].ErrorMessage)
	}
}

type countingProber struct {
	calls int
}

func (p *countingProber) Probe(_ context.Context, c mirror.Candidate) mirror.ProbeResult {
	p.calls++
	return mirror.ProbeResult{Candidate: c}
}

func TestRankNoCandidates(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig(t)
	cfg.Probe.IPVersion = "6"

	m := NewRankManager(&stubFetcher{catalog: testCatalog()}, testProber(), st, cfg, slog.Default())
	report, err := m.Rank(context.Background(), RankOptions{})
	if err != nil {
		t.Fatalf("empty candidate set must not be an error: %v", err)
	}
	if len(report.Ranked) != 0 {
		t.Errorf("expected no ranked mirrors, got %d", len(report.Ranked))
	}

	run, err := st.GetRankRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRankRun() failed: %v", err)
	}
	if run.Status != store.StatusEmpty {
		t.Errorf("run status = %q, want %q", run.Status, store.StatusEmpty)
	}
}

type failingProber struct{}

func (failingProber) Probe(_ context.Context, c mirror.Candidate) mirror.ProbeResult {
	return mirror.ProbeResult{Candidate: c, Err: errors.New("network is unreachable")}
}

func TestRankAllProbesFailKeepsMirrorlist(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig(t)
	existing := "Server = https://working.example.com/$repo/os/$arch\n"
	if err := os.WriteFile(cfg.Output.Path, []byte(existing), 0644); err != nil {
		t.Fatalf("failed to seed mirrorlist: %v", err)
	}

	m := NewRankManager(&stubFetcher{catalog: testCatalog()}, failingProber{}, st, cfg, slog.Default())
	report, err := m.Rank(context.Background(), RankOptions{})
	if err != nil {
		t.Fatalf("Rank() failed: %v", err)
	}
	if report.ProbeFailed != 3 || len(report.Ranked) != 0 {
		t.Errorf("expected 3 failed probes and nothing ranked, got %d / %d", report.ProbeFailed, len(report.Ranked))
	}
	if report.Written {
		t.Error("report claims the mirrorlist was written")
	}

	data, err := os.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("failed to read mirrorlist: %v", err)
	}
	if string(data) != existing {
		t.Errorf("existing mirrorlist was replaced:\n%s", data)
	}

	run, err := st.GetRankRun(report.RunID)
	if err != nil {
		t.Fatalf("GetRankRun() failed: %v", err)
	}
	if run.Status != store.StatusEmpty {
		t.Errorf("run status = %q, want %q", run.Status, store.StatusEmpty)
	}
}

func TestRankWriteEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.WriteEmpty = true
	if err := os.WriteFile(cfg.Output.Path, []byte("Server = https://working.example.com/$repo/os/$arch\n"), 0644); err != nil {
		t.Fatalf("failed to seed mirrorlist: %v", err)
	}

	m := NewRankManager(&stubFetcher{catalog: testCatalog()}, failingProber{}, nil, cfg, slog.Default())
	report, err := m.Rank(context.Background(), RankOptions{})
	if err != nil {
		t.Fatalf("Rank() failed: %v", err)
	}
	if !report.Written {
		t.Error("expected the mirrorlist to be written")
	}

	data, err := os.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("failed to read mirrorlist: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "Server = ") {
		t.Errorf("expected a header-only mirrorlist, got:\n%s", out)
	}
	if !strings.Contains(out, "Ranked: 0 of 3 probed mirrors") {
		t.Errorf("expected header counts, got:\n%s", out)
	}
}

func TestCandidates(t *testing.T) {
	fetcher := &stubFetcher{catalog: testCatalog()}
	cfg := testConfig(t)
	m := NewRankManager(fetcher, nil, nil, cfg, nil)

	cat, candidates, err := m.Candidates(context.Background())
	if err != nil {
		t.Fatalf("Candidates() failed: %v", err)
	}
	if cat.Version != 3 {
		t.Errorf("expected catalog version 3, got %d", cat.Version)
	}
	if len(candidates) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(candidates))
	}
	if len(fetcher.sources) != 1 || fetcher.sources[0] != "status.json" {
		t.Errorf("unexpected fetch sources: %v", fetcher.sources)
	}
}

func TestRankEndToEndHTTP(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("core db"))
	}))
	defer fast.Close()
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer missing.Close()

	cat := &catalog.Catalog{Mirrors: []catalog.MirrorRecord{
		{URL: missing.URL + "/", Protocol: "http", Active: true, IPv4: true, Score: catalog.SomeReliability(0.2)},
		{URL: fast.URL + "/", Protocol: "http", Active: true, IPv4: true, Score: catalog.SomeReliability(0.8)},
	}}

	cfg := testConfig(t)
	cfg.Probe.Protocol = "http"
	cfg.Output.Header = false

	prober := mirror.NewHTTPProber(nil, cfg.ProbeTimeout(), slog.Default())
	m := NewRankManager(&stubFetcher{catalog: cat}, prober, nil, cfg, slog.Default())
	report, err := m.Rank(context.Background(), RankOptions{})
	if err != nil {
		t.Fatalf("Rank() failed: %v", err)
	}
	if len(report.Ranked) != 1 {
		t.Fatalf("expected 1 ranked mirror, got %d", len(report.Ranked))
	}

	data, err := os.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("failed to read mirrorlist: %v", err)
	}
	want := "Server = " + fast.URL + "/$repo/os/$arch\n"
	if string(data) != want {
		t.Errorf("mirrorlist = %q, want %q", string(data), want)
	}
}
