package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/mirrorrank/internal/catalog"
	"github.com/BadgerOps/mirrorrank/internal/config"
	"github.com/BadgerOps/mirrorrank/internal/mirror"
	"github.com/BadgerOps/mirrorrank/internal/mirrorlist"
	"github.com/BadgerOps/mirrorrank/internal/store"
)

// CatalogFetcher loads a mirror status catalog.
type CatalogFetcher interface {
	Fetch(ctx context.Context, source string) (*catalog.Catalog, error)
}

// RunRecorder persists the run log. A nil recorder disables it.
type RunRecorder interface {
	CreateRankRun(run *store.RankRun) error
	UpdateRankRun(run *store.RankRun) error
}

// RankOptions controls a single run.
type RankOptions struct {
	// DryRun ranks mirrors without writing the mirrorlist.
	DryRun bool
}

// RankReport summarizes a completed run.
type RankReport struct {
	RunID       int64
	Source      string
	StartTime   time.Time
	EndTime     time.Time
	Catalog     *catalog.Catalog
	Candidates  []mirror.Candidate
	Results     []mirror.ProbeResult
	Ranked      []mirror.RankedMirror
	OutputPath  string
	ProbeFailed int
	Written     bool // the mirrorlist was replaced
}

// ProbedOK returns the number of successful probes.
func (r *RankReport) ProbedOK() int {
	return len(r.Results) - r.ProbeFailed
}

// RankManager runs the fetch, filter, probe, score and rank pipeline and
// writes the result.
type RankManager struct {
	fetcher  CatalogFetcher
	prober   mirror.Prober
	recorder RunRecorder
	config   *config.Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewRankManager creates a new RankManager.
func NewRankManager(
	fetcher CatalogFetcher,
	prober mirror.Prober,
	recorder RunRecorder,
	cfg *config.Config,
	logger *slog.Logger,
) *RankManager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &RankManager{
		fetcher:  fetcher,
		prober:   prober,
		recorder: recorder,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Candidates loads the catalog and returns the mirrors eligible for probing.
func (m *RankManager) Candidates(ctx context.Context) (*catalog.Catalog, []mirror.Candidate, error) {
	source := m.config.Catalog.Source
	filterOpts, err := m.config.FilterOptions()
	if err != nil {
		return nil, nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.config.CatalogTimeout())
	defer cancel()

	cat, err := m.fetcher.Fetch(fetchCtx, source)
	if err != nil {
		return nil, nil, fmt.Errorf("loading catalog: %w", err)
	}

	candidates := mirror.Filter(cat.Mirrors, filterOpts)
	m.logger.Info("catalog filtered",
		"source", source,
		"mirrors", len(cat.Mirrors),
		"candidates", len(candidates),
		"protocol", filterOpts.Protocol,
		"ip_version", filterOpts.IPVersion.String(),
	)
	return cat, candidates, nil
}

// Rank performs one full run. Catalog errors abort the run; individual
// probe failures only drop the affected mirror.
func (m *RankManager) Rank(ctx context.Context, opts RankOptions) (*RankReport, error) {
	report := &RankReport{
		Source:     m.config.Catalog.Source,
		StartTime:  m.now(),
		OutputPath: m.config.Output.Path,
	}

	run := &store.RankRun{
		CatalogSource: report.Source,
		StartTime:     report.StartTime,
		OutputPath:    report.OutputPath,
		Status:        store.StatusRunning,
	}
	m.createRun(run)
	report.RunID = run.ID

	cat, candidates, err := m.Candidates(ctx)
	if err != nil {
		run.Status = store.StatusFailed
		run.ErrorMessage = err.Error()
		run.EndTime = m.now()
		m.updateRun(run)
		m.logger.Error("rank run aborted", "source", report.Source, "error", err)
		return nil, err
	}
	report.Catalog = cat
	report.Candidates = candidates
	run.CatalogMirrors = len(cat.Mirrors)
	run.Candidates = len(candidates)

	if len(candidates) == 0 {
		m.logger.Warn("no eligible mirrors in catalog", "source", report.Source)
	}

	probeStart := m.now()
	results, ranked := mirror.Pipeline(ctx, m.prober, candidates, m.config.Probe.MaxWorkers, m.config.RankOptions())
	report.Results = results
	report.Ranked = ranked
	for _, r := range results {
		if !r.OK() {
			report.ProbeFailed++
		}
	}
	m.logger.Info("probes finished",
		"probed", len(results),
		"failed", report.ProbeFailed,
		"ranked", len(ranked),
		"elapsed_ms", m.now().Sub(probeStart).Milliseconds(),
	)

	run.ProbedOK = report.ProbedOK()
	run.ProbeFailed = report.ProbeFailed
	run.Ranked = len(ranked)

	if len(ranked) == 0 {
		m.logger.Warn("no mirror cleared the fitness threshold", "threshold", m.config.Rank.Threshold)
	}

	switch {
	case opts.DryRun:
	case len(ranked) == 0 && !m.config.Output.WriteEmpty:
		m.logger.Warn("keeping existing mirrorlist, nothing was ranked", "path", report.OutputPath)
	default:
		if err := m.write(report); err != nil {
			run.Status = store.StatusFailed
			run.ErrorMessage = err.Error()
			run.EndTime = m.now()
			m.updateRun(run)
			return nil, err
		}
		report.Written = true
	}

	report.EndTime = m.now()
	run.EndTime = report.EndTime
	run.Status = store.StatusSuccess
	if len(ranked) == 0 {
		run.Status = store.StatusEmpty
	}
	m.updateRun(run)

	return report, nil
}

func (m *RankManager) write(report *RankReport) error {
	var header *mirrorlist.Header
	if m.config.Output.Header {
		header = &mirrorlist.Header{
			Source:    report.Source,
			Generated: report.StartTime,
			Ranked:    len(report.Ranked),
			Probed:    len(report.Results),
		}
	}

	if err := mirrorlist.Write(report.OutputPath, mirrorlist.Render(report.Ranked), header); err != nil {
		return fmt.Errorf("writing mirrorlist: %w", err)
	}
	if report.OutputPath != mirrorlist.Stdout {
		m.logger.Info("mirrorlist written", "path", report.OutputPath, "mirrors", len(report.Ranked))
	}
	return nil
}

// createRun and updateRun log and swallow store errors so a broken run log
// never fails the ranking itself.
func (m *RankManager) createRun(run *store.RankRun) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.CreateRankRun(run); err != nil {
		m.logger.Error("failed to create rank run record", "error", err)
	}
}

func (m *RankManager) updateRun(run *store.RankRun) {
	if m.recorder == nil || run.ID == 0 {
		return
	}
	if err := m.recorder.UpdateRankRun(run); err != nil {
		m.logger.Error("failed to update rank run record", "id", run.ID, "error", err)
	}
}
