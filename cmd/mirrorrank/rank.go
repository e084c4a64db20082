package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BadgerOps/mirrorrank/internal/config"
	"github.com/BadgerOps/mirrorrank/internal/engine"
	"github.com/BadgerOps/mirrorrank/internal/mirror"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// selectionFlags are shared by every command that filters the catalog.
type selectionFlags struct {
	catalog   string
	protocol  string
	ipVersion string
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.catalog, "catalog", "", "catalog URL or local JSON file (default from config)")
	cmd.Flags().StringVar(&f.protocol, "protocol", "", "required mirror protocol (default https)")
	cmd.Flags().StringVar(&f.ipVersion, "ip-version", "", "required IP version, 4 or 6 (default 4)")
}

func (f *selectionFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("catalog") {
		cfg.Catalog.Source = f.catalog
	}
	if cmd.Flags().Changed("protocol") {
		cfg.Probe.Protocol = f.protocol
	}
	if cmd.Flags().Changed("ip-version") {
		cfg.Probe.IPVersion = f.ipVersion
	}
}

var (
	rankSelection  selectionFlags
	rankTimeout    string
	rankThreshold  float64
	rankWorkers    int
	rankLimit      int
	rankOutput     string
	rankNoHeader   bool
	rankDryRun     bool
	rankHistory    bool
	rankExplain    bool
	rankJSON       bool
	rankWriteEmpty bool
)

func newRankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Probe eligible mirrors and write a ranked mirrorlist",
		Long: `Rank mirrors from the mirror status catalog.

The rank command will:
  1. Fetch the catalog and keep active mirrors with a reliability score that
     match the requested protocol and IP version
  2. Probe every candidate concurrently, one timed request each, no retries
  3. Score each reachable mirror from its reliability and latency
  4. Drop mirrors at or below the fitness threshold and sort the rest
  5. Write the mirrorlist (stdout unless --output is set)

Mirrors that time out or fail are left out; they never fail the run. If
nothing is ranked the existing mirrorlist is kept unless --write-empty is set.`,
		Example: `  mirrorrank rank
  mirrorrank rank --output /etc/pacman.d/mirrorlist
  mirrorrank rank --limit 5 --timeout 5s --explain
  mirrorrank rank --catalog ./status.json --dry-run --explain
  mirrorrank rank --dry-run --json`,
		RunE: rankRun,
	}

	rankSelection.register(cmd)
	cmd.Flags().StringVar(&rankTimeout, "timeout", "", "per-mirror probe timeout (default 15s)")
	cmd.Flags().Float64Var(&rankThreshold, "threshold", mirror.DefaultThreshold, "minimum fitness a mirror must exceed")
	cmd.Flags().IntVar(&rankWorkers, "workers", 0, "maximum concurrent probes (0 = one per mirror)")
	cmd.Flags().IntVar(&rankLimit, "limit", 0, "write at most this many mirrors (0 = all)")
	cmd.Flags().StringVar(&rankOutput, "output", "", "mirrorlist path, - for stdout")
	cmd.Flags().BoolVar(&rankNoHeader, "no-header", false, "omit the comment header")
	cmd.Flags().BoolVar(&rankDryRun, "dry-run", false, "rank mirrors without writing the mirrorlist")
	cmd.Flags().BoolVar(&rankHistory, "history", false, "record this run in the run log")
	cmd.Flags().BoolVar(&rankExplain, "explain", false, "print reliability, latency and fitness of each ranked mirror")
	cmd.Flags().BoolVar(&rankJSON, "json", false, "print the ranked mirrors as JSON instead of a table")
	cmd.Flags().BoolVar(&rankWriteEmpty, "write-empty", false, "replace the mirrorlist even when no mirror was ranked")

	return cmd
}

// applyRankFlags copies explicitly set flags over the loaded config
func applyRankFlags(cmd *cobra.Command, cfg *config.Config) {
	rankSelection.apply(cmd, cfg)
	if cmd.Flags().Changed("timeout") {
		cfg.Probe.Timeout = rankTimeout
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Rank.Threshold = rankThreshold
	}
	if cmd.Flags().Changed("workers") {
		cfg.Probe.MaxWorkers = rankWorkers
	}
	if cmd.Flags().Changed("limit") {
		cfg.Rank.Limit = rankLimit
	}
	if cmd.Flags().Changed("output") {
		cfg.Output.Path = rankOutput
	}
	if rankNoHeader {
		cfg.Output.Header = false
	}
	if rankHistory {
		cfg.History.Enabled = true
	}
	if rankWriteEmpty {
		cfg.Output.WriteEmpty = true
	}
}

func rankRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	applyRankFlags(cmd, globalCfg)
	if err := initializeComponents(); err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("rank request",
		"catalog", globalCfg.Catalog.Source,
		"protocol", globalCfg.Probe.Protocol,
		"ip_version", globalCfg.Probe.IPVersion,
		"timeout", globalCfg.Probe.Timeout,
		"threshold", globalCfg.Rank.Threshold,
		"dry_run", rankDryRun,
	)

	report, err := globalEngine.Rank(ctx, engine.RankOptions{DryRun: rankDryRun})
	if err != nil {
		return fmt.Errorf("rank failed: %w", err)
	}

	if (rankExplain || rankDryRun || rankJSON) && !quiet {
		// Keep stdout clean when the mirrorlist itself goes there.
		w := cmd.OutOrStdout()
		if stdoutIsOutput(globalCfg) && report.Written {
			w = cmd.ErrOrStderr()
		}
		if rankJSON {
			if err := writeRankedJSON(w, report); err != nil {
				return err
			}
		} else {
			printReport(w, report)
		}
	}

	log.Info("rank complete",
		"candidates", len(report.Candidates),
		"probe_failed", report.ProbeFailed,
		"ranked", len(report.Ranked),
		"written", report.Written,
		"took", report.EndTime.Sub(report.StartTime).Round(time.Millisecond).String(),
	)
	return nil
}

// printReport writes a human-readable ranking table
func printReport(w io.Writer, report *engine.RankReport) {
	fmt.Fprintln(w, "Mirror Ranking")
	fmt.Fprintln(w, "==============")
	fmt.Fprintf(w, "Catalog:    %s\n", report.Source)
	if report.Catalog != nil {
		fmt.Fprintf(w, "Mirrors:    %s in catalog, %s eligible\n",
			humanize.Comma(int64(len(report.Catalog.Mirrors))),
			humanize.Comma(int64(len(report.Candidates))))
	}
	fmt.Fprintf(w, "Probes:     %d ok, %d failed\n", report.ProbedOK(), report.ProbeFailed)
	fmt.Fprintln(w, "")

	if len(report.Ranked) == 0 {
		fmt.Fprintln(w, "No mirrors cleared the fitness threshold.")
		return
	}

	fmt.Fprintf(w, "%4s %-50s %8s %10s %8s\n", "#", "Mirror", "Score", "Latency", "Fitness")
	fmt.Fprintln(w, strings.Repeat("-", 84))
	for i, r := range report.Ranked {
		fmt.Fprintf(w, "%4d %-50s %8.3f %10s %8.4f\n",
			i+1,
			truncate(r.URL, 50),
			r.Reliability,
			r.Latency.Round(time.Millisecond).String(),
			r.Fitness,
		)
	}
	fmt.Fprintln(w, "")
}

// rankedJSON is the machine-readable form of a run.
type rankedJSON struct {
	Source      string                `json:"source"`
	Candidates  int                   `json:"candidates"`
	ProbedOK    int                   `json:"probed_ok"`
	ProbeFailed int                   `json:"probe_failed"`
	Mirrors     []mirror.RankedMirror `json:"mirrors"`
}

func writeRankedJSON(w io.Writer, report *engine.RankReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rankedJSON{
		Source:      report.Source,
		Candidates:  len(report.Candidates),
		ProbedOK:    report.ProbedOK(),
		ProbeFailed: report.ProbeFailed,
		Mirrors:     report.Ranked,
	}); err != nil {
		return fmt.Errorf("encoding ranked mirrors: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// stdoutIsOutput reports whether the mirrorlist goes to standard output
func stdoutIsOutput(cfg *config.Config) bool {
	return cfg.Output.Path == "" || cfg.Output.Path == "-" || cfg.Output.Path == os.Stdout.Name()
}
