package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BadgerOps/mirrorrank/internal/catalog"
	"github.com/BadgerOps/mirrorrank/internal/mirror"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var candidatesSelection selectionFlags

func newCandidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List the mirrors eligible for probing",
		Long: `Fetch the mirror status catalog and list the mirrors that would be
probed by "rank": active, carrying a reliability score, and matching the
requested protocol and IP version. Nothing is probed.`,
		Example: `  mirrorrank candidates
  mirrorrank candidates --protocol http --ip-version 6
  mirrorrank candidates --catalog ./status.json`,
		RunE: candidatesRun,
	}

	candidatesSelection.register(cmd)

	return cmd
}

func candidatesRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	candidatesSelection.apply(cmd, globalCfg)
	if err := initializeComponents(); err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("candidates request", "catalog", globalCfg.Catalog.Source)

	cat, candidates, err := globalEngine.Candidates(ctx)
	if err != nil {
		return err
	}

	printCatalogSummary(cat, len(candidates))
	printCandidates(candidates)
	return nil
}

func printCatalogSummary(cat *catalog.Catalog, eligible int) {
	lastCheck := cat.LastCheck
	if t, err := time.Parse(time.RFC3339Nano, cat.LastCheck); err == nil {
		lastCheck = fmt.Sprintf("%s (%s)", t.UTC().Format("2006-01-02 15:04"), humanize.Time(t))
	}
	if lastCheck == "" {
		lastCheck = "unknown"
	}

	fmt.Println("Mirror Catalog")
	fmt.Println("==============")
	fmt.Printf("Version:    %d\n", cat.Version)
	fmt.Printf("Last check: %s\n", lastCheck)
	fmt.Printf("Checks:     %d every %s, cutoff %s\n",
		cat.NumChecks,
		(time.Duration(cat.CheckFrequency) * time.Second).String(),
		(time.Duration(cat.Cutoff) * time.Second).String(),
	)
	fmt.Printf("Mirrors:    %s in catalog, %s eligible\n",
		humanize.Comma(int64(len(cat.Mirrors))),
		humanize.Comma(int64(eligible)),
	)
	fmt.Println("")
}

func printCandidates(candidates []mirror.Candidate) {
	if len(candidates) == 0 {
		fmt.Println("No eligible mirrors.")
		return
	}

	fmt.Printf("%-50s %-16s %8s %10s %10s\n", "Mirror", "Country", "Score", "Complete", "Delay")
	fmt.Println(strings.Repeat("-", 98))
	for _, c := range candidates {
		rec := c.Record
		complete := "-"
		if rec.CompletionPct != nil {
			complete = fmt.Sprintf("%.1f%%", *rec.CompletionPct*100)
		}
		delay := "-"
		if rec.Delay != nil {
			delay = (time.Duration(*rec.Delay) * time.Second).String()
		}
		country := rec.Country
		if country == "" {
			country = "-"
		}
		fmt.Printf("%-50s %-16s %8.3f %10s %10s\n",
			truncate(rec.URL, 50),
			truncate(country, 16),
			c.Reliability,
			complete,
			delay,
		)
	}
	fmt.Println("")
}
