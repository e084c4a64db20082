package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BadgerOps/mirrorrank/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyPrune int
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded rank runs",
		Long: `Show the run log written by "rank" when history is enabled. Each entry
records the catalog source, candidate and probe counts, how many mirrors were
ranked, and the outcome of the run.

Use --prune to delete all but the newest N runs.`,
		Example: `  mirrorrank history
  mirrorrank history --limit 50
  mirrorrank history --prune 100`,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show (0 = all)")
	cmd.Flags().IntVar(&historyPrune, "prune", -1, "keep only the newest N runs")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	st := globalStore
	if st == nil {
		dbPath := globalCfg.History.DBPath
		if _, err := os.Stat(dbPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Debug("no run log database", "path", dbPath)
				printRuns(nil)
				return nil
			}
			return fmt.Errorf("checking history database: %w", err)
		}
		opened, err := store.New(dbPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer opened.Close()
		st = opened
	}

	if historyPrune >= 0 {
		removed, err := st.PruneRankRuns(historyPrune)
		if err != nil {
			return err
		}
		log.Info("pruned run log", "kept", historyPrune, "removed", removed)
	}

	runs, err := st.ListRankRuns(historyLimit)
	if err != nil {
		return err
	}

	printRuns(runs)
	return nil
}

func printRuns(runs []store.RankRun) {
	if len(runs) == 0 {
		fmt.Println("No rank runs recorded.")
		return
	}

	fmt.Println("Rank History")
	fmt.Println("============")
	fmt.Println("")
	fmt.Printf("%6s %-16s %-10s %10s %8s %8s %8s %10s\n",
		"ID", "Started", "Status", "Candidates", "OK", "Failed", "Ranked", "Took")
	fmt.Println(strings.Repeat("-", 84))

	for _, run := range runs {
		took := "-"
		if !run.EndTime.IsZero() {
			took = run.Duration().Round(time.Millisecond).String()
		}
		fmt.Printf("%6d %-16s %-10s %10s %8d %8d %8d %10s\n",
			run.ID,
			humanize.Time(run.StartTime),
			run.Status,
			humanize.Comma(int64(run.Candidates)),
			run.ProbedOK,
			run.ProbeFailed,
			run.Ranked,
			took,
		)
		if run.ErrorMessage != "" {
			fmt.Printf("%6s error: %s\n", "", run.ErrorMessage)
		}
	}
	fmt.Println("")
}
