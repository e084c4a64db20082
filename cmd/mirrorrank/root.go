package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BadgerOps/mirrorrank/internal/catalog"
	"github.com/BadgerOps/mirrorrank/internal/config"
	"github.com/BadgerOps/mirrorrank/internal/engine"
	"github.com/BadgerOps/mirrorrank/internal/mirror"
	"github.com/BadgerOps/mirrorrank/internal/safety"
	"github.com/BadgerOps/mirrorrank/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore  *store.Store
	globalEngine *engine.RankManager
)

// initializeComponents builds the fetcher, prober, optional run log and
// rank manager from the loaded config
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := globalCfg.Validate(); err != nil {
		return err
	}

	fetcher := catalog.NewFetcher(safety.NewHTTPClient(globalCfg.CatalogTimeout()), logger)
	fetcher.SetMaxBytes(globalCfg.Catalog.MaxBytes)

	// One client for the whole run, shared read-only by every probe.
	probeTimeout := globalCfg.ProbeTimeout()
	prober := mirror.NewHTTPProber(safety.NewHTTPClient(probeTimeout), probeTimeout, logger)

	var recorder engine.RunRecorder
	if globalCfg.History.Enabled {
		st, err := openStore(globalCfg.History.DBPath)
		if err != nil {
			return err
		}
		globalStore = st
		recorder = st
	}

	globalEngine = engine.NewRankManager(fetcher, prober, recorder, globalCfg, logger)

	logger.Debug("components initialized",
		"catalog", globalCfg.Catalog.Source,
		"probe_timeout", probeTimeout.String(),
		"history", globalCfg.History.Enabled,
	)
	return nil
}

// openStore opens the run log, creating its directory if needed
func openStore(dbPath string) (*store.Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, nil
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrorrank",
		Short: "Rank Arch Linux mirrors by reliability and measured latency",
		Long: `mirrorrank downloads the Arch Linux mirror status catalog, keeps the
mirrors that match the requested protocol and IP version, probes every
candidate concurrently, and writes a mirrorlist ordered by a fitness score
that combines the catalog's reliability score with the measured latency.`,
		Example: `  mirrorrank rank
  mirrorrank rank --output /etc/pacman.d/mirrorlist --limit 10
  mirrorrank rank --ip-version 6 --timeout 5s --dry-run
  mirrorrank candidates --catalog ./status.json
  mirrorrank history --limit 20
  mirrorrank config show`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			logger.Debug("config loaded", "path", cfgPath)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newRankCmd(),
		newCandidatesCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
	}
	return skipConfigCmds[cmdName]
}
