package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/mirrorrank/internal/catalog"
	"github.com/BadgerOps/mirrorrank/internal/mirror"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the top-level configuration
type Config struct {
	Catalog CatalogConfig `yaml:"catalog"`
	Probe   ProbeConfig   `yaml:"probe"`
	Rank    RankConfig    `yaml:"rank"`
	Output  OutputConfig  `yaml:"output"`
	History HistoryConfig `yaml:"history"`
}

// CatalogConfig holds where the mirror status document comes from
type CatalogConfig struct {
	Source   string `yaml:"source"`
	Timeout  string `yaml:"timeout"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// ProbeConfig holds eligibility and latency probe settings
type ProbeConfig struct {
	Protocol   string `yaml:"protocol"`
	IPVersion  string `yaml:"ip_version"`
	Timeout    string `yaml:"timeout"`
	MaxWorkers int    `yaml:"max_workers"`
}

// RankConfig holds acceptance settings
type RankConfig struct {
	Threshold float64 `yaml:"threshold"`
	Limit     int     `yaml:"limit"`
}

// OutputConfig holds mirrorlist rendering settings
type OutputConfig struct {
	Path         string `yaml:"path"`
	Prefix       string `yaml:"prefix"`
	PathTemplate string `yaml:"path_template"`
	Header       bool   `yaml:"header"`
	WriteEmpty   bool   `yaml:"write_empty"` // replace the list even if nothing ranked
}

// HistoryConfig holds the run log settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Source:   catalog.DefaultSource,
			Timeout:  "30s",
			MaxBytes: catalog.DefaultMaxBytes,
		},
		Probe: ProbeConfig{
			Protocol:   string(catalog.ProtocolHTTPS),
			IPVersion:  "4",
			Timeout:    mirror.DefaultProbeTimeout.String(),
			MaxWorkers: 0,
		},
		Rank: RankConfig{
			Threshold: mirror.DefaultThreshold,
			Limit:     0,
		},
		Output: OutputConfig{
			Path:         "-",
			Prefix:       mirror.DefaultPrefix,
			PathTemplate: mirror.DefaultPathTemplate,
			Header:       true,
			WriteEmpty:   false,
		},
		History: HistoryConfig{
			Enabled: false,
			DBPath:  "/var/lib/mirrorrank/history.db",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"mirrorrank.yaml",
		"/etc/mirrorrank/mirrorrank.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "mirrorrank", "mirrorrank.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks that every value can be turned into stage parameters.
func (c *Config) Validate() error {
	if c.Catalog.Source == "" {
		return fmt.Errorf("%w: catalog.source is required", ErrInvalid)
	}
	if _, err := parsePositiveDuration("catalog.timeout", c.Catalog.Timeout); err != nil {
		return err
	}
	if c.Catalog.MaxBytes < 0 {
		return fmt.Errorf("%w: catalog.max_bytes must not be negative", ErrInvalid)
	}
	if c.Probe.Protocol == "" {
		return fmt.Errorf("%w: probe.protocol is required", ErrInvalid)
	}
	switch catalog.ParseProtocol(c.Probe.Protocol) {
	case catalog.ProtocolHTTP, catalog.ProtocolHTTPS:
	default:
		return fmt.Errorf("%w: probe.protocol %q cannot be probed, use http or https", ErrInvalid, c.Probe.Protocol)
	}
	if _, err := catalog.ParseIPVersion(c.Probe.IPVersion); err != nil {
		return fmt.Errorf("%w: probe.ip_version: %v", ErrInvalid, err)
	}
	if _, err := parsePositiveDuration("probe.timeout", c.Probe.Timeout); err != nil {
		return err
	}
	if c.Probe.MaxWorkers < 0 {
		return fmt.Errorf("%w: probe.max_workers must not be negative", ErrInvalid)
	}
	if c.Rank.Threshold < 0 || c.Rank.Threshold >= 1 {
		return fmt.Errorf("%w: rank.threshold must be in [0, 1)", ErrInvalid)
	}
	if c.Rank.Limit < 0 {
		return fmt.Errorf("%w: rank.limit must not be negative", ErrInvalid)
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("%w: history.db_path is required when history is enabled", ErrInvalid)
	}
	return nil
}

// CatalogTimeout returns the catalog fetch timeout.
func (c *Config) CatalogTimeout() time.Duration {
	d, err := parsePositiveDuration("catalog.timeout", c.Catalog.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ProbeTimeout returns the per-probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	d, err := parsePositiveDuration("probe.timeout", c.Probe.Timeout)
	if err != nil {
		return mirror.DefaultProbeTimeout
	}
	return d
}

// FilterOptions converts the probe section into filter parameters.
func (c *Config) FilterOptions() (mirror.FilterOptions, error) {
	ipv, err := catalog.ParseIPVersion(c.Probe.IPVersion)
	if err != nil {
		return mirror.FilterOptions{}, fmt.Errorf("%w: probe.ip_version: %v", ErrInvalid, err)
	}
	return mirror.FilterOptions{
		Protocol:  catalog.ParseProtocol(c.Probe.Protocol),
		IPVersion: ipv,
	}, nil
}

// RankOptions converts the rank and output sections into ranker parameters.
func (c *Config) RankOptions() mirror.RankOptions {
	return mirror.RankOptions{
		Threshold:    c.Rank.Threshold,
		Prefix:       c.Output.Prefix,
		PathTemplate: c.Output.PathTemplate,
		Limit:        c.Rank.Limit,
	}
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalid, key)
	}
	return d, nil
}
