// Package config loads service configuration from an optional YAML file,
// with environment variables taking precedence for deployment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the file and environment are read.
const (
	defaultPort          = "8080"
	defaultPlatform      = "linkedin"
	defaultPollInterval  = 30 * time.Second
	defaultFlushInterval = 15 * time.Second
	defaultDBPath        = "./data/feedlens.db"
	defaultRetention     = 7 * 24 * time.Hour
	defaultLedgerCap     = 10000
	defaultMode          = "default"
)

// Config is the full service configuration.
type Config struct {
	Port     string `yaml:"port"`
	Platform string `yaml:"platform"`
	FeedURL  string `yaml:"feed_url"`

	PollInterval  time.Duration `yaml:"poll_interval"`
	FlushInterval time.Duration `yaml:"flush_interval"`

	Collector CollectorConfig `yaml:"collector"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Display   DisplayConfig   `yaml:"display"`
	Storage   StorageConfig   `yaml:"storage"`
	Notify    NotifyConfig    `yaml:"notify"`

	// FriendAuthors and FamilyAuthors are matched case-insensitively
	// against extracted author names.
	FriendAuthors []string `yaml:"friend_authors"`
	FamilyAuthors []string `yaml:"family_authors"`

	// Selectors overrides the built-in registry: platform -> field -> ordered
	// query list.
	Selectors map[string]map[string][]string `yaml:"selectors"`
}

// CollectorConfig points the delivery pipeline at its endpoints.
type CollectorConfig struct {
	Endpoints []string `yaml:"endpoints"`
	APIKey    string   `yaml:"api_key"`
}

// DedupConfig bounds the fingerprint ledger.
type DedupConfig struct {
	Retention time.Duration `yaml:"retention"`
	MaxSize   int           `yaml:"max_size"`
}

// DisplayConfig selects the startup display mode and its inputs.
type DisplayConfig struct {
	Mode                string   `yaml:"mode"`
	Keywords            []string `yaml:"keywords"`
	DimOpacity          float64  `yaml:"dim_opacity"`
	HighEngagementFloor int      `yaml:"high_engagement_floor"`
}

// StorageConfig locates the sqlite database and the batch archive.
type StorageConfig struct {
	DBPath        string `yaml:"db_path"`
	ArchiveBucket string `yaml:"archive_bucket"`
	ArchiveDir    string `yaml:"archive_dir"`
}

// NotifyConfig configures the optional webhook notifier.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Load builds the configuration: defaults, then the YAML file named by
// FEEDLENS_CONFIG (or ./feedlens.yaml when present), then environment
// overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          defaultPort,
		Platform:      defaultPlatform,
		PollInterval:  defaultPollInterval,
		FlushInterval: defaultFlushInterval,
		Dedup:         DedupConfig{Retention: defaultRetention, MaxSize: defaultLedgerCap},
		Display:       DisplayConfig{Mode: defaultMode},
		Storage:       StorageConfig{DBPath: defaultDBPath},
	}

	path := os.Getenv("FEEDLENS_CONFIG")
	if path == "" {
		if _, err := os.Stat("feedlens.yaml"); err == nil {
			path = "feedlens.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("FEEDLENS_PLATFORM"); v != "" {
		cfg.Platform = v
	}
	if v := os.Getenv("FEEDLENS_FEED_URL"); v != "" {
		cfg.FeedURL = v
	}
	if v := os.Getenv("FEEDLENS_ENDPOINTS"); v != "" {
		cfg.Collector.Endpoints = splitList(v)
	}
	if v := os.Getenv("FEEDLENS_API_KEY"); v != "" {
		cfg.Collector.APIKey = v
	}
	if v := os.Getenv("FEEDLENS_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.ArchiveBucket = v
	}
	if v := os.Getenv("LOCAL_STORAGE"); v != "" {
		cfg.Storage.ArchiveDir = v
	}
	if v := os.Getenv("FEEDLENS_MODE"); v != "" {
		cfg.Display.Mode = v
	}
	if v := os.Getenv("FEEDLENS_KEYWORDS"); v != "" {
		cfg.Display.Keywords = splitList(v)
	}
	if v := os.Getenv("FEEDLENS_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("FEEDLENS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("FEEDLENS_LEDGER_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dedup.MaxSize = n
		}
	}
}

func (c *Config) validate() error {
	if c.Platform == "" {
		return fmt.Errorf("platform must be set")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.Dedup.MaxSize <= 0 {
		return fmt.Errorf("dedup max_size must be positive, got %d", c.Dedup.MaxSize)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
