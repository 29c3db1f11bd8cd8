// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Reclaimer  ReclaimerConfig  `mapstructure:"reclaimer"`
	Session    SessionConfig    `mapstructure:"session"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Gate       GateConfig       `mapstructure:"gate"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP admin/metrics server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the shared Postgres ledger.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeSec    int    `mapstructure:"conn_lifetime_seconds"`
	EnsureSchemaOnBoot bool   `mapstructure:"ensure_schema"`
}

// WorkerConfig governs the task execution loops.
type WorkerConfig struct {
	Count                  int `mapstructure:"count"`
	MaxTaskAttempts        int `mapstructure:"max_task_attempts"`
	ChallengeMaxAttempts   int `mapstructure:"challenge_max_attempts"`
	IdleDelaySec           int `mapstructure:"idle_delay_seconds"`
	BackpressureDelaySec   int `mapstructure:"backpressure_delay_seconds"`
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	MaxStateHops           int `mapstructure:"max_state_hops"`
}

// ReclaimerConfig controls the background ledger sweeps.
type ReclaimerConfig struct {
	SweepIntervalSec    int `mapstructure:"sweep_interval_seconds"`
	RecycleIntervalSec  int `mapstructure:"recycle_interval_seconds"`
	TaskLeaseMaxAgeSec  int `mapstructure:"task_lease_max_age_seconds"`
	ProxyLeaseMaxAgeSec int `mapstructure:"proxy_lease_max_age_seconds"`
	RecycleCooldownSec  int `mapstructure:"recycle_cooldown_seconds"`
}

// SessionConfig controls navigation sessions.
type SessionConfig struct {
	Mode          string `mapstructure:"mode"`
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	Headless      bool   `mapstructure:"headless"`
	// Challenge resolver knobs.
	ChallengeClickSelector string `mapstructure:"challenge_click_selector"`
	ChallengeSettleSec     int    `mapstructure:"challenge_settle_seconds"`
}

// ClassifierConfig holds the page classification signals.
type ClassifierConfig struct {
	ChallengeSelectors []string `mapstructure:"challenge_selectors"`
	ChallengeKeywords  []string `mapstructure:"challenge_keywords"`
	CatalogSelector    string   `mapstructure:"catalog_selector"`
}

// ExtractorConfig holds the per-marketplace CSS selector set.
type ExtractorConfig struct {
	ItemSelector      string `mapstructure:"item_selector"`
	ItemIDAttr        string `mapstructure:"item_id_attr"`
	TitleSelector     string `mapstructure:"title_selector"`
	PriceSelector     string `mapstructure:"price_selector"`
	SellerSelector    string `mapstructure:"seller_selector"`
	LocationSelector  string `mapstructure:"location_selector"`
	PublishedSelector string `mapstructure:"published_selector"`
	LinkSelector      string `mapstructure:"link_selector"`
}

// GateConfig controls the filter-and-deliver stage.
type GateConfig struct {
	FreshnessMarkers []string `mapstructure:"freshness_markers"`
}

// NotifierConfig selects and configures the delivery channel.
type NotifierConfig struct {
	Kind            string `mapstructure:"kind"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramBaseURL string `mapstructure:"telegram_base_url"`
	PubSubProjectID string `mapstructure:"pubsub_project_id"`
}

// SnapshotConfig selects the page-markup archive backend.
type SnapshotConfig struct {
	Kind      string `mapstructure:"kind"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LISTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_seconds", 1800)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.max_task_attempts", 3)
	v.SetDefault("worker.challenge_max_attempts", 3)
	v.SetDefault("worker.idle_delay_seconds", 5)
	v.SetDefault("worker.backpressure_delay_seconds", 15)
	v.SetDefault("worker.max_consecutive_failures", 5)
	v.SetDefault("worker.max_state_hops", 8)
	v.SetDefault("reclaimer.sweep_interval_seconds", 60)
	v.SetDefault("reclaimer.recycle_interval_seconds", 30)
	v.SetDefault("reclaimer.task_lease_max_age_seconds", 600)
	v.SetDefault("reclaimer.proxy_lease_max_age_seconds", 1800)
	v.SetDefault("reclaimer.recycle_cooldown_seconds", 120)
	v.SetDefault("session.mode", "browser")
	v.SetDefault("session.user_agent", "listwatch-bot/0.1")
	v.SetDefault("session.nav_timeout_seconds", 45)
	v.SetDefault("session.headless", true)
	v.SetDefault("session.challenge_settle_seconds", 2)
	v.SetDefault("gate.freshness_markers", []string{"today"})
	v.SetDefault("notifier.kind", "telegram")
	v.SetDefault("snapshot.kind", "none")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be > 0")
	}
	if c.Worker.MaxTaskAttempts <= 0 {
		return fmt.Errorf("worker.max_task_attempts must be > 0")
	}
	if c.Classifier.CatalogSelector == "" {
		return fmt.Errorf("classifier.catalog_selector is required")
	}
	if c.Extractor.ItemSelector == "" || c.Extractor.LinkSelector == "" {
		return fmt.Errorf("extractor.item_selector and extractor.link_selector are required")
	}
	if len(c.Gate.FreshnessMarkers) == 0 {
		return fmt.Errorf("gate.freshness_markers must not be empty")
	}
	switch c.Notifier.Kind {
	case "telegram":
		if c.Notifier.TelegramToken == "" {
			return fmt.Errorf("notifier.telegram_token is required for the telegram notifier")
		}
	case "pubsub":
		if c.Notifier.PubSubProjectID == "" {
			return fmt.Errorf("notifier.pubsub_project_id is required for the pubsub notifier")
		}
	default:
		return fmt.Errorf("notifier.kind must be telegram or pubsub")
	}
	switch c.Snapshot.Kind {
	case "none", "":
	case "local":
		if c.Snapshot.BaseDir == "" {
			return fmt.Errorf("snapshot.base_dir is required for the local snapshot store")
		}
	case "gcs":
		if c.Snapshot.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket is required for the gcs snapshot store")
		}
	default:
		return fmt.Errorf("snapshot.kind must be none, local, or gcs")
	}
	return nil
}

// NavTimeout converts the session timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Session.NavTimeoutSec) * time.Second
}
