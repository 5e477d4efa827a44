// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/anime-guide-crawler/internal/fetch"
	"github.com/JakeFAU/anime-guide-crawler/internal/fetch/headless"
	"github.com/JakeFAU/anime-guide-crawler/internal/pipeline"
	"github.com/JakeFAU/anime-guide-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/anime-guide-crawler/internal/scheduler"
	"github.com/JakeFAU/anime-guide-crawler/internal/storage/postgres"
)

// EnvPrefix prefixes every environment override, e.g. ANIMEGUIDE_SERVER_PORT.
const EnvPrefix = "ANIMEGUIDE"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
}

// ServerConfig controls the query API.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	APIKey                 string `mapstructure:"api_key"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to PostgreSQL.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// FetchConfig configures the HTTP fetch client.
type FetchConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	AcceptLanguage        string `mapstructure:"accept_language"`
	AttemptTimeoutSeconds int    `mapstructure:"attempt_timeout_seconds"`
	RequestBudgetSeconds  int    `mapstructure:"request_budget_seconds"`
	Attempts              int    `mapstructure:"attempts"`
	BackoffInitialMs      int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int    `mapstructure:"backoff_max_ms"`
	// SSLVerify accepts 0/false/no to disable certificate checks.
	SSLVerify    string        `mapstructure:"ssl_verify"`
	CABundle     string        `mapstructure:"ca_bundle"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	RateRPS      float64       `mapstructure:"rate_rps"`
	RateBurst    int           `mapstructure:"rate_burst"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the fetch circuit breaker.
type BreakerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	CooldownSeconds  int    `mapstructure:"cooldown_seconds"`
}

// HeadlessConfig configures the headless calendar fallback.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
	SettleMs      int    `mapstructure:"settle_ms"`
}

// CrawlerConfig governs the crawl cycle and its schedule.
type CrawlerConfig struct {
	BaseURL             string   `mapstructure:"base_url"`
	CalendarURL         string   `mapstructure:"calendar_url"`
	FallbackCalendarURL string   `mapstructure:"fallback_calendar_url"`
	Concurrency         int      `mapstructure:"concurrency"`
	DetailMaxAgeHours   int      `mapstructure:"detail_max_age_hours"`
	Schedules           []string `mapstructure:"schedules"`
	Timezone            string   `mapstructure:"timezone"`
	RunOnStartup        bool     `mapstructure:"run_on_startup"`
}

// ArchiveConfig selects where unrecognized pages are kept.
type ArchiveConfig struct {
	// Provider is one of none, memory, local or gcs.
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig selects where run summaries are published.
type PublisherConfig struct {
	// Provider is one of none, memory or pubsub.
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	Event     string `mapstructure:"event"`
}

// envBindings maps conventional variable names onto config keys.
var envBindings = map[string]string{
	"db.dsn":           "DATABASE_URL",
	"fetch.ssl_verify": "BANGUMI_SSL_VERIFY",
	"fetch.ca_bundle":  "BANGUMI_CA_BUNDLE",
	"server.port":      "PORT",
}

// Load builds a Config from .env, an optional YAML file and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

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

// loadDotEnv exports variables from a .env file without overriding the
// environment. A missing file is ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("fetch.user_agent", fetch.DefaultUserAgent)
	v.SetDefault("fetch.accept_language", fetch.DefaultAcceptLanguage)
	v.SetDefault("fetch.attempt_timeout_seconds", 20)
	v.SetDefault("fetch.request_budget_seconds", 75)
	v.SetDefault("fetch.attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 10000)
	v.SetDefault("fetch.ssl_verify", "1")
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.rate_rps", 1.0)
	v.SetDefault("fetch.rate_burst", 2)
	v.SetDefault("fetch.breaker.enabled", false)
	v.SetDefault("fetch.breaker.failure_threshold", 5)
	v.SetDefault("fetch.breaker.cooldown_seconds", 60)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.wait_selector", "ul.coverList")
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("crawler.base_url", "https://bangumi.tv")
	v.SetDefault("crawler.fallback_calendar_url", pipeline.DefaultFallbackCalendarURL)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.detail_max_age_hours", 7*24)
	v.SetDefault("crawler.schedules", scheduler.DefaultSpecs)
	v.SetDefault("crawler.timezone", "")
	v.SetDefault("crawler.run_on_startup", true)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("publisher.event", "crawl.run.finished")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DB.DSN) == "" {
		return fmt.Errorf("db.dsn is required (set DATABASE_URL)")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.DetailMaxAgeHours <= 0 {
		return fmt.Errorf("crawler.detail_max_age_hours must be > 0")
	}
	if c.Fetch.Attempts <= 0 {
		return fmt.Errorf("fetch.attempts must be > 0")
	}
	if c.Fetch.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.attempt_timeout_seconds must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Archive.Provider {
	case "", "none", "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	switch c.Publisher.Provider {
	case "", "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicName == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_name must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.provider %q", c.Publisher.Provider)
	}
	return nil
}

// Location resolves crawler.timezone; empty means the process-local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Crawler.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Crawler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("crawler.timezone: %w", err)
	}
	return loc, nil
}

// FetchClientConfig converts the fetch section for fetch.New.
func (c Config) FetchClientConfig() fetch.Config {
	f := c.Fetch
	backoff := make([]time.Duration, 0, max(f.Attempts-1, 0))
	delay := time.Duration(f.BackoffInitialMs) * time.Millisecond
	for i := 1; i < f.Attempts; i++ {
		backoff = append(backoff, delay)
		delay *= 2
	}
	return fetch.Config{
		UserAgent:      f.UserAgent,
		AcceptLanguage: f.AcceptLanguage,
		AttemptTimeout: time.Duration(f.AttemptTimeoutSeconds) * time.Second,
		RequestBudget:  time.Duration(f.RequestBudgetSeconds) * time.Second,
		Backoff:        backoff,
		MaxBackoff:     time.Duration(f.BackoffMaxMs) * time.Millisecond,
		SkipTLSVerify:  !fetch.SSLVerifyEnabled(f.SSLVerify),
		CABundle:       f.CABundle,
		MaxBodyBytes:   f.MaxBodyBytes,
		Breaker: fetch.BreakerConfig{
			Enabled:          f.Breaker.Enabled,
			FailureThreshold: f.Breaker.FailureThreshold,
			Cooldown:         time.Duration(f.Breaker.CooldownSeconds) * time.Second,
		},
	}
}

// RateLimitConfig converts the politeness settings.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{RPS: c.Fetch.RateRPS, Burst: c.Fetch.RateBurst}
}

// HeadlessRendererConfig converts the headless section.
func (c Config) HeadlessRendererConfig() headless.Config {
	return headless.Config{
		UserAgent:         c.Fetch.UserAgent,
		AcceptLanguage:    c.Fetch.AcceptLanguage,
		NavigationTimeout: time.Duration(c.Headless.NavTimeoutSec) * time.Second,
		WaitSelector:      c.Headless.WaitSelector,
		Settle:            time.Duration(c.Headless.SettleMs) * time.Millisecond,
	}
}

// PostgresConfig converts the db section.
func (c Config) PostgresConfig() postgres.Config {
	return postgres.Config{
		DSN:             c.DB.DSN,
		MaxConns:        c.DB.MaxConns,
		MinConns:        c.DB.MinConns,
		MaxConnLifetime: time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute,
	}
}

// PipelineConfig converts the crawler section.
func (c Config) PipelineConfig() pipeline.Config {
	topic := ""
	if c.Publisher.Provider != "" && c.Publisher.Provider != "none" {
		topic = c.Publisher.Event
	}
	return pipeline.Config{
		BaseURL:             c.Crawler.BaseURL,
		CalendarURL:         c.Crawler.CalendarURL,
		FallbackCalendarURL: c.Crawler.FallbackCalendarURL,
		DetailMaxAge:        time.Duration(c.Crawler.DetailMaxAgeHours) * time.Hour,
		Concurrency:         c.Crawler.Concurrency,
		Topic:               topic,
		ArchivePrefix:       c.Archive.Prefix,
	}
}

// SchedulerConfig converts the schedule settings. Location must be valid.
func (c Config) SchedulerConfig(loc *time.Location) scheduler.Config {
	return scheduler.Config{
		Specs:        c.Crawler.Schedules,
		Location:     loc,
		RunOnStartup: c.Crawler.RunOnStartup,
	}
}
