// Package config handles loading and validating the application configuration
// from YAML files with environment variable substitution.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Fetch         FetchConfig         `yaml:"fetch"`
	Rules         RulesConfig         `yaml:"rules"`
	History       HistoryConfig       `yaml:"history"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig defines the Echo HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, sqlite, memory
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	PoolSize int    `yaml:"pool_size"`
}

// DSN returns a PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// FetchConfig defines how product pages are retrieved.
type FetchConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	MaxRedirects     int           `yaml:"max_redirects"`
	UserAgent        string        `yaml:"user_agent"`
	AcceptLanguage   string        `yaml:"accept_language"`
	CloudflareBypass bool          `yaml:"cloudflare_bypass"`
	// BrowserFallback retries a blocked HTTP fetch in the browser.
	BrowserFallback bool           `yaml:"browser_fallback"`
	HostRate        HostRateConfig `yaml:"host_rate"`
	Browser         BrowserConfig  `yaml:"browser"`
}

// HostRateConfig is the per-host politeness limit shared by both fetch modes.
type HostRateConfig struct {
	PerSecond float64 `yaml:"per_second"` // 0 disables the limiter
	Burst     int     `yaml:"burst"`
}

// BrowserConfig defines the headless browser pool.
type BrowserConfig struct {
	Enabled  bool          `yaml:"enabled"`
	PoolSize int           `yaml:"pool_size"`
	ExecPath string        `yaml:"exec_path"`
	Headful  bool          `yaml:"headful"`
	Settle   time.Duration `yaml:"settle"`
}

// RulesConfig defines where site rules come from and how they adapt.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
	// PromotionThreshold is the number of consecutive fallback successes
	// needed to promote a strategy. Required.
	PromotionThreshold int `yaml:"promotion_threshold"`
}

// HistoryConfig defines observation storage policy.
type HistoryConfig struct {
	// DedupWindow coalesces identical readings closer than this. Required.
	DedupWindow       time.Duration `yaml:"dedup_window"`
	RetentionDays     int           `yaml:"retention_days"` // 0 keeps forever
	RetentionSchedule string        `yaml:"retention_schedule"`
	PurgeOnDelete     bool          `yaml:"purge_on_delete"`
}

// Retention returns the retention period, or zero to keep forever.
func (h *HistoryConfig) Retention() time.Duration {
	return time.Duration(h.RetentionDays) * 24 * time.Hour
}

// SchedulerConfig defines polling and backoff behavior.
type SchedulerConfig struct {
	ScanInterval      time.Duration `yaml:"scan_interval"`
	Workers           int           `yaml:"workers"`
	BrowserWorkers    int           `yaml:"browser_workers"`
	MinInterval       time.Duration `yaml:"min_interval"`
	DefaultInterval   time.Duration `yaml:"default_interval"`
	BackoffCeiling    time.Duration `yaml:"backoff_ceiling"`
	DegradedThreshold int           `yaml:"degraded_threshold"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
	StaleJobAge       time.Duration `yaml:"stale_job_age"`
}

// AlertsConfig defines alert behavior.
type AlertsConfig struct {
	Interval time.Duration `yaml:"interval"`
	// BatchThreshold is the pending count per product above which alerts
	// are sent as one batch message.
	BatchThreshold int `yaml:"batch_threshold"`
}

// NotificationsConfig defines notification targets.
type NotificationsConfig struct {
	Discord DiscordConfig `yaml:"discord"`
	Email   EmailConfig   `yaml:"email"`
}

// DiscordConfig defines Discord webhook settings.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// EmailConfig defines SMTP settings.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	StartTLS bool     `yaml:"starttls"`
}

// TelemetryConfig defines OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads and parses a YAML config file, performing environment variable
// substitution and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the YAML content.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyFetchDefaults(&cfg.Fetch)
	applyHistoryDefaults(&cfg.History)
	applySchedulerDefaults(&cfg.Scheduler)
	applyAlertsDefaults(&cfg.Alerts)
	applyNotificationsDefaults(&cfg.Notifications)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
}

func applyDatabaseDefaults(d *DatabaseConfig) {
	if d.Driver == "" {
		d.Driver = DriverSQLite
	}
	if d.Driver == DriverSQLite && d.Path == "" {
		d.Path = "price-watch.db"
	}
	if d.Port == 0 {
		d.Port = 5432
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.PoolSize == 0 {
		d.PoolSize = 10
	}
}

func applyFetchDefaults(f *FetchConfig) {
	if f.Timeout == 0 {
		f.Timeout = 30 * time.Second
	}
	if f.MaxBodyBytes == 0 {
		f.MaxBodyBytes = 8 << 20
	}
	if f.MaxRedirects == 0 {
		f.MaxRedirects = 10
	}
	if f.HostRate.Burst == 0 {
		f.HostRate.Burst = 1
	}
	if f.Browser.PoolSize == 0 {
		f.Browser.PoolSize = 2
	}
	if f.Browser.Settle == 0 {
		f.Browser.Settle = time.Second
	}
}

func applyHistoryDefaults(h *HistoryConfig) {
	if h.RetentionSchedule == "" {
		h.RetentionSchedule = "@daily"
	}
}

func applySchedulerDefaults(s *SchedulerConfig) {
	if s.ScanInterval == 0 {
		s.ScanInterval = 30 * time.Second
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	if s.BrowserWorkers == 0 {
		s.BrowserWorkers = 1
	}
	if s.MinInterval == 0 {
		s.MinInterval = time.Minute
	}
	if s.DefaultInterval == 0 {
		s.DefaultInterval = time.Hour
	}
	if s.BackoffCeiling == 0 {
		s.BackoffCeiling = 24 * time.Hour
	}
	if s.DegradedThreshold == 0 {
		s.DegradedThreshold = 5
	}
	if s.ShutdownGrace == 0 {
		s.ShutdownGrace = 30 * time.Second
	}
	if s.StaleJobAge == 0 {
		s.StaleJobAge = time.Hour
	}
}

func applyAlertsDefaults(a *AlertsConfig) {
	if a.Interval == 0 {
		a.Interval = time.Minute
	}
	if a.BatchThreshold == 0 {
		a.BatchThreshold = 5
	}
}

func applyNotificationsDefaults(n *NotificationsConfig) {
	if n.Email.Port == 0 {
		n.Email.Port = 587
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.ServiceName == "" {
		t.ServiceName = "price-watch"
	}
	if t.SampleRatio == 0 {
		t.SampleRatio = 1
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDatabase(&cfg.Database)...)

	if cfg.History.DedupWindow <= 0 {
		errs = append(errs, fmt.Errorf("history.dedup_window is required and must be positive"))
	}
	if cfg.History.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("history.retention_days must not be negative"))
	}
	if cfg.Rules.PromotionThreshold < 1 {
		errs = append(errs, fmt.Errorf("rules.promotion_threshold is required and must be at least 1"))
	}
	if cfg.Rules.Watch && cfg.Rules.Path == "" {
		errs = append(errs, fmt.Errorf("rules.path is required when rules.watch is set"))
	}

	s := &cfg.Scheduler
	if s.Workers < 1 || s.BrowserWorkers < 1 {
		errs = append(errs, fmt.Errorf("scheduler.workers and scheduler.browser_workers must be at least 1"))
	}
	if s.DefaultInterval < s.MinInterval {
		errs = append(errs, fmt.Errorf(
			"scheduler.default_interval (%s) is below scheduler.min_interval (%s)",
			s.DefaultInterval, s.MinInterval,
		))
	}
	if s.BackoffCeiling < s.MinInterval {
		errs = append(errs, fmt.Errorf("scheduler.backoff_ceiling must be at least scheduler.min_interval"))
	}

	if cfg.Fetch.HostRate.PerSecond < 0 {
		errs = append(errs, fmt.Errorf("fetch.host_rate.per_second must not be negative"))
	}
	if cfg.Fetch.BrowserFallback && !cfg.Fetch.Browser.Enabled {
		errs = append(errs, fmt.Errorf("fetch.browser_fallback requires fetch.browser.enabled"))
	}

	if d := cfg.Notifications.Discord; d.Enabled && d.WebhookURL == "" {
		errs = append(errs, fmt.Errorf("notifications.discord.webhook_url is required when discord is enabled"))
	}
	if e := cfg.Notifications.Email; e.Enabled {
		if e.Host == "" {
			errs = append(errs, fmt.Errorf("notifications.email.host is required when email is enabled"))
		}
		if len(e.To) == 0 {
			errs = append(errs, fmt.Errorf("notifications.email.to is required when email is enabled"))
		}
		if e.From == "" && e.Username == "" {
			errs = append(errs, fmt.Errorf("notifications.email.from or username is required when email is enabled"))
		}
	}

	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

func validateDatabase(d *DatabaseConfig) []error {
	var errs []error
	switch d.Driver {
	case DriverPostgres:
		if d.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("database.name is required"))
		}
		if d.User == "" {
			errs = append(errs, fmt.Errorf("database.user is required"))
		}
	case DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf(
			"database.driver must be one of: postgres, sqlite, memory (got %q)", d.Driver,
		))
	}
	return errs
}
