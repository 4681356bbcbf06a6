package main

import "errors"

// KnownMetrics is the set of metric names exported by price-watch plus
// recording rule names referenced in dashboards and alerts.
var KnownMetrics = map[string]bool{
	// HTTP metrics.
	"pw_http_request_duration_seconds": true,
	"pw_http_requests_total":           true,

	// Health metrics.
	"pw_healthz_up": true,
	"pw_readyz_up":  true,

	// Fetch metrics.
	"pw_fetch_duration_seconds":           true,
	"pw_fetch_errors_total":               true,
	"pw_browser_fallbacks_total":          true,
	"pw_browser_sessions_in_use":          true,
	"pw_browser_sessions_started_total":   true,
	"pw_browser_sessions_discarded_total": true,

	// Extraction metrics.
	"pw_extraction_duration_seconds": true,
	"pw_extraction_failures_total":   true,
	"pw_rule_promotions_total":       true,

	// History metrics.
	"pw_observations_appended_total":  true,
	"pw_observations_coalesced_total": true,
	"pw_storage_errors_total":         true,
	"pw_observations_purged_total":    true,

	// Scheduler metrics.
	"pw_checks_total":                    true,
	"pw_check_duration_seconds":          true,
	"pw_products_by_state":               true,
	"pw_products_degraded":               true,
	"pw_scheduler_scan_duration_seconds": true,
	"pw_scheduler_last_scan_timestamp":   true,

	// Event and notification metrics.
	"pw_change_events_total":           true,
	"pw_feed_dropped_total":            true,
	"pw_alerts_fired_total":            true,
	"pw_notification_failures_total":   true,
	"pw_notification_duration_seconds": true,

	// Recording rules.
	"pw:http_requests:rate5m":         true,
	"pw:http_errors:rate5m":           true,
	"pw:checks:rate5m":                true,
	"pw:check_failures:rate5m":        true,
	"pw:fetch_blocked:rate5m":         true,
	"pw:extraction_failures:rate5m":   true,
	"pw:notification_duration:p95_5m": true,

	// Standard Prometheus metrics referenced in alerts.
	"up": true,
}

// Config controls which artifacts the generator produces and where they go.
type Config struct {
	OutputDir        string
	DashboardEnabled bool
	RulesEnabled     bool
}

// DefaultConfig returns a Config that generates all artifacts into ../../deploy
// (relative to tools/dashgen/).
func DefaultConfig() Config {
	return Config{
		OutputDir:        "../../deploy",
		DashboardEnabled: true,
		RulesEnabled:     true,
	}
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("output directory must be set")
	}
	if !c.DashboardEnabled && !c.RulesEnabled {
		return errors.New("at least one of dashboard or rules must be enabled")
	}
	return nil
}
