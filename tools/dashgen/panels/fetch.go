package panels

import (
	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// FetchDuration returns a timeseries panel showing p95 page fetch latency
// per fetch mode.
func FetchDuration() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Fetch Duration (p95)").
		Description("95th percentile page fetch duration by mode").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(TSWidth).
		WithTarget(PromQuery(Quantile(0.95, "pw_fetch_duration_seconds", "mode"), "{{mode}}", "A")).
		Unit("s").
		FillOpacity(10).
		LineWidth(2).
		Legend(TableLegend("mean", "max")).
		Tooltip(MultiTooltip()).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}

// FetchErrors returns a timeseries panel showing fetch failures by kind.
func FetchErrors() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Fetch Errors").
		Description("Fetch failures per second by error kind (blocked_by_site, timeout, http_error, ...)").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(TSWidth).
		WithTarget(PromQuery(RateBy("pw_fetch_errors_total", "kind"), "{{kind}}", "A")).
		FillOpacity(10).
		LineWidth(2).
		Legend(TableLegend("mean", "max")).
		Tooltip(MultiTooltip()).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}

// BrowserSessions returns a timeseries panel showing headless browser
// pool usage and churn.
func BrowserSessions() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Browser Sessions").
		Description("Sessions checked out of the pool, plus session start and discard rates").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(TSWidth).
		WithTarget(PromQuery(`max(pw_browser_sessions_in_use{job="price-watch"})`, "in use", "A")).
		WithTarget(PromQuery(`sum(rate(pw_browser_sessions_started_total{job="price-watch"}[5m]))`, "started/s", "B")).
		WithTarget(PromQuery(`sum(rate(pw_browser_sessions_discarded_total{job="price-watch"}[5m]))`, "discarded/s", "C")).
		FillOpacity(10).
		LineWidth(2).
		Tooltip(MultiTooltip()).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}

// BrowserFallbacks returns a timeseries panel showing how often a blocked
// plain HTTP fetch was retried in the browser.
func BrowserFallbacks() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Browser Fallbacks").
		Description("Blocked HTTP fetches retried with the headless browser").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(TSWidth).
		WithTarget(PromQuery(`sum(rate(pw_browser_fallbacks_total{job="price-watch"}[5m]))`, "fallbacks/s", "A")).
		FillOpacity(10).
		LineWidth(2).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}
