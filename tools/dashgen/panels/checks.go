package panels

import (
	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// CheckOutcomes returns a timeseries panel showing product checks by
// outcome.
func CheckOutcomes() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Checks").
		Description("Product checks per second by outcome").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(8).
		WithTarget(PromQuery(RateBy("pw_checks_total", "outcome"), "{{outcome}}", "A")).
		FillOpacity(10).
		LineWidth(2).
		Legend(TableLegend("mean", "max")).
		Tooltip(MultiTooltip()).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}

// CheckDuration returns a timeseries panel showing full check cycle
// latency.
func CheckDuration() *timeseries.PanelBuilder {
	const metric = "pw_check_duration_seconds"
	return timeseries.NewPanelBuilder().
		Title("Check Duration").
		Description("Fetch, extract, store and detect cycle duration").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(8).
		WithTarget(PromQuery(Quantile(0.50, metric), "p50", "A")).
		WithTarget(PromQuery(Quantile(0.95, metric), "p95", "B")).
		Unit("s").
		FillOpacity(10).
		LineWidth(2).
		Legend(TableLegend("mean", "max")).
		Tooltip(MultiTooltip()).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}

// ProductsByState returns a stacked timeseries panel showing how many
// products sit in each scheduler state.
func ProductsByState() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Products by State").
		Description("Tracked products per scheduler state (idle, due, fetching, backoff, disabled)").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(8).
		WithTarget(PromQuery(`max(pw_products_by_state{job="price-watch"}) by (state)`, "{{state}}", "A")).
		FillOpacity(30).
		LineWidth(1).
		Tooltip(MultiTooltip()).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}
