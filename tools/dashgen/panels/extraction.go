package panels

import (
	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// ExtractionDuration returns a timeseries panel showing p50 and p95
// extraction latencies.
func ExtractionDuration() *timeseries.PanelBuilder {
	const metric = "pw_extraction_duration_seconds"
	return timeseries.NewPanelBuilder().
		Title("Extraction Duration").
		Description("Time spent running site rule strategies over a fetched page").
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

// ExtractionFailures returns a timeseries panel showing extraction
// failures by kind.
func ExtractionFailures() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Extraction Failures").
		Description("Extraction failures per second by kind (no_strategy_matched, ambiguous_multiple_prices, ...)").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(8).
		WithTarget(PromQuery(RateBy("pw_extraction_failures_total", "kind"), "{{kind}}", "A")).
		FillOpacity(10).
		LineWidth(2).
		Legend(TableLegend("mean", "max")).
		Thresholds(ThresholdsGreenYellowRed(0.01, 0.1)).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}

// RulePromotions returns a timeseries panel showing fallback strategies
// promoted to the front of their site rule.
func RulePromotions() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Rule Promotions").
		Description("Strategies promoted after repeatedly succeeding as a fallback").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(8).
		WithTarget(PromQuery(`sum(increase(pw_rule_promotions_total{job="price-watch"}[1h])) by (rule)`, "{{rule}}", "A")).
		FillOpacity(10).
		LineWidth(2).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleBars)
}
