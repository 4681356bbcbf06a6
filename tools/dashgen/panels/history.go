package panels

import (
	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/stat"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// ObservationsRate returns a timeseries panel comparing persisted and
// coalesced observations.
func ObservationsRate() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Observations").
		Description("Observations persisted vs dropped as duplicates inside the dedup window").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(8).
		WithTarget(PromQuery(`sum(rate(pw_observations_appended_total{job="price-watch"}[5m]))`, "appended/s", "A")).
		WithTarget(PromQuery(`sum(rate(pw_observations_coalesced_total{job="price-watch"}[5m]))`, "coalesced/s", "B")).
		FillOpacity(10).
		LineWidth(2).
		Tooltip(MultiTooltip()).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleLine)
}

// ChangeEvents returns a timeseries panel showing detected change events
// by kind.
func ChangeEvents() *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title("Change Events").
		Description("Change events detected per hour by kind").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(8).
		WithTarget(PromQuery(`sum(increase(pw_change_events_total{job="price-watch"}[1h])) by (kind)`, "{{kind}}", "A")).
		FillOpacity(10).
		LineWidth(2).
		Legend(TableLegend("sum")).
		Tooltip(MultiTooltip()).
		Thresholds(ThresholdsGreenOnly()).
		ColorScheme(ColorSchemePaletteClassic()).
		DrawStyle(common.GraphDrawStyleBars)
}

// StorageErrors returns a stat panel showing storage failures in the past
// hour.
func StorageErrors() *stat.PanelBuilder {
	return stat.NewPanelBuilder().
		Title("Storage Errors (1h)").
		Description("Failed history reads and writes in the last hour").
		Datasource(DSRef()).
		Height(TSHeight).
		Span(8).
		WithTarget(PromQuery(`sum(increase(pw_storage_errors_total{job="price-watch"}[1h]))`, "", "A")).
		Thresholds(ThresholdsGreenYellowRed(1, 10)).
		ColorScheme(ColorSchemeThresholds()).
		ColorMode(common.BigValueColorModeBackground).
		GraphMode(common.BigValueGraphModeArea)
}
