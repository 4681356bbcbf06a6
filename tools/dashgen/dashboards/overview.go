// Package dashboards assembles Grafana dashboard definitions from panel builders.
package dashboards

import (
	"github.com/grafana/grafana-foundation-sdk/go/dashboard"

	"github.com/donaldgifford/price-watch/tools/dashgen/panels"
)

// BuildOverview constructs the price-watch overview dashboard.
func BuildOverview() *dashboard.DashboardBuilder {
	b := dashboard.NewDashboardBuilder("Price Watch Overview").
		Uid("pw-overview").
		Tags([]string{"pw", "price-watch"}).
		Refresh("30s").
		Time("now-6h", "now").
		Timezone("browser").
		Editable().
		Tooltip(dashboard.DashboardCursorSyncCrosshair).
		WithVariable(datasourceVar())

	b.WithRow(dashboard.NewRowBuilder("Overview").
		WithPanel(panels.HealthzStat()).
		WithPanel(panels.ReadyzStat()).
		WithPanel(panels.DegradedStat()).
		WithPanel(panels.LastScanStat()))

	b.WithRow(dashboard.NewRowBuilder("API").
		WithPanel(panels.RequestRate()).
		WithPanel(panels.LatencyPercentiles()).
		WithPanel(panels.ErrorRate()))

	b.WithRow(dashboard.NewRowBuilder("Scheduler").
		WithPanel(panels.CheckOutcomes()).
		WithPanel(panels.CheckDuration()).
		WithPanel(panels.ProductsByState()))

	b.WithRow(dashboard.NewRowBuilder("Fetching").
		WithPanel(panels.FetchDuration()).
		WithPanel(panels.FetchErrors()).
		WithPanel(panels.BrowserSessions()).
		WithPanel(panels.BrowserFallbacks()))

	b.WithRow(dashboard.NewRowBuilder("Extraction").
		WithPanel(panels.ExtractionDuration()).
		WithPanel(panels.ExtractionFailures()).
		WithPanel(panels.RulePromotions()))

	b.WithRow(dashboard.NewRowBuilder("History").
		WithPanel(panels.ObservationsRate()).
		WithPanel(panels.ChangeEvents()).
		WithPanel(panels.StorageErrors()))

	b.WithRow(dashboard.NewRowBuilder("Alerts").
		WithPanel(panels.AlertsRate()).
		WithPanel(panels.NotificationLatency()).
		WithPanel(panels.NotificationFailures()))

	return b
}

func datasourceVar() *dashboard.DatasourceVariableBuilder {
	return dashboard.NewDatasourceVariableBuilder("datasource").
		Label("Datasource").
		Type("prometheus")
}
