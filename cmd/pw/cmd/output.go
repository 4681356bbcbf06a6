package cmd

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/donaldgifford/price-watch/internal/engine"
	"github.com/donaldgifford/price-watch/pkg/extract"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

// newDetail renders key/value pairs without a header.
func newDetail(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Colors: text.Colors{text.Bold}}})
	return t
}

func printProductTable(w io.Writer, products []domain.TrackedProduct) {
	t := newTable(w, table.Row{"ID", "Name", "URL", "Mode", "Interval", "Target", "Enabled"})
	for i := range products {
		p := &products[i]
		t.AppendRow(table.Row{
			p.ID,
			truncate(p.Name, 30),
			truncate(p.URL, 50),
			p.FetchMode,
			p.Interval,
			decimalOrDash(p.TargetPrice),
			p.Enabled,
		})
	}
	t.Render()
}

func printProductDetail(w io.Writer, p *domain.TrackedProduct) {
	t := newDetail(w)
	t.AppendRows([]table.Row{
		{"ID", p.ID},
		{"Name", p.Name},
		{"URL", p.URL},
		{"Rule", orDash(p.RuleName)},
		{"Selector", orDash(strings.TrimSpace(string(p.SelectorType) + " " + p.Selector))},
		{"Fetch mode", p.FetchMode},
		{"Interval", p.Interval},
		{"Enabled", p.Enabled},
		{"Target price", decimalOrDash(p.TargetPrice)},
		{"Notify on drop", p.NotifyOnDrop},
		{"Created", p.CreatedAt.Local().Format(timeLayout)},
	})
	t.Render()
}

func printObservationTable(w io.Writer, obs []domain.Observation) {
	t := newTable(w, table.Row{"Observed", "Price", "Availability", "Strategy", "Mode"})
	for i := range obs {
		o := &obs[i]
		t.AppendRow(table.Row{
			o.ObservedAt.Local().Format(timeLayout),
			o.Amount.StringFixed(2) + " " + o.Currency,
			o.Availability,
			o.Strategy,
			o.FetchMode,
		})
	}
	t.Render()
}

func printEventTable(w io.Writer, events []domain.ChangeEvent) {
	t := newTable(w, table.Row{"Time", "Product", "Kind", "Old", "New", "Change", "Target"})
	for i := range events {
		t.AppendRow(eventRow(&events[i]))
	}
	t.Render()
}

func eventRow(e *domain.ChangeEvent) table.Row {
	change := "-"
	if pct := e.ChangePercent(); !pct.IsZero() {
		change = pct.StringFixed(1) + "%"
	}
	target := ""
	if e.TargetReached {
		target = "reached"
	}
	kind := string(e.Kind)
	if e.Kind == domain.ChangeParseError && e.Detail != "" {
		kind += " (" + e.Detail + ")"
	}
	return table.Row{
		e.CreatedAt.Local().Format(timeLayout),
		e.ProductID,
		kind,
		decimalOrDash(e.OldAmount),
		decimalOrDash(e.NewAmount),
		change,
		target,
	}
}

// formatEventLine is the one-line form used when following the stream.
func formatEventLine(e *domain.ChangeEvent) string {
	row := eventRow(e)
	parts := make([]string, 0, len(row))
	for _, v := range row {
		if s, ok := v.(string); ok && s != "" && s != "-" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "  ")
}

func printStatus(w io.Writer, st *engine.Status) {
	s := newDetail(w)
	s.AppendRows([]table.Row{
		{"Products", st.System.ProductsTotal},
		{"Enabled", st.System.ProductsEnabled},
		{"Degraded", st.System.ProductsDegraded},
		{"Observations", st.System.ObservationsTotal},
		{"Events", st.System.EventsTotal},
		{"Pending alerts", st.System.EventsPending},
	})
	s.Render()

	if len(st.Products) == 0 {
		return
	}
	t := newTable(w, table.Row{"Product", "State", "Next due", "Failures", "Backoff", "Last error", "Degraded"})
	for i := range st.Products {
		p := &st.Products[i]
		t.AppendRow(table.Row{
			p.ProductID,
			p.State,
			p.NextDueAt.Local().Format(timeLayout),
			p.ConsecutiveFailures,
			p.BackoffDelay,
			orDash(p.LastErrorKind),
			p.Degraded,
		})
	}
	t.Render()
}

func printRuleTable(w io.Writer, rs []rules.SiteRule) {
	t := newTable(w, table.Row{"Name", "Domains", "Mode", "Strategies", "Version"})
	for i := range rs {
		r := &rs[i]
		labels := make([]string, len(r.Strategies))
		for j := range r.Strategies {
			labels[j] = r.Strategies[j].Label()
		}
		t.AppendRow(table.Row{
			r.Name,
			orDash(strings.Join(r.Domains, ", ")),
			orDash(string(r.Mode)),
			strings.Join(labels, " > "),
			r.Version,
		})
	}
	t.Render()
}

func printPreview(w io.Writer, res *extract.PreviewResult) {
	t := newDetail(w)
	price := "-"
	if res.Amount != nil {
		price = res.Amount.StringFixed(2) + " " + res.Currency
	}
	t.AppendRows([]table.Row{
		{"Title", orDash(res.Title)},
		{"Matches", len(res.Matches)},
		{"Price", price},
		{"Availability", res.Availability},
	})
	if res.Error != "" {
		t.AppendRow(table.Row{"Error", string(res.ErrorKind) + ": " + res.Error})
	}
	for i, m := range res.Matches {
		if i == 5 {
			t.AppendRow(table.Row{"", "..."})
			break
		}
		t.AppendRow(table.Row{"", truncate(m, 60)})
	}
	t.Render()
}

func printJobRunsTable(w io.Writer, runs []domain.JobRun) {
	t := newTable(w, table.Row{"Job", "Status", "Started", "Completed", "Rows", "Error"})
	for i := range runs {
		r := &runs[i]
		completed, rows := "-", "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Local().Format(timeLayout)
		}
		if r.RowsAffected != nil {
			rows = strconv.Itoa(*r.RowsAffected)
		}
		t.AppendRow(table.Row{
			r.JobName,
			r.Status,
			r.StartedAt.Local().Format(timeLayout),
			completed,
			rows,
			truncate(r.ErrorText, 40),
		})
	}
	t.Render()
}

func printCheckResult(w io.Writer, res *engine.CheckResult) {
	t := newDetail(w)
	t.AppendRow(table.Row{"Outcome", res.Outcome})
	if o := res.Observation; o != nil {
		t.AppendRow(table.Row{"Price", o.Amount.StringFixed(2) + " " + o.Currency})
		t.AppendRow(table.Row{"Availability", o.Availability})
		t.AppendRow(table.Row{"Observed", o.ObservedAt.Local().Format(timeLayout)})
	}
	if res.Event != nil {
		t.AppendRow(table.Row{"Event", res.Event.Kind})
	}
	if res.Error != "" {
		t.AppendRow(table.Row{"Error", res.ErrorKind + ": " + res.Error})
	}
	t.Render()
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decimalOrDash(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
