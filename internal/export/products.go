package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

var productColumns = []string{
	"id", "name", "url", "rule_name", "selector", "selector_type",
	"fetch_mode", "interval", "enabled", "target_price", "notify_on_drop",
	"created_at",
}

// productRecord is the file representation of a product. Intervals are
// duration strings and prices are decimal strings so that files stay
// editable by hand.
type productRecord struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	RuleName     string `json:"rule_name,omitempty"`
	Selector     string `json:"selector,omitempty"`
	SelectorType string `json:"selector_type,omitempty"`
	FetchMode    string `json:"fetch_mode,omitempty"`
	Interval     string `json:"interval,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
	TargetPrice  string `json:"target_price,omitempty"`
	NotifyOnDrop *bool  `json:"notify_on_drop,omitempty"`
	UseSelenium  *bool  `json:"use_selenium,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

func newProductRecord(p *domain.TrackedProduct) productRecord {
	enabled, notify := p.Enabled, p.NotifyOnDrop
	r := productRecord{
		ID:           p.ID,
		Name:         p.Name,
		URL:          p.URL,
		RuleName:     p.RuleName,
		Selector:     p.Selector,
		SelectorType: string(p.SelectorType),
		FetchMode:    string(p.FetchMode),
		Enabled:      &enabled,
		NotifyOnDrop: &notify,
	}
	if p.Interval > 0 {
		r.Interval = p.Interval.String()
	}
	if p.TargetPrice != nil {
		r.TargetPrice = p.TargetPrice.String()
	}
	if !p.CreatedAt.IsZero() {
		r.CreatedAt = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	return r
}

// product converts a record back into a product. Missing flags default
// to true. Rows written by older exports carry use_selenium instead of a
// fetch mode.
func (r *productRecord) product() (domain.TrackedProduct, error) {
	p := domain.TrackedProduct{
		ID:           strings.TrimSpace(r.ID),
		Name:         strings.TrimSpace(r.Name),
		URL:          strings.TrimSpace(r.URL),
		RuleName:     r.RuleName,
		Selector:     r.Selector,
		SelectorType: domain.SelectorType(strings.ToLower(r.SelectorType)),
		FetchMode:    domain.FetchMode(strings.ToLower(r.FetchMode)),
		Enabled:      r.Enabled == nil || *r.Enabled,
		NotifyOnDrop: r.NotifyOnDrop == nil || *r.NotifyOnDrop,
	}
	if p.URL == "" {
		return p, errors.New("url is required")
	}
	if p.Name == "" {
		p.Name = p.URL
	}
	if p.FetchMode == "" && r.UseSelenium != nil && *r.UseSelenium {
		p.FetchMode = domain.FetchModeBrowser
	}
	if r.Interval != "" {
		d, err := time.ParseDuration(r.Interval)
		if err != nil {
			return p, fmt.Errorf("invalid interval %q", r.Interval)
		}
		p.Interval = d
	}
	if s := strings.TrimSpace(r.TargetPrice); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return p, fmt.Errorf("invalid target price %q", r.TargetPrice)
		}
		p.TargetPrice = &d
	}
	return p, nil
}

// WriteProducts writes products to w in the given format.
func WriteProducts(w io.Writer, f Format, products []domain.TrackedProduct) error {
	records := make([]productRecord, len(products))
	for i := range products {
		records[i] = newProductRecord(&products[i])
	}

	switch f {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(productColumns); err != nil {
			return fmt.Errorf("writing csv header: %w", err)
		}
		for i := range records {
			r := &records[i]
			row := []string{
				r.ID, r.Name, r.URL, r.RuleName, r.Selector, r.SelectorType,
				r.FetchMode, r.Interval, strconv.FormatBool(*r.Enabled), r.TargetPrice,
				strconv.FormatBool(*r.NotifyOnDrop), r.CreatedAt,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("writing csv row: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// ReadProducts parses products from r. CSV columns are matched by header
// name, so column order does not matter and unknown columns are ignored.
// Row errors are joined and reported with their row number; valid rows
// are still returned.
func ReadProducts(r io.Reader, f Format) ([]domain.TrackedProduct, error) {
	var records []productRecord
	switch f {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("decoding products: %w", err)
		}
	case FormatCSV:
		var err error
		records, err = readProductCSV(r)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}

	products := make([]domain.TrackedProduct, 0, len(records))
	var errs []error
	for i := range records {
		p, err := records[i].product()
		if err != nil {
			errs = append(errs, fmt.Errorf("product %d: %w", i+1, err))
			continue
		}
		products = append(products, p)
	}
	return products, errors.Join(errs...)
}

func readProductCSV(r io.Reader) ([]productRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["url"]; !ok {
		return nil, errors.New("csv header has no url column")
	}

	var records []productRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		records = append(records, productRecord{
			ID:           get("id"),
			Name:         get("name"),
			URL:          get("url"),
			RuleName:     get("rule_name"),
			Selector:     get("selector"),
			SelectorType: get("selector_type"),
			FetchMode:    get("fetch_mode"),
			Interval:     get("interval"),
			Enabled:      parseBool(get("enabled")),
			TargetPrice:  get("target_price"),
			NotifyOnDrop: parseBool(get("notify_on_drop")),
			UseSelenium:  parseBool(get("use_selenium")),
		})
	}
	return records, nil
}

// parseBool accepts the spellings spreadsheets tend to produce. Empty
// means unset.
func parseBool(s string) *bool {
	var v bool
	switch strings.ToLower(s) {
	case "":
		return nil
	case "true", "1", "yes", "y", "on":
		v = true
	}
	return &v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}
