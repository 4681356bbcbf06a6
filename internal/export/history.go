package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

var historyColumns = []string{
	"id", "product_id", "product_name", "observed_at", "amount", "currency",
	"availability", "strategy", "fetch_mode",
}

type historyFile struct {
	ProductID    string               `json:"product_id"`
	ProductName  string               `json:"product_name"`
	URL          string               `json:"url"`
	Observations []domain.Observation `json:"observations"`
}

// WriteHistory writes a product's observations to w in the given format.
func WriteHistory(w io.Writer, f Format, p *domain.TrackedProduct, obs []domain.Observation) error {
	switch f {
	case FormatJSON:
		if obs == nil {
			obs = []domain.Observation{}
		}
		return writeJSON(w, historyFile{
			ProductID:    p.ID,
			ProductName:  p.Name,
			URL:          p.URL,
			Observations: obs,
		})
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(historyColumns); err != nil {
			return fmt.Errorf("writing csv header: %w", err)
		}
		for i := range obs {
			o := &obs[i]
			row := []string{
				o.ID, p.ID, p.Name, o.ObservedAt.UTC().Format(time.RFC3339), o.Amount.String(),
				o.Currency, string(o.Availability), o.Strategy, string(o.FetchMode),
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
