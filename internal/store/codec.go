package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// newID returns id, or a fresh UUID when id is empty.
func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// validID reports whether id can be a primary key at all, so lookups of
// garbage ids return ErrNotFound instead of a driver error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decoding amount %q: %w", s, err)
	}
	return d, nil
}

func parseDecimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDecimal(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// validateProduct checks the fields every backend relies on.
func validateProduct(p *domain.TrackedProduct) error {
	if p.URL == "" {
		return fmt.Errorf("product url is required")
	}
	if p.Interval <= 0 {
		return fmt.Errorf("product interval must be positive, got %s", p.Interval)
	}
	return nil
}
