package extract

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// PreviewResult shows what a single strategy finds on a page.
type PreviewResult struct {
	Title        string              `json:"title,omitempty"`
	Matches      []string            `json:"matches"`
	Amount       *decimal.Decimal    `json:"amount,omitempty"`
	Currency     string              `json:"currency,omitempty"`
	Availability domain.Availability `json:"availability"`
	ErrorKind    ErrorKind           `json:"error_kind,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Preview evaluates one strategy against a page without reporting to the
// registry. It is used to try out a selector before saving a product.
func Preview(body []byte, s rules.Strategy) PreviewResult {
	out := PreviewResult{
		Title:        PageTitle(body),
		Availability: domain.AvailabilityUnknown,
	}

	if err := s.Validate(); err != nil {
		out.ErrorKind = KindMalformedToken
		out.Error = err.Error()
		return out
	}

	p, err := parsePage(body)
	if err != nil {
		out.ErrorKind = KindNoStrategyMatched
		out.Error = err.Error()
		return out
	}

	cands, err := p.candidates(&s)
	if err != nil {
		out.ErrorKind = KindMalformedToken
		out.Error = err.Error()
		return out
	}
	for _, c := range cands {
		out.Matches = append(out.Matches, c.text)
	}
	if len(cands) == 0 {
		out.ErrorKind = KindNoStrategyMatched
		out.Error = ErrNoStrategyMatched.Error()
		return out
	}

	rule := &rules.SiteRule{Name: "preview", Strategies: []rules.Strategy{s}}
	chosen, perr := pickPrice(cands, &s)
	if perr != nil {
		out.ErrorKind = perr.Kind
		out.Error = perr.Error()
		return out
	}

	x := New()
	amount := chosen.price.Amount
	out.Amount = &amount
	out.Currency = x.currency(p, rule, chosen)
	out.Availability = x.availability(p, rule, chosen.cand)
	return out
}

// IsExtractionError reports whether err is a typed extraction failure.
func IsExtractionError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
