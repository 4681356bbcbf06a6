// Package detect classifies the delta between consecutive observations.
package detect

import (
	"time"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// Classify compares next against the latest stored observation prev, which
// is nil for a product's first observation. Amounts are compared exactly.
// Availability only counts when it flips between in stock and out of stock;
// a move to or from unknown is not a stock change.
func Classify(prev *domain.Observation, next *domain.Observation) domain.ChangeKind {
	if !next.ExtractionOK {
		return domain.ChangeParseError
	}
	if prev == nil {
		return domain.ChangeBaseline
	}

	switch next.Amount.Cmp(prev.Amount) {
	case -1:
		return domain.ChangePriceDrop
	case 1:
		return domain.ChangePriceRise
	}

	switch {
	case prev.Availability == domain.AvailabilityOutOfStock && next.Availability == domain.AvailabilityInStock:
		return domain.ChangeBackInStock
	case prev.Availability == domain.AvailabilityInStock && next.Availability == domain.AvailabilityOutOfStock:
		return domain.ChangeOutOfStock
	default:
		return domain.ChangeNoChange
	}
}

// NewEvent builds the change event for next. For a parse error, only the
// previous observation is referenced and detail carries the failure.
// TargetReached is set when the new reading crosses to at or below the
// product's target price, so a price that stays under target fires once.
func NewEvent(p *domain.TrackedProduct, prev, next *domain.Observation, detail string, now time.Time) *domain.ChangeEvent {
	kind := Classify(prev, next)
	ev := &domain.ChangeEvent{
		ProductID: p.ID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: now.UTC(),
	}
	if prev != nil {
		ev.PreviousObservationID = prev.ID
		old := prev.Amount
		ev.OldAmount = &old
		ev.Currency = prev.Currency
	}
	if kind == domain.ChangeParseError {
		return ev
	}

	ev.NewObservationID = next.ID
	amt := next.Amount
	ev.NewAmount = &amt
	ev.Currency = next.Currency
	ev.TargetReached = BelowTarget(p, next) && (prev == nil || !BelowTarget(p, prev))
	return ev
}

// BelowTarget reports whether obs is in stock at or below the product's
// target price.
func BelowTarget(p *domain.TrackedProduct, obs *domain.Observation) bool {
	if p.TargetPrice == nil || !obs.ExtractionOK {
		return false
	}
	if obs.Availability == domain.AvailabilityOutOfStock {
		return false
	}
	return obs.Amount.LessThanOrEqual(*p.TargetPrice)
}

// Notable reports whether an event of this kind is worth telling a user
// about beyond the history view.
func Notable(e *domain.ChangeEvent) bool {
	switch e.Kind {
	case domain.ChangePriceDrop, domain.ChangeBackInStock:
		return true
	default:
		return e.TargetReached
	}
}
