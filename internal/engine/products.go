package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/donaldgifford/price-watch/internal/fetch"
	"github.com/donaldgifford/price-watch/internal/store"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// normalizeProduct fills defaults and validates p in place.
func (eng *Engine) normalizeProduct(p *domain.TrackedProduct) error {
	p.URL = strings.TrimSpace(p.URL)
	p.Name = strings.TrimSpace(p.Name)

	var errs []error
	if err := fetch.ValidateURL(p.URL); err != nil {
		errs = append(errs, err)
	}

	if p.Interval == 0 {
		p.Interval = eng.defaultInterval
	}
	if p.Interval < eng.minInterval {
		errs = append(errs, fmt.Errorf("interval %s is below the minimum %s", p.Interval, eng.minInterval))
	}

	if p.FetchMode == "" {
		p.FetchMode = domain.FetchModeAuto
	}
	if !p.FetchMode.Valid() {
		errs = append(errs, fmt.Errorf("unknown fetch mode %q", p.FetchMode))
	}

	if p.RuleName != "" {
		if _, ok := eng.registry.Get(p.RuleName); !ok {
			errs = append(errs, fmt.Errorf("unknown rule %q", p.RuleName))
		}
	}

	p.Selector = strings.TrimSpace(p.Selector)
	if p.Selector == "" {
		p.SelectorType = ""
	} else {
		if p.SelectorType == "" {
			p.SelectorType = domain.SelectorCSS
		}
		if err := selectorStrategy(p).Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if p.TargetPrice != nil && p.TargetPrice.IsNegative() {
		errs = append(errs, errors.New("target price must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}
	return nil
}

func selectorStrategy(p *domain.TrackedProduct) *rules.Strategy {
	s := &rules.Strategy{Name: "product-selector", Kind: rules.KindCSS, Selector: p.Selector}
	switch p.SelectorType {
	case domain.SelectorCSS:
	case domain.SelectorXPath:
		s.Kind = rules.KindXPath
	default:
		s.Kind = rules.StrategyKind(p.SelectorType)
	}
	return s
}

// Products lists tracked products.
func (eng *Engine) Products(ctx context.Context, enabledOnly bool) ([]domain.TrackedProduct, error) {
	return eng.store.ListProducts(ctx, enabledOnly)
}

// Product returns one tracked product.
func (eng *Engine) Product(ctx context.Context, id string) (*domain.TrackedProduct, error) {
	return eng.store.GetProduct(ctx, id)
}

// AddProduct validates and stores a new product and schedules its first
// check right away.
func (eng *Engine) AddProduct(ctx context.Context, p *domain.TrackedProduct) error {
	if err := eng.normalizeProduct(p); err != nil {
		return err
	}
	if err := eng.store.CreateProduct(ctx, p); err != nil {
		return fmt.Errorf("creating product: %w", err)
	}
	eng.track(p, eng.now())
	eng.log.Info("product added", "product_id", p.ID, "url", p.URL, "interval", p.Interval)
	return nil
}

// UpdateProduct replaces a product's settings.
func (eng *Engine) UpdateProduct(ctx context.Context, p *domain.TrackedProduct) error {
	if err := eng.normalizeProduct(p); err != nil {
		return err
	}
	if err := eng.store.UpdateProduct(ctx, p); err != nil {
		return fmt.Errorf("updating product %s: %w", p.ID, err)
	}
	eng.track(p, eng.now())
	return nil
}

// RemoveProduct stops tracking a product. Its history is purged when the
// engine is configured to purge on delete; if a check is in flight the
// purge waits for that check to finish so it cannot leave rows behind.
func (eng *Engine) RemoveProduct(ctx context.Context, id string) error {
	eng.removeMu.Lock()
	defer eng.removeMu.Unlock()

	if err := eng.store.DeleteProduct(ctx, id, false); err != nil {
		return fmt.Errorf("deleting product %s: %w", id, err)
	}
	inFlight := eng.tracker.Remove(id)
	if eng.purgeOnDelete && !inFlight {
		if err := eng.store.PurgeProductHistory(ctx, id); err != nil {
			return fmt.Errorf("purging history of product %s: %w", id, err)
		}
	}
	eng.log.Info("product removed",
		"product_id", id,
		"history_purged", eng.purgeOnDelete && !inFlight,
		"purge_deferred", eng.purgeOnDelete && inFlight,
	)
	return nil
}

// SetEnabled pauses or resumes polling of a product.
func (eng *Engine) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := eng.store.SetProductEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("setting product %s enabled: %w", id, err)
	}
	if !eng.tracker.SetEnabled(id, enabled, eng.now()) {
		p, err := eng.store.GetProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("getting product %s: %w", id, err)
		}
		eng.track(p, eng.now())
	}
	return nil
}

// SetInterval changes a product's polling interval.
func (eng *Engine) SetInterval(ctx context.Context, id string, interval time.Duration) error {
	if interval < eng.minInterval {
		return fmt.Errorf("%w: interval %s is below the minimum %s", ErrInvalidProduct, interval, eng.minInterval)
	}
	if err := eng.store.SetProductInterval(ctx, id, interval); err != nil {
		return fmt.Errorf("setting product %s interval: %w", id, err)
	}
	eng.tracker.SetInterval(id, interval)
	return nil
}

// History returns up to limit of a product's newest observations, most
// recent last.
func (eng *Engine) History(ctx context.Context, id string, limit int) ([]domain.Observation, error) {
	return eng.history.History(ctx, id, limit)
}

// Latest returns a product's most recent observation, or nil.
func (eng *Engine) Latest(ctx context.Context, id string) (*domain.Observation, error) {
	return eng.history.Latest(ctx, id)
}

// Events lists stored change events.
func (eng *Engine) Events(ctx context.Context, q *store.EventQuery) ([]domain.ChangeEvent, error) {
	return eng.store.ListEvents(ctx, q)
}

// Status is the scheduler's view of every product plus aggregate counts.
type Status struct {
	System   domain.SystemState     `json:"system"`
	Products []domain.ProductStatus `json:"products"`
}

// Status returns the current schedule state of every product.
func (eng *Engine) Status(ctx context.Context) (*Status, error) {
	sys, err := eng.store.GetSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting system state: %w", err)
	}
	sys.ProductsDegraded = eng.tracker.DegradedCount()
	return &Status{System: *sys, Products: eng.tracker.Snapshot()}, nil
}

// ProductStatus returns the schedule state of one product.
func (eng *Engine) ProductStatus(id string) (domain.ProductStatus, bool) {
	return eng.tracker.Status(id)
}
