// Package rules maps product URLs to site-specific extraction rules and
// tunes the order of a rule's strategies as page markup drifts.
package rules

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// StrategyKind names how a strategy locates the price on a page.
type StrategyKind string

// Strategy kind constants.
const (
	KindCSS    StrategyKind = "css"
	KindXPath  StrategyKind = "xpath"
	KindJSONLD StrategyKind = "jsonld"
	KindMeta   StrategyKind = "meta"
)

// Strategy is one way of locating a price on a page.
type Strategy struct {
	Name     string       `yaml:"name"           json:"name"`
	Kind     StrategyKind `yaml:"kind"           json:"kind"`
	Selector string       `yaml:"selector"       json:"selector,omitempty"`
	// Attr reads an attribute instead of the node text.
	Attr string `yaml:"attr,omitempty" json:"attr,omitempty"`
	// First takes the first match when a selector hits several prices.
	First bool `yaml:"first,omitempty" json:"first,omitempty"`
}

// Validate checks that the strategy's selector compiles.
func (s *Strategy) Validate() error {
	switch s.Kind {
	case KindCSS:
		if _, err := cascadia.Compile(s.Selector); err != nil {
			return fmt.Errorf("strategy %q: invalid css selector: %w", s.Name, err)
		}
	case KindXPath:
		if _, err := xpath.Compile(s.Selector); err != nil {
			return fmt.Errorf("strategy %q: invalid xpath: %w", s.Name, err)
		}
	case KindMeta:
		if s.Selector == "" {
			return fmt.Errorf("strategy %q: meta strategy needs a property name", s.Name)
		}
	case KindJSONLD:
	default:
		return fmt.Errorf("strategy %q: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// Label returns the strategy name, falling back to kind and selector.
func (s *Strategy) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Selector == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.Selector
}

// Promotion tracks consecutive successes of a non-primary strategy.
type Promotion struct {
	Candidate int `json:"candidate"`
	Streak    int `json:"streak"`
}

// SiteRule is an ordered set of extraction strategies bound to domain
// patterns. Values handed out by the Registry are never mutated; adaptive
// promotion publishes a new copy with a bumped Version.
type SiteRule struct {
	Name                  string           `yaml:"name"                             json:"name"`
	Domains               []string         `yaml:"domains"                          json:"domains,omitempty"`
	Strategies            []Strategy       `yaml:"strategies"                       json:"strategies"`
	AvailabilitySelectors []string         `yaml:"availability_selectors,omitempty" json:"availability_selectors,omitempty"`
	InStockKeywords       []string         `yaml:"in_stock_keywords,omitempty"      json:"in_stock_keywords,omitempty"`
	OutOfStockKeywords    []string         `yaml:"out_of_stock_keywords,omitempty"  json:"out_of_stock_keywords,omitempty"`
	Mode                  domain.FetchMode `yaml:"mode,omitempty"                   json:"mode,omitempty"`
	DefaultCurrency       string           `yaml:"currency,omitempty"               json:"currency,omitempty"`

	Version   uint64    `yaml:"-" json:"version"`
	Promotion Promotion `yaml:"-" json:"promotion"`

	// prefixed counts per-product strategies placed ahead of the rule's own.
	prefixed int
}

// Validate checks the rule's shape and compiles every selector.
func (r *SiteRule) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("rule name is required"))
	}
	if len(r.Strategies) == 0 {
		errs = append(errs, fmt.Errorf("rule %q: at least one strategy is required", r.Name))
	}
	for i := range r.Strategies {
		if err := r.Strategies[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.Name, err))
		}
	}
	for _, sel := range r.AvailabilitySelectors {
		if _, err := cascadia.Compile(sel); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: availability selector %q: %w", r.Name, sel, err))
		}
	}
	if r.Mode != "" && !r.Mode.Valid() {
		errs = append(errs, fmt.Errorf("rule %q: unknown mode %q", r.Name, r.Mode))
	}
	return errors.Join(errs...)
}

// FetchMode returns the rule's mode, defaulting to plain HTTP.
func (r *SiteRule) FetchMode() domain.FetchMode {
	if r.Mode == "" || r.Mode == domain.FetchModeAuto {
		return domain.FetchModeHTTP
	}
	return r.Mode
}

func (r *SiteRule) clone() *SiteRule {
	c := *r
	c.Domains = slices.Clone(r.Domains)
	c.Strategies = slices.Clone(r.Strategies)
	c.AvailabilitySelectors = slices.Clone(r.AvailabilitySelectors)
	c.InStockKeywords = slices.Clone(r.InStockKeywords)
	c.OutOfStockKeywords = slices.Clone(r.OutOfStockKeywords)
	return &c
}

// observe returns the rule that results from strategy idx succeeding.
// It returns r itself when nothing changes, and reports whether the
// strategy was promoted to the front.
func (r *SiteRule) observe(idx, threshold int) (*SiteRule, bool) {
	if idx <= 0 || idx >= len(r.Strategies) {
		if r.Promotion.Streak == 0 {
			return r, false
		}
		next := r.clone()
		next.Promotion = Promotion{}
		return next, false
	}

	next := r.clone()
	if r.Promotion.Candidate == idx {
		next.Promotion.Streak++
	} else {
		next.Promotion = Promotion{Candidate: idx, Streak: 1}
	}

	if next.Promotion.Streak < threshold {
		return next, false
	}

	promoted := next.Strategies[idx]
	next.Strategies = slices.Delete(next.Strategies, idx, idx+1)
	next.Strategies = slices.Insert(next.Strategies, 0, promoted)
	next.Promotion = Promotion{}
	next.Version++
	return next, true
}

func normalizePattern(p string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(p)), ".")
}
