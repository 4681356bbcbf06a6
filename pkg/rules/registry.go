package rules

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// GenericRuleName is the name of the built-in heuristic rule used when no
// domain rule matches.
const GenericRuleName = "generic"

// entry holds the current published version of one rule.
type entry struct {
	current atomic.Pointer[SiteRule]
}

func newEntry(r *SiteRule) *entry {
	e := &entry{}
	e.current.Store(r)
	return e
}

type wildcard struct {
	suffix string
	entry  *entry
}

// ruleSet is an immutable index over the loaded rules. A reload swaps the
// whole set.
type ruleSet struct {
	byName    map[string]*entry
	exact     map[string]*entry
	wildcards []wildcard
	generic   *entry
}

// Registry resolves URLs to site rules. It is safe for concurrent use.
type Registry struct {
	threshold int
	set       atomic.Pointer[ruleSet]
	onPromote func(rule, strategy string)
	log       *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// WithPromotionHook registers a callback invoked after a strategy is
// promoted to the front of its rule.
func WithPromotionHook(fn func(rule, strategy string)) Option {
	return func(r *Registry) {
		r.onPromote = fn
	}
}

// NewRegistry builds a registry from rules. threshold is the number of
// consecutive successes a fallback strategy needs before it is promoted.
func NewRegistry(threshold int, rules []SiteRule, opts ...Option) (*Registry, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("promotion threshold must be at least 1 (got %d)", threshold)
	}
	r := &Registry{
		threshold: threshold,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Replace(rules); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace validates rules and atomically swaps them in. The generic rule is
// always present; a rule named "generic" overrides the built-in one.
func (r *Registry) Replace(rules []SiteRule) error {
	set := &ruleSet{
		byName: make(map[string]*entry, len(rules)+1),
		exact:  make(map[string]*entry),
	}

	for i := range rules {
		rule := rules[i].clone()
		if err := rule.Validate(); err != nil {
			return err
		}
		if _, dup := set.byName[rule.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		rule.Version = 1
		rule.Promotion = Promotion{}
		e := newEntry(rule)
		set.byName[rule.Name] = e

		for _, d := range rule.Domains {
			p := normalizePattern(d)
			if suffix, ok := strings.CutPrefix(p, "*."); ok {
				set.wildcards = append(set.wildcards, wildcard{suffix: suffix, entry: e})
				continue
			}
			set.exact[p] = e
		}
	}

	if e, ok := set.byName[GenericRuleName]; ok {
		set.generic = e
	} else {
		set.generic = newEntry(GenericRule())
		set.byName[GenericRuleName] = set.generic
	}

	// Longest suffix wins.
	slices.SortFunc(set.wildcards, func(a, b wildcard) int {
		return len(b.suffix) - len(a.suffix)
	})

	r.set.Store(set)
	return nil
}

// Resolve returns the rule for rawURL. An exact host match beats a
// wildcard; anything unmatched gets the generic rule.
func (r *Registry) Resolve(rawURL string) *SiteRule {
	set := r.set.Load()

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return set.generic.current.Load()
	}
	host := normalizePattern(u.Hostname())

	if e, ok := set.exact[host]; ok {
		return e.current.Load()
	}
	if bare, ok := strings.CutPrefix(host, "www."); ok {
		if e, ok := set.exact[bare]; ok {
			return e.current.Load()
		}
	}
	for _, w := range set.wildcards {
		if host == w.suffix || strings.HasSuffix(host, "."+w.suffix) {
			return w.entry.current.Load()
		}
	}
	return set.generic.current.Load()
}

// Get returns the current version of the named rule.
func (r *Registry) Get(name string) (*SiteRule, bool) {
	e, ok := r.set.Load().byName[name]
	if !ok {
		return nil, false
	}
	return e.current.Load(), true
}

// List returns the current version of every rule, sorted by name.
func (r *Registry) List() []*SiteRule {
	set := r.set.Load()
	out := make([]*SiteRule, 0, len(set.byName))
	for _, e := range set.byName {
		out = append(out, e.current.Load())
	}
	slices.SortFunc(out, func(a, b *SiteRule) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// ForProduct returns the rule to use for p: its named rule or the rule
// resolved from its URL, with the product's own selector tried first.
func (r *Registry) ForProduct(p *domain.TrackedProduct) *SiteRule {
	var base *SiteRule
	if p.RuleName != "" {
		if named, ok := r.Get(p.RuleName); ok {
			base = named
		}
	}
	if base == nil {
		base = r.Resolve(p.URL)
	}
	if p.Selector == "" {
		return base
	}

	kind := KindCSS
	if p.SelectorType == domain.SelectorXPath {
		kind = KindXPath
	}
	derived := base.clone()
	derived.Strategies = slices.Insert(derived.Strategies, 0, Strategy{
		Name:     "product-selector",
		Kind:     kind,
		Selector: p.Selector,
		First:    true,
	})
	derived.prefixed = base.prefixed + 1
	return derived
}

// Report records that strategy index of rule produced a price. Reports
// against a rule version that has since been reordered are dropped.
func (r *Registry) Report(rule *SiteRule, index int) {
	idx := index - rule.prefixed
	if idx < 0 {
		return
	}

	e, ok := r.set.Load().byName[rule.Name]
	if !ok {
		return
	}

	for {
		cur := e.current.Load()
		if cur.Version != rule.Version {
			return
		}
		next, promoted := cur.observe(idx, r.threshold)
		if next == cur {
			return
		}
		if !e.current.CompareAndSwap(cur, next) {
			continue
		}
		if promoted {
			strategy := next.Strategies[0].Label()
			r.log.Info("promoted extraction strategy",
				"rule", rule.Name,
				"strategy", strategy,
				"version", next.Version,
			)
			if r.onPromote != nil {
				r.onPromote(rule.Name, strategy)
			}
		}
		return
	}
}
