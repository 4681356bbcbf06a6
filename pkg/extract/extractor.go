// Package extract turns raw product pages into price observations using
// the ordered strategies of a site rule.
package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// UnknownCurrency is the ISO 4217 code for "no currency".
const UnknownCurrency = "XXX"

// Reporter receives the index of the strategy that produced a price.
// *rules.Registry implements it.
type Reporter interface {
	Report(rule *rules.SiteRule, index int)
}

// Result is a successful extraction.
type Result struct {
	Amount        decimal.Decimal
	Currency      string
	Availability  domain.Availability
	Strategy      string
	StrategyIndex int
}

// Observation builds the observation for productID at the given time.
func (r *Result) Observation(productID string, at time.Time, mode domain.FetchMode) domain.Observation {
	return domain.Observation{
		ProductID:    productID,
		ObservedAt:   at,
		Amount:       r.Amount,
		Currency:     r.Currency,
		Availability: r.Availability,
		ExtractionOK: true,
		Strategy:     r.Strategy,
		FetchMode:    mode,
	}
}

// Extractor applies site rules to raw pages.
type Extractor struct {
	reporter Reporter
	log      *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithReporter sets where successful strategy indexes are reported.
func WithReporter(r Reporter) Option {
	return func(x *Extractor) {
		x.reporter = r
	}
}

// WithLogger sets the extractor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Extractor) {
		x.log = l
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	x := &Extractor{log: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// candidate is one raw price text found by a strategy.
type candidate struct {
	text         string
	currency     string
	availability string
}

// page is a parsed document shared by all strategies of one extraction.
type page struct {
	root     *html.Node
	doc      *goquery.Document
	ldOffers []ldOffer
	ldParsed bool
}

func parsePage(body []byte) (*page, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return &page{root: root, doc: goquery.NewDocumentFromNode(root)}, nil
}

func (p *page) offers() []ldOffer {
	if !p.ldParsed {
		p.ldOffers = jsonLDOffers(p.doc)
		p.ldParsed = true
	}
	return p.ldOffers
}

// Extract runs rule's strategies in order against raw and returns the
// first unambiguous price. Failures are always an *Error.
func (x *Extractor) Extract(raw *domain.RawPage, rule *rules.SiteRule) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &Error{Kind: KindNoStrategyMatched, Detail: fmt.Sprintf("extractor panic: %v", r)}
		}
	}()

	p, perr := parsePage(raw.Body)
	if perr != nil {
		return nil, &Error{Kind: KindNoStrategyMatched, Detail: perr.Error()}
	}

	var ambiguous, malformed *Error
	for i := range rule.Strategies {
		s := &rule.Strategies[i]

		cands, cerr := p.candidates(s)
		if cerr != nil {
			malformed = &Error{Kind: KindMalformedToken, Strategy: s.Label(), Detail: cerr.Error()}
			continue
		}
		if len(cands) == 0 {
			continue
		}

		chosen, perr := pickPrice(cands, s)
		if perr != nil {
			if perr.Kind == KindAmbiguousPrices {
				ambiguous = perr
			} else {
				malformed = perr
			}
			continue
		}

		out := &Result{
			Amount:        chosen.price.Amount,
			Currency:      x.currency(p, rule, chosen),
			Availability:  x.availability(p, rule, chosen.cand),
			Strategy:      s.Label(),
			StrategyIndex: i,
		}
		if x.reporter != nil {
			x.reporter.Report(rule, i)
		}
		return out, nil
	}

	switch {
	case ambiguous != nil:
		return nil, ambiguous
	case malformed != nil:
		return nil, malformed
	default:
		return nil, &Error{Kind: KindNoStrategyMatched, Detail: fmt.Sprintf("rule %s", rule.Name)}
	}
}

type parsed struct {
	cand  candidate
	price Price
}

// pickPrice parses every candidate and returns the one to use. Distinct
// amounts are ambiguous unless the strategy takes the first match.
func pickPrice(cands []candidate, s *rules.Strategy) (parsed, *Error) {
	var (
		valid   []parsed
		lastErr error
	)
	for _, c := range cands {
		pr, err := ParsePrice(c.text)
		if err != nil {
			lastErr = err
			continue
		}
		valid = append(valid, parsed{cand: c, price: pr})
	}

	if len(valid) == 0 {
		detail := "no candidate parsed"
		if lastErr != nil {
			detail = lastErr.Error()
		}
		return parsed{}, &Error{Kind: KindMalformedToken, Strategy: s.Label(), Detail: detail}
	}
	if s.First {
		return valid[0], nil
	}

	distinct := []decimal.Decimal{valid[0].price.Amount}
	for _, v := range valid[1:] {
		seen := false
		for _, d := range distinct {
			if d.Equal(v.price.Amount) {
				seen = true
				break
			}
		}
		if !seen {
			distinct = append(distinct, v.price.Amount)
		}
	}
	if len(distinct) > 1 {
		return parsed{}, &Error{
			Kind:     KindAmbiguousPrices,
			Strategy: s.Label(),
			Detail:   fmt.Sprintf("%d distinct prices", len(distinct)),
		}
	}
	return valid[0], nil
}

// candidates evaluates one strategy. An error means the strategy itself
// is unusable, for example a selector that does not compile.
func (p *page) candidates(s *rules.Strategy) ([]candidate, error) {
	switch s.Kind {
	case rules.KindCSS:
		sel, err := cascadia.Compile(s.Selector)
		if err != nil {
			return nil, fmt.Errorf("compiling css selector: %w", err)
		}
		return selectionTexts(p.doc.FindMatcher(sel), s.Attr), nil

	case rules.KindXPath:
		nodes, err := htmlquery.QueryAll(p.root, s.Selector)
		if err != nil {
			return nil, fmt.Errorf("evaluating xpath: %w", err)
		}
		var out []candidate
		for _, n := range nodes {
			text := htmlquery.InnerText(n)
			if s.Attr != "" {
				text = htmlquery.SelectAttr(n, s.Attr)
			}
			if t := strings.TrimSpace(text); t != "" {
				out = append(out, candidate{text: t})
			}
		}
		return out, nil

	case rules.KindMeta:
		q := fmt.Sprintf(`[itemprop=%q], meta[property=%q], meta[name=%q]`, s.Selector, s.Selector, s.Selector)
		sel, err := cascadia.Compile(q)
		if err != nil {
			return nil, fmt.Errorf("compiling meta selector: %w", err)
		}
		attr := s.Attr
		if attr == "" {
			attr = "content"
		}
		return selectionTexts(p.doc.FindMatcher(sel), attr), nil

	case rules.KindJSONLD:
		var out []candidate
		for _, o := range p.offers() {
			out = append(out, candidate{text: o.Price, currency: o.Currency, availability: o.Availability})
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
}

// selectionTexts reads attr from each node, falling back to its text.
func selectionTexts(sel *goquery.Selection, attr string) []candidate {
	var out []candidate
	sel.Each(func(_ int, n *goquery.Selection) {
		text := ""
		if attr != "" {
			text, _ = n.Attr(attr)
		}
		if strings.TrimSpace(text) == "" {
			text = n.Text()
		}
		if t := strings.TrimSpace(text); t != "" {
			out = append(out, candidate{text: t})
		}
	})
	return out
}

func (x *Extractor) currency(p *page, rule *rules.SiteRule, chosen parsed) string {
	switch {
	case chosen.price.Currency != "":
		return chosen.price.Currency
	case chosen.cand.currency != "":
		return strings.ToUpper(chosen.cand.currency)
	}
	if hint := pageCurrency(p.doc); hint != "" {
		return hint
	}
	if rule.DefaultCurrency != "" {
		return strings.ToUpper(rule.DefaultCurrency)
	}
	return UnknownCurrency
}

// availability looks at structured data first, then the rule's
// availability selectors, then the visible page text.
func (x *Extractor) availability(p *page, rule *rules.SiteRule, chosen candidate) domain.Availability {
	if chosen.availability != "" {
		if a := NormalizeAvailability(chosen.availability); a != domain.AvailabilityUnknown {
			return a
		}
	}
	for _, o := range p.offers() {
		if a := NormalizeAvailability(o.Availability); a != domain.AvailabilityUnknown {
			return a
		}
	}

	inStock := append(append([]string{}, rule.InStockKeywords...), defaultInStock...)
	outOfStock := append(append([]string{}, rule.OutOfStockKeywords...), defaultOutOfStock...)

	if a := p.itempropAvailability(); a != domain.AvailabilityUnknown {
		return a
	}
	for _, q := range rule.AvailabilitySelectors {
		sel, err := cascadia.Compile(q)
		if err != nil {
			continue
		}
		text := p.doc.FindMatcher(sel).Text()
		if a := ClassifyStockText(text, inStock, outOfStock); a != domain.AvailabilityUnknown {
			return a
		}
	}

	body := p.doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return ClassifyStockText(body.Text(), inStock, outOfStock)
}

func (p *page) itempropAvailability() domain.Availability {
	a := domain.AvailabilityUnknown
	p.doc.Find(`[itemprop="availability"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"href", "content"} {
			if v, ok := s.Attr(attr); ok {
				if got := NormalizeAvailability(v); got != domain.AvailabilityUnknown {
					a = got
					return false
				}
			}
		}
		return true
	})
	return a
}

// PageTitle returns the page's title, preferring og:title.
func PageTitle(body []byte) string {
	p, err := parsePage(body)
	if err != nil {
		return ""
	}
	if og, ok := p.doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(p.doc.Find("title").First().Text())
}
