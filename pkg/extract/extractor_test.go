package extract_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/pkg/extract"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

type recordingReporter struct {
	indexes []int
}

func (r *recordingReporter) Report(_ *rules.SiteRule, index int) {
	r.indexes = append(r.indexes, index)
}

func rawPage(body string) *domain.RawPage {
	return &domain.RawPage{URL: "https://shop.test/p/1", StatusCode: 200, Body: []byte(body)}
}

func cssRule(selectors ...string) *rules.SiteRule {
	r := &rules.SiteRule{Name: "test"}
	for _, s := range selectors {
		r.Strategies = append(r.Strategies, rules.Strategy{Name: s, Kind: rules.KindCSS, Selector: s})
	}
	return r
}

func TestExtract_Strategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		body         string
		rule         *rules.SiteRule
		wantAmount   string
		wantCurrency string
		wantStock    domain.Availability
		wantIndex    int
	}{
		{
			name:         "css primary",
			body:         `<html><body><span class="price">$1,234.56</span><button>Add to cart</button></body></html>`,
			rule:         cssRule(".price"),
			wantAmount:   "1234.56",
			wantCurrency: "USD",
			wantStock:    domain.AvailabilityInStock,
			wantIndex:    0,
		},
		{
			name:         "falls through to second css",
			body:         `<html><body><div class="amount">€9,99</div><p>Out of stock</p></body></html>`,
			rule:         cssRule(".price-now", ".amount"),
			wantAmount:   "9.99",
			wantCurrency: "EUR",
			wantStock:    domain.AvailabilityOutOfStock,
			wantIndex:    1,
		},
		{
			name: "xpath with attribute",
			body: `<html><body><div id="p" data-price="49.90">x</div></body></html>`,
			rule: &rules.SiteRule{
				Name:            "xp",
				DefaultCurrency: "bgn",
				Strategies: []rules.Strategy{
					{Name: "xp", Kind: rules.KindXPath, Selector: `//div[@id="p"]`, Attr: "data-price"},
				},
			},
			wantAmount:   "49.90",
			wantCurrency: "BGN",
			wantStock:    domain.AvailabilityUnknown,
		},
		{
			name: "json-ld offer",
			body: `<html><head><script type="application/ld+json">
				{"@context":"https://schema.org","@type":"Product","name":"Kettle",
				 "offers":{"@type":"Offer","price":"100.00","priceCurrency":"EUR",
				 "availability":"https://schema.org/InStock"}}
			</script></head><body>Sold out elsewhere</body></html>`,
			rule:         rules.GenericRule(),
			wantAmount:   "100",
			wantCurrency: "EUR",
			wantStock:    domain.AvailabilityInStock,
		},
		{
			name: "json-ld graph with numeric price",
			body: `<html><head><script type="application/ld+json">
				{"@graph":[{"@type":"WebPage"},{"@type":"Product",
				 "offers":[{"@type":"Offer","price":19.5,"priceCurrency":"GBP",
				 "availability":"http://schema.org/OutOfStock"}]}]}
			</script></head><body></body></html>`,
			rule:         rules.GenericRule(),
			wantAmount:   "19.5",
			wantCurrency: "GBP",
			wantStock:    domain.AvailabilityOutOfStock,
		},
		{
			name: "itemprop meta with page currency hint",
			body: `<html lang="de-DE"><body>
				<meta itemprop="price" content="1.299,00">
				<link itemprop="availability" href="https://schema.org/InStock">
			</body></html>`,
			rule:         rules.GenericRule(),
			wantAmount:   "1299",
			wantCurrency: "EUR",
			wantStock:    domain.AvailabilityInStock,
			wantIndex:    1,
		},
		{
			name:         "duplicate identical prices are not ambiguous",
			body:         `<html><body><span class="price">10.00 лв</span><span class="price">10,00 лв</span></body></html>`,
			rule:         cssRule(".price"),
			wantAmount:   "10",
			wantCurrency: "BGN",
			wantStock:    domain.AvailabilityUnknown,
		},
		{
			name:         "unknown currency",
			body:         `<html><body><span class="price">42</span></body></html>`,
			rule:         cssRule(".price"),
			wantAmount:   "42",
			wantCurrency: extract.UnknownCurrency,
			wantStock:    domain.AvailabilityUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			x := extract.New()
			res, err := x.Extract(rawPage(tt.body), tt.rule)
			require.NoError(t, err)

			want := decimal.RequireFromString(tt.wantAmount)
			assert.True(t, want.Equal(res.Amount), "amount: want %s, got %s", want, res.Amount)
			assert.Equal(t, tt.wantCurrency, res.Currency)
			assert.Equal(t, tt.wantStock, res.Availability)
			assert.Equal(t, tt.wantIndex, res.StrategyIndex)
		})
	}
}

func TestExtract_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		rule     *rules.SiteRule
		wantKind extract.ErrorKind
		wantErr  error
	}{
		{
			name:     "nothing matches",
			body:     `<html><body><h1>Hello</h1></body></html>`,
			rule:     cssRule(".price", ".amount"),
			wantKind: extract.KindNoStrategyMatched,
			wantErr:  extract.ErrNoStrategyMatched,
		},
		{
			name:     "distinct prices without disambiguation",
			body:     `<html><body><span class="price">$10</span><span class="price">$12</span></body></html>`,
			rule:     cssRule(".price"),
			wantKind: extract.KindAmbiguousPrices,
			wantErr:  extract.ErrAmbiguousPrices,
		},
		{
			name:     "matched node without a number",
			body:     `<html><body><span class="price">Call us</span></body></html>`,
			rule:     cssRule(".price"),
			wantKind: extract.KindMalformedToken,
			wantErr:  extract.ErrMalformedPriceToken,
		},
		{
			name:     "ambiguity beats a later malformed strategy",
			body:     `<html><body><i class="a">1</i><i class="a">2</i><b class="b">n/a</b></body></html>`,
			rule:     cssRule(".a", ".b"),
			wantKind: extract.KindAmbiguousPrices,
			wantErr:  extract.ErrAmbiguousPrices,
		},
		{
			name:     "broken selector is a malformed strategy",
			body:     `<html><body></body></html>`,
			rule:     cssRule("div[["),
			wantKind: extract.KindMalformedToken,
			wantErr:  extract.ErrMalformedPriceToken,
		},
		{
			name:     "binary garbage",
			body:     "\x00\xff\xfe<<<>>>\x01",
			rule:     rules.GenericRule(),
			wantKind: extract.KindNoStrategyMatched,
			wantErr:  extract.ErrNoStrategyMatched,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rep := &recordingReporter{}
			x := extract.New(extract.WithReporter(rep))
			res, err := x.Extract(rawPage(tt.body), tt.rule)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.wantKind, extract.KindOf(err))
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Empty(t, rep.indexes, "failures are not reported")
		})
	}
}

func TestExtract_FirstDisambiguates(t *testing.T) {
	t.Parallel()

	rule := &rules.SiteRule{
		Name: "first",
		Strategies: []rules.Strategy{
			{Name: "first", Kind: rules.KindCSS, Selector: ".price", First: true},
		},
	}
	body := `<html><body><span class="price">$10</span><span class="price">$12</span></body></html>`

	res, err := extract.New().Extract(rawPage(body), rule)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(res.Amount))
}

func TestExtract_LaterStrategyResolvesAmbiguity(t *testing.T) {
	t.Parallel()

	body := `<html><body>
		<span class="price">$10</span><span class="price">$12</span>
		<span id="main-price">$11.50</span>
	</body></html>`

	rep := &recordingReporter{}
	res, err := extract.New(extract.WithReporter(rep)).Extract(rawPage(body), cssRule(".price", "#main-price"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("11.50").Equal(res.Amount))
	assert.Equal(t, []int{1}, rep.indexes)
}

func TestExtract_RuleKeywords(t *testing.T) {
	t.Parallel()

	rule := cssRule(".price")
	rule.AvailabilitySelectors = []string{".stock-box"}
	rule.OutOfStockKeywords = []string{"pre-order only"}

	body := `<html><body><span class="price">€5</span><div class="stock-box">Pre-order only</div></body></html>`
	res, err := extract.New().Extract(rawPage(body), rule)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityOutOfStock, res.Availability)
}

func TestResult_Observation(t *testing.T) {
	t.Parallel()

	res := &extract.Result{Amount: decimal.NewFromInt(3), Currency: "EUR", Availability: domain.AvailabilityInStock, Strategy: "s"}
	obs := res.Observation("p1", testTime, domain.FetchModeHTTP)
	assert.Equal(t, "p1", obs.ProductID)
	assert.Equal(t, testTime, obs.ObservedAt)
	assert.True(t, obs.ExtractionOK)
	assert.Equal(t, domain.FetchModeHTTP, obs.FetchMode)
}

func TestPageTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OG Title", extract.PageTitle([]byte(`<html><head><title>T</title><meta property="og:title" content="OG Title"></head></html>`)))
	assert.Equal(t, "Plain", extract.PageTitle([]byte(`<html><head><title> Plain </title></head></html>`)))
}

func TestPreview(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><head><title>Kettle</title></head><body><b class="p">24,90 лв</b></body></html>`)

	got := extract.Preview(body, rules.Strategy{Kind: rules.KindCSS, Selector: ".p"})
	assert.Equal(t, "Kettle", got.Title)
	assert.Equal(t, []string{"24,90 лв"}, got.Matches)
	require.NotNil(t, got.Amount)
	assert.True(t, decimal.RequireFromString("24.90").Equal(*got.Amount))
	assert.Equal(t, "BGN", got.Currency)
	assert.Empty(t, got.Error)

	miss := extract.Preview(body, rules.Strategy{Kind: rules.KindXPath, Selector: "//span"})
	assert.Equal(t, extract.KindNoStrategyMatched, miss.ErrorKind)

	bad := extract.Preview(body, rules.Strategy{Kind: rules.KindCSS, Selector: "b[["})
	assert.Equal(t, extract.KindMalformedToken, bad.ErrorKind)
}
