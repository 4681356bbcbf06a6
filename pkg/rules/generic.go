package rules

import domain "github.com/donaldgifford/price-watch/pkg/types"

// GenericRule returns the heuristic rule used for sites without a
// dedicated rule. Structured data comes first since it is the least
// likely to pick up prices of related products.
func GenericRule() *SiteRule {
	return &SiteRule{
		Name: GenericRuleName,
		Strategies: []Strategy{
			{Name: "json-ld offers", Kind: KindJSONLD},
			{Name: "itemprop price", Kind: KindMeta, Selector: "price"},
			{Name: "og price", Kind: KindMeta, Selector: "og:price:amount"},
			{Name: "product price", Kind: KindMeta, Selector: "product:price:amount"},
			{
				Name:     "amazon price block",
				Kind:     KindCSS,
				Selector: "#corePrice_feature_div .a-offscreen, #priceblock_ourprice, #priceblock_dealprice",
				First:    true,
			},
			{
				Name:     "product price class",
				Kind:     KindCSS,
				Selector: ".product-price, .product__price, .price-current, .current-price, .price--current",
			},
			{Name: "price class", Kind: KindCSS, Selector: ".price"},
		},
		AvailabilitySelectors: []string{
			"[itemprop=availability]",
			"#availability",
			".availability",
			".stock",
		},
		Mode:    domain.FetchModeHTTP,
		Version: 1,
	}
}
