package extract

import (
	"strings"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// schemaAvailability maps schema.org ItemAvailability values to
// availability states.
var schemaAvailability = map[string]domain.Availability{
	"instock":             domain.AvailabilityInStock,
	"instoreonly":         domain.AvailabilityInStock,
	"onlineonly":          domain.AvailabilityInStock,
	"limitedavailability": domain.AvailabilityInStock,
	"presale":             domain.AvailabilityInStock,
	"preorder":            domain.AvailabilityOutOfStock,
	"backorder":           domain.AvailabilityOutOfStock,
	"outofstock":          domain.AvailabilityOutOfStock,
	"soldout":             domain.AvailabilityOutOfStock,
	"discontinued":        domain.AvailabilityOutOfStock,
}

// Out-of-stock phrases are checked first: several contain an in-stock
// phrase ("unavailable", "не е наличен").
var (
	defaultOutOfStock = []string{
		"out of stock",
		"sold out",
		"currently unavailable",
		"unavailable",
		"not available",
		"no longer available",
		"изчерпан",
		"изчерпано",
		"няма наличност",
		"не е наличен",
		"ausverkauft",
		"nicht verfügbar",
		"épuisé",
		"agotado",
	}
	defaultInStock = []string{
		"in stock",
		"add to cart",
		"add to basket",
		"buy now",
		"available",
		"в наличност",
		"наличен",
		"налично",
		"добави в количката",
		"auf lager",
		"en stock",
	}
)

// NormalizeAvailability maps a schema.org availability value, either a
// full URL or a bare name, to an availability state.
func NormalizeAvailability(raw string) domain.Availability {
	v := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(v, "/"); i >= 0 {
		v = v[i+1:]
	}
	if a, ok := schemaAvailability[v]; ok {
		return a
	}
	return domain.AvailabilityUnknown
}

// ClassifyStockText decides availability from free text using the given
// keyword lists. Text carrying both kinds of phrase is unknown.
func ClassifyStockText(text string, inStock, outOfStock []string) domain.Availability {
	t := strings.ToLower(spaceReplacer.Replace(text))
	if t == "" {
		return domain.AvailabilityUnknown
	}

	out := containsAny(t, outOfStock)
	// Blank out matched out-of-stock phrases so "unavailable" does not
	// also count as "available".
	for _, k := range outOfStock {
		t = strings.ReplaceAll(t, strings.ToLower(k), " ")
	}
	in := containsAny(t, inStock)

	switch {
	case out && !in:
		return domain.AvailabilityOutOfStock
	case in && !out:
		return domain.AvailabilityInStock
	default:
		return domain.AvailabilityUnknown
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
