package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ldOffer is the subset of a schema.org Offer the extractor reads.
type ldOffer struct {
	Price        string
	Currency     string
	Availability string
}

// jsonLDOffers collects offers from every JSON-LD block on the page.
// Blocks that fail to decode are skipped.
func jsonLDOffers(doc *goquery.Document) []ldOffer {
	var offers []ldOffer
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		dec := json.NewDecoder(bytes.NewReader([]byte(s.Text())))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return
		}
		offers = walkLD(v, offers, false)
	})
	return offers
}

// walkLD descends through arrays, @graph containers and Product nodes
// collecting their offers.
func walkLD(v any, acc []ldOffer, inProduct bool) []ldOffer {
	switch n := v.(type) {
	case []any:
		for _, item := range n {
			acc = walkLD(item, acc, inProduct)
		}
	case map[string]any:
		if g, ok := n["@graph"]; ok {
			acc = walkLD(g, acc, false)
		}
		types := ldTypes(n["@type"])
		switch {
		case types["product"] || types["productgroup"]:
			if offers, ok := n["offers"]; ok {
				acc = walkLD(offers, acc, true)
			}
			if variants, ok := n["hasVariant"]; ok {
				acc = walkLD(variants, acc, false)
			}
		case inProduct && types["aggregateoffer"]:
			if nested, ok := n["offers"]; ok {
				return walkLD(nested, acc, true)
			}
			if low := ldString(n["lowPrice"]); low != "" {
				acc = append(acc, ldOffer{
					Price:        low,
					Currency:     ldString(n["priceCurrency"]),
					Availability: ldString(n["availability"]),
				})
			}
		case inProduct && (types["offer"] || len(types) == 0):
			if p := ldPrice(n); p != "" {
				acc = append(acc, ldOffer{
					Price:        p,
					Currency:     ldString(n["priceCurrency"]),
					Availability: ldString(n["availability"]),
				})
			}
		}
	}
	return acc
}

func ldPrice(n map[string]any) string {
	if p := ldString(n["price"]); p != "" {
		return p
	}
	if spec, ok := n["priceSpecification"].(map[string]any); ok {
		return ldString(spec["price"])
	}
	return ""
}

func ldTypes(v any) map[string]bool {
	out := map[string]bool{}
	switch t := v.(type) {
	case string:
		out[strings.ToLower(t)] = true
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				out[strings.ToLower(s)] = true
			}
		}
	}
	return out
}

func ldString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
