package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// localeCurrency maps page languages to the currency a shop in that locale
// most likely prices in.
var localeCurrency = map[string]string{
	"en-us": "USD",
	"en-gb": "GBP",
	"en-ca": "CAD",
	"en-au": "AUD",
	"en-in": "INR",
	"de-ch": "CHF",
	"fr-ch": "CHF",
	"bg":    "EUR", // euro since 2026-01-01
	"de":    "EUR",
	"fr":    "EUR",
	"it":    "EUR",
	"es":    "EUR",
	"nl":    "EUR",
	"pt":    "EUR",
	"fi":    "EUR",
	"el":    "EUR",
	"sk":    "EUR",
	"sl":    "EUR",
	"et":    "EUR",
	"lv":    "EUR",
	"lt":    "EUR",
	"hr":    "EUR",
	"pl":    "PLN",
	"cs":    "CZK",
	"ro":    "RON",
	"hu":    "HUF",
	"sv":    "SEK",
	"da":    "DKK",
	"nb":    "NOK",
	"ja":    "JPY",
}

var currencyMetaSelectors = []string{
	`meta[itemprop="priceCurrency"]`,
	`[itemprop="priceCurrency"]`,
	`meta[property="og:price:currency"]`,
	`meta[property="product:price:currency"]`,
}

// pageCurrency returns the currency declared in page metadata, falling
// back to the page language.
func pageCurrency(doc *goquery.Document) string {
	for _, q := range currencyMetaSelectors {
		s := doc.Find(q).First()
		if s.Length() == 0 {
			continue
		}
		v, ok := s.Attr("content")
		if !ok {
			v = s.Text()
		}
		if v = strings.ToUpper(strings.TrimSpace(v)); len(v) == 3 {
			return v
		}
	}

	lang, _ := doc.Find("html").Attr("lang")
	return CurrencyForLocale(lang)
}

// CurrencyForLocale maps a BCP 47 language tag to a currency code, trying
// the full tag before the bare language.
func CurrencyForLocale(lang string) string {
	tag := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
	if tag == "" {
		return ""
	}
	if c, ok := localeCurrency[tag]; ok {
		return c
	}
	base, _, _ := strings.Cut(tag, "-")
	return localeCurrency[base]
}
