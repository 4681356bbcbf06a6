package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is a parsed price token. Currency is empty when the token carries
// no currency marker.
type Price struct {
	Amount   decimal.Decimal
	Currency string
}

var (
	numberRun   = regexp.MustCompile(`\d(?:[\d.,'’ ]*\d)?`)
	spaceGroup  = regexp.MustCompile(`^\d{3}(?:[.,]\d+)?$`)
	usThousands = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	plainNumber = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	isoCode     = regexp.MustCompile(
		`\b(USD|EUR|GBP|BGN|JPY|CHF|PLN|CZK|RON|HUF|SEK|NOK|DKK|CAD|AUD|INR|TRY)\b`,
	)

	// Longer markers first so "US$" wins over "$".
	currencySymbols = []struct {
		marker string
		code   string
	}{
		{"US$", "USD"},
		{"CA$", "CAD"},
		{"C$", "CAD"},
		{"AU$", "AUD"},
		{"A$", "AUD"},
		{"лева", "BGN"},
		{"лв", "BGN"},
		{"€", "EUR"},
		{"£", "GBP"},
		{"¥", "JPY"},
		{"₹", "INR"},
		{"zł", "PLN"},
		{"Kč", "CZK"},
		{"lei", "RON"},
		{"$", "USD"},
	}

	spaceReplacer = strings.NewReplacer(
		"\u00a0", " ", // no-break space
		"\u202f", " ", // narrow no-break space
		"\u2009", " ", // thin space
		"\t", " ",
		"\n", " ",
	)
)

// ParsePrice parses a human-formatted price such as "$1,234.56",
// "€9,99", "1.234,56 €" or "99.99 лв" into a fixed-point amount and an
// ISO 4217 currency code.
func ParsePrice(text string) (Price, error) {
	cleaned := strings.TrimSpace(spaceReplacer.Replace(text))
	if cleaned == "" {
		return Price{}, &Error{Kind: KindMalformedToken, Detail: "empty price text"}
	}

	token := firstNumber(cleaned)
	if token == "" {
		return Price{}, &Error{Kind: KindMalformedToken, Detail: "no digits in " + quote(cleaned)}
	}

	normalized, ok := normalizeNumber(token)
	if !ok {
		return Price{}, &Error{Kind: KindMalformedToken, Detail: "cannot read number " + quote(token)}
	}

	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return Price{}, &Error{Kind: KindMalformedToken, Detail: err.Error()}
	}

	return Price{Amount: amount, Currency: DetectCurrency(cleaned)}, nil
}

// DetectCurrency returns the ISO code implied by a currency code or symbol
// in text, or "" when none is present.
func DetectCurrency(text string) string {
	if m := isoCode.FindString(text); m != "" {
		return m
	}
	for _, s := range currencySymbols {
		if strings.Contains(text, s.marker) {
			return s.code
		}
	}
	return ""
}

// firstNumber returns the first run of digits and separators in s. Space
// separated groups are kept only while they look like thousands groups.
func firstNumber(s string) string {
	run := numberRun.FindString(s)
	if run == "" {
		return ""
	}
	parts := strings.Split(run, " ")
	out := parts[0]
	for _, p := range parts[1:] {
		if !spaceGroup.MatchString(p) {
			break
		}
		out += p
	}
	return out
}

// normalizeNumber rewrites a token into a plain decimal string with a dot
// as the decimal separator.
func normalizeNumber(tok string) (string, bool) {
	tok = strings.NewReplacer("'", "", "’", "").Replace(tok)

	lastComma := strings.LastIndex(tok, ",")
	lastDot := strings.LastIndex(tok, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Whichever separator comes last is the decimal point.
		if lastComma > lastDot {
			tok = strings.ReplaceAll(tok, ".", "")
			tok = strings.Replace(tok, ",", ".", 1)
		} else {
			tok = strings.ReplaceAll(tok, ",", "")
		}
	case lastComma >= 0:
		if usThousands.MatchString(tok) || strings.Count(tok, ",") > 1 {
			tok = strings.ReplaceAll(tok, ",", "")
		} else {
			tok = strings.Replace(tok, ",", ".", 1)
		}
	case lastDot >= 0 && strings.Count(tok, ".") > 1:
		parts := strings.Split(tok, ".")
		if allThousandsGroups(parts[1:]) {
			tok = strings.Join(parts, "")
		} else {
			tok = strings.Join(parts[:len(parts)-1], "") + "." + parts[len(parts)-1]
		}
	}

	return tok, plainNumber.MatchString(tok)
}

func allThousandsGroups(groups []string) bool {
	for _, g := range groups {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func quote(s string) string {
	const maxLen = 40
	if len([]rune(s)) > maxLen {
		s = string([]rune(s)[:maxLen]) + "…"
	}
	return `"` + s + `"`
}
