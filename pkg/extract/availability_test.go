package extract_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/donaldgifford/price-watch/pkg/extract"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestNormalizeAvailability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want domain.Availability
	}{
		{name: "schema url", raw: "https://schema.org/InStock", want: domain.AvailabilityInStock},
		{name: "http schema url", raw: "http://schema.org/OutOfStock", want: domain.AvailabilityOutOfStock},
		{name: "bare name", raw: "SoldOut", want: domain.AvailabilityOutOfStock},
		{name: "limited counts as in stock", raw: "LimitedAvailability", want: domain.AvailabilityInStock},
		{name: "preorder is not purchasable now", raw: "PreOrder", want: domain.AvailabilityOutOfStock},
		{name: "unknown value", raw: "Maybe", want: domain.AvailabilityUnknown},
		{name: "empty", raw: "", want: domain.AvailabilityUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, extract.NormalizeAvailability(tt.raw))
		})
	}
}

func TestClassifyStockText(t *testing.T) {
	t.Parallel()

	in := []string{"in stock", "available", "в наличност", "наличен"}
	out := []string{"out of stock", "unavailable", "изчерпан", "не е наличен"}

	tests := []struct {
		name string
		text string
		want domain.Availability
	}{
		{name: "english in stock", text: "In Stock - ships today", want: domain.AvailabilityInStock},
		{name: "english out of stock", text: "Currently OUT OF STOCK", want: domain.AvailabilityOutOfStock},
		{name: "unavailable is not available", text: "This item is unavailable", want: domain.AvailabilityOutOfStock},
		{name: "bulgarian in stock", text: "Продуктът е в наличност", want: domain.AvailabilityInStock},
		{name: "bulgarian out of stock", text: "Изчерпан", want: domain.AvailabilityOutOfStock},
		{name: "bulgarian negated", text: "Продуктът не е наличен", want: domain.AvailabilityOutOfStock},
		{name: "mixed signals", text: "In stock. Related: sold as out of stock", want: domain.AvailabilityUnknown},
		{name: "no signal", text: "Free delivery", want: domain.AvailabilityUnknown},
		{name: "empty", text: "", want: domain.AvailabilityUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, extract.ClassifyStockText(tt.text, in, out))
		})
	}
}
