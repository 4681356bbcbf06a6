package detect_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/internal/detect"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func reading(id, amount string, avail domain.Availability) *domain.Observation {
	return &domain.Observation{
		ID:           id,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "EUR",
		Availability: avail,
		ExtractionOK: true,
	}
}

func failed() *domain.Observation {
	return &domain.Observation{Availability: domain.AvailabilityUnknown}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	in, out, unk := domain.AvailabilityInStock, domain.AvailabilityOutOfStock, domain.AvailabilityUnknown

	tests := []struct {
		name string
		prev *domain.Observation
		next *domain.Observation
		want domain.ChangeKind
	}{
		{"first observation", nil, reading("n", "100.00", in), domain.ChangeBaseline},
		{"drop", reading("p", "100.00", in), reading("n", "90.00", in), domain.ChangePriceDrop},
		{"rise", reading("p", "100.00", in), reading("n", "100.01", in), domain.ChangePriceRise},
		{"drop wins over stock change", reading("p", "100.00", out), reading("n", "80.00", in), domain.ChangePriceDrop},
		{"back in stock", reading("p", "100.00", out), reading("n", "100.00", in), domain.ChangeBackInStock},
		{"out of stock", reading("p", "100.00", in), reading("n", "100.00", out), domain.ChangeOutOfStock},
		{"no change", reading("p", "100.00", in), reading("n", "100.00", in), domain.ChangeNoChange},
		{"scale is not a change", reading("p", "100", in), reading("n", "100.000", in), domain.ChangeNoChange},
		{"unknown to in stock", reading("p", "100.00", unk), reading("n", "100.00", in), domain.ChangeNoChange},
		{"in stock to unknown", reading("p", "100.00", in), reading("n", "100.00", unk), domain.ChangeNoChange},
		{"parse error with history", reading("p", "100.00", in), failed(), domain.ChangeParseError},
		{"parse error without history", nil, failed(), domain.ChangeParseError},
		// 0.1 + 0.2 != 0.3 in floating point.
		{"exact decimal equality", reading("p", "0.3", in), reading("n", "0.30", in), domain.ChangeNoChange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, detect.Classify(tt.prev, tt.next))
		})
	}
}

func TestClassify_EqualReadingsOnlyNoChange(t *testing.T) {
	t.Parallel()

	avails := []domain.Availability{
		domain.AvailabilityInStock, domain.AvailabilityOutOfStock, domain.AvailabilityUnknown,
	}
	for _, amt := range []string{"0", "9.99", "1234.56", "1e3"} {
		for _, a := range avails {
			prev := reading("p", amt, a)
			next := reading("n", amt, a)
			require.True(t, prev.SameReading(next))
			assert.Equal(t, domain.ChangeNoChange, detect.Classify(prev, next), "%s/%s", amt, a)
		}
	}
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	target := decimal.RequireFromString("95")
	product := &domain.TrackedProduct{ID: "prod", TargetPrice: &target}
	noTarget := &domain.TrackedProduct{ID: "prod"}

	t.Run("baseline references only the new observation", func(t *testing.T) {
		t.Parallel()
		ev := detect.NewEvent(noTarget, nil, reading("n1", "100", domain.AvailabilityInStock), "", now)
		assert.Equal(t, domain.ChangeBaseline, ev.Kind)
		assert.Empty(t, ev.PreviousObservationID)
		assert.Equal(t, "n1", ev.NewObservationID)
		assert.Nil(t, ev.OldAmount)
		require.NotNil(t, ev.NewAmount)
		assert.True(t, ev.NewAmount.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, now, ev.CreatedAt)
	})

	t.Run("drop references both and reaches target", func(t *testing.T) {
		t.Parallel()
		ev := detect.NewEvent(product,
			reading("p1", "100", domain.AvailabilityInStock),
			reading("n1", "90", domain.AvailabilityInStock), "", now)
		assert.Equal(t, domain.ChangePriceDrop, ev.Kind)
		assert.Equal(t, "p1", ev.PreviousObservationID)
		assert.Equal(t, "n1", ev.NewObservationID)
		assert.True(t, ev.TargetReached)
		assert.Equal(t, "-10", ev.ChangePercent().String())
		assert.True(t, detect.Notable(ev))
	})

	t.Run("staying under target does not fire again", func(t *testing.T) {
		t.Parallel()
		ev := detect.NewEvent(product,
			reading("p1", "90", domain.AvailabilityInStock),
			reading("n1", "85", domain.AvailabilityInStock), "", now)
		assert.False(t, ev.TargetReached)
	})

	t.Run("out of stock never reaches target", func(t *testing.T) {
		t.Parallel()
		ev := detect.NewEvent(product,
			reading("p1", "100", domain.AvailabilityInStock),
			reading("n1", "50", domain.AvailabilityOutOfStock), "", now)
		assert.False(t, ev.TargetReached)
	})

	t.Run("parse error references only the previous observation", func(t *testing.T) {
		t.Parallel()
		ev := detect.NewEvent(product, reading("p1", "100", domain.AvailabilityInStock), failed(),
			"ambiguous-multiple-prices", now)
		assert.Equal(t, domain.ChangeParseError, ev.Kind)
		assert.Equal(t, "p1", ev.PreviousObservationID)
		assert.Empty(t, ev.NewObservationID)
		assert.Nil(t, ev.NewAmount)
		assert.False(t, ev.TargetReached)
		assert.Equal(t, "ambiguous-multiple-prices", ev.Detail)
		assert.False(t, detect.Notable(ev))
	})

	t.Run("no change is not notable", func(t *testing.T) {
		t.Parallel()
		ev := detect.NewEvent(noTarget,
			reading("p1", "100", domain.AvailabilityInStock),
			reading("n1", "100", domain.AvailabilityInStock), "", now)
		assert.Equal(t, domain.ChangeNoChange, ev.Kind)
		assert.False(t, detect.Notable(ev))
	})
}
