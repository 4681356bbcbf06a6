package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func sampleProducts() []domain.TrackedProduct {
	return []domain.TrackedProduct{
		{
			ID:           "p1",
			Name:         "Widget",
			URL:          "https://shop.example.com/widget",
			FetchMode:    domain.FetchModeAuto,
			Interval:     30 * time.Minute,
			Enabled:      true,
			TargetPrice:  decPtr("19.99"),
			NotifyOnDrop: true,
		},
		{
			ID:           "p2",
			Name:         "Gadget, large",
			URL:          "https://other.example.com/gadget",
			Selector:     "//span[@class='price']",
			SelectorType: domain.SelectorXPath,
			FetchMode:    domain.FetchModeBrowser,
			Interval:     2 * time.Hour,
			Enabled:      false,
			NotifyOnDrop: false,
		},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "csv", want: FormatCSV},
		{in: " JSON ", want: FormatJSON},
		{in: "xlsx", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	f, err := FormatFromPath("/tmp/products.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = FormatFromPath("/tmp/products")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestProducts_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, f := range []Format{FormatCSV, FormatJSON} {
		t.Run(string(f), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			require.NoError(t, WriteProducts(&buf, f, sampleProducts()))

			got, err := ReadProducts(&buf, f)
			require.NoError(t, err)

			opts := cmp.Options{
				cmpopts.IgnoreFields(domain.TrackedProduct{}, "CreatedAt", "UpdatedAt"),
				cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
			}
			if diff := cmp.Diff(sampleProducts(), got, opts); diff != "" {
				t.Errorf("products mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteProducts_CSVHeader(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteProducts(&buf, FormatCSV, nil))
	assert.Equal(t, strings.Join(productColumns, ",")+"\n", buf.String())
}

func TestReadProducts_CSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []domain.TrackedProduct
		wantErr string
	}{
		{
			name:  "columns in any order with defaults",
			input: "url,name\nhttps://a.example.com/x,X\n",
			want: []domain.TrackedProduct{
				{URL: "https://a.example.com/x", Name: "X", Enabled: true, NotifyOnDrop: true},
			},
		},
		{
			name: "legacy use_selenium column",
			input: "id,name,url,selector,selector_type,current_price,target_price,notify_on_drop,use_selenium\n" +
				"7,Lamp,https://b.example.com/lamp,.price,CSS,12.5,10,no,true\n",
			want: []domain.TrackedProduct{{
				ID: "7", Name: "Lamp", URL: "https://b.example.com/lamp",
				Selector: ".price", SelectorType: domain.SelectorCSS,
				FetchMode: domain.FetchModeBrowser, Enabled: true,
				TargetPrice: decPtr("10"), NotifyOnDrop: false,
			}},
		},
		{
			name:    "missing url column",
			input:   "name\nX\n",
			wantErr: "no url column",
		},
		{
			name:  "bad row is reported and others kept",
			input: "url,interval\nhttps://a.example.com/x,soon\nhttps://a.example.com/y,1h\n",
			want: []domain.TrackedProduct{
				{URL: "https://a.example.com/y", Name: "https://a.example.com/y", Interval: time.Hour, Enabled: true, NotifyOnDrop: true},
			},
			wantErr: `product 1: invalid interval "soon"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ReadProducts(strings.NewReader(tt.input), FormatCSV)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.want == nil {
				return
			}
			opts := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
			if diff := cmp.Diff(tt.want, got, opts); diff != "" {
				t.Errorf("products mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadProducts_JSONMustBeList(t *testing.T) {
	t.Parallel()

	_, err := ReadProducts(strings.NewReader(`{"url":"https://a.example.com"}`), FormatJSON)
	require.Error(t, err)
}

func TestWriteHistory(t *testing.T) {
	t.Parallel()

	p := &domain.TrackedProduct{ID: "p1", Name: "Widget", URL: "https://shop.example.com/widget"}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obs := []domain.Observation{{
		ID:           "o1",
		ProductID:    "p1",
		ObservedAt:   at,
		Amount:       decimal.RequireFromString("49.90"),
		Currency:     "EUR",
		Availability: domain.AvailabilityInStock,
		ExtractionOK: true,
		Strategy:     "jsonld",
		FetchMode:    domain.FetchModeHTTP,
	}}

	t.Run("csv", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, WriteHistory(&buf, FormatCSV, p, obs))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "o1,p1,Widget,2026-03-01T12:00:00Z,49.9,EUR,in_stock,jsonld,http", lines[1])
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, WriteHistory(&buf, FormatJSON, p, nil))

		var got map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "p1", got["product_id"])
		assert.Equal(t, []any{}, got["observations"])
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		require.ErrorIs(t, WriteHistory(&bytes.Buffer{}, "xml", p, obs), ErrUnknownFormat)
	})
}
