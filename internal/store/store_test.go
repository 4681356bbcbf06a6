package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/internal/store"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(*testing.T) store.Store { return store.NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) store.Store {
		t.Helper()
		ctx := context.Background()
		s, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "pw.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.Migrate(ctx))
		// Migrating twice is a no-op.
		require.NoError(t, s.Migrate(ctx))
		return s
	})
}

func testProduct(url string) *domain.TrackedProduct {
	target := decimal.RequireFromString("79.99")
	return &domain.TrackedProduct{
		URL:          url,
		Name:         "Widget",
		FetchMode:    domain.FetchModeHTTP,
		Interval:     time.Hour,
		Enabled:      true,
		TargetPrice:  &target,
		NotifyOnDrop: true,
	}
}

func testObservation(productID string, at time.Time, amount string) *domain.Observation {
	return &domain.Observation{
		ProductID:    productID,
		ObservedAt:   at.UTC().Truncate(time.Microsecond),
		Amount:       decimal.RequireFromString(amount),
		Currency:     "EUR",
		Availability: domain.AvailabilityInStock,
		ExtractionOK: true,
		Strategy:     "json-ld",
		FetchMode:    domain.FetchModeHTTP,
	}
}

// runStoreSuite exercises the behavior every Store backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("product crud", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := newStore(t)

		p := testProduct("https://shop.example/a")
		require.NoError(t, s.CreateProduct(ctx, p))
		require.NotEmpty(t, p.ID)
		assert.False(t, p.CreatedAt.IsZero())

		got, err := s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.URL, got.URL)
		assert.Equal(t, time.Hour, got.Interval)
		require.NotNil(t, got.TargetPrice)
		assert.True(t, got.TargetPrice.Equal(decimal.RequireFromString("79.99")))

		got.Name = "Renamed"
		got.TargetPrice = nil
		require.NoError(t, s.UpdateProduct(ctx, got))

		got, err = s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Nil(t, got.TargetPrice)

		require.NoError(t, s.SetProductEnabled(ctx, p.ID, false))
		require.NoError(t, s.SetProductInterval(ctx, p.ID, 15*time.Minute))
		got, err = s.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, got.Enabled)
		assert.Equal(t, 15*time.Minute, got.Interval)

		require.NoError(t, s.DeleteProduct(ctx, p.ID, false))
		_, err = s.GetProduct(ctx, p.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("product errors", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.CreateProduct(ctx, testProduct("https://shop.example/dup")))
		err := s.CreateProduct(ctx, testProduct("https://shop.example/dup"))
		require.ErrorIs(t, err, store.ErrDuplicateURL)

		bad := testProduct("https://shop.example/bad")
		bad.Interval = 0
		require.Error(t, s.CreateProduct(ctx, bad))

		missing := "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"
		_, err = s.GetProduct(ctx, missing)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetProduct(ctx, "not-a-uuid")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.DeleteProduct(ctx, missing, true), store.ErrNotFound)
		require.ErrorIs(t, s.SetProductEnabled(ctx, missing, true), store.ErrNotFound)
	})

	t.Run("list products", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := newStore(t)

		a := testProduct("https://shop.example/1")
		b := testProduct("https://shop.example/2")
		b.Enabled = false
		require.NoError(t, s.CreateProduct(ctx, a))
		require.NoError(t, s.CreateProduct(ctx, b))

		all, err := s.ListProducts(ctx, false)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		enabled, err := s.ListProducts(ctx, true)
		require.NoError(t, err)
		require.Len(t, enabled, 1)
		assert.Equal(t, a.ID, enabled[0].ID)
	})

	t.Run("observations", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := newStore(t)

		p := testProduct("https://shop.example/obs")
		require.NoError(t, s.CreateProduct(ctx, p))

		_, err := s.LatestObservation(ctx, p.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, amt := range []string{"100.00", "95.50", "97.25"} {
			o := testObservation(p.ID, base.Add(time.Duration(i)*time.Hour), amt)
			require.NoError(t, s.InsertObservation(ctx, o))
			require.NotEmpty(t, o.ID)
		}

		latest, err := s.LatestObservation(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, latest.Amount.Equal(decimal.RequireFromString("97.25")))
		assert.True(t, latest.ObservedAt.Equal(base.Add(2*time.Hour)))
		assert.Equal(t, "EUR", latest.Currency)
		assert.Equal(t, "json-ld", latest.Strategy)

		hist, err := s.ListObservations(ctx, p.ID, 2)
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.True(t, hist[0].Amount.Equal(decimal.RequireFromString("95.50")), "oldest of the newest two first")
		assert.True(t, hist[1].ObservedAt.After(hist[0].ObservedAt))

		n, err := s.DeleteObservationsBefore(ctx, base.Add(90*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		hist, err = s.ListObservations(ctx, p.ID, 0)
		require.NoError(t, err)
		assert.Len(t, hist, 1)

		// A cutoff past every observation still keeps the newest one.
		n, err = s.DeleteObservationsBefore(ctx, base.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		latest, err = s.LatestObservation(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, latest.Amount.Equal(decimal.RequireFromString("97.25")))
	})

	t.Run("events and pending", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := newStore(t)

		p := testProduct("https://shop.example/ev")
		require.NoError(t, s.CreateProduct(ctx, p))

		oldAmt := decimal.RequireFromString("100")
		newAmt := decimal.RequireFromString("90")
		base := time.Now().UTC().Add(-time.Hour)
		events := []*domain.ChangeEvent{
			{ProductID: p.ID, Kind: domain.ChangeBaseline, NewAmount: &oldAmt, Currency: "EUR", CreatedAt: base},
			{ProductID: p.ID, Kind: domain.ChangePriceDrop, OldAmount: &oldAmt, NewAmount: &newAmt, Currency: "EUR", CreatedAt: base.Add(time.Minute)},
			{ProductID: p.ID, Kind: domain.ChangePriceRise, OldAmount: &newAmt, NewAmount: &oldAmt, TargetReached: true, CreatedAt: base.Add(2 * time.Minute)},
			{ProductID: p.ID, Kind: domain.ChangeParseError, Detail: "no-strategy-matched", CreatedAt: base.Add(3 * time.Minute)},
		}
		for _, e := range events {
			require.NoError(t, s.InsertEvent(ctx, e))
		}

		got, err := s.ListEvents(ctx, &store.EventQuery{ProductID: &p.ID})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, domain.ChangeParseError, got[0].Kind, "newest first")
		assert.Empty(t, got[0].NewObservationID)

		drops, err := s.ListEvents(ctx, &store.EventQuery{Kinds: []domain.ChangeKind{domain.ChangePriceDrop}})
		require.NoError(t, err)
		require.Len(t, drops, 1)
		require.NotNil(t, drops[0].OldAmount)
		assert.True(t, drops[0].OldAmount.Equal(oldAmt))
		assert.True(t, drops[0].NewAmount.Equal(newAmt))

		paged, err := s.ListEvents(ctx, &store.EventQuery{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, domain.ChangePriceRise, paged[0].Kind)

		pending, err := s.ListPendingEvents(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, domain.ChangePriceDrop, pending[0].Kind)
		assert.True(t, pending[1].TargetReached)

		require.NoError(t, s.InsertNotificationAttempt(ctx, pending[0].ID, true, ""))
		require.NoError(t, s.MarkEventsNotified(ctx, []string{pending[0].ID, pending[1].ID}))

		pending, err = s.ListPendingEvents(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("delete purges history", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := newStore(t)

		keep := testProduct("https://shop.example/keep")
		purge := testProduct("https://shop.example/purge")
		require.NoError(t, s.CreateProduct(ctx, keep))
		require.NoError(t, s.CreateProduct(ctx, purge))

		at := time.Now().Add(-time.Minute)
		require.NoError(t, s.InsertObservation(ctx, testObservation(keep.ID, at, "1")))
		require.NoError(t, s.InsertObservation(ctx, testObservation(purge.ID, at, "2")))
		require.NoError(t, s.InsertEvent(ctx, &domain.ChangeEvent{ProductID: purge.ID, Kind: domain.ChangeBaseline}))

		require.NoError(t, s.DeleteProduct(ctx, keep.ID, false))
		require.NoError(t, s.DeleteProduct(ctx, purge.ID, true))

		_, err := s.LatestObservation(ctx, keep.ID)
		require.NoError(t, err, "history survives a non-purging delete")

		_, err = s.LatestObservation(ctx, purge.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		evs, err := s.ListEvents(ctx, &store.EventQuery{ProductID: &purge.ID})
		require.NoError(t, err)
		assert.Empty(t, evs)

		// Rows written after the product row is gone can still be purged.
		require.NoError(t, s.InsertEvent(ctx, &domain.ChangeEvent{ProductID: keep.ID, Kind: domain.ChangePriceDrop}))
		require.NoError(t, s.PurgeProductHistory(ctx, keep.ID))
		_, err = s.LatestObservation(ctx, keep.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		evs, err = s.ListEvents(ctx, &store.EventQuery{ProductID: &keep.ID})
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("system state", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := newStore(t)

		a := testProduct("https://shop.example/s1")
		b := testProduct("https://shop.example/s2")
		b.Enabled = false
		require.NoError(t, s.CreateProduct(ctx, a))
		require.NoError(t, s.CreateProduct(ctx, b))
		require.NoError(t, s.InsertObservation(ctx, testObservation(a.ID, time.Now(), "5")))
		require.NoError(t, s.InsertEvent(ctx, &domain.ChangeEvent{ProductID: a.ID, Kind: domain.ChangeBackInStock}))

		st, err := s.GetSystemState(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, st.ProductsTotal)
		assert.Equal(t, 1, st.ProductsEnabled)
		assert.Equal(t, 1, st.ObservationsTotal)
		assert.Equal(t, 1, st.EventsTotal)
		assert.Equal(t, 1, st.EventsPending)
	})

	t.Run("job runs", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		s := newStore(t)

		id, err := s.InsertJobRun(ctx, "retention")
		require.NoError(t, err)
		require.NoError(t, s.CompleteJobRun(ctx, id, store.JobSucceeded, "", 12))

		_, err = s.InsertJobRun(ctx, "scan")
		require.NoError(t, err)

		runs, err := s.ListLatestJobRuns(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "retention", runs[0].JobName)
		assert.Equal(t, store.JobSucceeded, runs[0].Status)
		require.NotNil(t, runs[0].RowsAffected)
		assert.Equal(t, 12, *runs[0].RowsAffected)
		assert.Equal(t, store.JobRunning, runs[1].Status)

		n, err := s.RecoverStaleJobRuns(ctx, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
