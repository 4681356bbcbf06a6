// Package history is the append-only observation log in front of the
// store. It enforces strict per-product ordering, coalesces duplicate
// readings inside the dedup window, and serializes writes per product.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/donaldgifford/price-watch/internal/metrics"
	"github.com/donaldgifford/price-watch/internal/store"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// ErrOutOfOrder is returned when an observation is not strictly later than
// the latest stored observation for its product.
var ErrOutOfOrder = errors.New("observation is not later than the latest stored observation")

// StorageErrorKind classifies a storage failure.
type StorageErrorKind string

// Storage failure kinds.
const (
	WriteFailed StorageErrorKind = "write_failed"
	CorruptRead StorageErrorKind = "corrupt_read"
)

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Kind      StorageErrorKind
	ProductID string
	Err       error
}

func (e *StorageError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("history %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("history %s for product %s: %v", e.Kind, e.ProductID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Store is the observation log.
type Store struct {
	store       store.Store
	dedupWindow time.Duration
	log         *slog.Logger
	locks       keyedMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New returns a history Store. dedupWindow must be positive; there is no
// default.
func New(s store.Store, dedupWindow time.Duration, opts ...Option) (*Store, error) {
	if dedupWindow <= 0 {
		return nil, fmt.Errorf("dedup window must be positive, got %s", dedupWindow)
	}
	h := &Store{
		store:       s,
		dedupWindow: dedupWindow,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// DedupWindow returns the configured coalescing window.
func (h *Store) DedupWindow() time.Duration {
	return h.dedupWindow
}

// Append persists obs unless it repeats the latest reading within the dedup
// window, in which case it is coalesced and appended is false. ObservedAt
// is normalized to UTC at microsecond precision before any comparison.
func (h *Store) Append(ctx context.Context, obs *domain.Observation) (appended bool, err error) {
	_, appended, err = h.Record(ctx, obs)
	return appended, err
}

// Record is Append that also returns the observation obs was compared
// against. prev is read under the same per-product lock as the insert, so
// it is exactly the predecessor of obs in the log.
func (h *Store) Record(
	ctx context.Context,
	obs *domain.Observation,
) (prev *domain.Observation, appended bool, err error) {
	obs.ObservedAt = obs.ObservedAt.UTC().Truncate(time.Microsecond)

	unlock := h.locks.lock(obs.ProductID)
	defer unlock()

	latest, err := h.latest(ctx, obs.ProductID)
	if err != nil {
		return nil, false, err
	}

	if latest != nil {
		if latest.SameReading(obs) && obs.ObservedAt.Sub(latest.ObservedAt) < h.dedupWindow {
			metrics.ObservationsCoalescedTotal.Inc()
			h.log.Debug("observation coalesced",
				"product_id", obs.ProductID,
				"latest_at", latest.ObservedAt,
				"observed_at", obs.ObservedAt,
			)
			return latest, false, nil
		}
		if !obs.ObservedAt.After(latest.ObservedAt) {
			return latest, false, fmt.Errorf("product %s at %s (latest %s): %w",
				obs.ProductID, obs.ObservedAt, latest.ObservedAt, ErrOutOfOrder)
		}
	}

	if err := h.store.InsertObservation(ctx, obs); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues(string(WriteFailed)).Inc()
		return latest, false, &StorageError{Kind: WriteFailed, ProductID: obs.ProductID, Err: err}
	}
	metrics.ObservationsAppendedTotal.Inc()
	return latest, true, nil
}

// Latest returns the most recent observation for a product, or nil when
// the product has none.
func (h *Store) Latest(ctx context.Context, productID string) (*domain.Observation, error) {
	return h.latest(ctx, productID)
}

func (h *Store) latest(ctx context.Context, productID string) (*domain.Observation, error) {
	o, err := h.store.LatestObservation(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues(string(CorruptRead)).Inc()
		return nil, &StorageError{Kind: CorruptRead, ProductID: productID, Err: err}
	}
	return o, nil
}

// History returns up to limit of the newest observations, most recent last.
func (h *Store) History(ctx context.Context, productID string, limit int) ([]domain.Observation, error) {
	obs, err := h.store.ListObservations(ctx, productID, limit)
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues(string(CorruptRead)).Inc()
		return nil, &StorageError{Kind: CorruptRead, ProductID: productID, Err: err}
	}
	return obs, nil
}

// Purge deletes observations older than retention. The newest observation
// of each product is always kept so later readings still classify against
// it. A non-positive retention keeps everything.
func (h *Store) Purge(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := h.store.DeleteObservationsBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues(string(WriteFailed)).Inc()
		return 0, &StorageError{Kind: WriteFailed, Err: err}
	}
	metrics.ObservationsPurgedTotal.Add(float64(n))
	return n, nil
}

// keyedMutex hands out one mutex per key and forgets it once no goroutine
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
