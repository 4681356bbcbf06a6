package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

var errDuplicateObservation = errors.New("observation already recorded at this instant")

// MemoryStore is a process-local Store. Nothing survives a restart; it
// backs tests and throwaway runs.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]domain.TrackedProduct
	observations map[string][]domain.Observation
	events       []domain.ChangeEvent
	attempts     int
	jobRuns      []domain.JobRun
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]domain.TrackedProduct),
		observations: make(map[string][]domain.Observation),
	}
}

// Close is a no-op.
func (*MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (*MemoryStore) Ping(context.Context) error { return nil }

// Migrate is a no-op.
func (*MemoryStore) Migrate(context.Context) error { return nil }

func copyProduct(p domain.TrackedProduct) domain.TrackedProduct {
	if p.TargetPrice != nil {
		tp := *p.TargetPrice
		p.TargetPrice = &tp
	}
	return p
}

func (s *MemoryStore) urlTaken(url, exceptID string) bool {
	for id, p := range s.products {
		if p.URL == url && id != exceptID {
			return true
		}
	}
	return false
}

// CreateProduct inserts a new tracked product, assigning an ID if unset.
func (s *MemoryStore) CreateProduct(_ context.Context, p *domain.TrackedProduct) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.urlTaken(p.URL, "") {
		return ErrDuplicateURL
	}
	p.ID = newID(p.ID)
	now := time.Now().UTC().Truncate(time.Microsecond)
	p.CreatedAt, p.UpdatedAt = now, now
	s.products[p.ID] = copyProduct(*p)
	return nil
}

// GetProduct retrieves a product by ID.
func (s *MemoryStore) GetProduct(_ context.Context, id string) (*domain.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyProduct(p)
	return &cp, nil
}

// ListProducts returns products in creation order.
func (s *MemoryStore) ListProducts(_ context.Context, enabledOnly bool) ([]domain.TrackedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TrackedProduct, 0, len(s.products))
	for _, p := range s.products {
		if enabledOnly && !p.Enabled {
			continue
		}
		out = append(out, copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateProduct replaces a product's mutable fields.
func (s *MemoryStore) UpdateProduct(_ context.Context, p *domain.TrackedProduct) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.products[p.ID]
	if !ok {
		return ErrNotFound
	}
	if s.urlTaken(p.URL, p.ID) {
		return ErrDuplicateURL
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	s.products[p.ID] = copyProduct(*p)
	return nil
}

// DeleteProduct removes a product and optionally its history.
func (s *MemoryStore) DeleteProduct(_ context.Context, id string, purgeHistory bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	if purgeHistory {
		delete(s.observations, id)
		s.events = slices.DeleteFunc(s.events, func(e domain.ChangeEvent) bool {
			return e.ProductID == id
		})
	}
	return nil
}

// PurgeProductHistory deletes a product's observations and change events.
func (s *MemoryStore) PurgeProductHistory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.observations, id)
	s.events = slices.DeleteFunc(s.events, func(e domain.ChangeEvent) bool {
		return e.ProductID == id
	})
	return nil
}

func (s *MemoryStore) mutateProduct(id string, fn func(*domain.TrackedProduct)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	s.products[id] = p
	return nil
}

// SetProductEnabled enables or disables polling for a product.
func (s *MemoryStore) SetProductEnabled(_ context.Context, id string, enabled bool) error {
	return s.mutateProduct(id, func(p *domain.TrackedProduct) { p.Enabled = enabled })
}

// SetProductInterval changes how often a product is polled.
func (s *MemoryStore) SetProductInterval(_ context.Context, id string, interval time.Duration) error {
	if interval <= 0 {
		return validateProduct(&domain.TrackedProduct{URL: "-", Interval: interval})
	}
	return s.mutateProduct(id, func(p *domain.TrackedProduct) { p.Interval = interval })
}

// InsertObservation appends an observation, assigning an ID if unset.
// Like the SQL backends it rejects a second observation at the same
// instant for a product.
func (s *MemoryStore) InsertObservation(_ context.Context, o *domain.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs := s.observations[o.ProductID]
	i := sort.Search(len(obs), func(i int) bool { return !obs[i].ObservedAt.Before(o.ObservedAt) })
	if i < len(obs) && obs[i].ObservedAt.Equal(o.ObservedAt) {
		return errDuplicateObservation
	}
	o.ID = newID(o.ID)
	s.observations[o.ProductID] = slices.Insert(obs, i, *o)
	return nil
}

// LatestObservation returns the most recent observation for a product.
func (s *MemoryStore) LatestObservation(_ context.Context, productID string) (*domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := s.observations[productID]
	if len(obs) == 0 {
		return nil, ErrNotFound
	}
	o := obs[len(obs)-1]
	return &o, nil
}

// ListObservations returns up to limit of the newest observations, oldest first.
func (s *MemoryStore) ListObservations(_ context.Context, productID string, limit int) ([]domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := s.observations[productID]
	n := clampHistoryLimit(limit)
	if len(obs) > n {
		obs = obs[len(obs)-n:]
	}
	return slices.Clone(obs), nil
}

// DeleteObservationsBefore removes observations older than cutoff, keeping
// the newest observation of every product.
func (s *MemoryStore) DeleteObservationsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, obs := range s.observations {
		if len(obs) == 0 {
			continue
		}
		i := sort.Search(len(obs), func(i int) bool { return !obs[i].ObservedAt.Before(cutoff) })
		i = min(i, len(obs)-1)
		n += i
		s.observations[id] = slices.Clone(obs[i:])
	}
	return n, nil
}

// InsertEvent persists a change event, assigning an ID if unset.
func (s *MemoryStore) InsertEvent(_ context.Context, e *domain.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = newID(e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, *e)
	return nil
}

// ListEvents queries change events, newest first.
func (s *MemoryStore) ListEvents(_ context.Context, q *EventQuery) ([]domain.ChangeEvent, error) {
	if q == nil {
		q = &EventQuery{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ChangeEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if q.ProductID != nil && e.ProductID != *q.ProductID {
			continue
		}
		if len(q.Kinds) > 0 && !slices.Contains(q.Kinds, e.Kind) {
			continue
		}
		if q.Since != nil && e.CreatedAt.Before(*q.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	offset := max(q.Offset, 0)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit := clampLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Pending reports whether e still needs to go through notification.
func Pending(e *domain.ChangeEvent) bool {
	if e.Notified {
		return false
	}
	return e.Kind == domain.ChangePriceDrop || e.Kind == domain.ChangeBackInStock || e.TargetReached
}

// ListPendingEvents returns notifiable events not yet delivered, oldest first.
func (s *MemoryStore) ListPendingEvents(context.Context) ([]domain.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ChangeEvent
	for i := range s.events {
		if Pending(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkEventsNotified sets the delivery flag on the given events.
func (s *MemoryStore) MarkEventsNotified(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if slices.Contains(ids, s.events[i].ID) {
			s.events[i].Notified = true
		}
	}
	return nil
}

// InsertNotificationAttempt counts the attempt.
func (s *MemoryStore) InsertNotificationAttempt(context.Context, string, bool, string) error {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	return nil
}

// GetSystemState returns aggregate counts.
func (s *MemoryStore) GetSystemState(context.Context) (*domain.SystemState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &domain.SystemState{ProductsTotal: len(s.products), EventsTotal: len(s.events)}
	for _, p := range s.products {
		if p.Enabled {
			st.ProductsEnabled++
		}
	}
	for _, obs := range s.observations {
		st.ObservationsTotal += len(obs)
	}
	for i := range s.events {
		if Pending(&s.events[i]) {
			st.EventsPending++
		}
	}
	return st, nil
}

// InsertJobRun records the start of a job.
func (s *MemoryStore) InsertJobRun(_ context.Context, jobName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.jobRuns = append(s.jobRuns, domain.JobRun{
		ID:        id,
		JobName:   jobName,
		StartedAt: time.Now().UTC(),
		Status:    JobRunning,
	})
	return id, nil
}

// CompleteJobRun marks a job run as finished.
func (s *MemoryStore) CompleteJobRun(_ context.Context, id, status, errText string, rowsAffected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobRuns {
		if s.jobRuns[i].ID == id {
			now := time.Now().UTC()
			s.jobRuns[i].CompletedAt = &now
			s.jobRuns[i].Status = status
			s.jobRuns[i].ErrorText = errText
			s.jobRuns[i].RowsAffected = &rowsAffected
			return nil
		}
	}
	return ErrNotFound
}

// ListLatestJobRuns returns the most recent run per job name.
func (s *MemoryStore) ListLatestJobRuns(context.Context) ([]domain.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]domain.JobRun)
	for _, r := range s.jobRuns {
		if cur, ok := latest[r.JobName]; !ok || r.StartedAt.After(cur.StartedAt) {
			latest[r.JobName] = r
		}
	}
	out := make([]domain.JobRun, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out, nil
}

// RecoverStaleJobRuns marks old running jobs as crashed.
func (s *MemoryStore) RecoverStaleJobRuns(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var n int
	for i := range s.jobRuns {
		if s.jobRuns[i].Status == JobRunning && s.jobRuns[i].StartedAt.Before(cutoff) {
			now := time.Now().UTC()
			s.jobRuns[i].Status = JobCrashed
			s.jobRuns[i].CompletedAt = &now
			n++
		}
	}
	return n, nil
}
