package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/donaldgifford/price-watch/internal/metrics"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// ErrInvalidTransition is returned when a state change is not in the
// transition table.
var ErrInvalidTransition = errors.New("invalid schedule state transition")

// ErrCheckInProgress is returned when a product is already being fetched.
var ErrCheckInProgress = errors.New("check already in progress")

// ErrProductDisabled is returned when a check is requested for a disabled
// product.
var ErrProductDisabled = errors.New("product is disabled")

// transitions lists the legal moves of the per-product state machine.
// idle and backoff may go straight to fetching for a manual check.
var transitions = map[domain.ScheduleState][]domain.ScheduleState{
	domain.StateIdle:     {domain.StateDue, domain.StateFetching, domain.StateDisabled},
	domain.StateDue:      {domain.StateFetching, domain.StateDisabled},
	domain.StateFetching: {domain.StateIdle, domain.StateBackoff, domain.StateDisabled},
	domain.StateBackoff:  {domain.StateDue, domain.StateFetching, domain.StateDisabled},
	domain.StateDisabled: {domain.StateIdle},
}

func canTransition(from, to domain.ScheduleState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BackoffDelay returns the retry delay after failures consecutive failures:
// interval doubled per extra failure, capped at ceiling.
func BackoffDelay(interval time.Duration, failures int, ceiling time.Duration) time.Duration {
	if failures <= 0 {
		return interval
	}
	d := interval
	for i := 1; i < failures; i++ {
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

// productState is the scheduler's record for one product. It is only
// touched with Tracker.mu held.
type productState struct {
	state         domain.ScheduleState
	interval      time.Duration
	nextDueAt     time.Time
	lastAttemptAt time.Time
	lastSuccessAt time.Time
	failures      int
	backoff       time.Duration
	lastErrorKind string
	degraded      bool
	mode          domain.FetchMode

	// queued is set while the product sits in a worker queue.
	queued bool
	// disableOnFinish defers a disable that arrived mid-fetch.
	disableOnFinish bool
}

func (ps *productState) to(next domain.ScheduleState) error {
	if !canTransition(ps.state, next) {
		return fmt.Errorf("%s -> %s: %w", ps.state, next, ErrInvalidTransition)
	}
	metrics.ProductsByState.WithLabelValues(string(ps.state)).Dec()
	metrics.ProductsByState.WithLabelValues(string(next)).Inc()
	ps.state = next
	return nil
}

func (ps *productState) status(id string) domain.ProductStatus {
	st := domain.ProductStatus{
		ProductID:           id,
		State:               ps.state,
		NextDueAt:           ps.nextDueAt,
		ConsecutiveFailures: ps.failures,
		BackoffDelay:        ps.backoff,
		LastErrorKind:       ps.lastErrorKind,
		Degraded:            ps.degraded,
	}
	if !ps.lastAttemptAt.IsZero() {
		t := ps.lastAttemptAt
		st.LastAttemptAt = &t
	}
	if !ps.lastSuccessAt.IsZero() {
		t := ps.lastSuccessAt
		st.LastSuccessAt = &t
	}
	return st
}

// Outcome is what a finished attempt reports back to the Tracker.
type Outcome struct {
	At        time.Time
	Err       error
	ErrorKind string
}

// Tracker holds the schedule state of every tracked product.
type Tracker struct {
	mu                sync.Mutex
	states            map[string]*productState
	ceiling           time.Duration
	degradedThreshold int
	onDegraded        func(id string, failures int, kind string)

	// retiring holds products removed while a check was in flight. Their
	// Finish reports retired so the caller can clean up after the check.
	retiring map[string]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker(ceiling time.Duration, degradedThreshold int) *Tracker {
	return &Tracker{
		states:            make(map[string]*productState),
		retiring:          make(map[string]struct{}),
		ceiling:           ceiling,
		degradedThreshold: degradedThreshold,
	}
}

// Upsert registers p or refreshes its interval, enabled flag and the mode
// used to pick its worker pool. A new product is due immediately.
func (t *Tracker) Upsert(p *domain.TrackedProduct, mode domain.FetchMode, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.states[p.ID]
	if !ok {
		ps = &productState{state: domain.StateIdle, nextDueAt: now}
		t.states[p.ID] = ps
		metrics.ProductsByState.WithLabelValues(string(domain.StateIdle)).Inc()
	}
	ps.mode = mode
	if ps.interval != p.Interval {
		ps.interval = p.Interval
		if ps.state == domain.StateIdle && !ps.lastAttemptAt.IsZero() {
			ps.nextDueAt = ps.lastAttemptAt.Add(ps.interval)
		}
	}
	t.setEnabledLocked(ps, p.Enabled, now)
}

// Remove forgets a product. inFlight reports that a check is still running
// for it; that check's Finish will then report the product as retired.
func (t *Tracker) Remove(id string) (inFlight bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.states[id]
	if !ok {
		return false
	}
	metrics.ProductsByState.WithLabelValues(string(ps.state)).Dec()
	if ps.degraded {
		metrics.ProductsDegraded.Dec()
	}
	delete(t.states, id)
	if ps.state == domain.StateFetching {
		t.retiring[id] = struct{}{}
		return true
	}
	return false
}

// SetEnabled enables or disables a known product. Disabling a product
// that is being fetched takes effect when the fetch finishes.
func (t *Tracker) SetEnabled(id string, enabled bool, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.states[id]
	if !ok {
		return false
	}
	t.setEnabledLocked(ps, enabled, now)
	return true
}

func (t *Tracker) setEnabledLocked(ps *productState, enabled bool, now time.Time) {
	switch {
	case !enabled && ps.state == domain.StateFetching:
		ps.disableOnFinish = true
	case !enabled && ps.state != domain.StateDisabled:
		_ = ps.to(domain.StateDisabled)
		ps.queued = false
	case enabled && ps.state == domain.StateFetching:
		ps.disableOnFinish = false
	case enabled && ps.state == domain.StateDisabled:
		_ = ps.to(domain.StateIdle)
		// Re-enabling clears any backoff penalty.
		ps.failures = 0
		ps.backoff = 0
		ps.nextDueAt = now
		if !ps.lastAttemptAt.IsZero() && ps.lastAttemptAt.Add(ps.interval).After(now) {
			ps.nextDueAt = ps.lastAttemptAt.Add(ps.interval)
		}
	}
}

// SetInterval changes a product's base interval.
func (t *Tracker) SetInterval(id string, interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.states[id]
	if !ok {
		return false
	}
	ps.interval = interval
	if ps.state == domain.StateIdle && !ps.lastAttemptAt.IsZero() {
		ps.nextDueAt = ps.lastAttemptAt.Add(interval)
	}
	return true
}

// Due moves every idle or backoff product whose time has come to due, and
// returns the due products not yet handed to a worker, oldest first. The
// returned products are marked queued; call Unqueue for any that could not
// be dispatched.
func (t *Tracker) Due(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	type due struct {
		id string
		at time.Time
	}
	var out []due
	for id, ps := range t.states {
		if (ps.state == domain.StateIdle || ps.state == domain.StateBackoff) && !now.Before(ps.nextDueAt) {
			_ = ps.to(domain.StateDue)
		}
		if ps.state == domain.StateDue && !ps.queued {
			ps.queued = true
			out = append(out, due{id: id, at: ps.nextDueAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].id < out[j].id
	})
	ids := make([]string, len(out))
	for i, d := range out {
		ids[i] = d.id
	}
	return ids
}

// Unqueue releases a due product that could not be dispatched so the next
// scan offers it again.
func (t *Tracker) Unqueue(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ps, ok := t.states[id]; ok {
		ps.queued = false
	}
}

// Mode returns the fetch mode a product was registered with.
func (t *Tracker) Mode(id string) domain.FetchMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ps, ok := t.states[id]; ok {
		return ps.mode
	}
	return domain.FetchModeAuto
}

// Begin moves a product to fetching. Scheduled work must come from due;
// manual checks may also start from idle or backoff.
func (t *Tracker) Begin(id string, manual bool, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.states[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, ErrProductNotFound)
	}
	switch ps.state {
	case domain.StateFetching:
		return fmt.Errorf("product %s: %w", id, ErrCheckInProgress)
	case domain.StateDisabled:
		return fmt.Errorf("product %s: %w", id, ErrProductDisabled)
	case domain.StateIdle, domain.StateBackoff:
		if !manual {
			return fmt.Errorf("product %s %s -> %s: %w", id, ps.state, domain.StateFetching, ErrInvalidTransition)
		}
	}
	if err := ps.to(domain.StateFetching); err != nil {
		return fmt.Errorf("product %s: %w", id, err)
	}
	ps.queued = false
	ps.lastAttemptAt = now
	return nil
}

// Finish records the outcome of an attempt started with Begin. A success
// resets the backoff; a failure schedules a retry and may mark the product
// degraded. retired is true when the product was removed during the
// attempt.
func (t *Tracker) Finish(id string, out Outcome) (retired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.retiring[id]; ok {
		delete(t.retiring, id)
		return true
	}

	ps, ok := t.states[id]
	if !ok || ps.state != domain.StateFetching {
		return false
	}

	if out.Err == nil {
		ps.failures = 0
		ps.backoff = 0
		ps.lastErrorKind = ""
		ps.lastSuccessAt = out.At
		ps.nextDueAt = ps.lastAttemptAt.Add(ps.interval)
		if ps.degraded {
			ps.degraded = false
			metrics.ProductsDegraded.Dec()
		}
		_ = ps.to(domain.StateIdle)
	} else {
		ps.failures++
		ps.lastErrorKind = out.ErrorKind
		ps.backoff = BackoffDelay(ps.interval, ps.failures, t.ceiling)
		ps.nextDueAt = ps.lastAttemptAt.Add(ps.backoff)
		if !ps.degraded && t.degradedThreshold > 0 && ps.failures >= t.degradedThreshold {
			ps.degraded = true
			metrics.ProductsDegraded.Inc()
			if t.onDegraded != nil {
				t.onDegraded(id, ps.failures, out.ErrorKind)
			}
		}
		_ = ps.to(domain.StateBackoff)
	}

	if ps.disableOnFinish {
		ps.disableOnFinish = false
		_ = ps.to(domain.StateDisabled)
	}
	return false
}

// Status returns the schedule status of one product.
func (t *Tracker) Status(id string) (domain.ProductStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps, ok := t.states[id]
	if !ok {
		return domain.ProductStatus{}, false
	}
	return ps.status(id), true
}

// Snapshot returns the status of every product, ordered by ID.
func (t *Tracker) Snapshot() []domain.ProductStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.ProductStatus, 0, len(t.states))
	for id, ps := range t.states {
		out = append(out, ps.status(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// DegradedCount returns how many products are flagged degraded.
func (t *Tracker) DegradedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ps := range t.states {
		if ps.degraded {
			n++
		}
	}
	return n
}
