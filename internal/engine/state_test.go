package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		failures int
		ceiling  time.Duration
		want     time.Duration
	}{
		{"no failures", time.Hour, 0, 24 * time.Hour, time.Hour},
		{"first failure is the base interval", time.Hour, 1, 24 * time.Hour, time.Hour},
		{"second doubles", time.Hour, 2, 24 * time.Hour, 2 * time.Hour},
		{"fifth", time.Hour, 5, 24 * time.Hour, 16 * time.Hour},
		{"capped", time.Hour, 6, 24 * time.Hour, 24 * time.Hour},
		{"interval above ceiling", 48 * time.Hour, 1, 24 * time.Hour, 24 * time.Hour},
		{"huge failure count", time.Minute, 10_000, 6 * time.Hour, 6 * time.Hour},
		{"no ceiling", time.Minute, 4, 0, 8 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, BackoffDelay(tt.interval, tt.failures, tt.ceiling))
		})
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	all := []domain.ScheduleState{
		domain.StateIdle, domain.StateDue, domain.StateFetching, domain.StateBackoff, domain.StateDisabled,
	}
	allowed := map[[2]domain.ScheduleState]bool{
		{domain.StateIdle, domain.StateDue}:          true,
		{domain.StateIdle, domain.StateFetching}:     true,
		{domain.StateIdle, domain.StateDisabled}:     true,
		{domain.StateDue, domain.StateFetching}:      true,
		{domain.StateDue, domain.StateDisabled}:      true,
		{domain.StateFetching, domain.StateIdle}:     true,
		{domain.StateFetching, domain.StateBackoff}:  true,
		{domain.StateFetching, domain.StateDisabled}: true,
		{domain.StateBackoff, domain.StateDue}:       true,
		{domain.StateBackoff, domain.StateFetching}:  true,
		{domain.StateBackoff, domain.StateDisabled}:  true,
		{domain.StateDisabled, domain.StateIdle}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]domain.ScheduleState{from, to}]
			assert.Equal(t, want, canTransition(from, to), "%s -> %s", from, to)

			ps := &productState{state: from}
			err := ps.to(to)
			if want {
				require.NoError(t, err)
				assert.Equal(t, to, ps.state)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, from, ps.state)
			}
		}
	}
}

func product(id string, interval time.Duration, enabled bool) *domain.TrackedProduct {
	return &domain.TrackedProduct{ID: id, Interval: interval, Enabled: enabled}
}

func TestTracker_Lifecycle(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(8*time.Hour, 3)
	tr.Upsert(product("a", time.Hour, true), domain.FetchModeHTTP, t0)

	assert.Equal(t, []string{"a"}, tr.Due(t0))
	assert.Empty(t, tr.Due(t0), "queued products are not offered twice")

	require.NoError(t, tr.Begin("a", false, t0))
	st, _ := tr.Status("a")
	assert.Equal(t, domain.StateFetching, st.State)
	require.NotNil(t, st.LastAttemptAt)

	tr.Finish("a", Outcome{At: t0.Add(time.Second)})
	st, _ = tr.Status("a")
	assert.Equal(t, domain.StateIdle, st.State)
	assert.Equal(t, t0.Add(time.Hour), st.NextDueAt)
	require.NotNil(t, st.LastSuccessAt)

	assert.Empty(t, tr.Due(t0.Add(59*time.Minute)))
	assert.Equal(t, []string{"a"}, tr.Due(t0.Add(time.Hour)))
}

func TestTracker_BackoffAndDegraded(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(8*time.Hour, 3)
	var degraded []string
	tr.onDegraded = func(id string, _ int, _ string) { degraded = append(degraded, id) }
	tr.Upsert(product("a", time.Hour, true), domain.FetchModeHTTP, t0)

	now := t0
	errBoom := errors.New("boom")
	for i, want := range []time.Duration{time.Hour, 2 * time.Hour, 4 * time.Hour, 8 * time.Hour, 8 * time.Hour} {
		require.Equal(t, []string{"a"}, tr.Due(now), "attempt %d", i+1)
		require.NoError(t, tr.Begin("a", false, now))
		tr.Finish("a", Outcome{At: now, Err: errBoom, ErrorKind: "timeout"})

		st, _ := tr.Status("a")
		assert.Equal(t, domain.StateBackoff, st.State)
		assert.Equal(t, want, st.BackoffDelay)
		assert.Equal(t, now.Add(want), st.NextDueAt)
		assert.Equal(t, i+1 >= 3, st.Degraded)
		assert.Equal(t, "timeout", st.LastErrorKind)

		assert.Empty(t, tr.Due(now.Add(want-time.Second)))
		now = now.Add(want)
	}
	assert.Equal(t, []string{"a"}, degraded, "degraded fires once")
	assert.Equal(t, 1, tr.DegradedCount())

	require.Equal(t, []string{"a"}, tr.Due(now))
	require.NoError(t, tr.Begin("a", false, now))
	tr.Finish("a", Outcome{At: now})

	st, _ := tr.Status("a")
	assert.False(t, st.Degraded)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, now.Add(time.Hour), st.NextDueAt, "success resets to the base interval")
	assert.Zero(t, tr.DegradedCount())
}

func TestTracker_DisableAndReenable(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(8*time.Hour, 5)
	tr.Upsert(product("a", time.Hour, true), domain.FetchModeHTTP, t0)

	tr.Due(t0)
	require.NoError(t, tr.Begin("a", false, t0))
	tr.Finish("a", Outcome{At: t0, Err: errors.New("x")})
	tr.Due(t0.Add(time.Hour))
	require.NoError(t, tr.Begin("a", false, t0.Add(time.Hour)))
	tr.Finish("a", Outcome{At: t0.Add(time.Hour), Err: errors.New("x")})

	require.True(t, tr.SetEnabled("a", false, t0))
	st, _ := tr.Status("a")
	assert.Equal(t, domain.StateDisabled, st.State)
	assert.Empty(t, tr.Due(t0.Add(100*time.Hour)), "disabled products are skipped")
	require.ErrorIs(t, tr.Begin("a", true, t0), ErrProductDisabled)

	later := t0.Add(10 * time.Hour)
	require.True(t, tr.SetEnabled("a", true, later))
	st, _ = tr.Status("a")
	assert.Equal(t, domain.StateIdle, st.State)
	assert.Zero(t, st.ConsecutiveFailures, "no pending backoff after re-enable")
	assert.Zero(t, st.BackoffDelay)
	assert.Equal(t, later, st.NextDueAt)

	assert.False(t, tr.SetEnabled("missing", true, later))
}

func TestTracker_DisableDuringFetch(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Hour, 5)
	tr.Upsert(product("a", time.Hour, true), domain.FetchModeHTTP, t0)
	tr.Due(t0)
	require.NoError(t, tr.Begin("a", false, t0))

	tr.SetEnabled("a", false, t0)
	st, _ := tr.Status("a")
	assert.Equal(t, domain.StateFetching, st.State, "in-flight fetch is not interrupted")

	tr.Finish("a", Outcome{At: t0})
	st, _ = tr.Status("a")
	assert.Equal(t, domain.StateDisabled, st.State)
	require.NotNil(t, st.LastSuccessAt, "the finished fetch still counts")
}

func TestTracker_BeginRules(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Hour, 5)
	tr.Upsert(product("a", time.Hour, true), domain.FetchModeHTTP, t0)

	require.ErrorIs(t, tr.Begin("a", false, t0), ErrInvalidTransition, "scheduled work needs due")
	require.ErrorIs(t, tr.Begin("missing", true, t0), ErrProductNotFound)

	require.NoError(t, tr.Begin("a", true, t0))
	require.ErrorIs(t, tr.Begin("a", true, t0), ErrCheckInProgress)
}

func TestTracker_DueOrderAndUnqueue(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Hour, 5)
	tr.Upsert(product("late", time.Hour, true), domain.FetchModeHTTP, t0.Add(time.Minute))
	tr.Upsert(product("early", time.Hour, true), domain.FetchModeBrowser, t0)
	tr.Upsert(product("off", time.Hour, false), domain.FetchModeHTTP, t0)

	due := tr.Due(t0.Add(time.Hour))
	assert.Equal(t, []string{"early", "late"}, due)
	assert.Equal(t, domain.FetchModeBrowser, tr.Mode("early"))

	tr.Unqueue("late")
	assert.Equal(t, []string{"late"}, tr.Due(t0.Add(time.Hour)))

	tr.Remove("late")
	_, ok := tr.Status("late")
	assert.False(t, ok)
	assert.Len(t, tr.Snapshot(), 2)
}

func TestTracker_RemoveDuringCheck(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Hour, 5)
	tr.Upsert(product("busy", time.Hour, true), domain.FetchModeHTTP, t0)
	tr.Upsert(product("quiet", time.Hour, true), domain.FetchModeHTTP, t0)
	require.NoError(t, tr.Begin("busy", true, t0))

	assert.True(t, tr.Remove("busy"))
	assert.False(t, tr.Remove("quiet"))

	_, ok := tr.Status("busy")
	assert.False(t, ok)
	assert.True(t, tr.Finish("busy", Outcome{At: t0.Add(time.Second)}), "finish reports the removal")
	assert.False(t, tr.Finish("busy", Outcome{At: t0.Add(time.Second)}))
}
