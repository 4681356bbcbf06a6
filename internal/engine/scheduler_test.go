package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/internal/store"
)

// jobStore records job run calls and can fail them.
type jobStore struct {
	store.Store
	failInsert bool
	completed  []string
}

func (j *jobStore) InsertJobRun(ctx context.Context, name string) (string, error) {
	if j.failInsert {
		return "", errors.New("insert failed")
	}
	return j.Store.InsertJobRun(ctx, name)
}

func (j *jobStore) CompleteJobRun(ctx context.Context, id, status, errText string, rows int) error {
	j.completed = append(j.completed, status)
	return j.Store.CompleteJobRun(ctx, id, status, errText, rows)
}

func TestNewScheduler_RegistersCronEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		retention time.Duration
		spec      string
		alerts    time.Duration
		want      int
	}{
		{name: "scan and alerts", alerts: time.Minute, want: 2},
		{name: "retention", retention: 24 * time.Hour, spec: "@daily", alerts: time.Minute, want: 3},
		{name: "retention without spec", retention: 24 * time.Hour, alerts: time.Minute, want: 2},
		{name: "scan only", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEngine(t, WithRetention(tt.retention))
			sched, err := NewScheduler(env.eng, env.store, 30*time.Second, tt.alerts, tt.spec, quietLogger())
			require.NoError(t, err)
			assert.Len(t, sched.Entries(), tt.want)
			assert.NotZero(t, sched.scanEntryID)
		})
	}
}

func TestNewScheduler_InvalidRetentionSpec(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t, WithRetention(time.Hour))
	_, err := NewScheduler(env.eng, env.store, time.Minute, time.Minute, "not a cron spec", quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention job")
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	env := newTestEngine(t)
	sched, err := NewScheduler(env.eng, env.store, time.Hour, time.Hour, "", quietLogger())
	require.NoError(t, err)

	sched.Start()
	ctx := sched.Stop()
	<-ctx.Done()
}

func TestScheduler_RunJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		env := newTestEngine(t)
		js := &jobStore{Store: env.store}
		sched, err := NewScheduler(env.eng, js, time.Hour, 0, "", quietLogger())
		require.NoError(t, err)

		called := false
		err = sched.runJob(ctx, "test-job", func(context.Context) (int, error) {
			called = true
			return 7, nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, []string{store.JobSucceeded}, js.completed)

		runs, err := env.store.ListLatestJobRuns(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "test-job", runs[0].JobName)
		require.NotNil(t, runs[0].RowsAffected)
		assert.Equal(t, 7, *runs[0].RowsAffected)
	})

	t.Run("failure", func(t *testing.T) {
		t.Parallel()
		env := newTestEngine(t)
		js := &jobStore{Store: env.store}
		sched, err := NewScheduler(env.eng, js, time.Hour, 0, "", quietLogger())
		require.NoError(t, err)

		jobErr := errors.New("something went wrong")
		err = sched.runJob(ctx, "fail-job", func(context.Context) (int, error) {
			return 0, jobErr
		})
		require.ErrorIs(t, err, jobErr)
		assert.Equal(t, []string{store.JobFailed}, js.completed)
	})

	t.Run("job runs even when recording fails", func(t *testing.T) {
		t.Parallel()
		env := newTestEngine(t)
		js := &jobStore{Store: env.store, failInsert: true}
		sched, err := NewScheduler(env.eng, js, time.Hour, 0, "", quietLogger())
		require.NoError(t, err)

		called := false
		err = sched.runJob(ctx, "x", func(context.Context) (int, error) {
			called = true
			return 0, nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Empty(t, js.completed)
	})
}
