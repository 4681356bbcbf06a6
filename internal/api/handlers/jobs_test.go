package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/internal/api/handlers"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// mockJobsProvider is a test double for JobsProvider.
type mockJobsProvider struct {
	latestRuns []domain.JobRun
	err        error
}

func (m *mockJobsProvider) ListLatestJobRuns(_ context.Context) ([]domain.JobRun, error) {
	return m.latestRuns, m.err
}

func sampleJobRun(jobName, status string) domain.JobRun {
	now := time.Now().Truncate(time.Second)
	return domain.JobRun{
		ID:        "job-run-id-1",
		JobName:   jobName,
		StartedAt: now,
		Status:    status,
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		provider   *mockJobsProvider
		wantStatus int
		wantBody   []string
	}{
		{
			name: "latest runs",
			provider: &mockJobsProvider{latestRuns: []domain.JobRun{
				sampleJobRun("alerts", "succeeded"),
				sampleJobRun("retention", "failed"),
			}},
			wantStatus: http.StatusOK,
			wantBody:   []string{"alerts", "retention"},
		},
		{
			name:       "empty",
			provider:   &mockJobsProvider{},
			wantStatus: http.StatusOK,
			wantBody:   []string{"[]"},
		},
		{
			name:       "store error",
			provider:   &mockJobsProvider{err: errors.New("db error")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   []string{"listing jobs failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, api := humatest.New(t)
			handlers.RegisterJobRoutes(api, handlers.NewJobsHandler(tt.provider))

			resp := api.Get("/api/v1/jobs")
			require.Equal(t, tt.wantStatus, resp.Code)
			for _, want := range tt.wantBody {
				assert.Contains(t, resp.Body.String(), want)
			}
		})
	}
}
