// Package store defines the datastore abstraction for price-watch.
// All business logic depends on the Store interface, never on concrete
// implementations. PostgreSQL, SQLite and in-memory backends are provided.
package store

import (
	"context"
	"errors"
	"time"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateURL is returned when a product URL is already tracked.
var ErrDuplicateURL = errors.New("product url already tracked")

// Store defines all data access operations for price-watch.
type Store interface {
	// Products
	CreateProduct(ctx context.Context, p *domain.TrackedProduct) error
	GetProduct(ctx context.Context, id string) (*domain.TrackedProduct, error)
	ListProducts(ctx context.Context, enabledOnly bool) ([]domain.TrackedProduct, error)
	UpdateProduct(ctx context.Context, p *domain.TrackedProduct) error
	DeleteProduct(ctx context.Context, id string, purgeHistory bool) error
	PurgeProductHistory(ctx context.Context, id string) error
	SetProductEnabled(ctx context.Context, id string, enabled bool) error
	SetProductInterval(ctx context.Context, id string, interval time.Duration) error

	// Observations
	InsertObservation(ctx context.Context, o *domain.Observation) error
	LatestObservation(ctx context.Context, productID string) (*domain.Observation, error)
	ListObservations(ctx context.Context, productID string, limit int) ([]domain.Observation, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Change events
	InsertEvent(ctx context.Context, e *domain.ChangeEvent) error
	ListEvents(ctx context.Context, q *EventQuery) ([]domain.ChangeEvent, error)
	ListPendingEvents(ctx context.Context) ([]domain.ChangeEvent, error)
	MarkEventsNotified(ctx context.Context, ids []string) error
	InsertNotificationAttempt(ctx context.Context, eventID string, succeeded bool, errText string) error

	// Counts
	GetSystemState(ctx context.Context) (*domain.SystemState, error)

	// Scheduler jobs
	InsertJobRun(ctx context.Context, jobName string) (id string, err error)
	CompleteJobRun(ctx context.Context, id string, status string, errText string, rowsAffected int) error
	ListLatestJobRuns(ctx context.Context) ([]domain.JobRun, error)
	RecoverStaleJobRuns(ctx context.Context, olderThan time.Duration) (int, error)

	// Migrations
	Migrate(ctx context.Context) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// EventQuery defines optional filters for change event queries.
type EventQuery struct {
	ProductID *string
	Kinds     []domain.ChangeKind
	Since     *time.Time
	Limit     int // default 50
	Offset    int
}

// jobRunRetention bounds how long finished job rows are kept.
const jobRunRetention = 30 * 24 * time.Hour

// Job run statuses.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCrashed   = "crashed"
)
