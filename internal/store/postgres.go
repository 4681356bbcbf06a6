package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

const defaultPoolSize = 10

const pgUniqueViolation = "23505"

// PostgresStore implements Store using pgxpool (connection-pooled PostgreSQL).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore with connection pooling.
func NewPostgresStore(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	cfg.MaxConns = defaultPoolSize
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close gracefully shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies pending SQL schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.pool)
}

func productArgs(p *domain.TrackedProduct) pgx.NamedArgs {
	return pgx.NamedArgs{
		"id":             p.ID,
		"url":            p.URL,
		"name":           p.Name,
		"rule_name":      p.RuleName,
		"selector":       p.Selector,
		"selector_type":  string(p.SelectorType),
		"fetch_mode":     string(p.FetchMode),
		"interval_ms":    p.Interval.Milliseconds(),
		"enabled":        p.Enabled,
		"target_price":   decimalText(p.TargetPrice),
		"notify_on_drop": p.NotifyOnDrop,
	}
}

// CreateProduct inserts a new tracked product, assigning an ID if unset.
func (s *PostgresStore) CreateProduct(ctx context.Context, p *domain.TrackedProduct) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	p.ID = newID(p.ID)

	err := s.pool.QueryRow(ctx, queryInsertProduct, productArgs(p)).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateURL
	}
	if err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by ID.
func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*domain.TrackedProduct, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	p, err := scanProduct(s.pool.QueryRow(ctx, queryGetProduct, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting product: %w", err)
	}
	return p, nil
}

// ListProducts returns all products, optionally only enabled ones.
func (s *PostgresStore) ListProducts(ctx context.Context, enabledOnly bool) ([]domain.TrackedProduct, error) {
	query := queryListProducts
	if enabledOnly {
		query = queryListEnabledProducts
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var products []domain.TrackedProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// UpdateProduct replaces a product's mutable fields.
func (s *PostgresStore) UpdateProduct(ctx context.Context, p *domain.TrackedProduct) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	if !validID(p.ID) {
		return ErrNotFound
	}
	err := s.pool.QueryRow(ctx, queryUpdateProduct, productArgs(p)).Scan(&p.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrDuplicateURL
	case err != nil:
		return fmt.Errorf("updating product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product and, when purgeHistory is set, its
// observations and change events in the same transaction.
func (s *PostgresStore) DeleteProduct(ctx context.Context, id string, purgeHistory bool) error {
	if !validID(id) {
		return ErrNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, queryDeleteProduct, id)
	if err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if purgeHistory {
		if err := pgPurgeHistory(ctx, tx, id); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// PurgeProductHistory deletes a product's observations and change events.
func (s *PostgresStore) PurgeProductHistory(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := pgPurgeHistory(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func pgPurgeHistory(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, queryDeleteObservationsForProduct, id); err != nil {
		return fmt.Errorf("purging observations: %w", err)
	}
	if _, err := tx.Exec(ctx, queryDeleteEventsForProduct, id); err != nil {
		return fmt.Errorf("purging change events: %w", err)
	}
	return nil
}

// SetProductEnabled enables or disables polling for a product.
func (s *PostgresStore) SetProductEnabled(ctx context.Context, id string, enabled bool) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.execOne(ctx, "setting product enabled", querySetProductEnabled, id, enabled)
}

// SetProductInterval changes how often a product is polled.
func (s *PostgresStore) SetProductInterval(ctx context.Context, id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("product interval must be positive, got %s", interval)
	}
	if !validID(id) {
		return ErrNotFound
	}
	return s.execOne(ctx, "setting product interval", querySetProductInterval, id, interval.Milliseconds())
}

// InsertObservation appends an observation, assigning an ID if unset.
func (s *PostgresStore) InsertObservation(ctx context.Context, o *domain.Observation) error {
	o.ID = newID(o.ID)
	_, err := s.pool.Exec(ctx, queryInsertObservation, pgx.NamedArgs{
		"id":            o.ID,
		"product_id":    o.ProductID,
		"observed_at":   o.ObservedAt,
		"amount":        o.Amount.String(),
		"currency":      o.Currency,
		"availability":  string(o.Availability),
		"extraction_ok": o.ExtractionOK,
		"strategy":      o.Strategy,
		"fetch_mode":    string(o.FetchMode),
	})
	if err != nil {
		return fmt.Errorf("inserting observation: %w", err)
	}
	return nil
}

// LatestObservation returns the most recent observation for a product.
func (s *PostgresStore) LatestObservation(ctx context.Context, productID string) (*domain.Observation, error) {
	if !validID(productID) {
		return nil, ErrNotFound
	}
	o, err := scanObservation(s.pool.QueryRow(ctx, queryLatestObservation, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest observation: %w", err)
	}
	return o, nil
}

// ListObservations returns up to limit of the newest observations for a
// product, oldest first.
func (s *PostgresStore) ListObservations(
	ctx context.Context,
	productID string,
	limit int,
) ([]domain.Observation, error) {
	if !validID(productID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, queryListObservations, productID, clampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying observations: %w", err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// DeleteObservationsBefore removes observations older than cutoff, keeping
// the newest observation of every product.
func (s *PostgresStore) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, queryDeleteObservationsBefore, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old observations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertEvent persists a change event, assigning an ID if unset.
func (s *PostgresStore) InsertEvent(ctx context.Context, e *domain.ChangeEvent) error {
	e.ID = newID(e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, queryInsertEvent, pgx.NamedArgs{
		"id":                      e.ID,
		"product_id":              e.ProductID,
		"previous_observation_id": e.PreviousObservationID,
		"new_observation_id":      e.NewObservationID,
		"kind":                    string(e.Kind),
		"old_amount":              decimalText(e.OldAmount),
		"new_amount":              decimalText(e.NewAmount),
		"currency":                e.Currency,
		"target_reached":          e.TargetReached,
		"detail":                  e.Detail,
		"notified":                e.Notified,
		"created_at":              e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("inserting change event: %w", err)
	}
	return nil
}

// ListEvents queries change events, newest first.
func (s *PostgresStore) ListEvents(ctx context.Context, q *EventQuery) ([]domain.ChangeEvent, error) {
	if q == nil {
		q = &EventQuery{}
	}
	if q.ProductID != nil && !validID(*q.ProductID) {
		return nil, nil
	}
	query, args := q.ToSQL(postgresDialect)
	return s.queryEvents(ctx, query, args...)
}

// ListPendingEvents returns notifiable events not yet delivered, oldest first.
func (s *PostgresStore) ListPendingEvents(ctx context.Context) ([]domain.ChangeEvent, error) {
	return s.queryEvents(ctx, queryListPendingEvents)
}

// MarkEventsNotified sets the delivery flag on the given events.
func (s *PostgresStore) MarkEventsNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, queryMarkEventsNotified, ids); err != nil {
		return fmt.Errorf("marking events notified: %w", err)
	}
	return nil
}

// InsertNotificationAttempt records the outcome of a notification send attempt.
func (s *PostgresStore) InsertNotificationAttempt(
	ctx context.Context,
	eventID string,
	succeeded bool,
	errText string,
) error {
	if _, err := s.pool.Exec(ctx, queryInsertNotificationAttempt, eventID, succeeded, errText); err != nil {
		return fmt.Errorf("inserting notification attempt: %w", err)
	}
	return nil
}

// GetSystemState returns aggregate counts in a single round trip.
func (s *PostgresStore) GetSystemState(ctx context.Context) (*domain.SystemState, error) {
	var st domain.SystemState
	if err := s.pool.QueryRow(ctx, querySystemState).Scan(
		&st.ProductsTotal, &st.ProductsEnabled, &st.ObservationsTotal,
		&st.EventsTotal, &st.EventsPending,
	); err != nil {
		return nil, fmt.Errorf("getting system state: %w", err)
	}
	return &st, nil
}

// InsertJobRun records the start of a scheduled job and returns its UUID.
func (s *PostgresStore) InsertJobRun(ctx context.Context, jobName string) (string, error) {
	var id string
	if err := s.pool.QueryRow(ctx, queryInsertJobRun, jobName).Scan(&id); err != nil {
		return "", fmt.Errorf("inserting job run: %w", err)
	}
	return id, nil
}

// CompleteJobRun marks a job run as finished with the given status and metadata.
func (s *PostgresStore) CompleteJobRun(
	ctx context.Context,
	id string,
	status string,
	errText string,
	rowsAffected int,
) error {
	_, err := s.pool.Exec(ctx, queryCompleteJobRun, id, status, errText, rowsAffected)
	if err != nil {
		return fmt.Errorf("completing job run: %w", err)
	}
	return nil
}

// ListLatestJobRuns returns the single most recent run for each distinct job name.
func (s *PostgresStore) ListLatestJobRuns(ctx context.Context) ([]domain.JobRun, error) {
	rows, err := s.pool.Query(ctx, queryListLatestJobRuns)
	if err != nil {
		return nil, fmt.Errorf("querying latest job runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.JobRun
	for rows.Next() {
		var r domain.JobRun
		if err := rows.Scan(
			&r.ID, &r.JobName, &r.StartedAt, &r.CompletedAt,
			&r.Status, &r.ErrorText, &r.RowsAffected,
		); err != nil {
			return nil, fmt.Errorf("scanning job run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecoverStaleJobRuns marks any 'running' job rows older than olderThan as 'crashed',
// then deletes rows past retention. Returns the number of rows marked as crashed.
func (s *PostgresStore) RecoverStaleJobRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now()

	tag, err := s.pool.Exec(ctx, queryMarkStaleJobRunsCrashed, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("marking stale job runs crashed: %w", err)
	}
	affected := int(tag.RowsAffected())

	if _, err := s.pool.Exec(ctx, queryDeleteOldJobRuns, now.Add(-jobRunRetention)); err != nil {
		return affected, fmt.Errorf("deleting old job runs: %w", err)
	}

	return affected, nil
}

func (s *PostgresStore) execOne(ctx context.Context, what, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.ChangeEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying change events: %w", err)
	}
	defer rows.Close()

	var events []domain.ChangeEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning change event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// scannable abstracts pgx.Row and pgx.Rows for reuse.
type scannable interface {
	Scan(dest ...any) error
}

func scanProduct(row scannable) (*domain.TrackedProduct, error) {
	var (
		p          domain.TrackedProduct
		intervalMS int64
		target     *string
	)
	if err := row.Scan(
		&p.ID, &p.URL, &p.Name, &p.RuleName, &p.Selector, &p.SelectorType, &p.FetchMode,
		&intervalMS, &p.Enabled, &target, &p.NotifyOnDrop, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Interval = time.Duration(intervalMS) * time.Millisecond
	tp, err := parseDecimalPtr(target)
	if err != nil {
		return nil, err
	}
	p.TargetPrice = tp
	return &p, nil
}

func scanObservation(row scannable) (*domain.Observation, error) {
	var (
		o      domain.Observation
		amount string
	)
	if err := row.Scan(
		&o.ID, &o.ProductID, &o.ObservedAt, &amount, &o.Currency,
		&o.Availability, &o.ExtractionOK, &o.Strategy, &o.FetchMode,
	); err != nil {
		return nil, err
	}
	a, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	o.Amount = a
	o.ObservedAt = o.ObservedAt.UTC()
	return &o, nil
}

func scanEvent(row scannable) (*domain.ChangeEvent, error) {
	var (
		e        domain.ChangeEvent
		oldAmt, newAmt *string
	)
	if err := row.Scan(
		&e.ID, &e.ProductID, &e.PreviousObservationID, &e.NewObservationID, &e.Kind,
		&oldAmt, &newAmt, &e.Currency, &e.TargetReached, &e.Detail, &e.Notified, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if e.OldAmount, err = parseDecimalPtr(oldAmt); err != nil {
		return nil, err
	}
	if e.NewAmount, err = parseDecimalPtr(newAmt); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// clampHistoryLimit bounds history reads. Zero means the default page.
func clampHistoryLimit(limit int) int {
	const maxHistory = 10000
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxHistory)
}
