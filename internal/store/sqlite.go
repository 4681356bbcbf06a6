package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// SQLite query constants. Timestamps are unix microseconds.
const (
	sqliteInsertProduct = `
		INSERT INTO products (
			id, url, name, rule_name, selector, selector_type, fetch_mode,
			interval_ms, enabled, target_price, notify_on_drop, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqliteSelectProduct = `
		SELECT id, url, name, rule_name, selector, selector_type, fetch_mode,
			interval_ms, enabled, target_price, notify_on_drop, created_at, updated_at
		FROM products`

	sqliteUpdateProduct = `
		UPDATE products SET
			url = ?, name = ?, rule_name = ?, selector = ?, selector_type = ?,
			fetch_mode = ?, interval_ms = ?, enabled = ?, target_price = ?,
			notify_on_drop = ?, updated_at = ?
		WHERE id = ?`

	sqliteInsertObservation = `
		INSERT INTO observations (
			id, product_id, observed_at, amount, currency,
			availability, extraction_ok, strategy, fetch_mode
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqliteSelectObservation = `
		SELECT id, product_id, observed_at, amount, currency,
			availability, extraction_ok, strategy, fetch_mode
		FROM observations`

	sqliteInsertEvent = `
		INSERT INTO change_events (
			id, product_id, previous_observation_id, new_observation_id, kind,
			old_amount, new_amount, currency, target_reached, detail, notified, created_at
		) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlitePendingFilter = `notified = 0
		AND (kind IN ('price_drop', 'back_in_stock') OR target_reached = 1)`

	sqliteSystemState = `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM products WHERE enabled = 1),
			(SELECT COUNT(*) FROM observations),
			(SELECT COUNT(*) FROM change_events),
			(SELECT COUNT(*) FROM change_events WHERE ` + sqlitePendingFilter + `)`

	sqliteListLatestJobRuns = `
		SELECT id, job_name, started_at, completed_at, status,
			COALESCE(error_text, ''), rows_affected
		FROM job_runs j
		WHERE started_at = (
			SELECT MAX(started_at) FROM job_runs WHERE job_name = j.job_name
		)
		ORDER BY job_name`
)

// SQLiteStore implements Store on an embedded SQLite database, for single
// node deployments that do not want to run PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending SQL schema migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return runSQLiteMigrations(ctx, s.db)
}

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

// CreateProduct inserts a new tracked product, assigning an ID if unset.
func (s *SQLiteStore) CreateProduct(ctx context.Context, p *domain.TrackedProduct) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	p.ID = newID(p.ID)
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := s.db.ExecContext(ctx, sqliteInsertProduct,
		p.ID, p.URL, p.Name, p.RuleName, p.Selector, string(p.SelectorType), string(p.FetchMode),
		p.Interval.Milliseconds(), p.Enabled, decimalText(p.TargetPrice), p.NotifyOnDrop,
		micros(now), micros(now),
	)
	if isSQLiteUnique(err) {
		return ErrDuplicateURL
	}
	if err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// GetProduct retrieves a product by ID.
func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*domain.TrackedProduct, error) {
	p, err := scanSQLiteProduct(s.db.QueryRowContext(ctx, sqliteSelectProduct+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting product: %w", err)
	}
	return p, nil
}

// ListProducts returns all products, optionally only enabled ones.
func (s *SQLiteStore) ListProducts(ctx context.Context, enabledOnly bool) ([]domain.TrackedProduct, error) {
	query := sqliteSelectProduct
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var products []domain.TrackedProduct
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// UpdateProduct replaces a product's mutable fields.
func (s *SQLiteStore) UpdateProduct(ctx context.Context, p *domain.TrackedProduct) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	res, err := s.db.ExecContext(ctx, sqliteUpdateProduct,
		p.URL, p.Name, p.RuleName, p.Selector, string(p.SelectorType), string(p.FetchMode),
		p.Interval.Milliseconds(), p.Enabled, decimalText(p.TargetPrice), p.NotifyOnDrop,
		micros(now), p.ID,
	)
	if isSQLiteUnique(err) {
		return ErrDuplicateURL
	}
	if err := oneRow(res, err, "updating product"); err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

// DeleteProduct removes a product and optionally its history.
func (s *SQLiteStore) DeleteProduct(ctx context.Context, id string, purgeHistory bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err := oneRow(res, err, "deleting product"); err != nil {
		return err
	}

	if purgeHistory {
		if err := sqlitePurgeHistory(ctx, tx, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// PurgeProductHistory deletes a product's observations and change events.
func (s *SQLiteStore) PurgeProductHistory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := sqlitePurgeHistory(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func sqlitePurgeHistory(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM observations WHERE product_id = ?", id); err != nil {
		return fmt.Errorf("purging observations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM change_events WHERE product_id = ?", id); err != nil {
		return fmt.Errorf("purging change events: %w", err)
	}
	return nil
}

// SetProductEnabled enables or disables polling for a product.
func (s *SQLiteStore) SetProductEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, micros(time.Now()), id,
	)
	return oneRow(res, err, "setting product enabled")
}

// SetProductInterval changes how often a product is polled.
func (s *SQLiteStore) SetProductInterval(ctx context.Context, id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("product interval must be positive, got %s", interval)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET interval_ms = ?, updated_at = ? WHERE id = ?",
		interval.Milliseconds(), micros(time.Now()), id,
	)
	return oneRow(res, err, "setting product interval")
}

// InsertObservation appends an observation, assigning an ID if unset.
func (s *SQLiteStore) InsertObservation(ctx context.Context, o *domain.Observation) error {
	o.ID = newID(o.ID)
	_, err := s.db.ExecContext(ctx, sqliteInsertObservation,
		o.ID, o.ProductID, micros(o.ObservedAt), o.Amount.String(), o.Currency,
		string(o.Availability), o.ExtractionOK, o.Strategy, string(o.FetchMode),
	)
	if err != nil {
		return fmt.Errorf("inserting observation: %w", err)
	}
	return nil
}

// LatestObservation returns the most recent observation for a product.
func (s *SQLiteStore) LatestObservation(ctx context.Context, productID string) (*domain.Observation, error) {
	o, err := scanSQLiteObservation(s.db.QueryRowContext(ctx,
		sqliteSelectObservation+" WHERE product_id = ? ORDER BY observed_at DESC LIMIT 1",
		productID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest observation: %w", err)
	}
	return o, nil
}

// ListObservations returns up to limit of the newest observations for a
// product, oldest first.
func (s *SQLiteStore) ListObservations(
	ctx context.Context,
	productID string,
	limit int,
) ([]domain.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT * FROM ("+sqliteSelectObservation+
			" WHERE product_id = ? ORDER BY observed_at DESC LIMIT ?) ORDER BY observed_at ASC",
		productID, clampHistoryLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying observations: %w", err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		o, err := scanSQLiteObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// DeleteObservationsBefore removes observations older than cutoff, keeping
// the newest observation of every product.
func (s *SQLiteStore) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, sqliteDeleteObservationsBefore, micros(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old observations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const sqliteDeleteObservationsBefore = `
	DELETE FROM observations
	WHERE observed_at < ?
	  AND observed_at < (
		SELECT MAX(newest.observed_at) FROM observations newest
		WHERE newest.product_id = observations.product_id
	  )`

// InsertEvent persists a change event, assigning an ID if unset.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e *domain.ChangeEvent) error {
	e.ID = newID(e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, sqliteInsertEvent,
		e.ID, e.ProductID, e.PreviousObservationID, e.NewObservationID, string(e.Kind),
		decimalText(e.OldAmount), decimalText(e.NewAmount), e.Currency,
		e.TargetReached, e.Detail, e.Notified, micros(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting change event: %w", err)
	}
	return nil
}

// ListEvents queries change events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, q *EventQuery) ([]domain.ChangeEvent, error) {
	if q == nil {
		q = &EventQuery{}
	}
	query, args := q.ToSQL(sqliteDialect)
	return s.queryEvents(ctx, query, args...)
}

// ListPendingEvents returns notifiable events not yet delivered, oldest first.
func (s *SQLiteStore) ListPendingEvents(ctx context.Context) ([]domain.ChangeEvent, error) {
	return s.queryEvents(ctx,
		sqliteDialect.eventsSelect()+" WHERE "+sqlitePendingFilter+" ORDER BY created_at ASC",
	)
}

// MarkEventsNotified sets the delivery flag on the given events.
func (s *SQLiteStore) MarkEventsNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, micros(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}
	query := "UPDATE change_events SET notified = 1, notified_at = ? WHERE id IN (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking events notified: %w", err)
	}
	return nil
}

// InsertNotificationAttempt records the outcome of a notification send attempt.
func (s *SQLiteStore) InsertNotificationAttempt(
	ctx context.Context,
	eventID string,
	succeeded bool,
	errText string,
) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO notification_attempts (event_id, succeeded, error_text, attempted_at) VALUES (?, ?, NULLIF(?, ''), ?)",
		eventID, succeeded, errText, micros(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inserting notification attempt: %w", err)
	}
	return nil
}

// GetSystemState returns aggregate counts.
func (s *SQLiteStore) GetSystemState(ctx context.Context) (*domain.SystemState, error) {
	var st domain.SystemState
	if err := s.db.QueryRowContext(ctx, sqliteSystemState).Scan(
		&st.ProductsTotal, &st.ProductsEnabled, &st.ObservationsTotal,
		&st.EventsTotal, &st.EventsPending,
	); err != nil {
		return nil, fmt.Errorf("getting system state: %w", err)
	}
	return &st, nil
}

// InsertJobRun records the start of a scheduled job and returns its ID.
func (s *SQLiteStore) InsertJobRun(ctx context.Context, jobName string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO job_runs (id, job_name, started_at, status) VALUES (?, ?, ?, ?)",
		id, jobName, micros(time.Now()), JobRunning,
	)
	if err != nil {
		return "", fmt.Errorf("inserting job run: %w", err)
	}
	return id, nil
}

// CompleteJobRun marks a job run as finished.
func (s *SQLiteStore) CompleteJobRun(
	ctx context.Context,
	id string,
	status string,
	errText string,
	rowsAffected int,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE job_runs SET completed_at = ?, status = ?, error_text = ?, rows_affected = ? WHERE id = ?",
		micros(time.Now()), status, errText, rowsAffected, id,
	)
	if err != nil {
		return fmt.Errorf("completing job run: %w", err)
	}
	return nil
}

// ListLatestJobRuns returns the single most recent run for each job name.
func (s *SQLiteStore) ListLatestJobRuns(ctx context.Context) ([]domain.JobRun, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListLatestJobRuns)
	if err != nil {
		return nil, fmt.Errorf("querying latest job runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.JobRun
	for rows.Next() {
		var (
			r         domain.JobRun
			started   int64
			completed sql.NullInt64
			affected  sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.JobName, &started, &completed, &r.Status, &r.ErrorText, &affected); err != nil {
			return nil, fmt.Errorf("scanning job run: %w", err)
		}
		r.StartedAt = fromMicros(started)
		if completed.Valid {
			t := fromMicros(completed.Int64)
			r.CompletedAt = &t
		}
		if affected.Valid {
			n := int(affected.Int64)
			r.RowsAffected = &n
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecoverStaleJobRuns marks running jobs older than olderThan as crashed
// and drops rows past retention.
func (s *SQLiteStore) RecoverStaleJobRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE job_runs SET status = ?, completed_at = ? WHERE status = ? AND started_at < ?",
		JobCrashed, micros(now), JobRunning, micros(now.Add(-olderThan)),
	)
	if err != nil {
		return 0, fmt.Errorf("marking stale job runs crashed: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM job_runs WHERE started_at < ?", micros(now.Add(-jobRunRetention)),
	); err != nil {
		return int(n), fmt.Errorf("deleting old job runs: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying change events: %w", err)
	}
	defer rows.Close()

	var events []domain.ChangeEvent
	for rows.Next() {
		var (
			e              domain.ChangeEvent
			oldAmt, newAmt *string
			created        int64
		)
		if err := rows.Scan(
			&e.ID, &e.ProductID, &e.PreviousObservationID, &e.NewObservationID, &e.Kind,
			&oldAmt, &newAmt, &e.Currency, &e.TargetReached, &e.Detail, &e.Notified, &created,
		); err != nil {
			return nil, fmt.Errorf("scanning change event: %w", err)
		}
		if e.OldAmount, err = parseDecimalPtr(oldAmt); err != nil {
			return nil, err
		}
		if e.NewAmount, err = parseDecimalPtr(newAmt); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMicros(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanSQLiteProduct(row scannable) (*domain.TrackedProduct, error) {
	var (
		p                domain.TrackedProduct
		intervalMS       int64
		target           *string
		created, updated int64
	)
	if err := row.Scan(
		&p.ID, &p.URL, &p.Name, &p.RuleName, &p.Selector, &p.SelectorType, &p.FetchMode,
		&intervalMS, &p.Enabled, &target, &p.NotifyOnDrop, &created, &updated,
	); err != nil {
		return nil, err
	}
	p.Interval = time.Duration(intervalMS) * time.Millisecond
	p.CreatedAt = fromMicros(created)
	p.UpdatedAt = fromMicros(updated)
	tp, err := parseDecimalPtr(target)
	if err != nil {
		return nil, err
	}
	p.TargetPrice = tp
	return &p, nil
}

func scanSQLiteObservation(row scannable) (*domain.Observation, error) {
	var (
		o        domain.Observation
		observed int64
		amount   string
	)
	if err := row.Scan(
		&o.ID, &o.ProductID, &observed, &amount, &o.Currency,
		&o.Availability, &o.ExtractionOK, &o.Strategy, &o.FetchMode,
	); err != nil {
		return nil, err
	}
	a, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	o.Amount = a
	o.ObservedAt = fromMicros(observed)
	return &o, nil
}

func oneRow(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
