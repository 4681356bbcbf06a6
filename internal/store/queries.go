package store

// SQL query constants for PostgreSQL, organized by entity.
// Money columns are bound as text and cast, and read back as text, so
// amounts round-trip without going through float64.

// Product queries.
const (
	queryInsertProduct = `
		INSERT INTO products (
			id, url, name, rule_name, selector, selector_type, fetch_mode,
			interval_ms, enabled, target_price, notify_on_drop, created_at, updated_at
		) VALUES (
			@id, @url, @name, @rule_name, @selector, @selector_type, @fetch_mode,
			@interval_ms, @enabled, @target_price::text::numeric, @notify_on_drop, now(), now()
		)
		RETURNING created_at, updated_at`

	selectProductColumns = `
		SELECT id, url, name, rule_name, selector, selector_type, fetch_mode,
			interval_ms, enabled, target_price::text, notify_on_drop, created_at, updated_at
		FROM products`

	queryGetProduct = selectProductColumns + `
		WHERE id = $1`

	queryListProducts = selectProductColumns + `
		ORDER BY created_at, id`

	queryListEnabledProducts = selectProductColumns + `
		WHERE enabled = true
		ORDER BY created_at, id`

	queryUpdateProduct = `
		UPDATE products SET
			url            = @url,
			name           = @name,
			rule_name      = @rule_name,
			selector       = @selector,
			selector_type  = @selector_type,
			fetch_mode     = @fetch_mode,
			interval_ms    = @interval_ms,
			enabled        = @enabled,
			target_price   = @target_price::text::numeric,
			notify_on_drop = @notify_on_drop,
			updated_at     = now()
		WHERE id = @id
		RETURNING updated_at`

	queryDeleteProduct = `DELETE FROM products WHERE id = $1`

	querySetProductEnabled = `
		UPDATE products SET enabled = $2, updated_at = now() WHERE id = $1`

	querySetProductInterval = `
		UPDATE products SET interval_ms = $2, updated_at = now() WHERE id = $1`
)

// Observation queries.
const (
	queryInsertObservation = `
		INSERT INTO observations (
			id, product_id, observed_at, amount, currency,
			availability, extraction_ok, strategy, fetch_mode
		) VALUES (
			@id, @product_id, @observed_at, @amount::text::numeric, @currency,
			@availability, @extraction_ok, @strategy, @fetch_mode
		)`

	selectObservationColumns = `
		SELECT id, product_id, observed_at, amount::text, currency,
			availability, extraction_ok, strategy, fetch_mode
		FROM observations`

	queryLatestObservation = selectObservationColumns + `
		WHERE product_id = $1
		ORDER BY observed_at DESC
		LIMIT 1`

	// Newest N, returned oldest first.
	queryListObservations = `
		SELECT * FROM (` + selectObservationColumns + `
			WHERE product_id = $1
			ORDER BY observed_at DESC
			LIMIT $2
		) recent
		ORDER BY observed_at ASC`

	queryDeleteObservationsForProduct = `DELETE FROM observations WHERE product_id = $1`

	// The newest observation of each product survives so the next reading
	// still has a predecessor.
	queryDeleteObservationsBefore = `
		DELETE FROM observations
		WHERE observed_at < $1
		  AND observed_at < (
			SELECT MAX(newest.observed_at) FROM observations newest
			WHERE newest.product_id = observations.product_id
		  )`
)

// Change event queries.
const (
	queryInsertEvent = `
		INSERT INTO change_events (
			id, product_id, previous_observation_id, new_observation_id, kind,
			old_amount, new_amount, currency, target_reached, detail, notified, created_at
		) VALUES (
			@id, @product_id, NULLIF(@previous_observation_id, '')::uuid,
			NULLIF(@new_observation_id, '')::uuid, @kind,
			@old_amount::text::numeric, @new_amount::text::numeric, @currency,
			@target_reached, @detail, @notified, @created_at
		)`

	// Only drops, restocks and target hits are worth a notification.
	queryListPendingEvents = `
		SELECT id, product_id, COALESCE(previous_observation_id::text, ''),
			COALESCE(new_observation_id::text, ''), kind, old_amount::text, new_amount::text,
			currency, target_reached, detail, notified, created_at
		FROM change_events
		WHERE notified = false
		  AND (kind IN ('price_drop', 'back_in_stock') OR target_reached)
		ORDER BY created_at ASC`

	queryMarkEventsNotified = `
		UPDATE change_events SET
			notified = true,
			notified_at = now()
		WHERE id = ANY($1)`

	queryDeleteEventsForProduct = `DELETE FROM change_events WHERE product_id = $1`

	queryInsertNotificationAttempt = `
		INSERT INTO notification_attempts (event_id, succeeded, error_text)
		VALUES ($1, $2, NULLIF($3, ''))`
)

// Count queries.
const (
	querySystemState = `
		SELECT
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM products WHERE enabled = true),
			(SELECT COUNT(*) FROM observations),
			(SELECT COUNT(*) FROM change_events),
			(SELECT COUNT(*) FROM change_events
				WHERE notified = false
				  AND (kind IN ('price_drop', 'back_in_stock') OR target_reached))`
)

// Scheduler queries.
const (
	queryInsertJobRun = `
		INSERT INTO job_runs (job_name)
		VALUES ($1)
		RETURNING id`

	queryCompleteJobRun = `
		UPDATE job_runs SET
			completed_at  = now(),
			status        = $2,
			error_text    = $3,
			rows_affected = $4
		WHERE id = $1`

	queryListLatestJobRuns = `
		SELECT DISTINCT ON (job_name)
			id, job_name, started_at, completed_at, status,
			COALESCE(error_text, ''), rows_affected
		FROM job_runs
		ORDER BY job_name, started_at DESC`

	queryMarkStaleJobRunsCrashed = `
		UPDATE job_runs SET
			status       = 'crashed',
			completed_at = now()
		WHERE status = 'running' AND started_at < $1`

	queryDeleteOldJobRuns = `
		DELETE FROM job_runs WHERE started_at < $1`
)
