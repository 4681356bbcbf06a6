package store

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// dialect captures the SQL differences between the backends.
type dialect struct {
	// placeholder renders the n-th bind parameter.
	placeholder func(n int) string
	// amount renders a money column so it scans into a string.
	amount func(col string) string
	// id renders an id column so it scans into a string.
	id func(col string) string
	// timeArg encodes a timestamp bind parameter.
	timeArg func(t time.Time) any
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	amount:      func(col string) string { return col + "::text" },
	id:          func(col string) string { return col + "::text" },
	timeArg:     func(t time.Time) any { return t },
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	amount:      func(col string) string { return col },
	id:          func(col string) string { return col },
	timeArg:     func(t time.Time) any { return t.UnixMicro() },
}

// clampLimit applies the default and maximum page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

func (d dialect) eventsSelect() string {
	return fmt.Sprintf(`SELECT id, product_id, COALESCE(%s, ''),
	COALESCE(%s, ''), kind, %s, %s, currency,
	target_reached, detail, notified, created_at
FROM change_events`,
		d.id("previous_observation_id"), d.id("new_observation_id"),
		d.amount("old_amount"), d.amount("new_amount"),
	)
}

// ToSQL builds the WHERE clause, ORDER BY, LIMIT and OFFSET for an event
// query, newest first, and returns the positional parameters.
func (q *EventQuery) ToSQL(d dialect) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if q.ProductID != nil {
		conditions = append(conditions, "product_id = "+bind(*q.ProductID))
	}

	if len(q.Kinds) > 0 {
		placeholders := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			placeholders[i] = bind(string(k))
		}
		conditions = append(conditions, fmt.Sprintf(
			"kind IN (%s)", strings.Join(placeholders, ", "),
		))
	}

	if q.Since != nil {
		conditions = append(conditions, "created_at >= "+bind(d.timeArg(*q.Since)))
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	offset := max(q.Offset, 0)

	return fmt.Sprintf(
		"%s%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d",
		d.eventsSelect(), whereClause, clampLimit(q.Limit), offset,
	), args
}
