// Package domain defines the core business types for the price watcher.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Availability is the stock state reported by a product page.
type Availability string

// Availability constants.
const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
	AvailabilityUnknown    Availability = "unknown"
)

// FetchMode selects how a page is retrieved.
type FetchMode string

// Fetch mode constants. FetchModeAuto defers to the site rule.
const (
	FetchModeAuto    FetchMode = "auto"
	FetchModeHTTP    FetchMode = "http"
	FetchModeBrowser FetchMode = "browser"
)

// Valid reports whether m is a known fetch mode.
func (m FetchMode) Valid() bool {
	switch m {
	case FetchModeAuto, FetchModeHTTP, FetchModeBrowser:
		return true
	default:
		return false
	}
}

// SelectorType is the query language of a per-product selector override.
type SelectorType string

// Selector type constants.
const (
	SelectorCSS   SelectorType = "css"
	SelectorXPath SelectorType = "xpath"
)

// ChangeKind classifies the delta between two consecutive observations.
type ChangeKind string

// Change kind constants.
const (
	ChangeBaseline    ChangeKind = "baseline"
	ChangePriceDrop   ChangeKind = "price_drop"
	ChangePriceRise   ChangeKind = "price_rise"
	ChangeBackInStock ChangeKind = "back_in_stock"
	ChangeOutOfStock  ChangeKind = "out_of_stock"
	ChangeNoChange    ChangeKind = "no_change"
	ChangeParseError  ChangeKind = "parse_error"
)

// TrackedProduct is a product page the user asked to watch.
type TrackedProduct struct {
	ID           string           `json:"id"                      db:"id"`
	URL          string           `json:"url"                     db:"url"`
	Name         string           `json:"name"                    db:"name"`
	RuleName     string           `json:"rule_name,omitempty"     db:"rule_name"`
	Selector     string           `json:"selector,omitempty"      db:"selector"`
	SelectorType SelectorType     `json:"selector_type,omitempty" db:"selector_type"`
	FetchMode    FetchMode        `json:"fetch_mode"              db:"fetch_mode"`
	Interval     time.Duration    `json:"interval"                db:"interval_seconds"`
	Enabled      bool             `json:"enabled"                 db:"enabled"`
	TargetPrice  *decimal.Decimal `json:"target_price,omitempty"  db:"target_price"`
	NotifyOnDrop bool             `json:"notify_on_drop"          db:"notify_on_drop"`
	CreatedAt    time.Time        `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"              db:"updated_at"`
}

// Observation is a single timestamped price and availability reading.
// Observations are immutable once stored.
type Observation struct {
	ID           string          `json:"id"                   db:"id"`
	ProductID    string          `json:"product_id"           db:"product_id"`
	ObservedAt   time.Time       `json:"observed_at"          db:"observed_at"`
	Amount       decimal.Decimal `json:"amount"               db:"amount"`
	Currency     string          `json:"currency"             db:"currency"`
	Availability Availability    `json:"availability"         db:"availability"`
	ExtractionOK bool            `json:"extraction_ok"        db:"extraction_ok"`
	Strategy     string          `json:"strategy,omitempty"   db:"strategy"`
	FetchMode    FetchMode       `json:"fetch_mode,omitempty" db:"fetch_mode"`
}


// SameReading reports whether o and other carry an identical price,
// currency and availability.
func (o *Observation) SameReading(other *Observation) bool {
	return o.Amount.Equal(other.Amount) &&
		o.Currency == other.Currency &&
		o.Availability == other.Availability
}

// ChangeEvent is the classified delta between two consecutive observations.
// A baseline references only the new observation; a parse-error marker
// references only the previous one, if any.
type ChangeEvent struct {
	ID                    string           `json:"id"                                db:"id"`
	ProductID             string           `json:"product_id"                        db:"product_id"`
	PreviousObservationID string           `json:"previous_observation_id,omitempty" db:"previous_observation_id"`
	NewObservationID      string           `json:"new_observation_id,omitempty"      db:"new_observation_id"`
	Kind                  ChangeKind       `json:"kind"                              db:"kind"`
	OldAmount             *decimal.Decimal `json:"old_amount,omitempty"              db:"old_amount"`
	NewAmount             *decimal.Decimal `json:"new_amount,omitempty"              db:"new_amount"`
	Currency              string           `json:"currency,omitempty"                db:"currency"`
	TargetReached         bool             `json:"target_reached"                    db:"target_reached"`
	Detail                string           `json:"detail,omitempty"                  db:"detail"`
	Notified              bool             `json:"notified"                          db:"notified"`
	CreatedAt             time.Time        `json:"created_at"                        db:"created_at"`
}

// ChangePercent returns the relative price change in percent, or zero when
// either amount is missing or the old amount is zero.
func (e *ChangeEvent) ChangePercent() decimal.Decimal {
	if e.OldAmount == nil || e.NewAmount == nil || e.OldAmount.IsZero() {
		return decimal.Zero
	}
	return e.NewAmount.Sub(*e.OldAmount).Div(*e.OldAmount).Mul(decimal.NewFromInt(100)).Round(2)
}

// RawPage is the content retrieved for a URL by a single fetch attempt.
type RawPage struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url"`
	StatusCode int           `json:"status_code"`
	Body       []byte        `json:"-"`
	Mode       FetchMode     `json:"mode"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Elapsed    time.Duration `json:"elapsed"`
}

// ScheduleState is a tracked product's position in the scheduler's
// state machine.
type ScheduleState string

// Schedule state constants.
const (
	StateIdle     ScheduleState = "idle"
	StateDue      ScheduleState = "due"
	StateFetching ScheduleState = "fetching"
	StateBackoff  ScheduleState = "backoff"
	StateDisabled ScheduleState = "disabled"
)

// ProductStatus is the scheduler's view of one tracked product.
type ProductStatus struct {
	ProductID           string        `json:"product_id"`
	State               ScheduleState `json:"state"`
	NextDueAt           time.Time     `json:"next_due_at"`
	LastAttemptAt       *time.Time    `json:"last_attempt_at,omitempty"`
	LastSuccessAt       *time.Time    `json:"last_success_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	BackoffDelay        time.Duration `json:"backoff_delay"`
	LastErrorKind       string        `json:"last_error_kind,omitempty"`
	Degraded            bool          `json:"degraded"`
}

// JobRun records a single execution of a scheduled job.
type JobRun struct {
	ID           string     `json:"id"                      db:"id"`
	JobName      string     `json:"job_name"                db:"job_name"`
	StartedAt    time.Time  `json:"started_at"              db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"  db:"completed_at"`
	Status       string     `json:"status"                  db:"status"`
	ErrorText    string     `json:"error_text,omitempty"    db:"error_text"`
	RowsAffected *int       `json:"rows_affected,omitempty" db:"rows_affected"`
}

// SystemState holds aggregate counts for the status endpoint.
type SystemState struct {
	ProductsTotal     int `json:"products_total"`
	ProductsEnabled   int `json:"products_enabled"`
	ProductsDegraded  int `json:"products_degraded"`
	ObservationsTotal int `json:"observations_total"`
	EventsTotal       int `json:"events_total"`
	EventsPending     int `json:"events_pending"`
}
