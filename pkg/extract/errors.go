package extract

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an extraction failure.
type ErrorKind string

// Extraction failure kinds.
const (
	KindNoStrategyMatched ErrorKind = "no_strategy_matched"
	KindAmbiguousPrices   ErrorKind = "ambiguous_multiple_prices"
	KindMalformedToken    ErrorKind = "malformed_price_token"
)

// Sentinel errors matched by errors.Is against an *Error.
var (
	ErrNoStrategyMatched   = errors.New("no extraction strategy matched")
	ErrAmbiguousPrices     = errors.New("ambiguous multiple prices")
	ErrMalformedPriceToken = errors.New("malformed price token")
)

// Error is a typed extraction failure.
type Error struct {
	Kind     ErrorKind
	Strategy string
	Detail   string
}

func (e *Error) Error() string {
	msg := e.sentinel().Error()
	if e.Strategy != "" {
		msg = fmt.Sprintf("%s (strategy %s)", msg, e.Strategy)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the sentinel error for the kind.
func (e *Error) Unwrap() error {
	return e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindAmbiguousPrices:
		return ErrAmbiguousPrices
	case KindMalformedToken:
		return ErrMalformedPriceToken
	default:
		return ErrNoStrategyMatched
	}
}

// KindOf returns the extraction failure kind of err, or "" when err is not
// an extraction error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
