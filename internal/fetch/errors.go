package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a failed fetch attempt.
type ErrorKind string

// Fetch failure kinds.
const (
	KindTimeout      ErrorKind = "timeout"
	KindNetwork      ErrorKind = "network_unreachable"
	KindHTTP         ErrorKind = "http_error"
	KindBlocked      ErrorKind = "blocked_by_site"
	KindBrowserCrash ErrorKind = "browser_crash"
	KindInvalidURL   ErrorKind = "invalid_url"
)

// ErrBrowserUnavailable is returned for browser fetches when no browser
// pool is configured.
var ErrBrowserUnavailable = errors.New("browser fetching is not enabled")

// Error is a typed fetch failure.
type Error struct {
	Kind   ErrorKind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetching %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the fetch failure kind of err, or "" when err is not a
// fetch error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsBlocked reports whether err is a blocked-by-site failure.
func IsBlocked(err error) bool {
	return KindOf(err) == KindBlocked
}

// classifyTransport maps a transport-level error to a failure kind.
func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	// DNS failures, refused connections and everything else below HTTP.
	return KindNetwork
}
