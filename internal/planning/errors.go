package planning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	// ErrNoResults marks a search the portal explicitly answered with no matches.
	ErrNoResults = errors.New("no results")
	// ErrUnresolvable marks a postcode the geocoding service does not know.
	ErrUnresolvable = errors.New("postcode unresolvable")
	// ErrDisallowed marks a request refused by the site's robots.txt.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL        string
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.Code, e.URL)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests ||
		e.Code == http.StatusRequestTimeout ||
		e.Code >= http.StatusInternalServerError
}

// NotFound reports whether the resource is gone or never existed.
func (e *StatusError) NotFound() bool {
	return e.Code == http.StatusNotFound || e.Code == http.StatusGone
}

// ParseError is returned when a portal response cannot be interpreted. It
// only ever poisons the page it came from.
type ParseError struct {
	Page int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse page %d: %v", e.Page, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError wraps a parser failure.
func NewParseError(page int, format string, args ...any) *ParseError {
	return &ParseError{Page: page, Err: fmt.Errorf(format, args...)}
}

// PersistenceError is returned when shard or metadata storage fails.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsRetryable classifies an error as transient (true) or permanent (false).
// Unknown errors are treated as transient so a single flaky failure does not
// drop a page. Timeouts, including an http.Client timeout that wraps
// context.DeadlineExceeded, are transient; whether the caller's own context
// has ended is for the caller to check.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrNoResults) || errors.Is(err, ErrUnresolvable) || errors.Is(err, ErrDisallowed) {
		return false
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var persistErr *PersistenceError
	if errors.As(err, &persistErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	// Connection resets, timeouts and truncated bodies all land here.
	return true
}

// RetryAfter extracts a server-requested delay from err, if any.
func RetryAfter(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

// IsThrottled reports whether err is an HTTP 429.
func IsThrottled(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests
}
