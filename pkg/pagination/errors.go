package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted is returned by Next when no pages are left.
	ErrExhausted = errors.New("pagination: no pages left")

	// ErrClosed is returned by any operation on a closed iterator.
	ErrClosed = errors.New("pagination: iterator closed")

	// ErrInvalidPayload is returned when a response body is not JSON.
	ErrInvalidPayload = errors.New("pagination: response body is not valid JSON")
)

// ResolutionError means the page count of a collection could not be
// determined. No iterator is built when it occurs.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve page count for %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// FetchError means a single page request failed. The iterator stays usable.
type FetchError struct {
	URL  string
	Page int
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d from %s: %v", e.Page, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid endpoint or filter combination.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
