package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// FetchErrorKind is the closed classification of fetch failures.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchTimeout        FetchErrorKind = "timeout"
	FetchAbort          FetchErrorKind = "abort"
	FetchNavigation     FetchErrorKind = "navigation"
	FetchExtraction     FetchErrorKind = "extraction"
	FetchInitialization FetchErrorKind = "initialization"
)

// FetchError wraps a fetch failure with its classification, the page it
// occurred on, and the attempt number that produced it.
type FetchError struct {
	Kind    FetchErrorKind
	PageID  int
	Attempt int
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error on page %d (attempt %d)", e.Kind, e.PageID, e.Attempt)
	}
	return fmt.Sprintf("%s error on page %d (attempt %d): %v", e.Kind, e.PageID, e.Attempt, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the orchestrator may retry after this error.
// Abort is cooperative cancellation; Initialization is fatal for the worker
// that hit it but not for the pool.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchTimeout, FetchNavigation, FetchExtraction:
		return true
	default:
		return false
	}
}

// NewFetchError builds a FetchError of an explicit kind.
func NewFetchError(kind FetchErrorKind, pageID, attempt int, err error) *FetchError {
	return &FetchError{Kind: kind, PageID: pageID, Attempt: attempt, Err: err}
}

// ClassifyFetchError converts an arbitrary fetch failure into the closed
// taxonomy. Already-classified errors pass through with page/attempt filled
// in when missing.
func ClassifyFetchError(err error, pageID, attempt int) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.PageID == 0 && pageID != 0 {
			fe.PageID = pageID
		}
		if fe.Attempt == 0 && attempt != 0 {
			fe.Attempt = attempt
		}
		return fe
	}
	kind := FetchNavigation
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = FetchTimeout
	case errors.Is(err, context.Canceled):
		kind = FetchAbort
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = FetchTimeout
		}
	}
	return &FetchError{Kind: kind, PageID: pageID, Attempt: attempt, Err: err}
}

// IsRetryableFetch reports whether err is a retryable fetch failure.
// Unclassified errors are considered retryable.
func IsRetryableFetch(err error) bool {
	if err == nil {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
