// Package fetcher issues polite, retried HTTP GETs against the catalog site.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/hcpcs-cli/internal/resilience"
)

// Fetcher retrieves a page and returns its HTML.
type Fetcher interface {
	// Fetch GETs the URL. Failures are returned as *FetchError.
	Fetch(ctx context.Context, url string) (string, error)
}

// ErrorKind separates failures worth retrying later from those that are not.
type ErrorKind string

const (
	// Transient failures were retried and still failed: network errors,
	// timeouts, 5xx and soft blocks.
	Transient ErrorKind = "transient"
	// Permanent failures were not retried: 4xx other than 403/408/429,
	// malformed URLs and unknown hosts.
	Permanent ErrorKind = "permanent"
)

// FetchError is the error returned by Fetch.
type FetchError struct {
	Kind   ErrorKind
	Status int
	URL    string
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: %s failure (status %d): %v", e.URL, e.Kind, e.Status, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %s failure: %v", e.URL, e.Kind, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the failure was retryable.
func (e *FetchError) Transient() bool {
	return e.Kind == Transient
}

// AsFetchError extracts a *FetchError from err's chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// classify converts whatever the retry loop gave up with into a FetchError.
func classify(rawURL string, err error) *FetchError {
	if fe, ok := AsFetchError(err); ok {
		return fe
	}
	fe := &FetchError{Kind: Permanent, URL: rawURL, Cause: err}
	var te *resilience.TransientError
	if errors.As(err, &te) {
		fe.Kind = Transient
		fe.Status = te.StatusCode
		return fe
	}
	if resilience.IsTransient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		fe.Kind = Transient
	}
	return fe
}
