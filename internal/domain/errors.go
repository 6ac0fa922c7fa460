package domain

import "errors"

// Domain errors.
var (
	// ErrInvalidInput is the parent of every client-caused validation failure.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited is returned when a client exceeded its request quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstream is the parent of every extraction tool failure.
	ErrUpstream = errors.New("upstream failure")

	// ErrImageUpstream is returned when the image origin answered with a
	// non-2xx status or a non-image content type.
	ErrImageUpstream = errors.New("image upstream rejected request")

	// ErrImageFetch is returned when the image origin could not be reached.
	ErrImageFetch = errors.New("image fetch failed")

	// ErrCacheMiss is returned when no fresh cached info exists for a URL.
	ErrCacheMiss = errors.New("cache miss")
)

// FetchError wraps an error with the operation and URL it concerns.
type FetchError struct {
	Op  string
	URL string
	Err error
}

func (e *FetchError) Error() string {
	if e.URL != "" {
		return e.Op + " [" + e.URL + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(op, url string, err error) *FetchError {
	return &FetchError{
		Op:  op,
		URL: url,
		Err: err,
	}
}
