package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredentials means no API key is configured. Never retried.
	ErrMissingCredentials = errors.New("gateway: API key is missing")
	// ErrRateLimited means the remote quota was exceeded.
	ErrRateLimited = errors.New("gateway: rate limit exceeded, retry in a minute")
	// ErrAccessDenied means the key was rejected or the region is restricted.
	ErrAccessDenied = errors.New("gateway: access denied, check the API key or regional restrictions")
	// ErrUnavailable covers every other failure to reach the service.
	ErrUnavailable = errors.New("gateway: search engine unreachable")
)

// FormatError is returned when the remote answer is not the JSON shape expected.
type FormatError struct {
	Op     string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("gateway %s: invalid response format", strings.TrimSpace(e.Op))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// TransientError marks an error as retryable.
//
// The retry decorator retries transient failures with backoff rather than
// failing the action immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsFormatError reports whether err is (or wraps) a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
