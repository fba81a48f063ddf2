// Package apperr defines the error taxonomy shared by the sync engine and its shells.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrMissingData  = errors.New("missing data")
	ErrInvalidInput = errors.New("invalid input")
)

// CodeTransport is the RemoteError code used when no HTTP status was received.
const CodeTransport = -1

// RemoteError is a failed call to the admin API. Code is the HTTP status, or
// CodeTransport for failures before a response arrived.
type RemoteError struct {
	Code    int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("remote: %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("remote: %d: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is maps well-known status codes onto the sentinels so callers can branch
// with errors.Is without inspecting codes.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrConflict:
		return e.Code == http.StatusConflict
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

// Remote builds a RemoteError for an HTTP status.
func Remote(code int, msg string) error {
	return &RemoteError{Code: code, Message: msg}
}

// Transport wraps a failure that happened before any response was received.
func Transport(err error) error {
	return &RemoteError{Code: CodeTransport, Err: err}
}

// MissingData reports a successful response whose payload was empty.
func MissingData(what string) error {
	return fmt.Errorf("%w: %s", ErrMissingData, what)
}

// IsUnauthorized reports whether err is an authorization failure; callers
// should prompt for new credentials instead of retrying.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Code returns the remote status code carried by err, or 0.
func Code(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	return 0
}
