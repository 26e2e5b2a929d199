package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when required credentials or endpoints are missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotAllowed is returned when a remote API rejects the credentials (HTTP 403).
	ErrNotAllowed = errors.New("not allowed")
	// ErrNotFound is returned when a remote resource or a job record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record is not in the status the caller expected.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate is returned when a (provider, transcription job id) pair already exists.
	ErrDuplicate = errors.New("duplicate")
	// ErrNotArchived is returned when a media package has no snapshot in the asset store yet.
	ErrNotArchived = errors.New("media package not archived")
	// ErrInvalidInput is returned when a request is missing required values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotReady is returned when a remote job has no usable result yet.
	ErrNotReady = errors.New("not ready")
	// ErrDisabled is returned by every operation while the service is disabled.
	ErrDisabled = errors.New("service disabled")
)

// RemoteError describes a failed call to a remote API. Body holds the upstream
// response body verbatim for diagnostics.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
	// Kind is ErrNotAllowed, ErrNotFound or nil for a generic client error.
	Kind error
}

func (e *RemoteError) Error() string {
	kind := "client error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s (status %d): %s", e.Op, kind, e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error {
	return e.Kind
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not a RemoteError.
func StatusCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
