package shotgrid

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is wrapped by every StubClient mutation.
var ErrNotConfigured = errors.New("shotgrid credentials not configured")

// RemoteConnectionError means the server could not be reached or refused
// the credentials.
type RemoteConnectionError struct {
	Server string
	Op     string
	Err    error
}

func (e *RemoteConnectionError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("shotgrid %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("shotgrid %s (%s): %v", e.Op, e.Server, e.Err)
}

func (e *RemoteConnectionError) Unwrap() error { return e.Err }

// RemoteMutationError is a failed create, update or upload. StatusCode is
// zero for transport failures.
type RemoteMutationError struct {
	Op         string
	EntityType string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteMutationError) Error() string {
	target := e.EntityType
	if e.Path != "" {
		target = fmt.Sprintf("%s for %s", e.EntityType, e.Path)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("shotgrid %s %s failed: HTTP %d: %s", e.Op, target, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("shotgrid %s %s failed: %v", e.Op, target, e.Err)
}

func (e *RemoteMutationError) Unwrap() error { return e.Err }

// IsRetryable returns true for server errors (5xx) and transport errors.
// Client errors (4xx) are considered permanent.
func (e *RemoteMutationError) IsRetryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil && !errors.Is(e.Err, ErrNotConfigured)
	}
	return e.StatusCode >= 500
}

// statusError is a non-2xx response before it is classified.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// mutationError converts a request failure into a *RemoteMutationError.
func mutationError(op, entityType, path string, err error) error {
	var me *RemoteMutationError
	if errors.As(err, &me) {
		return err
	}
	out := &RemoteMutationError{Op: op, EntityType: entityType, Path: path, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		out.StatusCode = se.StatusCode
		out.Body = se.Body
	}
	return out
}
