package remote

import (
	"errors"
	"fmt"

	"github.com/rcliao/senja-sync/internal/model"
)

// Sentinel errors for programmatic handling.
var (
	ErrNotConfigured  = errors.New("remote endpoint not configured")
	ErrNetworkFailure = errors.New("network failure")
	ErrServerError    = errors.New("server error")
	ErrRejected       = errors.New("request rejected")
	ErrBadPayload     = errors.New("undecodable payload")
)

// TransportError wraps a failed exchange with the remote endpoint.
type TransportError struct {
	Op         string // "pull" or "push <Collection>"
	StatusCode int    // HTTP status, 0 when no response arrived
	Attempts   int
	Detail     string // start of the response body, if any
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedDataError reports a pulled collection that is not a list of rows.
type MalformedDataError struct {
	Collection model.Collection
	Got        string
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed %s data: expected array, got %s", e.Collection, e.Got)
}
