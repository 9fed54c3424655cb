package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrCanceled is returned when the caller cancels an analysis.
var ErrCanceled = errors.New("analysis canceled")

// ConfigurationError rejects a request before any network call.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// APIError is a non-2xx or unusable provider response.
type APIError struct {
	Provider   string
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Stage names the budget a TimeoutError exceeded.
type Stage string

const (
	StageAttempt  Stage = "attempt"
	StageStream   Stage = "stream"
	StageStall    Stage = "stall"
	StageDeadline Stage = "deadline" // the caller's own context deadline
)

// TimeoutError reports an exceeded attempt, stream or stall budget.
type TimeoutError struct {
	Provider string
	Stage    Stage
	After    time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	switch e.Stage {
	case StageStall:
		return fmt.Sprintf("%s: stream stalled, no data for %s", e.Provider, e.After)
	case StageStream:
		return fmt.Sprintf("%s: stream did not finish within %s", e.Provider, e.After)
	case StageDeadline:
		return fmt.Sprintf("%s: caller deadline exceeded", e.Provider)
	default:
		return fmt.Sprintf("%s: request timed out after %s", e.Provider, e.After)
	}
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError is a transport failure other than a timeout.
type NetworkError struct {
	Provider string
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error calling %s: %v", e.Provider, e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every endpoint failed after retries.
// It unwraps to the last attempt's error.
type ExhaustedError struct {
	Provider string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: no endpoint reachable", e.Provider)
	}
	return fmt.Sprintf("%s: all endpoints failed after %d attempts: %v", e.Provider, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
