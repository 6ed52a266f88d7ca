package logging

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig   = errors.New("invalid config")
	ErrShutdownTimeout = errors.New("shutdown timed out before all records were delivered")
	ErrStopped         = errors.New("processor stopped")
)

// SendError is returned by a LogSender when a request fails.
type SendError struct {
	StatusCode int // 0 when no response was received
	Retryable  bool
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("send failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a failed send is worth another attempt.
// Errors that are not a *SendError are treated as transient network failures,
// except for cancellation of the caller's context.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return !errors.Is(err, context.Canceled)
}

// DeliveryError reports a batch that was dropped.
type DeliveryError struct {
	BatchID  string
	Records  int
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("batch %s dropped after %d attempt(s) (%d records): %v", e.BatchID, e.Attempts, e.Records, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
