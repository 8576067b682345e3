package queue

import "errors"

var (
	// ErrQueueClosed is returned when using a closed backend
	ErrQueueClosed = errors.New("queue: backend closed")

	// ErrNoHandler is returned for jobs whose type has no registered handler
	ErrNoHandler = errors.New("queue: no handler registered for job type")

	// ErrJobNotFound is returned when a dead job cannot be found for replay
	ErrJobNotFound = errors.New("queue: job not found")

	// ErrInvalidConfig is returned when the worker pool configuration is invalid
	ErrInvalidConfig = errors.New("queue: invalid worker pool configuration")

	// ErrPoolNotRunning is returned when stopping a pool that was never started
	ErrPoolNotRunning = errors.New("queue: worker pool is not running")
)

// PermanentError marks a handler failure that must not be retried
type PermanentError struct {
	Err error
}

// Error implements the error interface
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the job goes straight to the dead-letter path
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped by Permanent
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
