package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrBackfillInProgress is returned when a pass is already running
	ErrBackfillInProgress = errors.New("backfill already in progress")
)
