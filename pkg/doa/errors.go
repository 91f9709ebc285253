package doa

import "errors"

// Sentinel errors surfaced by the pipeline API. Callers should match them
// with errors.Is; everything else is a wrapped underlying failure.
var (
	// ErrInvalidArgument reports a nil/empty input or a config missing a
	// required field.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrQueueFull reports that the frame queue had no room for the whole
	// write within the bounded wait. The caller may retry or drop the frame.
	ErrQueueFull = errors.New("frame queue full")

	// ErrClosed reports a write to a pipeline that has been closed.
	ErrClosed = errors.New("pipeline closed")
)
