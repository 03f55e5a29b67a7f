package ink

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned for operations issued after shutdown.
	ErrDisposed = errors.New("ink: engine disposed")
	// ErrCancelled is returned when the caller's context fired before the
	// command was picked up. The command was not applied.
	ErrCancelled = errors.New("ink: operation cancelled")
	// ErrInvalidStroke wraps stroke validation failures.
	ErrInvalidStroke = errors.New("ink: invalid stroke")
	// ErrDuplicateStroke is returned when a stroke id is already registered.
	ErrDuplicateStroke = errors.New("ink: duplicate stroke id")
)

// ResourceError is a surface or geometry allocation failure. Only the
// frame being rendered is affected.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("ink: resource error during %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }
