package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreClosed is returned when an operation is attempted on a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrStoreUnavailable is returned when a knowledge or session store is unavailable
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDimensionMismatch is returned when an embedding does not match the
	// dimensionality of the collection it is being compared or added to
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrLuaExecution is returned when there's an error executing a Lua script
	ErrLuaExecution = errors.New("lua script execution error")

	// ErrFunctionNotFound is returned when a named script function has not
	// been loaded
	ErrFunctionNotFound = errors.New("function not found")

	// ErrInvalidConfig is returned when configuration fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
