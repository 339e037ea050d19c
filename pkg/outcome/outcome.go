package outcome

import "fmt"

// Outcome holds either a successful value or a failure, never both
type Outcome[T any, E any] struct {
	ok    bool
	value T
	err   E
}

// Success creates a successful outcome carrying value
func Success[T any, E any](value T) Outcome[T, E] {
	return Outcome[T, E]{ok: true, value: value}
}

// Failure creates a failed outcome carrying err
func Failure[T any, E any](err E) Outcome[T, E] {
	return Outcome[T, E]{err: err}
}

// IsOK reports whether the outcome is a success
func (o Outcome[T, E]) IsOK() bool {
	return o.ok
}

// Value returns the success value and true, or the zero value and false
func (o Outcome[T, E]) Value() (T, bool) {
	if !o.ok {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Error returns the failure and true, or the zero value and false
func (o Outcome[T, E]) Error() (E, bool) {
	if o.ok {
		var zero E
		return zero, false
	}
	return o.err, true
}

// ValueOr returns the success value or fallback on failure
func (o Outcome[T, E]) ValueOr(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// Unwrap converts the outcome back into a Go (value, error) pair.
// On failure the returned *UnwrapError carries the contained error as its cause.
func (o Outcome[T, E]) Unwrap() (T, error) {
	if o.ok {
		return o.value, nil
	}
	var zero T
	return zero, &UnwrapError{Cause: o.err}
}

// MustUnwrap returns the value or panics with an *UnwrapError.
// Only for call sites where a failure cannot be handled locally.
func (o Outcome[T, E]) MustUnwrap() T {
	v, err := o.Unwrap()
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the outcome for logs and test failures
func (o Outcome[T, E]) String() string {
	if o.ok {
		return fmt.Sprintf("Success(%v)", o.value)
	}
	return fmt.Sprintf("Failure(%v)", o.err)
}

// Map applies fn to the value of a successful outcome.
// Failures pass through unchanged with the same error.
func Map[T any, U any, E any](o Outcome[T, E], fn func(T) U) Outcome[U, E] {
	if !o.ok {
		return Failure[U, E](o.err)
	}
	return Success[U, E](fn(o.value))
}

// AndThen chains a fallible step onto a successful outcome
func AndThen[T any, U any, E any](o Outcome[T, E], fn func(T) Outcome[U, E]) Outcome[U, E] {
	if !o.ok {
		return Failure[U, E](o.err)
	}
	return fn(o.value)
}

// UnwrapError is returned by Unwrap and raised by MustUnwrap for failed outcomes
type UnwrapError struct {
	Cause any
}

func (e *UnwrapError) Error() string {
	return fmt.Sprintf("unwrap of failed outcome: %v", e.Cause)
}

// Unwrap exposes the contained failure when it is an error
func (e *UnwrapError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}
