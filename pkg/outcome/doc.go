// Package outcome provides a tagged success/failure value used in place of
// (value, error) pairs for expected failure paths.
//
// Every fallible call in apikit returns an Outcome. Callers inspect it with
// IsOK, Value and Error, transform it with Map and AndThen, and cross back
// into ordinary Go error handling with Unwrap.
//
// Basic usage:
//
//	res := outcome.Success[int, *errs.Error](42)
//	doubled := outcome.Map(res, func(v int) int { return v * 2 })
//
//	if apiErr, failed := doubled.Error(); failed {
//	    switch apiErr.Kind {
//	    case errs.KindAuth:
//	        // ...
//	    }
//	}
//
//	value, err := doubled.Unwrap() // err wraps the contained failure
//
// An Outcome is immutable. Two outcomes built by the same constructor from
// equal comparable values compare equal with ==.
package outcome
