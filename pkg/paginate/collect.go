package paginate

import (
	errs "apikit/pkg/errors"
	"apikit/pkg/outcome"
)

// Match is the result of FindFirst. Found is false when no item matched.
type Match[T any] struct {
	Item  T
	Found bool
}

// CollectAll drains the stream into a slice, or returns the first failure
func CollectAll[T any](s *Stream[T]) outcome.Outcome[[]T, *errs.Error] {
	defer s.Close()

	items := make([]T, 0)
	for item := range s.All() {
		v, ok := item.Value()
		if !ok {
			failure, _ := item.Error()
			return outcome.Failure[[]T](failure)
		}
		items = append(items, v)
	}
	return outcome.Success[[]T, *errs.Error](items)
}

// CollectUpTo collects at most limit items and stops the stream once it has them
func CollectUpTo[T any](s *Stream[T], limit int) outcome.Outcome[[]T, *errs.Error] {
	defer s.Close()

	items := make([]T, 0, max(min(limit, 1024), 0))
	if limit <= 0 {
		return outcome.Success[[]T, *errs.Error](items)
	}

	for item := range s.All() {
		v, ok := item.Value()
		if !ok {
			failure, _ := item.Error()
			return outcome.Failure[[]T](failure)
		}
		items = append(items, v)
		if len(items) >= limit {
			break
		}
	}
	return outcome.Success[[]T, *errs.Error](items)
}

// FindFirst returns the first item satisfying pred and stops the stream there
func FindFirst[T any](s *Stream[T], pred func(T) bool) outcome.Outcome[Match[T], *errs.Error] {
	defer s.Close()

	for item := range s.All() {
		v, ok := item.Value()
		if !ok {
			failure, _ := item.Error()
			return outcome.Failure[Match[T]](failure)
		}
		if pred(v) {
			return outcome.Success[Match[T], *errs.Error](Match[T]{Item: v, Found: true})
		}
	}
	return outcome.Success[Match[T], *errs.Error](Match[T]{})
}
