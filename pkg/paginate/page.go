package paginate

import (
	"context"
	"errors"

	errs "apikit/pkg/errors"
	"apikit/pkg/outcome"
)

// ErrEmptyCursor is returned by NewCursor for an empty token
var ErrEmptyCursor = errors.New("cursor token must not be empty")

// Cursor is an opaque continuation token issued by the server.
// The zero Cursor means "no cursor".
type Cursor string

// NewCursor wraps a server token, rejecting the empty string
func NewCursor(token string) (Cursor, error) {
	if token == "" {
		return "", ErrEmptyCursor
	}
	return Cursor(token), nil
}

// CursorOrNone returns the cursor for token, or the zero Cursor when token is empty
func CursorOrNone(token string) Cursor {
	c, err := NewCursor(token)
	if err != nil {
		return ""
	}
	return c
}

// Present reports whether the cursor holds a token
func (c Cursor) Present() bool {
	return c != ""
}

func (c Cursor) String() string {
	return string(c)
}

// Page is one response of a paginated listing
type Page[T any] struct {
	Items      []T
	NextCursor Cursor
}

// HasMore reports whether the server offered another page
func (p Page[T]) HasMore() bool {
	return p.NextCursor.Present()
}

// Request is what a Fetcher is asked for
type Request struct {
	// Cursor is zero for the first page
	Cursor Cursor
	// PageSize is a hint; 0 lets the server choose
	PageSize int
}

// Fetcher retrieves one page. It must classify its own failures.
type Fetcher[T any] func(ctx context.Context, req Request) outcome.Outcome[Page[T], *errs.Error]

// FetcherFrom adapts a list call returning a raw response R into a Fetcher,
// using items and next to pull the page content out of R.
func FetcherFrom[R, T any](
	list func(ctx context.Context, req Request) outcome.Outcome[R, *errs.Error],
	items func(R) []T,
	next func(R) string,
) Fetcher[T] {
	return func(ctx context.Context, req Request) outcome.Outcome[Page[T], *errs.Error] {
		return outcome.Map(list(ctx, req), func(resp R) Page[T] {
			return Page[T]{
				Items:      items(resp),
				NextCursor: CursorOrNone(next(resp)),
			}
		})
	}
}
