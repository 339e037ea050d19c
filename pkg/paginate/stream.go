package paginate

import (
	"context"
	"iter"
	"time"

	errs "apikit/pkg/errors"
	"apikit/pkg/logger"
	"apikit/pkg/outcome"
)

// DefaultMaxPages bounds a stream when Config.MaxPages is not set
const DefaultMaxPages = 100

// StopReason says why a stream ended
type StopReason string

const (
	// StopNone means the stream is still open
	StopNone StopReason = ""
	// StopExhausted means the last page had no next cursor
	StopExhausted StopReason = "exhausted"
	// StopPageLimit means MaxPages pages were fetched and more were available
	StopPageLimit StopReason = "page_limit"
	// StopFailed means a page fetch failed
	StopFailed StopReason = "failed"
	// StopClosed means the consumer stopped early or the context ended. A
	// context that ended also yields one failure outcome.
	StopClosed StopReason = "closed"
)

// PageEvent describes one page fetch
type PageEvent struct {
	// Number is 1-based
	Number     int
	Cursor     Cursor
	NextCursor Cursor
	Items      int
	Duration   time.Duration
	// Err is nil for a successful fetch
	Err *errs.Error
}

// Stats summarises a stream's progress
type Stats struct {
	Pages int
	Items int
	Stop  StopReason
	// ResumeCursor restarts a listing so that it yields every item this stream
	// has not emitted yet. It is StartCursor before the first fetch and zero
	// once the listing is exhausted.
	ResumeCursor Cursor
}

// Config holds paginator configuration
type Config struct {
	// PageSizeHint is passed to the fetcher; 0 lets the server choose
	PageSizeHint int
	// MaxPages caps the number of fetches; values <= 0 mean DefaultMaxPages
	MaxPages int
	// StartCursor resumes a previous listing
	StartCursor Cursor
	Logger      logger.Logger
	// OnPage is called after every fetch
	OnPage func(PageEvent)
	// OnStop is called once when the stream ends
	OnStop func(Stats)
}

// DefaultConfig returns a paginator configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxPages: DefaultMaxPages,
		Logger:   logger.GetLogger(),
	}
}

// Stream lazily yields the items of a paginated listing. A Stream is
// single-pass and must not be consumed from more than one goroutine.
type Stream[T any] struct {
	ctx   context.Context
	fetch Fetcher[T]
	cfg   Config
	log   logger.Logger

	buf     []T
	pos     int
	current Cursor
	next    Cursor
	more    bool

	pages int
	items int
	stop  StopReason
}

// Paginate creates a stream over fetch. Nothing is fetched until the stream is pulled.
func Paginate[T any](ctx context.Context, fetch Fetcher[T], cfg *Config) *Stream[T] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	log := c.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Stream[T]{
		ctx:   ctx,
		fetch: fetch,
		cfg:   c,
		log:   log,
		next:  c.StartCursor,
		more:  true,
	}
}

// Next returns the next item outcome. The second result is false once the
// stream has ended. A failed fetch, or a context that ended while more pages
// were due, is reported once as a failure and then ends the stream.
func (s *Stream[T]) Next() (outcome.Outcome[T, *errs.Error], bool) {
	for {
		if s.stop != StopNone {
			return outcome.Outcome[T, *errs.Error]{}, false
		}

		if s.pos < len(s.buf) {
			item := s.buf[s.pos]
			s.pos++
			s.items++
			return outcome.Success[T, *errs.Error](item), true
		}

		if !s.more {
			s.finish(StopExhausted)
			continue
		}
		if s.pages >= s.cfg.MaxPages {
			s.log.WarnWithFields("stopped after page limit", map[string]interface{}{
				"max_pages": s.cfg.MaxPages,
				"items":     s.items,
			})
			s.finish(StopPageLimit)
			continue
		}
		if err := s.ctx.Err(); err != nil {
			s.finish(StopClosed)
			return outcome.Failure[T](errs.Interrupted(err)), true
		}

		if failure := s.fetchPage(); failure != nil {
			s.finish(StopFailed)
			return outcome.Failure[T](failure), true
		}
	}
}

// fetchPage loads the next page into the buffer
func (s *Stream[T]) fetchPage() *errs.Error {
	req := Request{Cursor: s.next, PageSize: s.cfg.PageSizeHint}
	start := time.Now()
	result := s.fetch(s.ctx, req)
	s.pages++

	event := PageEvent{
		Number:   s.pages,
		Cursor:   req.Cursor,
		Duration: time.Since(start),
	}

	page, ok := result.Value()
	if !ok {
		failure, _ := result.Error()
		if failure == nil {
			failure = errs.Unknown("page fetch failed without an error", nil)
		}
		event.Err = failure
		s.notifyPage(event)
		s.log.WarnWithFields("page fetch failed", map[string]interface{}{
			"page":  s.pages,
			"kind":  string(failure.Kind),
			"error": failure.Error(),
		})
		return failure
	}

	s.buf = page.Items
	s.pos = 0
	s.current = req.Cursor
	s.next = page.NextCursor
	s.more = page.HasMore()

	event.Items = len(page.Items)
	event.NextCursor = page.NextCursor
	s.notifyPage(event)
	s.log.DebugWithFields("page fetched", map[string]interface{}{
		"page":     s.pages,
		"items":    len(page.Items),
		"has_more": s.more,
	})
	return nil
}

func (s *Stream[T]) notifyPage(event PageEvent) {
	if s.cfg.OnPage != nil {
		s.cfg.OnPage(event)
	}
}

func (s *Stream[T]) finish(reason StopReason) {
	if s.stop != StopNone {
		return
	}
	s.stop = reason
	s.log.DebugWithFields("pagination stopped", map[string]interface{}{
		"reason": string(reason),
		"pages":  s.pages,
		"items":  s.items,
	})
	if s.cfg.OnStop != nil {
		s.cfg.OnStop(s.Stats())
	}
}

// Close stops the stream early. No further pages are fetched.
func (s *Stream[T]) Close() {
	s.finish(StopClosed)
}

// All returns the stream as a range-over-func sequence. Breaking out of the
// loop closes the stream.
func (s *Stream[T]) All() iter.Seq[outcome.Outcome[T, *errs.Error]] {
	return func(yield func(outcome.Outcome[T, *errs.Error]) bool) {
		for {
			item, ok := s.Next()
			if !ok {
				return
			}
			if !yield(item) {
				s.Close()
				return
			}
		}
	}
}

// Stats reports the stream's progress so far
func (s *Stream[T]) Stats() Stats {
	return Stats{
		Pages:        s.pages,
		Items:        s.items,
		Stop:         s.stop,
		ResumeCursor: s.resumeCursor(),
	}
}

func (s *Stream[T]) resumeCursor() Cursor {
	if s.pos < len(s.buf) {
		return s.current
	}
	if s.more {
		return s.next
	}
	return ""
}
