package paginate

import (
	"context"
	"fmt"
	"testing"
	"time"

	errs "apikit/pkg/errors"
	"apikit/pkg/logger"
	"apikit/pkg/outcome"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves pages keyed by cursor and records every request
type fakeSource struct {
	pages    map[Cursor]Page[int]
	failAt   Cursor
	failWith *errs.Error
	requests []Request
}

func (f *fakeSource) fetch(ctx context.Context, req Request) outcome.Outcome[Page[int], *errs.Error] {
	f.requests = append(f.requests, req)
	if f.failWith != nil && req.Cursor == f.failAt {
		return outcome.Failure[Page[int]](f.failWith)
	}
	page, ok := f.pages[req.Cursor]
	if !ok {
		return outcome.Failure[Page[int]](errs.NotFound("no page", req.Cursor.String()))
	}
	return outcome.Success[Page[int], *errs.Error](page)
}

// threePages serves [1 2] -> [3 4] -> [5]
func threePages() *fakeSource {
	return &fakeSource{pages: map[Cursor]Page[int]{
		"":   {Items: []int{1, 2}, NextCursor: "c2"},
		"c2": {Items: []int{3, 4}, NextCursor: "c3"},
		"c3": {Items: []int{5}},
	}}
}

// endless serves pages of one item forever
func endless() *fakeSource {
	pages := make(map[Cursor]Page[int])
	for i := 0; i < 500; i++ {
		pages[CursorOrNone(cursorName(i))] = Page[int]{Items: []int{i}, NextCursor: Cursor(cursorName(i + 1))}
	}
	return &fakeSource{pages: pages}
}

func cursorName(i int) string {
	if i == 0 {
		return ""
	}
	return fmt.Sprintf("p%d", i)
}

func quietConfig() *Config {
	return &Config{Logger: logger.NewNopLogger()}
}

func values(t *testing.T, s *Stream[int]) []int {
	t.Helper()
	var out []int
	for item := range s.All() {
		v, ok := item.Value()
		require.True(t, ok, "unexpected failure: %v", item)
		out = append(out, v)
	}
	return out
}

func TestCursor(t *testing.T) {
	_, err := NewCursor("")
	assert.ErrorIs(t, err, ErrEmptyCursor)

	c, err := NewCursor("abc")
	require.NoError(t, err)
	assert.True(t, c.Present())
	assert.Equal(t, "abc", c.String())

	var zero Cursor
	assert.False(t, zero.Present())
	assert.False(t, CursorOrNone("").Present())
	assert.False(t, Page[int]{}.HasMore())
}

func TestPaginateYieldsPageThenItemOrder(t *testing.T) {
	src := threePages()
	s := Paginate(context.Background(), src.fetch, quietConfig())

	assert.Equal(t, []int{1, 2, 3, 4, 5}, values(t, s))
	assert.Len(t, src.requests, 3)

	stats := s.Stats()
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, 5, stats.Items)
	assert.Equal(t, StopExhausted, stats.Stop)
	assert.False(t, stats.ResumeCursor.Present())
}

func TestPaginateIsLazy(t *testing.T) {
	src := threePages()
	s := Paginate(context.Background(), src.fetch, quietConfig())
	assert.Empty(t, src.requests)

	_, ok := s.Next()
	require.True(t, ok)
	assert.Len(t, src.requests, 1)

	_, _ = s.Next()
	assert.Len(t, src.requests, 1, "second item comes from the buffered page")
}

func TestPaginatePassesCursorAndPageSize(t *testing.T) {
	src := threePages()
	s := Paginate(context.Background(), src.fetch, &Config{PageSizeHint: 2, Logger: logger.NewNopLogger()})
	values(t, s)

	require.Len(t, src.requests, 3)
	assert.Equal(t, Request{Cursor: "", PageSize: 2}, src.requests[0])
	assert.Equal(t, Request{Cursor: "c2", PageSize: 2}, src.requests[1])
	assert.Equal(t, Request{Cursor: "c3", PageSize: 2}, src.requests[2])
}

func TestPaginateStartCursor(t *testing.T) {
	src := threePages()
	cfg := quietConfig()
	cfg.StartCursor = "c2"

	assert.Equal(t, []int{3, 4, 5}, values(t, Paginate(context.Background(), src.fetch, cfg)))
}

func TestPaginateFailureEndsStream(t *testing.T) {
	src := threePages()
	src.failAt = "c2"
	src.failWith = errs.Server("boom", 503, "")

	s := Paginate(context.Background(), src.fetch, quietConfig())

	var got []outcome.Outcome[int, *errs.Error]
	for item := range s.All() {
		got = append(got, item)
	}

	require.Len(t, got, 3)
	assert.True(t, got[0].IsOK())
	assert.True(t, got[1].IsOK())
	failure, ok := got[2].Error()
	require.True(t, ok)
	assert.Same(t, src.failWith, failure)

	assert.Len(t, src.requests, 2, "no retry and no further fetch")
	stats := s.Stats()
	assert.Equal(t, StopFailed, stats.Stop)
	assert.Equal(t, Cursor("c2"), stats.ResumeCursor)

	_, more := s.Next()
	assert.False(t, more)
}

func TestPaginateFirstPageFailure(t *testing.T) {
	src := &fakeSource{failAt: "", failWith: errs.Auth("denied", 401)}
	s := Paginate(context.Background(), src.fetch, quietConfig())

	item, ok := s.Next()
	require.True(t, ok)
	assert.False(t, item.IsOK())

	_, ok = s.Next()
	assert.False(t, ok)
	assert.Len(t, src.requests, 1)
}

func TestPaginateMaxPages(t *testing.T) {
	src := endless()
	testLog := logger.NewTestLogger()
	s := Paginate(context.Background(), src.fetch, &Config{MaxPages: 3, Logger: testLog})

	assert.Equal(t, []int{0, 1, 2}, values(t, s))
	assert.Len(t, src.requests, 3)

	stats := s.Stats()
	assert.Equal(t, StopPageLimit, stats.Stop)
	assert.Equal(t, Cursor("p3"), stats.ResumeCursor)
	assert.True(t, testLog.HasMessage("stopped after page limit"))
}

func TestPaginateDefaultMaxPages(t *testing.T) {
	src := endless()
	s := Paginate(context.Background(), src.fetch, quietConfig())

	assert.Len(t, values(t, s), DefaultMaxPages)
	assert.Len(t, src.requests, DefaultMaxPages)
}

func TestPaginateEmptyPagesContinue(t *testing.T) {
	src := &fakeSource{pages: map[Cursor]Page[int]{
		"":  {NextCursor: "b"},
		"b": {NextCursor: "c"},
		"c": {Items: []int{9}},
	}}

	assert.Equal(t, []int{9}, values(t, Paginate(context.Background(), src.fetch, quietConfig())))
}

func TestPaginateEarlyBreakStopsFetching(t *testing.T) {
	src := threePages()
	s := Paginate(context.Background(), src.fetch, quietConfig())

	for item := range s.All() {
		v, _ := item.Value()
		if v == 2 {
			break
		}
	}

	assert.Len(t, src.requests, 1)
	assert.Equal(t, StopClosed, s.Stats().Stop)
	assert.Equal(t, Cursor("c2"), s.Stats().ResumeCursor)

	// single pass
	_, ok := s.Next()
	assert.False(t, ok)
	assert.Len(t, src.requests, 1)
}

func TestPaginateCloseMidPageResumesFromCurrentPage(t *testing.T) {
	src := threePages()
	cfg := quietConfig()
	cfg.StartCursor = "c2"
	s := Paginate(context.Background(), src.fetch, cfg)

	_, _ = s.Next() // 3, page "c2" still has 4 buffered
	s.Close()

	assert.Equal(t, Cursor("c2"), s.Stats().ResumeCursor)
}

func TestPaginateCancelledContext(t *testing.T) {
	src := threePages()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := Paginate(ctx, src.fetch, quietConfig())
	item, ok := s.Next()
	require.True(t, ok)
	failure, failed := item.Error()
	require.True(t, failed)
	assert.Equal(t, errs.KindUnknown, failure.Kind)
	assert.ErrorIs(t, failure, context.Canceled)

	_, ok = s.Next()
	assert.False(t, ok)
	assert.Empty(t, src.requests)
	assert.Equal(t, StopClosed, s.Stats().Stop)
}

func TestCollectorsFailWhenContextEndsMidStream(t *testing.T) {
	tests := []struct {
		name    string
		collect func(s *Stream[int]) (*errs.Error, bool)
	}{
		{"CollectAll", func(s *Stream[int]) (*errs.Error, bool) { return CollectAll(s).Error() }},
		{"CollectUpTo", func(s *Stream[int]) (*errs.Error, bool) { return CollectUpTo(s, 10).Error() }},
		{"FindFirst", func(s *Stream[int]) (*errs.Error, bool) {
			return FindFirst(s, func(v int) bool { return v == 5 }).Error()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var requests int
			fetch := func(ctx context.Context, req Request) outcome.Outcome[Page[int], *errs.Error] {
				requests++
				cancel()
				return outcome.Success[Page[int], *errs.Error](Page[int]{Items: []int{1, 2}, NextCursor: "c2"})
			}

			s := Paginate(ctx, fetch, quietConfig())
			failure, failed := tt.collect(s)

			require.True(t, failed, "a truncated listing must not look complete")
			assert.ErrorIs(t, failure, context.Canceled)
			assert.Equal(t, 1, requests)
			assert.Equal(t, StopClosed, s.Stats().Stop)
			assert.Equal(t, Cursor("c2"), s.Stats().ResumeCursor)
		})
	}
}

func TestPaginateDeadlineIsNetworkFailure(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	failure, failed := CollectAll(Paginate(ctx, threePages().fetch, quietConfig())).Error()
	require.True(t, failed)
	assert.Equal(t, errs.KindNetwork, failure.Kind)
	assert.ErrorIs(t, failure, context.DeadlineExceeded)
}

func TestPaginateContextEndingAfterLastPageIsComplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetch := func(ctx context.Context, req Request) outcome.Outcome[Page[int], *errs.Error] {
		cancel()
		return outcome.Success[Page[int], *errs.Error](Page[int]{Items: []int{1, 2}})
	}

	items, ok := CollectAll(Paginate(ctx, fetch, quietConfig())).Value()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, items)
}

func TestPaginateHooks(t *testing.T) {
	src := threePages()
	var events []PageEvent
	var stops []Stats

	s := Paginate(context.Background(), src.fetch, &Config{
		Logger: logger.NewNopLogger(),
		OnPage: func(e PageEvent) { events = append(events, e) },
		OnStop: func(st Stats) { stops = append(stops, st) },
	})
	values(t, s)
	s.Close()

	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].Number)
	assert.Equal(t, 2, events[0].Items)
	assert.Equal(t, Cursor("c2"), events[0].NextCursor)
	assert.Nil(t, events[2].Err)

	require.Len(t, stops, 1, "OnStop fires once")
	assert.Equal(t, StopExhausted, stops[0].Stop)
}

func TestCollectAll(t *testing.T) {
	result := CollectAll(Paginate(context.Background(), threePages().fetch, quietConfig()))
	items, ok := result.Value()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)

	src := threePages()
	src.failAt = "c3"
	src.failWith = errs.Network("reset", nil)
	result = CollectAll(Paginate(context.Background(), src.fetch, quietConfig()))
	failure, failed := result.Error()
	require.True(t, failed)
	assert.Equal(t, errs.KindNetwork, failure.Kind)
}

func TestCollectAllEmpty(t *testing.T) {
	src := &fakeSource{pages: map[Cursor]Page[int]{"": {}}}
	items, ok := CollectAll(Paginate(context.Background(), src.fetch, quietConfig())).Value()
	require.True(t, ok)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestCollectUpTo(t *testing.T) {
	tests := []struct {
		limit    int
		want     []int
		requests int
	}{
		{0, []int{}, 0},
		{-1, []int{}, 0},
		{1, []int{1}, 1},
		{2, []int{1, 2}, 1},
		{3, []int{1, 2, 3}, 2},
		{10, []int{1, 2, 3, 4, 5}, 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit %d", tt.limit), func(t *testing.T) {
			src := threePages()
			items, ok := CollectUpTo(Paginate(context.Background(), src.fetch, quietConfig()), tt.limit).Value()
			require.True(t, ok)
			assert.Equal(t, tt.want, items)
			assert.Len(t, src.requests, tt.requests)
		})
	}
}

func TestFindFirst(t *testing.T) {
	src := threePages()
	match, ok := FindFirst(Paginate(context.Background(), src.fetch, quietConfig()), func(v int) bool {
		return v > 2
	}).Value()
	require.True(t, ok)
	assert.True(t, match.Found)
	assert.Equal(t, 3, match.Item)
	assert.Len(t, src.requests, 2, "stops at the matching page")

	src = threePages()
	match, ok = FindFirst(Paginate(context.Background(), src.fetch, quietConfig()), func(v int) bool {
		return v > 100
	}).Value()
	require.True(t, ok)
	assert.False(t, match.Found)
	assert.Len(t, src.requests, 3)

	// a zero-valued item that matches is distinguishable from absence
	src = &fakeSource{pages: map[Cursor]Page[int]{"": {Items: []int{0}}}}
	match, _ = FindFirst(Paginate(context.Background(), src.fetch, quietConfig()), func(v int) bool {
		return v == 0
	}).Value()
	assert.True(t, match.Found)
}

func TestFindFirstFailure(t *testing.T) {
	src := threePages()
	src.failAt = "c2"
	src.failWith = errs.RateLimit("slow", time.Second)

	result := FindFirst(Paginate(context.Background(), src.fetch, quietConfig()), func(v int) bool {
		return v == 5
	})
	failure, failed := result.Error()
	require.True(t, failed)
	assert.Equal(t, errs.KindRateLimit, failure.Kind)
}

type listResponse struct {
	Values []string
	Next   string
}

func TestFetcherFrom(t *testing.T) {
	list := func(ctx context.Context, req Request) outcome.Outcome[listResponse, *errs.Error] {
		if req.Cursor == "" {
			return outcome.Success[listResponse, *errs.Error](listResponse{Values: []string{"a", "b"}, Next: "n"})
		}
		return outcome.Success[listResponse, *errs.Error](listResponse{Values: []string{"c"}})
	}

	fetch := FetcherFrom(list,
		func(r listResponse) []string { return r.Values },
		func(r listResponse) string { return r.Next },
	)

	items, ok := CollectAll(Paginate(context.Background(), fetch, quietConfig())).Value()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, items)
}
