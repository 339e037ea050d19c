package ui

import (
	"bytes"
	"sync"
	"testing"
	"time"

	errs "apikit/pkg/errors"
	"apikit/pkg/paginate"
	"apikit/pkg/retry"

	"github.com/stretchr/testify/assert"
)

func newTestDisplay(quiet bool) (*ProgressDisplay, *bytes.Buffer) {
	var buf bytes.Buffer
	d := NewProgressDisplay(NewPrinter(&buf, quiet), "widgets")
	start := time.Now()
	d.startTime = start
	d.now = func() time.Time { return start.Add(2 * time.Second) }
	return d, &buf
}

func TestProgressDisplayPages(t *testing.T) {
	d, buf := newTestDisplay(false)

	d.OnPage(paginate.PageEvent{Number: 1, Items: 10, NextCursor: "b"})
	d.OnPage(paginate.PageEvent{Number: 2, Items: 5})

	out := buf.String()
	assert.Contains(t, out, "page 1 • +10 items • 10 total • 5.0/s")
	assert.Contains(t, out, "page 2 • +5 items • 15 total")
	assert.Contains(t, out, "last page")

	pages, items, _ := d.Counts()
	assert.Equal(t, 2, pages)
	assert.Equal(t, 15, items)
}

func TestProgressDisplayFailedPage(t *testing.T) {
	d, buf := newTestDisplay(true)

	d.OnPage(paginate.PageEvent{Number: 3, Err: errs.Auth("forbidden", 403)})

	assert.Contains(t, buf.String(), "page 3 failed [auth]: forbidden", "errors are printed when quiet")
}

func TestProgressDisplayRetries(t *testing.T) {
	d, buf := newTestDisplay(false)

	d.OnRetry(retry.Event{Attempt: 0, Kind: errs.KindRateLimit, Delay: 90 * time.Second})
	d.OnRetry(retry.Event{Attempt: 1, Kind: errs.KindServer, Delay: 250 * time.Millisecond})

	out := buf.String()
	assert.Contains(t, out, "Waiting 1m30s before attempt 2")
	assert.Contains(t, out, "server failure, retrying in 250ms (attempt 3)")

	_, _, retries := d.Counts()
	assert.Equal(t, 2, retries)
}

func TestProgressDisplayQuiet(t *testing.T) {
	d, buf := newTestDisplay(true)

	d.OnPage(paginate.PageEvent{Number: 1, Items: 10})
	d.OnRetry(retry.Event{Kind: errs.KindNetwork, Delay: time.Second})
	d.Complete(paginate.Stats{Stop: paginate.StopExhausted})

	assert.Empty(t, buf.String())
}

func TestProgressDisplayComplete(t *testing.T) {
	tests := []struct {
		stop paginate.StopReason
		want string
	}{
		{paginate.StopExhausted, "✓ 1 pages • 4 items • 0 retries • 2s"},
		{paginate.StopPageLimit, "stopped: page_limit"},
		{paginate.StopFailed, "✗ 1 pages"},
	}
	for _, tt := range tests {
		t.Run(string(tt.stop), func(t *testing.T) {
			d, buf := newTestDisplay(false)
			d.OnPage(paginate.PageEvent{Number: 1, Items: 4})
			d.Complete(paginate.Stats{Stop: tt.stop})
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestProgressDisplayConcurrentRetries(t *testing.T) {
	d, _ := newTestDisplay(true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.OnRetry(retry.Event{Kind: errs.KindServer})
		}()
	}
	wg.Wait()

	_, _, retries := d.Counts()
	assert.Equal(t, 20, retries)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
}
