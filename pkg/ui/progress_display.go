package ui

import (
	"fmt"
	"sync"
	"time"

	errs "apikit/pkg/errors"
	"apikit/pkg/paginate"
	"apikit/pkg/retry"
)

// ProgressDisplay prints one line per fetched page and a line per scheduled
// retry. Its hooks are safe to call from several goroutines.
type ProgressDisplay struct {
	mu        sync.Mutex
	printer   *Printer
	stream    string
	pages     int
	items     int
	failed    int
	retries   int
	startTime time.Time
	now       func() time.Time
}

// NewProgressDisplay creates a display for stream
func NewProgressDisplay(p *Printer, stream string) *ProgressDisplay {
	return &ProgressDisplay{
		printer:   p,
		stream:    stream,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// OnPage records a page fetch. It fits paginate.Config.OnPage.
func (d *ProgressDisplay) OnPage(ev paginate.PageEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pages++
	if ev.Err != nil {
		d.failed++
		d.printer.PrintError(fmt.Sprintf("✗ page %d failed [%s]", ev.Number, ev.Err.Kind), ev.Err.Message)
		return
	}
	d.items += ev.Items

	line := fmt.Sprintf("%s page %d • +%d items • %d total • %.1f/s",
		cyan.Render(d.stream), ev.Number, ev.Items, d.items, d.rate())
	if !ev.NextCursor.Present() {
		line += " • last page"
	}
	if !d.printer.quiet {
		fmt.Fprintln(d.printer.w, line)
	}
}

// OnRetry reports a scheduled retry. It fits retry.Config.OnRetry.
func (d *ProgressDisplay) OnRetry(ev retry.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retries++
	switch ev.Kind {
	case errs.KindRateLimit, errs.KindQuota:
		d.printer.PrintWarning(fmt.Sprintf("⚠ Rate limited. Waiting %s before attempt %d", formatDuration(ev.Delay), ev.Attempt+2))
	default:
		d.printer.PrintDim(fmt.Sprintf("↻ %s failure, retrying in %s (attempt %d)", ev.Kind, formatDuration(ev.Delay), ev.Attempt+2))
	}
}

// Complete prints the closing summary for stats
func (d *ProgressDisplay) Complete(stats paginate.Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := d.now().Sub(d.startTime)
	summary := fmt.Sprintf("%d pages • %d items • %d retries • %s", d.pages, d.items, d.retries, formatDuration(elapsed))
	switch stats.Stop {
	case paginate.StopExhausted:
		d.printer.PrintSuccess("✓ " + summary)
	case paginate.StopFailed:
		d.printer.PrintError("✗ " + summary)
	default:
		d.printer.PrintWarning(fmt.Sprintf("■ %s • stopped: %s", summary, stats.Stop))
	}
}

// Counts returns pages, items and retries seen so far
func (d *ProgressDisplay) Counts() (pages, items, retries int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages, d.items, d.retries
}

// rate is items per second; callers hold mu
func (d *ProgressDisplay) rate() float64 {
	elapsed := d.now().Sub(d.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(d.items) / elapsed
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
