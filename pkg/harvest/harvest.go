package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"apikit/internal/fanout"
	"apikit/pkg/checkpoint"
	errs "apikit/pkg/errors"
	"apikit/pkg/httpsource"
	"apikit/pkg/logger"
	"apikit/pkg/outcome"
	"apikit/pkg/paginate"
	"apikit/pkg/retry"
	"apikit/pkg/storage"

	"github.com/google/uuid"
)

// IDPlaceholder is replaced by the item key in Options.DetailPath
const IDPlaceholder = "{id}"

// ErrCheckpointExists is returned when a previous run left a checkpoint and
// neither Resume nor ForceRestart was requested
var ErrCheckpointExists = errors.New("checkpoint exists - use --resume to continue or --force-restart to start fresh")

// Options describes one sync
type Options struct {
	// Path is the list endpoint, relative to the client's base URL
	Path string
	// Stream names the checkpoint; defaults to Path
	Stream string
	// Output is the JSON Lines file items are appended to
	Output string
	// KeyField identifies items for duplicate detection and {id} expansion
	KeyField string
	// DetailPath, when set, fetches each item again at this path with
	// {id} replaced by the item key
	DetailPath   string
	List         httpsource.ListOptions
	PageSize     int
	MaxPages     int
	Resume       bool
	ForceRestart bool
}

// Report summarises a run
type Report struct {
	RunID   string
	Stream  string
	Resumed bool
	// Pages, Items, Written and Skipped count this run only
	Pages   int
	Items   int
	Written int
	Skipped int
	// Failures counts items dropped after a failed detail fetch, plus a
	// failed page fetch, by kind
	Failures     map[errs.Kind]int
	Stop         paginate.StopReason
	ResumeCursor paginate.Cursor
	Duration     time.Duration
}

// FailureCount returns the total number of failures
func (r *Report) FailureCount() int {
	n := 0
	for _, c := range r.Failures {
		n += c
	}
	return n
}

// FailureKinds returns the kinds that failed, sorted
func (r *Report) FailureKinds() []errs.Kind {
	kinds := make([]errs.Kind, 0, len(r.Failures))
	for k := range r.Failures {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Harvester orchestrates paginated syncs
type Harvester struct {
	source      Source
	checkpoints checkpoint.Store
	retry       *retry.Config
	concurrency int
	logger      logger.Logger
	onPage      func(paginate.PageEvent)
	onStop      func(paginate.Stats)
}

// Option configures a Harvester
type Option func(*Harvester)

// WithRetry sets the retry configuration used for page and detail fetches
func WithRetry(cfg *retry.Config) Option {
	return func(h *Harvester) {
		if cfg != nil {
			h.retry = cfg
		}
	}
}

// WithConcurrency sets the number of concurrent detail fetches
func WithConcurrency(n int) Option {
	return func(h *Harvester) {
		if n > 0 {
			h.concurrency = n
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(h *Harvester) {
		h.logger = logger.OrNop(l)
	}
}

// WithPageHook observes every page fetch
func WithPageHook(fn func(paginate.PageEvent)) Option {
	return func(h *Harvester) { h.onPage = fn }
}

// WithStopHook observes the end of the listing
func WithStopHook(fn func(paginate.Stats)) Option {
	return func(h *Harvester) { h.onStop = fn }
}

// New creates a Harvester reading from source and checkpointing to store
func New(source Source, store checkpoint.Store, opts ...Option) *Harvester {
	h := &Harvester{
		source:      source,
		checkpoints: store,
		retry:       retry.DefaultConfig(),
		concurrency: 4,
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run syncs opts.Path into opts.Output. A failed page fetch or an ended ctx
// stops the run with a classified *errs.Error; the report is returned either
// way and the checkpoint points at the first page not fully written.
func (h *Harvester) Run(ctx context.Context, opts Options) (*Report, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errs.Validation("list path is required", "path")
	}
	if opts.Output == "" {
		return nil, errs.Validation("output file is required", "output")
	}
	if opts.DetailPath != "" && !strings.Contains(opts.DetailPath, IDPlaceholder) {
		return nil, errs.Validation(fmt.Sprintf("detail path must contain %s", IDPlaceholder), "detail")
	}
	if opts.Stream == "" {
		opts.Stream = opts.Path
	}
	if opts.KeyField == "" {
		opts.KeyField = "id"
	}

	report := &Report{
		RunID:    uuid.NewString(),
		Stream:   opts.Stream,
		Failures: make(map[errs.Kind]int),
	}
	start := time.Now()
	log := h.logger.WithFields(map[string]interface{}{
		"stream": opts.Stream,
		"run_id": report.RunID,
	})

	cp, err := h.prepareCheckpoint(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	report.Resumed = cp != nil
	if cp == nil {
		cp = checkpoint.New(opts.Stream, report.RunID)
	}
	cp.RunID = report.RunID

	sink, err := storage.OpenSink(opts.Output, opts.KeyField)
	if err != nil {
		log.WithError(err).Error("Failed to open output file")
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	defer sink.Close()

	log.InfoWithFields("Starting sync", map[string]interface{}{
		"path":     opts.Path,
		"output":   opts.Output,
		"detail":   opts.DetailPath,
		"resumed":  report.Resumed,
		"existing": sink.Count(),
	})

	fetch := httpsource.RetryingFetcher(h.source.Fetcher(opts.Path, opts.List), h.retry)
	stream := paginate.Paginate(ctx, fetch, &paginate.Config{
		PageSizeHint: opts.PageSize,
		MaxPages:     opts.MaxPages,
		StartCursor:  cp.ResumeCursor(),
		Logger:       log,
		OnPage:       h.onPage,
		OnStop:       h.onStop,
	})
	defer stream.Close()

	base := *cp
	run := &runState{h: h, opts: opts, sink: sink, report: report, log: log}

	var (
		batch       []json.RawMessage
		pageFailure *errs.Error
		interrupted bool
		// progress whose items are all in the sink
		committed = stream.Stats()
	)
	for {
		// state with every item pulled so far handed to the batch
		before := stream.Stats()
		item, ok := stream.Next()
		if !ok {
			break
		}
		value, ok := item.Value()
		if !ok {
			pageFailure, _ = item.Error()
			if ctx.Err() == nil {
				report.Failures[pageFailure.Kind]++
			}
			break
		}

		if stream.Stats().Pages > before.Pages && len(batch) > 0 {
			if err := run.flush(ctx, batch); err != nil {
				failure, ok := errs.As(err)
				if !ok || ctx.Err() == nil {
					return report, err
				}
				pageFailure, interrupted = failure, true
				break
			}
			batch = batch[:0]
			committed = before
			h.saveProgress(ctx, cp, base, committed, sink, log)
		}
		batch = append(batch, value)
	}
	stream.Close()

	if !interrupted {
		if err := run.flush(ctx, batch); err != nil {
			failure, ok := errs.As(err)
			if !ok || ctx.Err() == nil {
				return report, err
			}
			pageFailure = failure
		} else {
			committed = stream.Stats()
		}
	}

	stats := stream.Stats()
	report.Pages = stats.Pages
	report.Items = stats.Items
	report.Stop = stats.Stop
	report.ResumeCursor = committed.ResumeCursor
	report.Written = sink.Written()
	report.Skipped = sink.Skipped()
	report.Duration = time.Since(start)

	// the run may have ended because ctx did
	final := context.WithoutCancel(ctx)
	if committed.Stop == paginate.StopExhausted {
		if err := h.checkpoints.Delete(final, opts.Stream); err != nil {
			log.WithError(err).Warn("Failed to delete checkpoint")
		} else {
			log.Debug("Checkpoint deleted after successful completion")
		}
	} else {
		h.saveProgress(final, cp, base, committed, sink, log)
	}

	log.InfoWithFields("Sync finished", map[string]interface{}{
		"pages":    report.Pages,
		"items":    report.Items,
		"written":  report.Written,
		"skipped":  report.Skipped,
		"failures": report.FailureCount(),
		"stop":     string(report.Stop),
		"duration": report.Duration,
	})

	if pageFailure != nil {
		return report, pageFailure
	}
	return report, nil
}

// prepareCheckpoint applies the Resume and ForceRestart rules. It returns
// the checkpoint to resume from, or nil to start fresh.
func (h *Harvester) prepareCheckpoint(ctx context.Context, opts Options, log logger.Logger) (*checkpoint.Checkpoint, error) {
	cp, err := h.checkpoints.Load(ctx, opts.Stream)
	if errors.Is(err, checkpoint.ErrCheckpointNotFound) {
		return nil, nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to load checkpoint")
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	switch {
	case opts.ForceRestart:
		if err := h.checkpoints.Delete(ctx, opts.Stream); err != nil {
			log.WithError(err).Warn("Failed to delete existing checkpoint")
		}
		log.Info("Force restart: ignoring existing checkpoint")
		return nil, nil
	case opts.Resume:
		log.InfoWithFields("Resuming from checkpoint", map[string]interface{}{
			"pages":   cp.Pages,
			"items":   cp.Items,
			"written": cp.Written,
			"cursor":  cp.Cursor,
		})
		return cp, nil
	default:
		return nil, ErrCheckpointExists
	}
}

// saveProgress records stats on top of the totals the checkpoint had when
// the run started. Failures are logged; the sync continues without them.
func (h *Harvester) saveProgress(ctx context.Context, cp *checkpoint.Checkpoint, base checkpoint.Checkpoint, stats paginate.Stats, sink *storage.Sink, log logger.Logger) {
	if err := sink.Flush(); err != nil {
		log.WithError(err).Warn("Failed to flush output before checkpoint")
		return
	}

	cp.Advance(paginate.Stats{
		Pages:        base.Pages + stats.Pages,
		Items:        base.Items + stats.Items,
		ResumeCursor: stats.ResumeCursor,
	}, base.Written+sink.Written())

	if err := h.checkpoints.Save(ctx, cp); err != nil {
		log.WithError(err).Warn("Failed to update checkpoint progress")
		return
	}
	logger.LogSyncProgress(log, cp.Stream, cp.Pages, cp.Items, cp.Written)
}

type runState struct {
	h      *Harvester
	opts   Options
	sink   *storage.Sink
	report *Report
	log    logger.Logger
}

// flush writes one page of items, fetching details first when configured
func (r *runState) flush(ctx context.Context, batch []json.RawMessage) error {
	if len(batch) == 0 {
		return nil
	}
	if r.opts.DetailPath == "" {
		for _, item := range batch {
			if err := r.write(item); err != nil {
				return err
			}
		}
		return nil
	}

	var jobs []fanout.Job[json.RawMessage]
	for _, item := range batch {
		key, err := storage.KeyOf(item, r.opts.KeyField)
		if err != nil {
			r.report.Failures[errs.KindValidation]++
			r.log.WithError(err).Warn("Skipping item without key")
			continue
		}
		if r.sink.Has(key) {
			// counted as skipped, no detail fetch needed
			if _, err := r.sink.Write(key, item); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
			continue
		}
		jobs = append(jobs, fanout.Job[json.RawMessage]{
			ID: key,
			Op: retry.Wrap(r.detailOp(DetailPath(r.opts.DetailPath, key)), r.h.retry),
		})
	}

	for _, res := range fanout.Run(ctx, r.h.concurrency, nil, r.log, jobs) {
		detail, ok := res.Outcome.Value()
		if !ok {
			if ctx.Err() != nil {
				continue
			}
			failure, _ := res.Outcome.Error()
			r.report.Failures[failure.Kind]++
			continue
		}
		if _, err := r.sink.Write(res.Job.ID, detail); err != nil {
			return fmt.Errorf("failed to write %s: %w", res.Job.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		// details cut short are fetched again on resume
		return errs.Interrupted(err)
	}
	return nil
}

func (r *runState) detailOp(path string) retry.Operation[json.RawMessage] {
	return func(ctx context.Context) outcome.Outcome[json.RawMessage, *errs.Error] {
		return r.h.source.Get(ctx, path)
	}
}

func (r *runState) write(item json.RawMessage) error {
	key, err := storage.KeyOf(item, r.opts.KeyField)
	if err != nil {
		r.report.Failures[errs.KindValidation]++
		r.log.WithError(err).Warn("Skipping item without key")
		return nil
	}
	if _, err := r.sink.Write(key, item); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// DetailPath expands the {id} placeholder with an escaped key
func DetailPath(template, key string) string {
	return strings.ReplaceAll(template, IDPlaceholder, url.PathEscape(key))
}
