package harvest

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"apikit/internal/apitest"
	"apikit/pkg/checkpoint"
	"apikit/pkg/config"
	errs "apikit/pkg/errors"
	"apikit/pkg/httpsource"
	"apikit/pkg/logger"
	"apikit/pkg/paginate"
	"apikit/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv    *apitest.Server
	store  *checkpoint.FileStore
	output string
	h      *Harvester
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddCollection("widgets", apitest.GenerateItems(25, "widget"))

	client, err := httpsource.New(config.HTTPConfig{BaseURL: srv.URL(), Timeout: 5 * time.Second},
		httpsource.WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(filepath.Join(dir, "checkpoints"), logger.NewNopLogger())
	require.NoError(t, err)

	instant := &retry.Config{
		Policy: retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger: logger.NewNopLogger(),
		Sleep:  func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
	opts = append([]Option{WithRetry(instant), WithLogger(logger.NewNopLogger())}, opts...)

	return &fixture{
		srv:    srv,
		store:  store,
		output: filepath.Join(dir, "out", "widgets.jsonl"),
		h:      New(client, store, opts...),
	}
}

func (f *fixture) options() Options {
	return Options{Path: "widgets", Output: f.output, PageSize: 10}
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var items []map[string]interface{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var item map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &item))
		items = append(items, item)
	}
	require.NoError(t, scanner.Err())
	return items
}

func TestRunWritesAllItems(t *testing.T) {
	f := newFixture(t)

	report, err := f.h.Run(context.Background(), f.options())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Resumed)
	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, 25, report.Items)
	assert.Equal(t, 25, report.Written)
	assert.Equal(t, paginate.StopExhausted, report.Stop)
	assert.Zero(t, report.FailureCount())

	items := readLines(t, f.output)
	require.Len(t, items, 25)
	assert.Equal(t, "widget-001", items[0]["id"])

	exists, err := checkpoint.Exists(context.Background(), f.store, "widgets")
	require.NoError(t, err)
	assert.False(t, exists, "checkpoint is removed after a complete sync")
}

func TestRunSavesCheckpointPerPage(t *testing.T) {
	var pages int32
	f := newFixture(t, WithPageHook(func(paginate.PageEvent) { atomic.AddInt32(&pages, 1) }))

	opts := f.options()
	opts.MaxPages = 2
	report, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, paginate.StopPageLimit, report.Stop)
	assert.Equal(t, 20, report.Written)
	assert.EqualValues(t, 2, atomic.LoadInt32(&pages))

	cp, err := f.store.Load(context.Background(), "widgets")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Pages)
	assert.Equal(t, 20, cp.Items)
	assert.Equal(t, 20, cp.Written)
	assert.Equal(t, report.ResumeCursor.String(), cp.Cursor)
	assert.Equal(t, report.RunID, cp.RunID)
}

func TestRunRefusesExistingCheckpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(context.Background(), checkpoint.New("widgets", "earlier")))

	_, err := f.h.Run(context.Background(), f.options())
	assert.ErrorIs(t, err, ErrCheckpointExists)
	assert.Equal(t, 0, f.srv.RequestCount())
}

func TestRunResumes(t *testing.T) {
	f := newFixture(t)

	opts := f.options()
	opts.MaxPages = 1
	first, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Written)

	opts.MaxPages = 0
	opts.Resume = true
	second, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, second.Resumed)
	assert.Equal(t, 15, second.Written)
	assert.Equal(t, 0, second.Skipped)
	assert.Equal(t, paginate.StopExhausted, second.Stop)

	items := readLines(t, f.output)
	require.Len(t, items, 25)
	assert.Equal(t, "widget-011", items[10]["id"])
}

func TestRunResumeWithoutCheckpointStartsFresh(t *testing.T) {
	f := newFixture(t)
	opts := f.options()
	opts.Resume = true

	report, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, report.Resumed)
	assert.Equal(t, 25, report.Written)
}

func TestRunForceRestart(t *testing.T) {
	f := newFixture(t)

	opts := f.options()
	opts.MaxPages = 1
	_, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)

	opts.MaxPages = 0
	opts.ForceRestart = true
	report, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, report.Resumed)
	assert.Equal(t, 15, report.Written)
	assert.Equal(t, 10, report.Skipped, "items from the first run are already in the file")
	assert.Len(t, readLines(t, f.output), 25)
}

func TestRunWithDetail(t *testing.T) {
	f := newFixture(t, WithConcurrency(3))

	opts := f.options()
	opts.DetailPath = "widgets/{id}"
	report, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 25, report.Written)

	items := readLines(t, f.output)
	require.Len(t, items, 25)
	for i, item := range items {
		assert.Equal(t, true, item["detail"], "item %d", i)
	}
	assert.Equal(t, "widget-025", items[24]["id"], "detail results keep listing order")
	assert.Equal(t, 3+25, f.srv.RequestCount())
}

func TestRunDetailFailures(t *testing.T) {
	f := newFixture(t)
	f.srv.SetErrorResponse("/v1/widgets/widget-003", http.StatusNotFound)

	opts := f.options()
	opts.DetailPath = "widgets/{id}"
	report, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 24, report.Written)
	assert.Equal(t, 1, report.Failures[errs.KindNotFound])
	assert.Equal(t, []errs.Kind{errs.KindNotFound}, report.FailureKinds())
}

func TestRunPageFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.SetErrorResponse("/v1/widgets", http.StatusForbidden)

	report, err := f.h.Run(context.Background(), f.options())
	require.Error(t, err)

	failure, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindAuth, failure.Kind)
	require.NotNil(t, report)
	assert.Equal(t, paginate.StopFailed, report.Stop)
	assert.Equal(t, 1, report.Failures[errs.KindAuth])

	exists, _ := checkpoint.Exists(context.Background(), f.store, "widgets")
	assert.True(t, exists, "a failed run keeps its checkpoint")
}

func TestRunRecoversFromTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext("/v1/widgets", http.StatusBadGateway, 2)

	report, err := f.h.Run(context.Background(), f.options())
	require.NoError(t, err)
	assert.Equal(t, 25, report.Written)
	assert.Zero(t, report.FailureCount())
}

func TestRunWithDetailSkipsItemsAlreadyWritten(t *testing.T) {
	f := newFixture(t)

	opts := f.options()
	opts.DetailPath = "widgets/{id}"
	_, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)

	opts.ForceRestart = true
	report, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Written)
	assert.Equal(t, 25, report.Skipped)
	assert.Equal(t, 3+25+3, f.srv.RequestCount(), "known items need no detail fetch")
	assert.Len(t, readLines(t, f.output), 25)
}

func TestRunInterruptedBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, WithPageHook(func(ev paginate.PageEvent) {
		if ev.Number == 1 {
			cancel()
		}
	}))

	report, err := f.h.Run(ctx, f.options())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, paginate.StopClosed, report.Stop)
	assert.Equal(t, 10, report.Written)
	assert.Zero(t, report.FailureCount(), "cancellation is not an item failure")

	cp, err := f.store.Load(context.Background(), "widgets")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Pages)
	assert.Equal(t, 10, cp.Written)

	opts := f.options()
	opts.Resume = true
	second, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 15, second.Written)
	assert.Len(t, readLines(t, f.output), 25)
}

func TestRunInterruptedDuringDetailsKeepsPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, WithPageHook(func(ev paginate.PageEvent) {
		if ev.Number == 2 {
			cancel()
		}
	}))

	opts := f.options()
	opts.DetailPath = "widgets/{id}"
	report, err := f.h.Run(ctx, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.FailureCount())

	cp, err := f.store.Load(context.Background(), "widgets")
	require.NoError(t, err)
	assert.Equal(t, 0, cp.Pages, "the page whose details were cut short is fetched again")
	assert.Equal(t, report.Written, cp.Written)

	opts.Resume = true
	second, err := f.h.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 25, report.Written+second.Written)

	items := readLines(t, f.output)
	require.Len(t, items, 25)
	for i, item := range items {
		assert.Equal(t, true, item["detail"], "item %d", i)
	}
}

func TestRunValidatesOptions(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"missing path", Options{Output: f.output}, "path"},
		{"missing output", Options{Path: "widgets"}, "output"},
		{"detail without placeholder", Options{Path: "widgets", Output: f.output, DetailPath: "widgets/x"}, "detail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.h.Run(context.Background(), tt.opts)
			failure, ok := errs.As(err)
			require.True(t, ok)
			assert.Equal(t, errs.KindValidation, failure.Kind)
			assert.Equal(t, tt.field, failure.Field)
		})
	}
}

func TestDetailPath(t *testing.T) {
	assert.Equal(t, "widgets/w-1", DetailPath("widgets/{id}", "w-1"))
	assert.Equal(t, "users/a%2Fb/profile", DetailPath("users/{id}/profile", "a/b"))
}
