package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"apikit/pkg/checkpoint"
	errs "apikit/pkg/errors"
	"apikit/pkg/harvest"
	"apikit/pkg/paginate"
	"apikit/pkg/retry"
	"apikit/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	syncOutput       string
	syncDetail       string
	syncStream       string
	syncKeyField     string
	syncResume       bool
	syncForceRestart bool
	syncConcurrent   int
	syncPageSize     int
	syncMaxPages     int
	syncBackend      string
)

var syncCmd = &cobra.Command{
	Use:   "sync <path>",
	Short: "Copy a list endpoint into a JSON Lines file",
	Long: `Copy every item of a list endpoint into a JSON Lines file.

Items already present in the output file (by key field) are skipped, so a
sync can be repeated safely. The listing cursor is checkpointed after every
page; an interrupted sync continues with --resume or starts over with
--force-restart.

With --detail each item is fetched again from a detail path, where {id} is
replaced by the item key. Detail fetches run concurrently.`,
	Example: `  # Sync projects
  apikit sync projects --output projects.jsonl

  # Fetch full records for every item using 8 workers
  apikit sync projects --detail 'projects/{id}' --concurrent 8

  # Continue an interrupted sync
  apikit sync projects --resume

  # Keep checkpoints in redis
  apikit sync projects --checkpoint-backend redis`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&syncOutput, "output", "o", "", "output JSON Lines file (default from config)")
	syncCmd.Flags().StringVar(&syncDetail, "detail", "", "detail path template containing {id}")
	syncCmd.Flags().StringVar(&syncStream, "stream", "", "checkpoint name (default is the path)")
	syncCmd.Flags().StringVar(&syncKeyField, "key-field", "", "item field used as key (default from config)")
	syncCmd.Flags().BoolVar(&syncResume, "resume", false, "resume from last checkpoint")
	syncCmd.Flags().BoolVar(&syncForceRestart, "force-restart", false, "force restart, ignoring existing checkpoint")
	syncCmd.Flags().IntVar(&syncConcurrent, "concurrent", 0, "number of concurrent detail fetches (default from config)")
	syncCmd.Flags().IntVar(&syncPageSize, "page-size", 0, "page size hint sent to the server")
	syncCmd.Flags().IntVar(&syncMaxPages, "max-pages", 0, "maximum number of pages to fetch (default from config)")
	syncCmd.Flags().StringVar(&syncBackend, "checkpoint-backend", "", "checkpoint backend (file, redis)")
	syncCmd.MarkFlagsMutuallyExclusive("resume", "force-restart")
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, map[string]interface{}{
		"output":             syncOutput,
		"concurrent":         syncConcurrent,
		"page-size":          syncPageSize,
		"max-pages":          syncMaxPages,
		"checkpoint-backend": syncBackend,
	})
	if err != nil {
		return err
	}

	store, err := checkpoint.FromConfig(cmd.Context(), a.cfg.Checkpoint, a.log)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	keyField := syncKeyField
	if keyField == "" {
		keyField = a.cfg.Sync.KeyField
	}

	stream := syncStream
	if stream == "" {
		stream = args[0]
	}
	printer := ui.NewPrinter(cmd.ErrOrStderr(), quiet)
	progress := ui.NewProgressDisplay(printer, stream)
	printer.PrintInfo("Syncing", strings.TrimRight(a.client.BaseURL(), "/")+"/"+strings.TrimLeft(args[0], "/"))

	retryCfg := a.retry.WithOnRetry(func(ev retry.Event) {
		a.collector.ObserveRetry(ev)
		progress.OnRetry(ev)
	})
	h := harvest.New(a.client, store,
		harvest.WithRetry(retryCfg),
		harvest.WithConcurrency(a.cfg.Sync.Concurrency),
		harvest.WithLogger(a.log),
		harvest.WithPageHook(func(ev paginate.PageEvent) {
			a.collector.ObservePage(ev)
			progress.OnPage(ev)
		}),
		harvest.WithStopHook(func(stats paginate.Stats) {
			a.collector.ObserveStop(stats)
			progress.Complete(stats)
		}),
	)

	report, err := h.Run(cmd.Context(), harvest.Options{
		Path:         args[0],
		Stream:       syncStream,
		Output:       a.cfg.Sync.OutputFile,
		KeyField:     keyField,
		DetailPath:   syncDetail,
		List:         listOptions(a.cfg.HTTP),
		PageSize:     a.cfg.Pagination.PageSize,
		MaxPages:     a.cfg.Pagination.MaxPages,
		Resume:       syncResume,
		ForceRestart: syncForceRestart,
	})
	if errors.Is(err, harvest.ErrCheckpointExists) {
		return existingCheckpoint(cmd.Context(), printer, store, stream)
	}
	if report != nil {
		printReport(printer, report, a.cfg.Sync.OutputFile)
	}
	return err
}

func existingCheckpoint(ctx context.Context, p *ui.Printer, store checkpoint.Store, stream string) error {
	if cp, err := store.Load(ctx, stream); err == nil {
		info := cp.Info()
		p.PrintWarning(fmt.Sprintf("Previous sync found (%d items written, %d pages, updated %s ago)",
			cp.Written, cp.Pages, info["age"]))
		p.PrintDim("  Use: --resume to continue where you left off")
		p.PrintDim("  Use: --force-restart to start fresh")
	}
	return errs.Validation(harvest.ErrCheckpointExists.Error(), "resume")
}

func printReport(p *ui.Printer, r *harvest.Report, output string) {
	verb := "Synced"
	if r.Resumed {
		verb = "Resumed sync:"
	}
	p.PrintInfo(verb, fmt.Sprintf("%d items from %d pages into %s in %s", r.Items, r.Pages, output, r.Duration.Round(time.Millisecond)))
	p.PrintDim(fmt.Sprintf("  written: %d  skipped: %d  failed: %d", r.Written, r.Skipped, r.FailureCount()))
	for _, kind := range r.FailureKinds() {
		p.PrintDim(fmt.Sprintf("  %-11s %d", string(kind)+":", r.Failures[kind]))
	}
	switch r.Stop {
	case paginate.StopPageLimit:
		p.PrintWarning("Page limit reached; run again with --resume to continue")
	case paginate.StopClosed, paginate.StopFailed:
		p.PrintWarning("Sync stopped early; run again with --resume to continue")
	}
}
