// Package harvest copies a paginated listing into a JSON Lines file.
//
// A Harvester walks the listing page by page, retrying each page fetch on
// its own. When a detail path is configured every item is replaced by the
// result of a detail request, fetched concurrently on a worker pool. Items
// are written to a storage.Sink that skips keys already present, and the
// listing cursor is checkpointed after every page so an interrupted run can
// continue where it stopped.
//
// Usage:
//
//	client, _ := httpsource.New(cfg.HTTP)
//	store, _ := checkpoint.NewFileStore(".apikit/checkpoints", log)
//	h := harvest.New(client, store, harvest.WithConcurrency(4))
//
//	report, err := h.Run(ctx, harvest.Options{
//	    Path:       "projects",
//	    Output:     "projects.jsonl",
//	    DetailPath: "projects/{id}",
//	    Resume:     true,
//	})
//
// Checkpoints:
//
// A run refuses to start when a checkpoint for the stream exists and
// neither Resume nor ForceRestart is set. Resume continues from the stored
// cursor; ForceRestart discards it. The checkpoint is removed once the
// listing is exhausted and kept when the run stops early.
package harvest
