// Package paginate streams the items of cursor-paginated listings.
//
// A Fetcher retrieves one page for a cursor. Paginate wraps it in a lazy
// Stream that fetches pages only as items are pulled, stops at the first
// failed fetch, and never fetches more than MaxPages pages:
//
//	stream := paginate.Paginate(ctx, source.Fetcher("/v1/projects", httpsource.ListOptions{}), &paginate.Config{
//		PageSizeHint: 50,
//		MaxPages:     20,
//	})
//	for item := range stream.All() {
//		project, ok := item.Value()
//		if !ok {
//			failure, _ := item.Error()
//			return failure
//		}
//		handle(project)
//	}
//
// Fetchers do not retry. Wrap one with retry.Do (see httpsource.RetryingFetcher)
// to retry each page independently.
//
// Stats().ResumeCursor can be persisted and passed back as Config.StartCursor
// to continue a listing later.
package paginate
