// Package httpsource calls JSON HTTP APIs and returns classified outcomes.
//
// A Client resolves paths against a base URL, throttles through a
// ratelimit.Limiter, attaches a bearer token and a correlation id, and turns
// every non-2xx response or transport failure into an *errors.Error:
//
//	client, err := httpsource.New(cfg.HTTP,
//	    httpsource.WithLimiter(ratelimit.FromConfig(cfg.RateLimit)),
//	    httpsource.WithTokenSource(authManager),
//	)
//	project := httpsource.GetJSON[Project](ctx, client, "projects/p-1")
//
// Fetcher adapts a list endpoint to the paginator. Combine it with
// RetryingFetcher so each page is retried on its own:
//
//	fetch := httpsource.RetryingFetcher(client.Fetcher("projects", opts), retryCfg)
//	stream := paginate.Paginate(ctx, fetch, pageCfg)
package httpsource
