package harvest

import (
	"context"
	"encoding/json"

	errs "apikit/pkg/errors"
	"apikit/pkg/httpsource"
	"apikit/pkg/outcome"
	"apikit/pkg/paginate"
)

// Source is the API a Harvester reads from. *httpsource.Client implements it.
type Source interface {
	Get(ctx context.Context, path string) outcome.Outcome[json.RawMessage, *errs.Error]
	Fetcher(path string, opts httpsource.ListOptions) paginate.Fetcher[json.RawMessage]
}
