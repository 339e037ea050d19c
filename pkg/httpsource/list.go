package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"apikit/pkg/config"
	errs "apikit/pkg/errors"
	"apikit/pkg/outcome"
	"apikit/pkg/paginate"
	"apikit/pkg/retry"
)

// Defaults for Google-style list endpoints
const (
	DefaultItemsField    = "items"
	DefaultNextField     = "nextPageToken"
	DefaultCursorParam   = "pageToken"
	DefaultPageSizeParam = "pageSize"
)

// ListOptions describes the shape of a list endpoint
type ListOptions struct {
	// ItemsField locates the item array; dotted paths reach into nested objects
	ItemsField string
	// NextField locates the next-page token or link
	NextField string
	// CursorParam is the query parameter carrying the token
	CursorParam string
	// PageSizeParam is the query parameter carrying the page size hint
	PageSizeParam string
	// NextLink treats the next field as the full URL of the next page
	NextLink bool
	// Query is added to the first request
	Query url.Values
}

// ListOptionsFromConfig reads the list shape from the http config section
func ListOptionsFromConfig(cfg config.HTTPConfig) ListOptions {
	return ListOptions{
		ItemsField:    cfg.ItemsField,
		NextField:     cfg.NextField,
		CursorParam:   cfg.CursorParam,
		PageSizeParam: cfg.PageSizeParam,
		NextLink:      cfg.NextLink,
	}.withDefaults()
}

func (o ListOptions) withDefaults() ListOptions {
	if o.ItemsField == "" {
		o.ItemsField = DefaultItemsField
	}
	if o.NextField == "" {
		if o.NextLink {
			o.NextField = "@odata.nextLink"
		} else {
			o.NextField = DefaultNextField
		}
	}
	if o.CursorParam == "" {
		o.CursorParam = DefaultCursorParam
	}
	if o.PageSizeParam == "" {
		o.PageSizeParam = DefaultPageSizeParam
	}
	return o
}

// Fetcher returns a page fetcher for the list endpoint at path.
// Each call performs exactly one request.
func (c *Client) Fetcher(path string, opts ListOptions) paginate.Fetcher[json.RawMessage] {
	opts = opts.withDefaults()

	return func(ctx context.Context, req paginate.Request) outcome.Outcome[paginate.Page[json.RawMessage], *errs.Error] {
		target, err := pageURL(path, opts, req)
		if err != nil {
			return outcome.Failure[paginate.Page[json.RawMessage]](errs.Validation(err.Error(), "path"))
		}
		return outcome.AndThen(c.Get(ctx, target), func(body json.RawMessage) outcome.Outcome[paginate.Page[json.RawMessage], *errs.Error] {
			page, err := parsePage(body, opts)
			if err != nil {
				return outcome.Failure[paginate.Page[json.RawMessage]](errs.Unknown(fmt.Sprintf("unexpected list response from %s: %v", path, err), err))
			}
			return outcome.Success[paginate.Page[json.RawMessage], *errs.Error](page)
		})
	}
}

// pageURL builds the request target for one page
func pageURL(path string, opts ListOptions, req paginate.Request) (string, error) {
	if opts.NextLink && req.Cursor.Present() {
		return req.Cursor.String(), nil
	}

	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	query := u.Query()
	for key, values := range opts.Query {
		query[key] = values
	}
	if req.Cursor.Present() {
		query.Set(opts.CursorParam, req.Cursor.String())
	}
	if req.PageSize > 0 {
		query.Set(opts.PageSizeParam, strconv.Itoa(req.PageSize))
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// parsePage extracts the items and next cursor from a list response.
// A missing items field is an empty page.
func parsePage(body json.RawMessage, opts ListOptions) (paginate.Page[json.RawMessage], error) {
	var page paginate.Page[json.RawMessage]

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return page, fmt.Errorf("response is not a JSON object: %w", err)
	}

	if raw, ok := lookup(doc, opts.ItemsField); ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &page.Items); err != nil {
			return page, fmt.Errorf("field %q is not an array: %w", opts.ItemsField, err)
		}
	}

	if raw, ok := lookup(doc, opts.NextField); ok && !isNull(raw) {
		var next string
		if err := json.Unmarshal(raw, &next); err != nil {
			return page, fmt.Errorf("field %q is not a string: %w", opts.NextField, err)
		}
		page.NextCursor = paginate.CursorOrNone(next)
	}
	return page, nil
}

// lookup finds field in doc, first as a literal key and then as a dotted path
func lookup(doc map[string]json.RawMessage, field string) (json.RawMessage, bool) {
	if raw, ok := doc[field]; ok {
		return raw, true
	}

	parts := strings.Split(field, ".")
	current := doc
	for i, part := range parts {
		raw, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return raw, true
		}
		current = nil
		if err := json.Unmarshal(raw, &current); err != nil || current == nil {
			return nil, false
		}
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// Decode converts a raw item fetcher into a typed one. An item that does not
// decode fails the whole page.
func Decode[T any](fetch paginate.Fetcher[json.RawMessage]) paginate.Fetcher[T] {
	return func(ctx context.Context, req paginate.Request) outcome.Outcome[paginate.Page[T], *errs.Error] {
		return outcome.AndThen(fetch(ctx, req), func(raw paginate.Page[json.RawMessage]) outcome.Outcome[paginate.Page[T], *errs.Error] {
			items := make([]T, 0, len(raw.Items))
			for i, item := range raw.Items {
				var v T
				if err := json.Unmarshal(item, &v); err != nil {
					return outcome.Failure[paginate.Page[T]](errs.Unknown(fmt.Sprintf("failed to decode item %d: %v", i, err), err))
				}
				items = append(items, v)
			}
			return outcome.Success[paginate.Page[T], *errs.Error](paginate.Page[T]{Items: items, NextCursor: raw.NextCursor})
		})
	}
}

// RetryingFetcher retries each page fetch independently under cfg
func RetryingFetcher[T any](fetch paginate.Fetcher[T], cfg *retry.Config) paginate.Fetcher[T] {
	return func(ctx context.Context, req paginate.Request) outcome.Outcome[paginate.Page[T], *errs.Error] {
		return retry.Do(ctx, func(ctx context.Context) outcome.Outcome[paginate.Page[T], *errs.Error] {
			return fetch(ctx, req)
		}, cfg)
	}
}
