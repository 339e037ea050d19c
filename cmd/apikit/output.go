package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	errs "apikit/pkg/errors"

	"github.com/olekukonko/tablewriter"
)

// hint suggests what to do about a failure of the given kind
func hint(kind errs.Kind) string {
	switch kind {
	case errs.KindAuth:
		return "check the stored token with 'apikit auth status' or log in again with 'apikit auth login'"
	case errs.KindNotFound:
		return "check the path and the resource id"
	case errs.KindQuota:
		return "the API quota is used up; wait for it to reset or raise it with the provider"
	case errs.KindRateLimit:
		return "lower rate_limit.requests_per_minute or try again later"
	case errs.KindServer:
		return "the server failed; retry later and quote the request id to the provider"
	case errs.KindNetwork:
		return "check connectivity and http.base_url, or raise http.timeout"
	case errs.KindValidation:
		return "fix the input and run the command again"
	case errs.KindUnknown:
		return "run again with --log-level debug for details"
	}
	return ""
}

// printFailure writes err with its kind and a hint when it is classified
func printFailure(w io.Writer, err error) {
	failure, ok := errs.As(err)
	if !ok {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", failure.Kind, failure.Message)
	switch {
	case failure.RequestID != "":
		fmt.Fprintf(w, "  request id:  %s\n", failure.RequestID)
	case failure.ResourceID != "":
		fmt.Fprintf(w, "  resource:    %s\n", failure.ResourceID)
	case failure.Field != "":
		fmt.Fprintf(w, "  field:       %s\n", failure.Field)
	}
	if failure.RetryAfter > 0 {
		fmt.Fprintf(w, "  retry after: %s\n", failure.RetryAfter)
	}
	if h := hint(failure.Kind); h != "" {
		fmt.Fprintf(w, "  hint:        %s\n", h)
	}
}

// printJSON writes raw indented
func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// printItems writes items as a JSON array or a table
func printItems(w io.Writer, items []json.RawMessage, format string) error {
	switch format {
	case "json", "":
		raw, err := json.Marshal(items)
		if err != nil {
			return err
		}
		return printJSON(w, raw)
	case "table":
		return printTable(w, items)
	default:
		return errs.Validation(fmt.Sprintf("unknown format %q", format), "format")
	}
}

const maxCellWidth = 40

func printTable(w io.Writer, items []json.RawMessage) error {
	if len(items) == 0 {
		_, err := io.WriteString(w, "No items found\n")
		return err
	}

	rows := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		var row map[string]json.RawMessage
		if err := json.Unmarshal(item, &row); err != nil {
			return errors.New("table format needs JSON objects; use --format json")
		}
		rows = append(rows, row)
	}
	columns := tableColumns(rows)

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}

	table := tablewriter.NewWriter(w)
	table.Header(header...)
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = cellText(row[c])
		}
		if err := table.Append(cells); err != nil {
			return err
		}
	}
	return table.Render()
}

// tableColumns lists every top-level key, "id" and "name" first
func tableColumns(rows []map[string]json.RawMessage) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}

	var columns []string
	for _, k := range []string{"id", "name"} {
		if seen[k] {
			columns = append(columns, k)
			delete(seen, k)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(columns, rest...)
}

func cellText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	text := string(raw)
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > maxCellWidth {
		text = text[:maxCellWidth-3] + "..."
	}
	return text
}
