package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"apikit/pkg/config"
	errs "apikit/pkg/errors"
	"apikit/pkg/httpsource"
	"apikit/pkg/outcome"
	"apikit/pkg/paginate"
	"apikit/pkg/storage"
	"apikit/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	listLimit      int
	listMaxPages   int
	listPageSize   int
	listFind       string
	listFormat     string
	listItemsField string
	listNextField  string
	listNextLink   bool
)

var listCmd = &cobra.Command{
	Use:   "list <path>",
	Short: "Page through a list endpoint",
	Long: `Page through a list endpoint and print its items.

Pages are fetched lazily: with --limit or --find no page beyond the one
holding the last needed item is requested. Each page fetch is retried on
its own.`,
	Example: `  # First 50 projects as a table
  apikit list projects --limit 50 --format table

  # Find a project by name
  apikit list projects --find name=billing

  # OData style endpoint
  apikit list users --items-field value --next-link`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "stop after this many items (0 for all)")
	listCmd.Flags().IntVar(&listMaxPages, "max-pages", 0, "maximum number of pages to fetch (default from config)")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 0, "page size hint sent to the server")
	listCmd.Flags().StringVar(&listFind, "find", "", "print the first item whose field equals a value (key=value)")
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "json", "output format (json, table)")
	listCmd.Flags().StringVar(&listItemsField, "items-field", "", "field holding the item array (default from config)")
	listCmd.Flags().StringVar(&listNextField, "next-field", "", "field holding the next page token (default from config)")
	listCmd.Flags().BoolVar(&listNextLink, "next-link", false, "treat the next field as the URL of the next page")
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, map[string]interface{}{
		"page-size": listPageSize,
		"max-pages": listMaxPages,
	})
	if err != nil {
		return err
	}

	opts := listOptions(a.cfg.HTTP)
	fetch := httpsource.RetryingFetcher(a.client.Fetcher(args[0], opts), a.retry)
	stream := paginate.Paginate(cmd.Context(), fetch, &paginate.Config{
		PageSizeHint: a.cfg.Pagination.PageSize,
		MaxPages:     a.cfg.Pagination.MaxPages,
		Logger:       a.log,
		OnPage:       a.collector.ObservePage,
		OnStop:       a.collector.ObserveStop,
	})

	out := cmd.OutOrStdout()
	if listFind != "" {
		key, value, ok := strings.Cut(listFind, "=")
		if !ok || key == "" {
			return errs.Validation("--find expects key=value", "find")
		}
		result := paginate.FindFirst(stream, func(item json.RawMessage) bool {
			v, err := storage.KeyOf(item, key)
			return err == nil && v == value
		})
		match, ok := result.Value()
		if !ok {
			failure, _ := result.Error()
			return failure
		}
		if !match.Found {
			return errs.NotFound(fmt.Sprintf("no item with %s=%s", key, value), value)
		}
		return printItems(out, []json.RawMessage{match.Item}, listFormat)
	}

	var result outcome.Outcome[[]json.RawMessage, *errs.Error]
	if listLimit > 0 {
		result = paginate.CollectUpTo(stream, listLimit)
	} else {
		result = paginate.CollectAll(stream)
	}
	items, ok := result.Value()
	if !ok {
		failure, _ := result.Error()
		return failure
	}

	if err := printItems(out, items, listFormat); err != nil {
		return err
	}

	stats := stream.Stats()
	printer := ui.NewPrinter(cmd.ErrOrStderr(), quiet)
	printer.PrintDim(fmt.Sprintf("%d items from %d pages (%s)", len(items), stats.Pages, stats.Stop))
	if stats.Stop == paginate.StopPageLimit {
		printer.PrintWarning("More pages are available; raise --max-pages to fetch them")
	}
	return nil
}

// listOptions applies the list flags over the http config section
func listOptions(cfg config.HTTPConfig) httpsource.ListOptions {
	if listItemsField != "" {
		cfg.ItemsField = listItemsField
	}
	if listNextField != "" {
		cfg.NextField = listNextField
	}
	if listNextLink {
		cfg.NextLink = true
		if listNextField == "" {
			cfg.NextField = ""
		}
	}
	return httpsource.ListOptionsFromConfig(cfg)
}
