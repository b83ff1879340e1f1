package main

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geolab/internal/fetcher"
)

var fetchForce bool

var fetchCmd = &cobra.Command{
	Use:   "fetch [dataset]...",
	Short: "Download the configured datasets into the data directory",
	Long: "Downloads datasets listed under datasets: in config.yaml over HTTP or FTP and unpacks " +
		"zip archives. Unchanged datasets are skipped using the server ETag.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		datasets, err := selectDatasets(args)
		if err != nil {
			return err
		}
		f := fetcher.NewRouter(fetcher.HTTPOptions{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
			RatePerSec: cfg.Fetch.RatePerSec,
		}, fetcher.FTPOptions{
			Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		})
		results, err := fetchAll(commandContext(cmd), f, datasets)
		for _, r := range results {
			state := "unchanged"
			if r.Changed {
				state = fmt.Sprintf("%d bytes, %d files", r.Bytes, len(r.Files))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", r.Dataset, state)
		}
		return err
	},
}

// selectDatasets returns the configured datasets named in args, or all of
// them, sorted by name.
func selectDatasets(args []string) ([]fetcher.Dataset, error) {
	names := args
	if len(names) == 0 {
		for n := range cfg.Datasets {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	out := make([]fetcher.Dataset, 0, len(names))
	for _, n := range names {
		ds, ok := cfg.Datasets[n]
		if !ok {
			return nil, eris.Errorf("no dataset %q in config", n)
		}
		out = append(out, fetcher.Dataset{Name: n, URL: ds.URL, Keep: ds.Keep, Force: fetchForce})
	}
	return out, nil
}

func fetchAll(ctx context.Context, f fetcher.Fetcher, datasets []fetcher.Dataset) ([]*fetcher.Result, error) {
	var (
		mu      sync.Mutex
		results []*fetcher.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for _, ds := range datasets {
		g.Go(func() error {
			r, err := fetcher.FetchDataset(gctx, f, ds, cfg.Data.Dir, cfg.Fetch.TempDir)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	slices.SortFunc(results, func(a, b *fetcher.Result) int { return cmp.Compare(a.Dataset, b.Dataset) })
	return results, err
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "download even when the server reports no change")
	rootCmd.AddCommand(fetchCmd)
}
