package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spanlens/spanlens/internal/analytics"
	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/export"
	"github.com/spanlens/spanlens/internal/watch"
)

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Summarize a timeline",
		Long: `Print statistics for the filtered timeline: span counts, duration
quantiles, overlap and concurrency, per-layer totals, the longest spans,
idle gaps, recurring sequences and critical paths.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, res, err := opts.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			snap := eng.Snapshot()
			p := newPrinter(cmd.OutOrStdout(), opts)
			if opts.jsonOutput {
				return p.json(struct {
					engine.LoadResult
					Statistics analytics.Statistics `json:"statistics"`
				}{res, snap.Statistics})
			}
			p.summary(res, snap)
			fmt.Fprintln(cmd.OutOrStdout())
			p.statistics(snap.Statistics, snap)
			return nil
		},
	}
}

func newSpansCmd(opts *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "spans <file>",
		Short: "List spans in start order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := opts.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			snap := eng.Snapshot()
			list := snap.Filtered
			if all {
				list = snap.Spans
			}
			p := newPrinter(cmd.OutOrStdout(), opts)
			if opts.jsonOutput {
				return p.json(list)
			}
			p.heading(fmt.Sprintf("%d spans", len(list)))
			for _, s := range list {
				p.span(s, snap.Colors)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Ignore the filter flags")
	return cmd
}

func newGroupsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "groups <file>",
		Short: "Show spans grouped by actor and layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := opts.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			snap := eng.Snapshot()
			p := newPrinter(cmd.OutOrStdout(), opts)
			if opts.jsonOutput {
				return p.json(snap.Groups)
			}
			p.groups(snap.Groups, snap.Colors)
			return nil
		},
	}
}

func newSeriesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "series <file> [attribute]",
		Short: "Show numeric attribute series per actor",
		Long: `Without an attribute, list the numeric attributes found in the log.
With one, print its samples per actor.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := opts.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			p := newPrinter(cmd.OutOrStdout(), opts)
			series := eng.NumericSeries()
			if len(args) == 1 {
				if opts.jsonOutput {
					return p.json(series.Attributes())
				}
				for _, attr := range series.Attributes() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %d actors\n", attr, len(series.Actors(attr)))
				}
				return nil
			}

			byActor, err := eng.SeriesFor(args[1])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return p.json(byActor)
			}
			p.series(args[1], byActor, series.Actors(args[1]))
			return nil
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var (
		formats   string
		outDir    string
		attribute string
	)
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write JSON, CSV, SVG or SQLite exports",
		Long: `Render the timeline to files in --out. JSON, CSV and SQLite exports
contain every span; the SVG renders the filtered view, or one attribute's
series with --attribute.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := opts.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			list, err := parseFormats(formats)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", outDir, err)
			}

			xopts := export.DefaultOptions()
			xopts.Analytics = opts.analytics()
			xopts.TempDir = outDir

			snap := eng.Snapshot()
			for _, f := range list {
				path := filepath.Join(outDir, f.FileName())
				if err := writeExport(cmd.Context(), path, snap, f, attribute, xopts); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&formats, "format", "f", "json", "Comma-separated formats: json, csv, svg, sqlite, or all")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().StringVar(&attribute, "attribute", "", "Render this attribute's series as the SVG")
	return cmd
}

func parseFormats(value string) ([]export.Format, error) {
	if strings.EqualFold(strings.TrimSpace(value), "all") {
		return export.Formats, nil
	}
	var out []export.Format
	for _, name := range strings.Split(value, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		f, err := export.ParseFormat(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no export format given")
	}
	return out, nil
}

func writeExport(ctx context.Context, path string, snap *engine.Snapshot, f export.Format, attribute string, opts export.Options) error {
	if f == export.FormatSQLite {
		_, err := export.BuildArchive(ctx, path, snap)
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if attribute != "" && f == export.FormatSVG {
		err = export.WriteSeriesSVG(file, snap, attribute, opts)
	} else {
		err = export.Render(ctx, file, snap, f, opts)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

func newWatchCmd(opts *options) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-run stats whenever the file changes",
		Long: `Load the file, print its statistics, and print them again after each
burst of writes. A failed reload keeps the previous timeline. Stops on
Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := opts.newEngine()
			defer eng.Close()

			p := newPrinter(cmd.OutOrStdout(), opts)
			w, err := watch.New(args[0], eng,
				watch.WithDebounce(debounce),
				watch.WithOnReload(func(r watch.Result) {
					if r.Err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "reload failed: %v\n", r.Err)
						return
					}
					opts.applyFilter(eng)
					snap := eng.Snapshot()
					if opts.jsonOutput {
						p.json(snap.Statistics)
						return
					}
					fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", r.At.Format(time.TimeOnly))
					p.summary(r.Load, snap)
					p.statistics(snap.Statistics, snap)
				}),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before reloading")
	return cmd
}
