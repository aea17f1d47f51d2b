// Package main implements spanlens-analyze, a command line tool that
// reconstructs a timeline from a log file or span archive and reports on it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	layers       []string
	actors       []string
	search       string
	jsonOutput   bool
	plain        bool
	gapThreshold float64
	tolerance    float64
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "spanlens-analyze",
		Short: "Reconstruct and analyze event timelines",
		Long: `spanlens-analyze pairs start/end markers from a simulation log into spans
and reports on the resulting timeline.

Inputs may be any supported JSON log layout or a .sqlite span archive
produced by an export.

Examples:
  spanlens-analyze stats run.json
  spanlens-analyze stats run.json --layer control --actor Car1
  spanlens-analyze groups archive.sqlite --json
  spanlens-analyze series run.json speed
  spanlens-analyze export run.json --format csv,svg --out ./reports
  spanlens-analyze watch run.json`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringSliceVar(&opts.layers, "layer", nil, "Only include these layers (repeatable)")
	flags.StringSliceVar(&opts.actors, "actor", nil, "Only include these actors (repeatable)")
	flags.StringVarP(&opts.search, "search", "s", "", "Case-insensitive search over id, name, layer and actor")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	flags.BoolVar(&opts.plain, "plain", false, "Disable colors even on a terminal")
	flags.Float64Var(&opts.gapThreshold, "gap-threshold", 100, "Minimum idle time reported as a gap (ms)")
	flags.Float64Var(&opts.tolerance, "path-tolerance", 100, "Critical path continuation tolerance (ms)")

	cmd.AddCommand(
		newStatsCmd(opts),
		newSpansCmd(opts),
		newGroupsCmd(opts),
		newSeriesCmd(opts),
		newExportCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}
