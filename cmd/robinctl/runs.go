package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	runsLimit int
	runsKind  string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingestion runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs")
	runsCmd.Flags().StringVar(&runsKind, "kind", "", "only runs of this kind (document, realtime)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	reports, err := s.ledger.RecentReports(ctx, runsKind, runsLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, reports)
	}
	if len(reports) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tKIND\tSTARTED\tDURATION\tUNITS\tFAILED\tCHUNKS\tFAILED\tDEGRADED")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%v\n",
			r.RunID, r.Kind, r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond),
			r.TotalUnits, r.FailedUnits, r.TotalChunks, r.FailedChunks, r.Degraded)
	}
	return tw.Flush()
}
