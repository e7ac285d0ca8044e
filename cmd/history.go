package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Canejo/vault-state-plugin/internal/metrics"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent snapshot runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store := metrics.GetStore()
	if store == nil {
		return fmt.Errorf("run history is not available")
	}

	runs, err := store.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPERIOD\tOUTCOME\tADDED\tMODIFIED\tREMOVED\tDURATION")
	for _, r := range runs {
		outcome := string(r.Outcome)
		if r.Consolidated {
			outcome += "+consolidated"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Period,
			outcome,
			r.Added, r.Modified, r.Removed,
			r.Duration.Round(time.Millisecond),
		)
	}

	stats := metrics.GetStats()
	if err := w.Flush(); err != nil {
		return err
	}
	if stats != nil {
		fmt.Fprintf(out, "\nTotal: %d base, %d delta, %d unchanged, %d skipped, %d failed\n",
			stats[types.OutcomeBaseCreated], stats[types.OutcomeDeltaCreated], stats[types.OutcomeNoChanges],
			stats[types.OutcomeSkipped], stats[types.OutcomeFailed])
	}
	return nil
}
