package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the reconstructed snapshot state without changing it",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctrl, err := newController(cmd.Context(), appCfg)
	if err != nil {
		return err
	}

	st, err := ctrl.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read snapshot state: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(out, "Snapshot folder: %s\n", st.Folder)
	if !st.HasBase {
		fmt.Fprintln(out, "No base snapshot yet; the next run creates one.")
		return nil
	}
	fmt.Fprintf(out, "Base created:    %s\n", st.BaseCreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Deltas:          %d\n", st.DeltaCount)
	if st.LatestPeriod != "" {
		fmt.Fprintf(out, "Latest delta:    %s\n", st.LatestPeriod)
	}
	fmt.Fprintf(out, "Tracked files:   %d (%d hashed)\n", st.TrackedFiles, st.HashedFiles)
	fmt.Fprintf(out, "Ran today:       %t\n", st.RanThisPeriod)
	switch {
	case st.ConsolidationPending:
		fmt.Fprintln(out, "Consolidation is due and runs on the next run that is not skipped.")
	case st.WillConsolidate:
		fmt.Fprintln(out, "The next delta written will trigger consolidation; runs without changes will not.")
	}
	return nil
}
