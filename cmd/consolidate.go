package cmd

import (
	"github.com/spf13/cobra"
)

var consolidateJSON bool

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Fold every delta into a new base now",
	Long: `
The consolidate command reconstructs the current state from the base and
all deltas, writes it as the new base and only then deletes the deltas.
An interrupted consolidation is safe to repeat.
`,
	RunE: runConsolidate,
}

func init() {
	consolidateCmd.Flags().BoolVar(&consolidateJSON, "json", false, "Print the run summary as JSON")
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	ctrl, err := newController(cmd.Context(), appCfg)
	if err != nil {
		return err
	}

	summary, err := ctrl.ForceConsolidate(cmd.Context())
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary, consolidateJSON)
	}
	return err
}
