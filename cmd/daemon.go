package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Canejo/vault-state-plugin/internal/ipc"
)

var (
	daemonSocket string
	daemonJSON   bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Talk to a running 'vaultstate run --interval' process",
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the daemon is doing and its last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := daemonClient().GetStatus(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if daemonJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}

		fmt.Fprintf(out, "State:    %s (pid %d)\n", status.State, status.PID)
		if status.StartedAt != nil {
			fmt.Fprintf(out, "Started:  %s\n", status.StartedAt.Local().Format(time.RFC3339))
		}
		if status.Interval != "" {
			fmt.Fprintf(out, "Interval: %s\n", status.Interval)
		}
		if status.NextRunAt != nil {
			fmt.Fprintf(out, "Next run: %s\n", status.NextRunAt.Local().Format(time.RFC3339))
		}
		fmt.Fprintf(out, "Runs:     %d\n", status.RunCount)
		if status.LastRun != nil {
			fmt.Fprintf(out, "Last run: %s %s\n", status.LastRun.Period, status.LastRun.Outcome)
		}
		if status.LastError != "" {
			fmt.Fprintf(out, "Error:    %s\n", status.LastError)
		}
		return nil
	},
}

var daemonTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run now instead of waiting for the next tick",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := daemonClient().TriggerRun(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the daemon to exit after the current run",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := daemonClient().RequestStop(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
		return nil
	},
}

func init() {
	daemonCmd.PersistentFlags().StringVar(&daemonSocket, "socket", ipc.SocketPath(), "Control socket of the daemon")
	daemonStatusCmd.Flags().BoolVar(&daemonJSON, "json", false, "Print status as JSON")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonTriggerCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func daemonClient() *ipc.Client {
	return ipc.NewClient(ipc.ClientConfig{SocketPath: daemonSocket})
}
