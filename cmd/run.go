package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Canejo/vault-state-plugin/internal/ipc"
	"github.com/Canejo/vault-state-plugin/internal/snapshot"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

var (
	runInterval  time.Duration
	runJSON      bool
	runSocket    string
	runNoControl bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Take today's snapshot if it has not been taken yet",
	Long: `
The run command creates the base snapshot when none exists, otherwise
records a delta for the current day unless one was already written.
When the number of deltas reaches CONSOLIDATE_THRESHOLD they are folded
into a new base.

With --interval the command keeps running and re-checks on every tick
until interrupted. While it runs, "vaultstate daemon" talks to it over a
Unix control socket; only one such daemon may run per socket.
`,
	RunE: runSnapshot,
}

func init() {
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "Re-check on this interval until interrupted (0 = run once)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
	runCmd.Flags().StringVar(&runSocket, "socket", ipc.SocketPath(), "Control socket used with --interval")
	runCmd.Flags().BoolVar(&runNoControl, "no-control", false, "Do not open the control socket with --interval")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ctrl, err := newController(ctx, appCfg)
	if err != nil {
		return err
	}

	if runInterval <= 0 {
		summary, err := ctrl.RunIfNeeded(ctx)
		if summary != nil {
			printSummary(cmd.OutOrStdout(), summary, runJSON)
		}
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Printf("Received shutdown signal, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var server *ipc.Server
	if !runNoControl {
		server, err = ipc.NewServer(ipc.ServerConfig{SocketPath: runSocket, Interval: runInterval}, nil)
		if errors.Is(err, ipc.ErrAnotherInstanceRunning) {
			return err
		}
		if err != nil {
			log.Printf("Warning: control socket disabled: %v", err)
			server = nil
		} else if err := server.Start(ctx); err != nil {
			log.Printf("Warning: control socket disabled: %v", err)
			_ = server.Shutdown(context.Background())
			server = nil
		}
	}
	if server != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: control socket shutdown: %v", err)
			}
		}()
	}

	return runEvery(ctx, ctrl, server, runInterval, cmd.OutOrStdout())
}

// runEvery runs immediately, then on every tick and on every trigger received
// over the control socket. Failed runs are reported and retried on the next
// tick; only cancellation or a stop request ends the loop.
func runEvery(ctx context.Context, ctrl *snapshot.Controller, server *ipc.Server, interval time.Duration, out io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var triggers, stops <-chan struct{}
	if server != nil {
		triggers = server.TriggerChan()
		stops = server.StopChan()
	}

	for {
		if server != nil {
			server.SetState(ipc.StateRunning)
		}
		summary, err := ctrl.RunIfNeeded(ctx)
		switch {
		case errors.Is(err, snapshot.ErrRunInProgress):
			log.Printf("Previous run still in progress, waiting for next tick")
		case summary != nil:
			printSummary(out, summary, runJSON)
		}
		if server != nil {
			server.RecordRun(summary, err)
			server.SetState(ipc.StateWaiting)
			server.SetNextRun(time.Now().Add(interval).UTC())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-stops:
			log.Printf("Stop requested over control socket, stopping...")
			return nil
		case <-triggers:
			log.Printf("Run requested over control socket")
		case <-ticker.C:
		}
	}
}

type summaryOutput struct {
	*types.RunSummary
	Error string `json:"error,omitempty"`
}

func printSummary(out io.Writer, s *types.RunSummary, asJSON bool) {
	if asJSON {
		o := summaryOutput{RunSummary: s}
		if s.Err != nil {
			o.Error = s.Err.Error()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(o)
		return
	}

	fmt.Fprintf(out, "Period:   %s\n", s.Period)
	fmt.Fprintf(out, "Outcome:  %s\n", s.Outcome)
	switch s.Outcome {
	case types.OutcomeBaseCreated:
		fmt.Fprintf(out, "Tracked:  %d files\n", s.TrackedFiles)
	case types.OutcomeDeltaCreated:
		fmt.Fprintf(out, "Changes:  %d added, %d modified, %d removed\n", s.Added, s.Modified, s.Removed)
	case types.OutcomeFailed:
		if s.Err != nil {
			fmt.Fprintf(out, "Error:    %v\n", s.Err)
		}
	}
	if s.Consolidated {
		fmt.Fprintf(out, "Consolidated %d deltas into a new base\n", s.DeltaCount)
	}
	if len(s.ReadErrors) > 0 {
		fmt.Fprintf(out, "Unreadable: %d files (stored without hash)\n", len(s.ReadErrors))
	}
	fmt.Fprintf(out, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}
