package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	appconfig "github.com/Canejo/vault-state-plugin/internal/config"
	"github.com/Canejo/vault-state-plugin/internal/metrics"
	"github.com/Canejo/vault-state-plugin/internal/observability"
	"github.com/Canejo/vault-state-plugin/internal/settings"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

var (
	appCfg            *types.Config
	shutdownTelemetry observability.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "vaultstate",
	Short: "vaultstate - daily base/delta snapshots of a notes vault",
	Long: `vaultstate records the state of every tracked file in a vault as a
full base snapshot followed by at most one delta per day. Deltas are
folded back into a fresh base once enough of them accumulate.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(settingsCmd)
}

// setup loads .env, configuration, persisted settings, telemetry and the run history
func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := appconfig.LoadWithSecrets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	userSettings, err := settings.Load(settings.Path(cfg))
	if err != nil {
		return err
	}
	if err := userSettings.Validate(); err != nil {
		return fmt.Errorf("invalid settings file: %w", err)
	}
	userSettings.Apply(cfg)
	appCfg = cfg

	shutdownTelemetry, err = observability.Init(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	if err := metrics.Init(cfg.HistoryDBPath); err != nil {
		log.Printf("Warning: run history disabled: %v", err)
	} else if err := metrics.InitOTelMetrics(); err != nil {
		log.Printf("Warning: run history gauge disabled: %v", err)
	}

	return nil
}

func teardown(cmd *cobra.Command, _ []string) error {
	if err := metrics.Close(); err != nil {
		log.Printf("Warning: failed to close run history: %v", err)
	}
	if shutdownTelemetry != nil {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := shutdownTelemetry(ctx); err != nil {
			log.Printf("Warning: failed to flush telemetry: %v", err)
		}
	}
	return nil
}
