package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/Canejo/vault-state-plugin/internal/filestate"
	"github.com/Canejo/vault-state-plugin/internal/metrics"
	"github.com/Canejo/vault-state-plugin/internal/notify"
	"github.com/Canejo/vault-state-plugin/internal/snapshot"
	"github.com/Canejo/vault-state-plugin/internal/storage"
	"github.com/Canejo/vault-state-plugin/internal/types"
	"github.com/Canejo/vault-state-plugin/internal/vault"
)

// newController wires the vault, snapshot backend, notifier and run history
func newController(ctx context.Context, cfg *types.Config) (*snapshot.Controller, error) {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	v, err := vault.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	backend, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot backend: %w", err)
	}

	builder := filestate.NewBuilder(v,
		filestate.WithConcurrency(cfg.Concurrency),
		filestate.WithRateLimit(cfg.ReadRateLimit, cfg.ReadRateBurst),
		filestate.WithNormalization(cfg.NormalizeContent),
		filestate.WithLogger(logger),
	)

	notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhookURL, cfg.SlackChannel, logger))
	}

	return snapshot.NewController(snapshot.ControllerConfig{
		Vault:          v,
		Builder:        builder,
		Backend:        backend,
		SnapshotFolder: cfg.SnapshotFolder,
		IgnorePatterns: cfg.IgnorePatterns,
		Threshold:      cfg.ConsolidateThreshold,
		Location:       cfg.PeriodLocation(),
		Notifier:       notifiers,
		Recorder:       metrics.Recorder{},
		Logger:         logger,
	})
}
