package metrics

import (
	"context"
	"log"
	"sync"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

var (
	globalStore *Store
	initOnce    sync.Once
	initErr     error
)

// Init opens the global run history at dbPath (DefaultPath when empty).
// It is safe to call multiple times; subsequent calls are no-ops.
func Init(dbPath string) error {
	initOnce.Do(func() {
		globalStore, initErr = NewStore(dbPath)
		if initErr != nil {
			log.Printf("metrics: failed to initialize store: %v", initErr)
		}
	})
	return initErr
}

// Recorder records into the global store and never fails the caller
type Recorder struct{}

// RecordRun stores summary in the global history. Without an initialized
// store the run is only logged.
func (Recorder) RecordRun(ctx context.Context, summary *types.RunSummary) error {
	if globalStore == nil {
		log.Printf("metrics: cannot record run %s, store not initialized", summary.RunID)
		return nil
	}
	if err := globalStore.RecordRun(ctx, summary); err != nil {
		log.Printf("metrics: failed to record run %s: %v", summary.RunID, err)
	}
	return nil
}

// GetStats returns the number of recorded runs per outcome.
// Returns nil if the store is not initialized.
func GetStats() map[types.RunOutcome]int64 {
	if globalStore == nil {
		return nil
	}

	stats, err := globalStore.CountByOutcome(context.Background())
	if err != nil {
		log.Printf("metrics: failed to get stats: %v", err)
		return nil
	}

	return stats
}

// Close closes the global store.
func Close() error {
	if globalStore != nil {
		return globalStore.Close()
	}
	return nil
}

// GetStore returns the global store instance.
func GetStore() *Store {
	return globalStore
}

// SetStoreForTesting sets the global store instance for testing purposes.
func SetStoreForTesting(store *Store) {
	globalStore = store
}

// ResetForTesting resets the global state for testing purposes.
func ResetForTesting() {
	if globalStore != nil {
		_ = globalStore.Close()
	}
	globalStore = nil
	initOnce = sync.Once{}
	initErr = nil
}
