package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/Canejo/vault-state-plugin/internal/snapshotstore"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

// DefaultConsolidateThreshold is the number of deltas that triggers consolidation
const DefaultConsolidateThreshold = 30

// Consolidator folds accumulated deltas back into a fresh base
type Consolidator struct {
	Threshold int
}

// ShouldConsolidate reports whether deltaCount reached the threshold
func (c Consolidator) ShouldConsolidate(deltaCount int) bool {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultConsolidateThreshold
	}
	return deltaCount >= threshold
}

// Loaded is the persisted history read back from a store
type Loaded struct {
	Base    *types.BaseSnapshot
	Handles []snapshotstore.DeltaHandle
	State   State
}

// Load reads the base and every delta and reconstructs the current state
func Load(ctx context.Context, store *snapshotstore.Store) (*Loaded, error) {
	base, err := store.ReadBase(ctx)
	if err != nil {
		return nil, err
	}
	handles, err := store.ListDeltas(ctx)
	if err != nil {
		return nil, err
	}
	deltas, err := store.ReadDeltas(ctx, handles)
	if err != nil {
		return nil, err
	}
	return &Loaded{
		Base:    base,
		Handles: handles,
		State:   Reconstruct(base, deltas),
	}, nil
}

// Consolidate writes the reconstructed state as the new base and only then
// deletes the deltas it folded in. Deltas are deleted oldest first, so an
// interrupted run leaves a suffix that replays harmlessly over the new base.
// It returns the number of deltas removed.
func (c Consolidator) Consolidate(ctx context.Context, store *snapshotstore.Store, now time.Time) (int, error) {
	loaded, err := Load(ctx, store)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot history: %w", err)
	}

	newBase := &types.BaseSnapshot{
		CreatedAt: now,
		Files:     loaded.State,
	}
	if err := store.WriteBase(ctx, newBase); err != nil {
		return 0, fmt.Errorf("failed to write consolidated base: %w", err)
	}

	if err := store.DeleteDeltas(ctx, loaded.Handles); err != nil {
		return 0, fmt.Errorf("failed to delete consolidated deltas: %w", err)
	}

	return len(loaded.Handles), nil
}
