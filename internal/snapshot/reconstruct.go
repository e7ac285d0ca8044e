package snapshot

import (
	"github.com/Canejo/vault-state-plugin/internal/types"
)

// State maps a vault-relative path to its recorded FileState
type State map[string]types.FileState

// Reconstruct replays deltas, in the given order, over a copy of base.
// Added and modified entries are applied as upserts, then removals.
// The inputs are never mutated.
func Reconstruct(base *types.BaseSnapshot, deltas []types.DeltaRecord) State {
	state := make(State)
	if base != nil {
		for path, fs := range base.Files {
			state[path] = fs
		}
	}

	for _, d := range deltas {
		Apply(state, &d)
	}

	return state
}

// Apply applies one delta to state in place
func Apply(state State, d *types.DeltaRecord) {
	for _, fs := range d.Added {
		state[fs.Path] = fs
	}
	for _, fs := range d.Modified {
		state[fs.Path] = fs
	}
	for _, path := range d.Removed {
		delete(state, path)
	}
}

// Equal reports whether two states hold exactly the same entries
func Equal(a, b State) bool {
	if len(a) != len(b) {
		return false
	}
	for path, fs := range a {
		other, ok := b[path]
		if !ok || other != fs {
			return false
		}
	}
	return true
}
