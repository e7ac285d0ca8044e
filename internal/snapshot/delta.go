package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Canejo/vault-state-plugin/internal/ignore"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

// StateBuilder turns vault files into FileState records
type StateBuilder interface {
	BuildAll(ctx context.Context, files []types.VaultFile) ([]types.FileState, []error, error)
}

// Tracked filters files down to the ones the matcher does not ignore
func Tracked(files []types.VaultFile, matcher *ignore.Matcher) []types.VaultFile {
	tracked := make([]types.VaultFile, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if matcher != nil && matcher.IsIgnored(f.Path) {
			continue
		}
		if seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		tracked = append(tracked, f)
	}
	return tracked
}

// BuildBase builds a full base from the live listing
func BuildBase(ctx context.Context, live []types.VaultFile, matcher *ignore.Matcher, builder StateBuilder, now time.Time) (*types.BaseSnapshot, []error, error) {
	states, readErrs, err := builder.BuildAll(ctx, Tracked(live, matcher))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build file states: %w", err)
	}

	base := types.NewBaseSnapshot(now)
	for _, fs := range states {
		base.Files[fs.Path] = fs
	}
	return base, readErrs, nil
}

// BuildDelta compares the live listing against the previous state. Only new
// files and files whose mtime changed are read; a nil delta means nothing
// changed and nothing must be persisted.
func BuildDelta(ctx context.Context, prev State, live []types.VaultFile, matcher *ignore.Matcher, builder StateBuilder, now time.Time) (*types.DeltaRecord, []error, error) {
	tracked := Tracked(live, matcher)

	liveSet := make(map[string]bool, len(tracked))
	var changed []types.VaultFile
	isNew := make(map[string]bool)

	for _, f := range tracked {
		liveSet[f.Path] = true

		recorded, ok := prev[f.Path]
		switch {
		case !ok:
			changed = append(changed, f)
			isNew[f.Path] = true
		case recorded.Mtime != f.Mtime:
			changed = append(changed, f)
		}
	}

	var removed []string
	for path := range prev {
		if !liveSet[path] {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)

	if len(changed) == 0 && len(removed) == 0 {
		return nil, nil, nil
	}

	states, readErrs, err := builder.BuildAll(ctx, changed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build file states: %w", err)
	}

	delta := &types.DeltaRecord{
		CreatedAt: now,
		Removed:   removed,
	}
	for _, fs := range states {
		if isNew[fs.Path] {
			delta.Added = append(delta.Added, fs)
		} else {
			delta.Modified = append(delta.Modified, fs)
		}
	}
	delta.Normalize()

	return delta, readErrs, nil
}
