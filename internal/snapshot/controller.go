package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Canejo/vault-state-plugin/internal/ignore"
	"github.com/Canejo/vault-state-plugin/internal/notify"
	"github.com/Canejo/vault-state-plugin/internal/snapshotstore"
	"github.com/Canejo/vault-state-plugin/internal/storage"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

// ErrRunInProgress is returned when a run is requested while another is active
var ErrRunInProgress = errors.New("snapshot run already in progress")

// Lister enumerates the vault
type Lister interface {
	ListFiles(ctx context.Context) ([]types.VaultFile, error)
}

// RunRecorder persists run summaries
type RunRecorder interface {
	RecordRun(ctx context.Context, summary *types.RunSummary) error
}

// ControllerConfig holds the collaborators of a Controller
type ControllerConfig struct {
	Vault          Lister
	Builder        StateBuilder
	Backend        storage.Backend
	SnapshotFolder string
	IgnorePatterns string
	Threshold      int
	Location       *time.Location
	Clock          func() time.Time
	Notifier       notify.Notifier
	Recorder       RunRecorder
	Logger         *log.Logger
}

// Controller decides, once per period, whether to create a base, a delta or
// nothing, and consolidates history when it grows past the threshold.
type Controller struct {
	vault        Lister
	builder      StateBuilder
	backend      storage.Backend
	consolidator Consolidator
	location     *time.Location
	clock        func() time.Time
	notifier     notify.Notifier
	recorder     RunRecorder
	logger       *log.Logger

	running atomic.Bool

	mu      sync.Mutex
	store   *snapshotstore.Store
	matcher *ignore.Matcher
}

// NewController creates a Controller
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("controller: vault is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("controller: state builder is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("controller: storage backend is required")
	}

	c := &Controller{
		vault:        cfg.Vault,
		builder:      cfg.Builder,
		backend:      cfg.Backend,
		consolidator: Consolidator{Threshold: cfg.Threshold},
		location:     cfg.Location,
		clock:        cfg.Clock,
		notifier:     cfg.Notifier,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
	}
	if c.location == nil {
		c.location = time.UTC
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.logger == nil {
		c.logger = log.Default()
	}

	c.UpdateSettings(cfg.SnapshotFolder, cfg.IgnorePatterns)
	return c, nil
}

// UpdateSettings applies a new snapshot folder and ignore pattern string.
// The matcher is only recompiled when the settings actually changed.
func (c *Controller) UpdateSettings(snapshotFolder, ignorePatterns string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.matcher != nil && c.matcher.Matches(snapshotFolder, ignorePatterns) {
		return
	}

	c.matcher = ignore.Compile(snapshotFolder, ignorePatterns)
	c.store = snapshotstore.New(c.backend, c.matcher.Folder())
}

func (c *Controller) current() (*snapshotstore.Store, *ignore.Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store, c.matcher
}

// Store returns the snapshot store for the current settings
func (c *Controller) Store() *snapshotstore.Store {
	store, _ := c.current()
	return store
}

func (c *Controller) now() time.Time {
	return c.clock().UTC().Truncate(time.Millisecond)
}

// RunIfNeeded is the single entry point for lifecycle triggers. It creates a
// base when none exists, otherwise a delta for the current period unless one
// was already written, and consolidates when enough deltas piled up.
// A naming collision on the delta is treated as an already-ran skip.
func (c *Controller) RunIfNeeded(ctx context.Context) (*types.RunSummary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	store, matcher := c.current()
	now := c.now()
	summary := &types.RunSummary{
		RunID:     uuid.NewString(),
		Period:    snapshotstore.PeriodOf(now, c.location),
		StartedAt: now,
	}

	ctx, span := startSpan(ctx, "snapshot.run",
		attribute.String("snapshot.run_id", summary.RunID),
		attribute.String("snapshot.period", summary.Period),
	)
	defer span.End()

	err := c.run(ctx, store, matcher, now, summary)
	if err != nil {
		summary.Outcome = types.OutcomeFailed
		summary.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot run failed")
	}
	span.SetAttributes(
		attribute.String("snapshot.outcome", string(summary.Outcome)),
		attribute.Int("snapshot.added", summary.Added),
		attribute.Int("snapshot.modified", summary.Modified),
		attribute.Int("snapshot.removed", summary.Removed),
		attribute.Bool("snapshot.consolidated", summary.Consolidated),
	)

	c.finish(ctx, summary)
	if err != nil {
		return summary, err
	}
	return summary, nil
}

func (c *Controller) run(ctx context.Context, store *snapshotstore.Store, matcher *ignore.Matcher, now time.Time, summary *types.RunSummary) error {
	hasBase, err := store.HasBase(ctx)
	if err != nil {
		return err
	}
	if !hasBase {
		return c.createBase(ctx, store, matcher, now, summary)
	}

	hasDelta, err := store.HasDelta(ctx, summary.Period)
	if err != nil {
		return err
	}
	if hasDelta {
		summary.Outcome = types.OutcomeSkipped
		return nil
	}

	if err := c.createDelta(ctx, store, matcher, now, summary); err != nil {
		return err
	}
	if summary.Outcome == types.OutcomeSkipped {
		return nil
	}

	return c.maybeConsolidate(ctx, store, now, summary)
}

func (c *Controller) createBase(ctx context.Context, store *snapshotstore.Store, matcher *ignore.Matcher, now time.Time, summary *types.RunSummary) error {
	live, err := c.vault.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list vault files: %w", err)
	}

	base, readErrs, err := BuildBase(ctx, live, matcher, c.builder, now)
	if err != nil {
		return err
	}
	summary.ReadErrors = errorPaths(readErrs)

	if err := store.WriteBase(ctx, base); err != nil {
		return err
	}

	summary.Outcome = types.OutcomeBaseCreated
	summary.TrackedFiles = len(base.Files)
	summary.Added = len(base.Files)
	c.logger.Printf("snapshot: base created files=%d", len(base.Files))
	return nil
}

func (c *Controller) createDelta(ctx context.Context, store *snapshotstore.Store, matcher *ignore.Matcher, now time.Time, summary *types.RunSummary) error {
	loaded, err := Load(ctx, store)
	if err != nil {
		return err
	}
	summary.DeltaCount = len(loaded.Handles)

	live, err := c.vault.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list vault files: %w", err)
	}

	delta, readErrs, err := BuildDelta(ctx, loaded.State, live, matcher, c.builder, now)
	if err != nil {
		return err
	}
	summary.ReadErrors = errorPaths(readErrs)

	if delta == nil {
		summary.Outcome = types.OutcomeNoChanges
		summary.TrackedFiles = len(loaded.State)
		return nil
	}

	if _, err := store.AppendDelta(ctx, summary.Period, delta); err != nil {
		if types.IsNamingCollision(err) {
			c.logger.Printf("snapshot: delta for %s already exists, skipping", summary.Period)
			summary.Outcome = types.OutcomeSkipped
			return nil
		}
		return err
	}

	Apply(loaded.State, delta)
	summary.Outcome = types.OutcomeDeltaCreated
	summary.TrackedFiles = len(loaded.State)
	summary.Added = len(delta.Added)
	summary.Modified = len(delta.Modified)
	summary.Removed = len(delta.Removed)
	summary.DeltaCount++
	c.logger.Printf("snapshot: delta created period=%s added=%d modified=%d removed=%d",
		summary.Period, summary.Added, summary.Modified, summary.Removed)
	return nil
}

func (c *Controller) maybeConsolidate(ctx context.Context, store *snapshotstore.Store, now time.Time, summary *types.RunSummary) error {
	if !c.consolidator.ShouldConsolidate(summary.DeltaCount) {
		return nil
	}

	removed, err := c.consolidator.Consolidate(ctx, store, now)
	if err != nil {
		return err
	}
	summary.Consolidated = true
	summary.DeltaCount = removed
	c.logger.Printf("snapshot: consolidated %d deltas into a new base", removed)
	return nil
}

// ForceConsolidate folds every delta into a new base regardless of the threshold
func (c *Controller) ForceConsolidate(ctx context.Context) (*types.RunSummary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	store, _ := c.current()
	now := c.now()
	summary := &types.RunSummary{
		RunID:     uuid.NewString(),
		Period:    snapshotstore.PeriodOf(now, c.location),
		StartedAt: now,
	}

	ctx, span := startSpan(ctx, "snapshot.consolidate",
		attribute.String("snapshot.run_id", summary.RunID),
	)
	defer span.End()

	err := func() error {
		hasBase, err := store.HasBase(ctx)
		if err != nil {
			return err
		}
		if !hasBase {
			return fmt.Errorf("no base snapshot in %s", store.Folder())
		}
		removed, err := c.consolidator.Consolidate(ctx, store, now)
		if err != nil {
			return err
		}
		base, err := store.ReadBase(ctx)
		if err != nil {
			return err
		}
		summary.Outcome = types.OutcomeConsolidated
		summary.Consolidated = true
		summary.DeltaCount = removed
		summary.TrackedFiles = len(base.Files)
		return nil
	}()
	if err != nil {
		summary.Outcome = types.OutcomeFailed
		summary.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "consolidation failed")
	}

	c.finish(ctx, summary)
	return summary, err
}

// finish records, reports and notifies a completed run
func (c *Controller) finish(ctx context.Context, summary *types.RunSummary) {
	summary.Duration = c.clock().Sub(summary.StartedAt)
	if summary.Duration < 0 {
		summary.Duration = 0
	}

	recordRunMetrics(ctx, summary, summary.Duration)

	if c.recorder != nil {
		if err := c.recorder.RecordRun(ctx, summary); err != nil {
			c.logger.Printf("snapshot: failed to record run %s: %v", summary.RunID, err)
		}
	}

	if c.notifier != nil && summary.Outcome != types.OutcomeSkipped {
		c.notifier.Notify(ctx, notify.FromSummary(summary))
	}
}

// Status describes the persisted history without changing it.
//
// WillConsolidate means the next delta written brings the count to the
// threshold; a run that finds no changes writes no delta and leaves the
// count alone. ConsolidationPending means the count is already at the
// threshold, so the next run that is not skipped consolidates even without
// changes.
type Status struct {
	Folder               string    `json:"folder"`
	HasBase              bool      `json:"has_base"`
	BaseCreatedAt        time.Time `json:"base_created_at"`
	DeltaCount           int       `json:"delta_count"`
	LatestPeriod         string    `json:"latest_period,omitempty"`
	TrackedFiles         int       `json:"tracked_files"`
	HashedFiles          int       `json:"hashed_files"`
	Period               string    `json:"period"`
	RanThisPeriod        bool      `json:"ran_this_period"`
	WillConsolidate      bool      `json:"will_consolidate"`
	ConsolidationPending bool      `json:"consolidation_pending"`
}

// Status reconstructs the current state and reports on it
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	store, _ := c.current()
	now := c.now()

	st := &Status{
		Folder: store.Folder(),
		Period: snapshotstore.PeriodOf(now, c.location),
	}

	hasBase, err := store.HasBase(ctx)
	if err != nil {
		return nil, err
	}
	if !hasBase {
		return st, nil
	}

	loaded, err := Load(ctx, store)
	if err != nil {
		return nil, err
	}

	st.HasBase = true
	st.BaseCreatedAt = loaded.Base.CreatedAt
	st.DeltaCount = len(loaded.Handles)
	if n := len(loaded.Handles); n > 0 {
		st.LatestPeriod = loaded.Handles[n-1].Period
	}
	st.TrackedFiles = len(loaded.State)
	for _, fs := range loaded.State {
		if fs.HasHash() {
			st.HashedFiles++
		}
	}
	st.RanThisPeriod = st.LatestPeriod == st.Period
	st.WillConsolidate = c.consolidator.ShouldConsolidate(st.DeltaCount + 1)
	st.ConsolidationPending = c.consolidator.ShouldConsolidate(st.DeltaCount)

	return st, nil
}

func errorPaths(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	paths := make([]string, 0, len(errs))
	for _, err := range errs {
		var se *types.SnapshotError
		if errors.As(err, &se) {
			paths = append(paths, se.Path)
			continue
		}
		paths = append(paths, err.Error())
	}
	return paths
}
