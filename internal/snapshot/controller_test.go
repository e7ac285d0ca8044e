package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Canejo/vault-state-plugin/internal/filestate"
	"github.com/Canejo/vault-state-plugin/internal/notify"
	"github.com/Canejo/vault-state-plugin/internal/snapshotstore"
	"github.com/Canejo/vault-state-plugin/internal/storage"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

const testFolder = ".vault-state"

func testDay(n int) time.Time {
	return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

// faultyBackend fails selected primitives on demand
type faultyBackend struct {
	storage.Backend
	mu          sync.Mutex
	failWrites  bool
	failDeletes bool
	hideDeltas  bool
}

func (b *faultyBackend) Exists(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	hide := b.hideDeltas
	b.mu.Unlock()
	if hide && strings.Contains(name, "delta-") {
		return false, nil
	}
	return b.Backend.Exists(ctx, name)
}

func (b *faultyBackend) set(writes, deletes bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = writes
	b.failDeletes = deletes
}

func (b *faultyBackend) WriteReplace(ctx context.Context, name string, data []byte) error {
	b.mu.Lock()
	fail := b.failWrites
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Backend.WriteReplace(ctx, name, data)
}

func (b *faultyBackend) WriteNew(ctx context.Context, name string, data []byte) error {
	b.mu.Lock()
	fail := b.failWrites
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Backend.WriteNew(ctx, name, data)
}

func (b *faultyBackend) Delete(ctx context.Context, name string) error {
	b.mu.Lock()
	fail := b.failDeletes
	b.mu.Unlock()
	if fail {
		return errors.New("process killed")
	}
	return b.Backend.Delete(ctx, name)
}

type recordingRecorder struct {
	mu   sync.Mutex
	runs []types.RunSummary
}

func (r *recordingRecorder) RecordRun(_ context.Context, s *types.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *s)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

type harness struct {
	vault    *memVault
	backend  *faultyBackend
	ctrl     *Controller
	now      time.Time
	recorder *recordingRecorder
	notifier *recordingNotifier
	logs     *bytes.Buffer
}

func newHarness(t *testing.T, ignorePatterns string) *harness {
	t.Helper()

	local, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		vault:    newMemVault(),
		backend:  &faultyBackend{Backend: local},
		now:      testDay(0),
		recorder: &recordingRecorder{},
		notifier: &recordingNotifier{},
		logs:     &bytes.Buffer{},
	}
	logger := log.New(h.logs, "", 0)

	h.ctrl, err = NewController(ControllerConfig{
		Vault:          h.vault,
		Builder:        filestate.NewBuilder(h.vault, filestate.WithConcurrency(4), filestate.WithLogger(logger)),
		Backend:        h.backend,
		SnapshotFolder: testFolder,
		IgnorePatterns: ignorePatterns,
		Clock:          func() time.Time { return h.now },
		Notifier:       h.notifier,
		Recorder:       h.recorder,
		Logger:         logger,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T) *types.RunSummary {
	t.Helper()
	summary, err := h.ctrl.RunIfNeeded(context.Background())
	require.NoError(t, err)
	return summary
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	loaded, err := Load(context.Background(), h.ctrl.Store())
	require.NoError(t, err)
	return loaded.State
}

func (h *harness) deltas(t *testing.T) []snapshotstore.DeltaHandle {
	t.Helper()
	handles, err := h.ctrl.Store().ListDeltas(context.Background())
	require.NoError(t, err)
	return handles
}

func (h *harness) readDelta(t *testing.T, period string) *types.DeltaRecord {
	t.Helper()
	d, err := h.ctrl.Store().ReadDelta(context.Background(), snapshotstore.DeltaHandle{
		Name:   snapshotstore.DeltaFileName(period),
		Period: period,
	})
	require.NoError(t, err)
	return d
}

func period(t time.Time) string {
	return snapshotstore.PeriodOf(t, time.UTC)
}

func TestNewControllerValidation(t *testing.T) {
	_, err := NewController(ControllerConfig{})
	assert.Error(t, err)
}

func TestEmptyVaultCreatesEmptyBase(t *testing.T) {
	h := newHarness(t, "")

	summary := h.run(t)
	assert.Equal(t, types.OutcomeBaseCreated, summary.Outcome)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "2024-03-01", summary.Period)

	raw, err := h.backend.Read(context.Background(), testFolder+"/"+snapshotstore.BaseFileName)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.JSONEq(t, `{}`, string(doc["files"]))
	assert.JSONEq(t, `"2024-03-01T09:00:00Z"`, string(doc["createdAt"]))
	assert.Empty(t, h.deltas(t))
}

func TestSingleFileLifecycle(t *testing.T) {
	h := newHarness(t, "")
	content := "# note\n" + string(bytes.Repeat([]byte("x"), 43))
	h.vault.put("notes/a.md", content, 100)

	// day 1: base with one hashed entry
	summary := h.run(t)
	assert.Equal(t, types.OutcomeBaseCreated, summary.Outcome)
	assert.Equal(t, State{
		"notes/a.md": fileState("notes/a.md", 100, 50, filestate.Hash([]byte(content), false)),
	}, h.state(t))

	// same day, nothing changed: no delta
	summary = h.run(t)
	assert.Equal(t, types.OutcomeNoChanges, summary.Outcome)
	assert.Empty(t, h.deltas(t))

	// day 2: mtime changes
	h.now = testDay(1)
	h.vault.put("notes/a.md", content, 200)
	summary = h.run(t)
	assert.Equal(t, types.OutcomeDeltaCreated, summary.Outcome)
	assert.Equal(t, 1, summary.Modified)

	d := h.readDelta(t, period(testDay(1)))
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.Equal(t, []types.FileState{
		fileState("notes/a.md", 200, 50, filestate.Hash([]byte(content), false)),
	}, d.Modified)

	// same day again, even with changes: already ran
	h.vault.put("notes/a.md", content, 300)
	summary = h.run(t)
	assert.Equal(t, types.OutcomeSkipped, summary.Outcome)
	assert.Len(t, h.deltas(t), 1)

	// day 3: add b.txt and delete a.md
	h.now = testDay(2)
	h.vault.put("notes/b.txt", "bee", 400)
	h.vault.remove("notes/a.md")
	summary = h.run(t)
	assert.Equal(t, types.OutcomeDeltaCreated, summary.Outcome)

	d = h.readDelta(t, period(testDay(2)))
	assert.Equal(t, []types.FileState{
		fileState("notes/b.txt", 400, 3, filestate.Hash([]byte("bee"), false)),
	}, d.Added)
	assert.Empty(t, d.Modified)
	assert.Equal(t, []string{"notes/a.md"}, d.Removed)

	assert.Equal(t, State{
		"notes/b.txt": fileState("notes/b.txt", 400, 3, filestate.Hash([]byte("bee"), false)),
	}, h.state(t))
}

func TestSameDayRerunWritesNoSecondDelta(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("a.md", "a", 1)
	h.run(t)

	h.now = testDay(1)
	h.vault.put("a.md", "a", 2)
	assert.Equal(t, types.OutcomeDeltaCreated, h.run(t).Outcome)

	h.now = testDay(1).Add(8 * time.Hour)
	h.vault.put("a.md", "a", 3)
	assert.Equal(t, types.OutcomeSkipped, h.run(t).Outcome)
	assert.Len(t, h.deltas(t), 1)
}

func TestNamingCollisionIsSilentSkip(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("a.md", "a", 1)
	h.run(t)

	// another writer lands today's delta after the existence check
	_, err := h.ctrl.Store().AppendDelta(context.Background(), period(testDay(1)), &types.DeltaRecord{CreatedAt: testDay(1)})
	require.NoError(t, err)
	h.backend.hideDeltas = true

	h.now = testDay(1)
	h.vault.put("a.md", "a", 2)
	summary := h.run(t)
	assert.Equal(t, types.OutcomeSkipped, summary.Outcome)
	assert.Len(t, h.deltas(t), 1)
	assert.Empty(t, h.readDelta(t, period(testDay(1))).Modified)
	assert.Contains(t, h.logs.String(), "already exists")
}

func TestIgnoredPathsNeverPersisted(t *testing.T) {
	h := newHarness(t, "private, templates/*, *.tmp")
	h.vault.put("a.md", "a", 1)
	h.vault.put("private/diary.md", "p", 1)
	h.vault.put("templates/day.md", "t", 1)
	h.vault.put("x.tmp", "t", 1)
	h.vault.put(testFolder+"/stray.md", "s", 1)
	h.run(t)

	h.now = testDay(1)
	h.vault.put("private/new.md", "p", 2)
	h.vault.put("templates/day.md", "t", 2)
	h.vault.put("b.md", "b", 2)
	assert.Equal(t, types.OutcomeDeltaCreated, h.run(t).Outcome)

	state := h.state(t)
	assert.Equal(t, []string{"a.md", "b.md"}, sortedKeys(state))

	d := h.readDelta(t, period(testDay(1)))
	for _, fs := range append(d.Added, d.Modified...) {
		assert.NotContains(t, []string{"private/new.md", "templates/day.md"}, fs.Path)
	}
}

func TestHashConditionality(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("a.MD", "upper", 1)
	h.vault.put("img.png", "png", 1)
	h.vault.put("README", "no ext", 1)
	h.vault.put("locked.md", "locked", 1)
	h.vault.failRead["locked.md"] = true

	summary := h.run(t)
	assert.Equal(t, types.OutcomeBaseCreated, summary.Outcome)
	assert.Equal(t, []string{"locked.md"}, summary.ReadErrors)

	state := h.state(t)
	assert.True(t, state["a.MD"].HasHash())
	assert.False(t, state["img.png"].HasHash())
	assert.False(t, state["README"].HasHash())
	assert.False(t, state["locked.md"].HasHash())
	assert.Equal(t, int64(6), state["locked.md"].Size)
	assert.Contains(t, h.logs.String(), "locked.md")
}

func TestConsolidatesAtThreshold(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("keep.md", "keep", 1)
	h.run(t)

	store := h.ctrl.Store()
	for i := 1; i <= 29; i++ {
		_, err := store.AppendDelta(context.Background(), period(testDay(i)), &types.DeltaRecord{
			CreatedAt: testDay(i),
			Added:     []types.FileState{fileState("seed.md", int64(i), 1, "")},
		})
		require.NoError(t, err)
	}
	before := h.state(t)
	require.Contains(t, before, "seed.md")

	h.now = testDay(30)
	summary := h.run(t)
	assert.Equal(t, types.OutcomeDeltaCreated, summary.Outcome)
	assert.True(t, summary.Consolidated)
	assert.Equal(t, 30, summary.DeltaCount)
	assert.Empty(t, h.deltas(t))

	base, err := store.ReadBase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testDay(30), base.CreatedAt)

	live, err := h.vault.ListFiles(context.Background())
	require.NoError(t, err)
	_, matcher := h.ctrl.current()
	expected, _, err := BuildBase(context.Background(), live, matcher, filestate.NewBuilder(h.vault), testDay(30))
	require.NoError(t, err)
	assert.True(t, Equal(State(expected.Files), Reconstruct(base, nil)))
	assert.NotContains(t, base.Files, "seed.md")
}

func TestConsolidationEquivalence(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("a.md", "a", 1)
	h.vault.put("b.md", "b", 1)
	h.run(t)

	for day := 1; day <= 5; day++ {
		h.now = testDay(day)
		h.vault.put("a.md", "a", int64(day+1))
		h.vault.put(fmt.Sprintf("new%d.txt", day), "n", int64(day))
		if day == 3 {
			h.vault.remove("b.md")
		}
		require.Equal(t, types.OutcomeDeltaCreated, h.run(t).Outcome)
	}
	before := h.state(t)

	summary, err := h.ctrl.ForceConsolidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeConsolidated, summary.Outcome)
	assert.Equal(t, 5, summary.DeltaCount)
	assert.Empty(t, h.deltas(t))

	base, err := h.ctrl.Store().ReadBase(context.Background())
	require.NoError(t, err)
	assert.True(t, Equal(before, Reconstruct(base, nil)))
}

func TestCrashBetweenBaseWriteAndDeltaDelete(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("a.md", "a", 1)
	h.run(t)
	for day := 1; day <= 3; day++ {
		h.now = testDay(day)
		h.vault.put("a.md", "a", int64(day+1))
		require.Equal(t, types.OutcomeDeltaCreated, h.run(t).Outcome)
	}
	before := h.state(t)

	h.backend.set(false, true)
	summary, err := h.ctrl.ForceConsolidate(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.OutcomeFailed, summary.Outcome)
	assert.True(t, types.IsStorageWrite(err))

	// new base written, stale deltas left behind; replay still yields the same state
	assert.Len(t, h.deltas(t), 3)
	assert.True(t, Equal(before, h.state(t)))

	h.backend.set(false, false)
	_, err = h.ctrl.ForceConsolidate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.deltas(t))
	assert.True(t, Equal(before, h.state(t)))
}

func TestCorruptDeltaAbortsRun(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("a.md", "a", 1)
	h.run(t)

	err := h.backend.WriteReplace(context.Background(), testFolder+"/"+snapshotstore.DeltaFileName("2024-02-01"), []byte("{not json"))
	require.NoError(t, err)

	h.now = testDay(1)
	h.vault.put("a.md", "a", 2)
	summary, err := h.ctrl.RunIfNeeded(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCorruptState(err))
	assert.Equal(t, types.OutcomeFailed, summary.Outcome)
	assert.Len(t, h.deltas(t), 1, "no delta may be written on top of corrupt history")

	require.NotEmpty(t, h.notifier.sent)
	assert.Equal(t, notify.LevelError, h.notifier.sent[len(h.notifier.sent)-1].Level)
}

func TestStorageWriteFailureIsRetryable(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("a.md", "a", 1)

	h.backend.set(true, false)
	summary, err := h.ctrl.RunIfNeeded(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsStorageWrite(err))
	assert.Equal(t, types.OutcomeFailed, summary.Outcome)

	ok, err := h.ctrl.Store().HasBase(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	h.backend.set(false, false)
	assert.Equal(t, types.OutcomeBaseCreated, h.run(t).Outcome)
}

// blockingVault holds ListFiles until released
type blockingVault struct {
	*memVault
	entered chan struct{}
	release chan struct{}
}

func (v *blockingVault) ListFiles(ctx context.Context) ([]types.VaultFile, error) {
	close(v.entered)
	<-v.release
	return v.memVault.ListFiles(ctx)
}

type failingListVault struct {
	*memVault
	fail bool
}

func (v *failingListVault) ListFiles(ctx context.Context) ([]types.VaultFile, error) {
	if v.fail {
		return nil, errors.New("failed to read notes: permission denied")
	}
	return v.memVault.ListFiles(ctx)
}

func TestListingFailureWritesNoDelta(t *testing.T) {
	local, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	v := &failingListVault{memVault: newMemVault()}
	v.put("notes/a.md", "a", 1)
	v.put("b.md", "b", 1)
	now := testDay(0)
	ctrl, err := NewController(ControllerConfig{
		Vault:          v,
		Builder:        filestate.NewBuilder(v),
		Backend:        local,
		SnapshotFolder: testFolder,
		Clock:          func() time.Time { return now },
		Logger:         log.New(&bytes.Buffer{}, "", 0),
	})
	require.NoError(t, err)

	summary, err := ctrl.RunIfNeeded(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.OutcomeBaseCreated, summary.Outcome)

	now = testDay(1)
	v.fail = true
	summary, err = ctrl.RunIfNeeded(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.OutcomeFailed, summary.Outcome)

	handles, err := ctrl.Store().ListDeltas(context.Background())
	require.NoError(t, err)
	assert.Empty(t, handles)

	// the next run with a readable vault still sees nothing removed
	v.fail = false
	summary, err = ctrl.RunIfNeeded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNoChanges, summary.Outcome)
}

func TestRunIsSingleFlight(t *testing.T) {
	local, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	v := &blockingVault{memVault: newMemVault(), entered: make(chan struct{}), release: make(chan struct{})}
	ctrl, err := NewController(ControllerConfig{
		Vault:          v,
		Builder:        filestate.NewBuilder(v),
		Backend:        local,
		SnapshotFolder: testFolder,
		Clock:          func() time.Time { return testDay(0) },
		Logger:         log.New(&bytes.Buffer{}, "", 0),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.RunIfNeeded(context.Background())
		done <- err
	}()

	<-v.entered
	_, err = ctrl.RunIfNeeded(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = ctrl.ForceConsolidate(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(v.release)
	require.NoError(t, <-done)
}

func TestStalledNotifierDoesNotHoldRun(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	local, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	v := newMemVault()
	v.put("a.md", "a", 1)
	logger := log.New(&bytes.Buffer{}, "", 0)
	ctrl, err := NewController(ControllerConfig{
		Vault:          v,
		Builder:        filestate.NewBuilder(v),
		Backend:        local,
		SnapshotFolder: testFolder,
		Clock:          func() time.Time { return testDay(0) },
		Notifier:       notify.NewSlackNotifier(server.URL, "", logger, notify.WithSlackTimeout(100*time.Millisecond)),
		Logger:         logger,
	})
	require.NoError(t, err)

	done := make(chan *types.RunSummary, 1)
	go func() {
		summary, err := ctrl.RunIfNeeded(context.Background())
		assert.NoError(t, err)
		done <- summary
	}()

	select {
	case summary := <-done:
		assert.Equal(t, types.OutcomeBaseCreated, summary.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("run blocked on the webhook")
	}

	summary, err := ctrl.RunIfNeeded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNoChanges, summary.Outcome)
}

func TestUpdateSettingsMovesStoreAndMatcher(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("a.md", "a", 1)
	h.vault.put("drafts/b.md", "b", 1)

	store := h.ctrl.Store()
	h.ctrl.UpdateSettings(testFolder, "")
	assert.Same(t, store, h.ctrl.Store(), "unchanged settings keep the compiled matcher")

	h.ctrl.UpdateSettings("/history/", "drafts")
	assert.Equal(t, "history", h.ctrl.Store().Folder())

	assert.Equal(t, types.OutcomeBaseCreated, h.run(t).Outcome)
	assert.Equal(t, []string{"a.md"}, sortedKeys(h.state(t)))
}

func TestStatus(t *testing.T) {
	h := newHarness(t, "")

	st, err := h.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.HasBase)
	assert.Equal(t, testFolder, st.Folder)

	h.vault.put("a.md", "a", 1)
	h.vault.put("b.png", "b", 1)
	h.run(t)
	h.now = testDay(1)
	h.vault.put("c.md", "c", 2)
	h.run(t)

	st, err = h.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.HasBase)
	assert.Equal(t, testDay(0), st.BaseCreatedAt)
	assert.Equal(t, 1, st.DeltaCount)
	assert.Equal(t, "2024-03-02", st.LatestPeriod)
	assert.True(t, st.RanThisPeriod)
	assert.Equal(t, 3, st.TrackedFiles)
	assert.Equal(t, 2, st.HashedFiles)
	assert.False(t, st.WillConsolidate)
	assert.False(t, st.ConsolidationPending)
}

func TestStatusConsolidationForecast(t *testing.T) {
	h := newHarness(t, "")
	h.vault.put("keep.md", "keep", 1)
	h.run(t)

	store := h.ctrl.Store()
	seed := func(day int) {
		_, err := store.AppendDelta(context.Background(), period(testDay(day)), &types.DeltaRecord{CreatedAt: testDay(day)})
		require.NoError(t, err)
	}
	for i := 1; i <= 29; i++ {
		seed(i)
	}

	h.now = testDay(30)
	st, err := h.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.WillConsolidate)
	assert.False(t, st.ConsolidationPending)

	// no changes means no delta, so the count stays below the threshold
	summary := h.run(t)
	assert.Equal(t, types.OutcomeNoChanges, summary.Outcome)
	assert.False(t, summary.Consolidated)
	assert.Len(t, h.deltas(t), 29)

	st, err = h.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.WillConsolidate)
	assert.False(t, st.ConsolidationPending)

	seed(30)
	st, err = h.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.ConsolidationPending)

	h.now = testDay(31)
	summary = h.run(t)
	assert.Equal(t, types.OutcomeNoChanges, summary.Outcome)
	assert.True(t, summary.Consolidated)
	assert.Empty(t, h.deltas(t))

	st, err = h.ctrl.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.WillConsolidate)
	assert.False(t, st.ConsolidationPending)
}

func TestRunsAreRecordedAndNotified(t *testing.T) {
	h := newHarness(t, "")
	h.run(t)
	h.run(t)
	h.now = testDay(1)
	h.vault.put("a.md", "a", 1)
	h.run(t)
	h.run(t)

	require.Len(t, h.recorder.runs, 4)
	outcomes := make([]types.RunOutcome, 0, 4)
	for _, r := range h.recorder.runs {
		outcomes = append(outcomes, r.Outcome)
	}
	assert.Equal(t, []types.RunOutcome{
		types.OutcomeBaseCreated,
		types.OutcomeNoChanges,
		types.OutcomeDeltaCreated,
		types.OutcomeSkipped,
	}, outcomes)

	// skipped runs stay quiet
	assert.Len(t, h.notifier.sent, 3)
}

func TestPeriodUsesConfiguredLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	local, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	v := newMemVault()
	ctrl, err := NewController(ControllerConfig{
		Vault:          v,
		Builder:        filestate.NewBuilder(v),
		Backend:        local,
		SnapshotFolder: testFolder,
		Location:       tokyo,
		Clock:          func() time.Time { return time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC) },
		Logger:         log.New(&bytes.Buffer{}, "", 0),
	})
	require.NoError(t, err)

	summary, err := ctrl.RunIfNeeded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", summary.Period)
}

func sortedKeys(s State) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
