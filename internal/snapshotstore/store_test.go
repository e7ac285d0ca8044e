package snapshotstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Canejo/vault-state-plugin/internal/storage"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	backend, err := storage.NewLocalBackend(root)
	require.NoError(t, err)
	return New(backend, ".vault-state"), root
}

func TestBaseRoundTrip(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()

	ok, err := s.HasBase(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	created := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	base := types.NewBaseSnapshot(created)
	base.Files["notes/a.md"] = types.FileState{Path: "notes/a.md", Mtime: 100, Size: 50, Hash: "h1"}
	base.Files["img.png"] = types.FileState{Path: "img.png", Mtime: 5, Size: 9}

	require.NoError(t, s.WriteBase(ctx, base))

	ok, err = s.HasBase(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.ReadBase(ctx)
	require.NoError(t, err)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Equal(t, base.Files, got.Files)

	raw, err := os.ReadFile(filepath.Join(root, ".vault-state", "base.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"createdAt": "2024-01-01T08:00:00Z"`)
	assert.NotContains(t, string(raw), `"hash": ""`)
}

func TestEmptyBaseSerializesFilesObject(t *testing.T) {
	s, root := newTestStore(t)
	require.NoError(t, s.WriteBase(context.Background(), &types.BaseSnapshot{CreatedAt: time.Unix(0, 0).UTC()}))

	raw, err := os.ReadFile(filepath.Join(root, ".vault-state", "base.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"files": {}`)
}

func TestAppendDeltaCollision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	delta := &types.DeltaRecord{
		CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Modified:  []types.FileState{{Path: "notes/a.md", Mtime: 200, Size: 50, Hash: "h2"}},
	}

	h, err := s.AppendDelta(ctx, "2024-01-02", delta)
	require.NoError(t, err)
	assert.Equal(t, DeltaHandle{Name: "delta-2024-01-02.json", Period: "2024-01-02"}, h)

	ok, err := s.HasDelta(ctx, "2024-01-02")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.AppendDelta(ctx, "2024-01-02", &types.DeltaRecord{Removed: []string{"x"}})
	require.Error(t, err)
	assert.True(t, types.IsNamingCollision(err))

	got, err := s.ReadDelta(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, delta.Modified, got.Modified)
	assert.Empty(t, got.Removed, "the first delta is kept")
	assert.NotNil(t, got.Added)
}

func TestAppendDeltaRejectsBadPeriod(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.AppendDelta(context.Background(), "../../etc", &types.DeltaRecord{})
	require.Error(t, err)
	kind, ok := types.ErrorTypeOf(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrorTypeValidation, kind)
}

func TestListDeltasOrderedAndFiltered(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()

	for _, period := range []string{"2024-03-01", "2023-12-31", "2024-01-15"} {
		_, err := s.AppendDelta(ctx, period, &types.DeltaRecord{Removed: []string{"x"}})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, ".vault-state", "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".vault-state", "delta-latest.json"), []byte("x"), 0644))

	handles, err := s.ListDeltas(ctx)
	require.NoError(t, err)

	var periods []string
	for _, h := range handles {
		periods = append(periods, h.Period)
	}
	assert.Equal(t, []string{"2023-12-31", "2024-01-15", "2024-03-01"}, periods)

	require.NoError(t, s.DeleteDeltas(ctx, handles[:2]))
	handles, err = s.ListDeltas(ctx)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "2024-03-01", handles[0].Period)

	require.NoError(t, s.DeleteDeltas(ctx, []DeltaHandle{{Name: "delta-1999-01-01.json"}}))
}

func TestListDeltasWithoutFolder(t *testing.T) {
	s, _ := newTestStore(t)
	handles, err := s.ListDeltas(context.Background())
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestCorruptFiles(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()
	dir := filepath.Join(root, ".vault-state")
	require.NoError(t, os.MkdirAll(dir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.json"), []byte("{not json"), 0644))
	_, err := s.ReadBase(ctx)
	assert.True(t, types.IsCorruptState(err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.json"),
		[]byte(`{"createdAt":"2024-01-01T00:00:00Z","files":{"a.md":{"path":"b.md","mtime":1,"size":1}}}`), 0644))
	_, err = s.ReadBase(ctx)
	assert.True(t, types.IsCorruptState(err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "delta-2024-01-02.json"), []byte(`{"added": 5}`), 0644))
	_, err = s.ReadDelta(ctx, DeltaHandle{Name: "delta-2024-01-02.json", Period: "2024-01-02"})
	assert.True(t, types.IsCorruptState(err))
}

func TestWriteBaseFailureIsStorageWrite(t *testing.T) {
	root := t.TempDir()
	backend, err := storage.NewLocalBackend(root)
	require.NoError(t, err)

	// a regular file where the folder should be
	require.NoError(t, os.WriteFile(filepath.Join(root, ".vault-state"), []byte("x"), 0644))

	err = New(backend, ".vault-state").WriteBase(context.Background(), types.NewBaseSnapshot(time.Now()))
	require.Error(t, err)
	assert.True(t, types.IsStorageWrite(err))
}

func TestPeriodOf(t *testing.T) {
	ts := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-01", PeriodOf(ts, nil))
	assert.Equal(t, "2024-01-02", PeriodOf(ts, time.FixedZone("UTC+9", 9*3600)))
}
