package snapshotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"time"

	"github.com/Canejo/vault-state-plugin/internal/storage"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

const (
	// BaseFileName is the name of the base snapshot inside the snapshot folder
	BaseFileName = "base.json"
	// PeriodLayout formats the calendar day used in delta file names
	PeriodLayout = "2006-01-02"
)

var deltaNamePattern = regexp.MustCompile(`^delta-(\d{4}-\d{2}-\d{2})\.json$`)

// DeltaHandle identifies one persisted delta
type DeltaHandle struct {
	Name   string // file name inside the snapshot folder
	Period string // YYYY-MM-DD
}

// DeltaFileName returns the file name of the delta for period
func DeltaFileName(period string) string {
	return "delta-" + period + ".json"
}

// PeriodOf formats t as a period key in loc
func PeriodOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(PeriodLayout)
}

// Store owns the base/delta layout inside one snapshot folder
type Store struct {
	backend storage.Backend
	folder  string
}

// New creates a Store for folder on backend
func New(backend storage.Backend, folder string) *Store {
	return &Store{backend: backend, folder: folder}
}

// Folder returns the snapshot folder
func (s *Store) Folder() string {
	return s.folder
}

func (s *Store) name(file string) string {
	if s.folder == "" {
		return file
	}
	return path.Join(s.folder, file)
}

func (s *Store) ensureFolder(ctx context.Context) error {
	if err := s.backend.EnsureDir(ctx, s.folder); err != nil {
		return types.NewSnapshotError(types.ErrorTypeStorageWrite, "ensure folder", s.folder, err)
	}
	return nil
}

// HasBase reports whether a base snapshot exists
func (s *Store) HasBase(ctx context.Context) (bool, error) {
	ok, err := s.backend.Exists(ctx, s.name(BaseFileName))
	if err != nil {
		return false, types.NewSnapshotError(types.ErrorTypeStorageRead, "stat", s.name(BaseFileName), err)
	}
	return ok, nil
}

// ReadBase loads and parses the base snapshot
func (s *Store) ReadBase(ctx context.Context) (*types.BaseSnapshot, error) {
	name := s.name(BaseFileName)
	data, err := s.backend.Read(ctx, name)
	if err != nil {
		return nil, types.NewSnapshotError(types.ErrorTypeStorageRead, "read", name, err)
	}

	var base types.BaseSnapshot
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, types.NewSnapshotError(types.ErrorTypeCorruptState, "parse", name, err)
	}
	if base.Files == nil {
		base.Files = make(map[string]types.FileState)
	}
	for key, fs := range base.Files {
		if fs.Path == "" {
			fs.Path = key
			base.Files[key] = fs
		} else if fs.Path != key {
			return nil, types.NewSnapshotError(types.ErrorTypeCorruptState, "parse", name,
				fmt.Errorf("entry key %q does not match path %q", key, fs.Path))
		}
	}
	return &base, nil
}

// WriteBase creates or replaces the base snapshot
func (s *Store) WriteBase(ctx context.Context, base *types.BaseSnapshot) error {
	name := s.name(BaseFileName)
	if err := s.ensureFolder(ctx); err != nil {
		return err
	}

	if base.Files == nil {
		base.Files = make(map[string]types.FileState)
	}
	data, err := marshal(base)
	if err != nil {
		return types.NewSnapshotError(types.ErrorTypeStorageWrite, "encode", name, err)
	}

	if err := s.backend.WriteReplace(ctx, name, data); err != nil {
		return types.NewSnapshotError(types.ErrorTypeStorageWrite, "write", name, err)
	}
	return nil
}

// ListDeltas returns the persisted deltas in creation order. The period in the
// file name is the creation key; equal periods fall back to the file name.
func (s *Store) ListDeltas(ctx context.Context) ([]DeltaHandle, error) {
	names, err := s.backend.List(ctx, s.folder)
	if err != nil {
		return nil, types.NewSnapshotError(types.ErrorTypeStorageRead, "list", s.folder, err)
	}

	var handles []DeltaHandle
	for _, n := range names {
		m := deltaNamePattern.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		handles = append(handles, DeltaHandle{Name: n, Period: m[1]})
	}

	sort.Slice(handles, func(i, j int) bool {
		if handles[i].Period != handles[j].Period {
			return handles[i].Period < handles[j].Period
		}
		return handles[i].Name < handles[j].Name
	})
	return handles, nil
}

// HasDelta reports whether a delta exists for period
func (s *Store) HasDelta(ctx context.Context, period string) (bool, error) {
	name := s.name(DeltaFileName(period))
	ok, err := s.backend.Exists(ctx, name)
	if err != nil {
		return false, types.NewSnapshotError(types.ErrorTypeStorageRead, "stat", name, err)
	}
	return ok, nil
}

// ReadDelta loads and parses one delta
func (s *Store) ReadDelta(ctx context.Context, h DeltaHandle) (*types.DeltaRecord, error) {
	name := s.name(h.Name)
	data, err := s.backend.Read(ctx, name)
	if err != nil {
		return nil, types.NewSnapshotError(types.ErrorTypeStorageRead, "read", name, err)
	}

	var delta types.DeltaRecord
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil, types.NewSnapshotError(types.ErrorTypeCorruptState, "parse", name, err)
	}
	return &delta, nil
}

// ReadDeltas loads every handle in order
func (s *Store) ReadDeltas(ctx context.Context, handles []DeltaHandle) ([]types.DeltaRecord, error) {
	deltas := make([]types.DeltaRecord, 0, len(handles))
	for _, h := range handles {
		d, err := s.ReadDelta(ctx, h)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, *d)
	}
	return deltas, nil
}

// AppendDelta writes the delta for period. It fails with a naming_collision
// SnapshotError if that period already has a delta.
func (s *Store) AppendDelta(ctx context.Context, period string, delta *types.DeltaRecord) (DeltaHandle, error) {
	h := DeltaHandle{Name: DeltaFileName(period), Period: period}
	name := s.name(h.Name)

	if !deltaNamePattern.MatchString(h.Name) {
		return DeltaHandle{}, types.NewSnapshotError(types.ErrorTypeValidation, "append", name,
			fmt.Errorf("invalid period %q", period))
	}
	if err := s.ensureFolder(ctx); err != nil {
		return DeltaHandle{}, err
	}

	delta.Normalize()
	data, err := marshal(delta)
	if err != nil {
		return DeltaHandle{}, types.NewSnapshotError(types.ErrorTypeStorageWrite, "encode", name, err)
	}

	if err := s.backend.WriteNew(ctx, name, data); err != nil {
		if storage.IsExist(err) {
			return DeltaHandle{}, types.NewSnapshotError(types.ErrorTypeNamingCollision, "append", name, err)
		}
		return DeltaHandle{}, types.NewSnapshotError(types.ErrorTypeStorageWrite, "write", name, err)
	}
	return h, nil
}

// DeleteDeltas removes the given deltas. Already-missing files are ignored.
func (s *Store) DeleteDeltas(ctx context.Context, handles []DeltaHandle) error {
	for _, h := range handles {
		name := s.name(h.Name)
		if err := s.backend.Delete(ctx, name); err != nil {
			return types.NewSnapshotError(types.ErrorTypeStorageWrite, "delete", name, err)
		}
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
