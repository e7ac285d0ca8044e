package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// ErrExist is returned by WriteNew when the target already exists
var ErrExist = os.ErrExist

// ErrNotExist is returned by Read when the target does not exist
var ErrNotExist = os.ErrNotExist

// Backend provides folder and whole-file primitives below a root.
// Names are slash separated and relative to that root.
type Backend interface {
	// EnsureDir creates dir if missing; an existing dir is not an error
	EnsureDir(ctx context.Context, dir string) error
	Exists(ctx context.Context, name string) (bool, error)
	Read(ctx context.Context, name string) ([]byte, error)
	// WriteReplace writes the complete content, replacing any previous file
	WriteReplace(ctx context.Context, name string, data []byte) error
	// WriteNew writes the complete content only if name does not exist yet
	WriteNew(ctx context.Context, name string, data []byte) error
	// Delete removes name; a missing file is not an error
	Delete(ctx context.Context, name string) error
	// List returns the base names of the files directly inside dir
	List(ctx context.Context, dir string) ([]string, error)
}

// Backend identifiers accepted by SNAPSHOT_BACKEND
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// New creates the snapshot Backend selected by the configuration
func New(ctx context.Context, cfg *types.Config) (Backend, error) {
	switch cfg.SnapshotBackend {
	case BackendLocal, "":
		return NewLocalBackend(cfg.VaultRoot)
	case BackendS3:
		return NewS3Backend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported snapshot backend %q", cfg.SnapshotBackend)
	}
}

// IsExist reports whether err signals an existing target
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsNotExist reports whether err signals a missing target
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// cleanName validates a backend-relative name
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return "", nil
	}
	clean := path.Clean(strings.TrimLeft(name, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("storage: name escapes root: %s", name)
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}
