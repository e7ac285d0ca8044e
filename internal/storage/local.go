package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// LocalBackend stores files below a directory using atomic temp-file writes
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a LocalBackend rooted at root
func NewLocalBackend(root string) (*LocalBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: local root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve root %s: %w", root, err)
	}
	return &LocalBackend{root: abs}, nil
}

func (b *LocalBackend) path(name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

// EnsureDir creates dir and its parents; an existing directory is success
func (b *LocalBackend) EnsureDir(_ context.Context, dir string) error {
	full, err := b.path(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("storage: failed to create directory %s: %w", dir, err)
	}
	return nil
}

func (b *LocalBackend) Exists(_ context.Context, name string) (bool, error) {
	full, err := b.path(name)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(full)
	if err == nil {
		return fi.Mode().IsRegular(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (b *LocalBackend) Read(_ context.Context, name string) ([]byte, error) {
	full, err := b.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *LocalBackend) WriteReplace(_ context.Context, name string, data []byte) error {
	full, err := b.path(name)
	if err != nil {
		return err
	}
	return writeFileAtomic(full, data, true)
}

func (b *LocalBackend) WriteNew(_ context.Context, name string, data []byte) error {
	full, err := b.path(name)
	if err != nil {
		return err
	}
	return writeFileAtomic(full, data, false)
}

func (b *LocalBackend) Delete(_ context.Context, name string) error {
	full, err := b.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *LocalBackend) List(_ context.Context, dir string) ([]string, error) {
	full, err := b.path(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs it
// and moves it into place. Without replace the final step is a hard link, which
// fails if dst already exists.
func writeFileAtomic(dst string, data []byte, replace bool) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if !replace {
		if _, err := os.Lstat(dst); err == nil {
			return ErrExist
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if replace {
		if err := os.Rename(tmpName, dst); err != nil {
			return err
		}
	} else {
		if err := os.Link(tmpName, dst); err != nil {
			if errors.Is(err, os.ErrExist) {
				return ErrExist
			}
			return err
		}
	}

	_ = syncDirBestEffort(dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
