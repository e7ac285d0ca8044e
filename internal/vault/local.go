package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// LocalVault lists and reads files below a directory on the local filesystem
type LocalVault struct {
	root string
}

// NewLocalVault creates a LocalVault after checking the root is a readable directory
func NewLocalVault(root string) (*LocalVault, error) {
	if err := ValidateDirectory(root); err != nil {
		return nil, fmt.Errorf("directory validation failed: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root %s: %w", root, err)
	}
	return &LocalVault{root: abs}, nil
}

// Root returns the absolute vault root
func (v *LocalVault) Root() string {
	return v.root
}

// ListFiles walks the vault and returns every regular file sorted by path.
// Entries that cannot be stat'ed are skipped; the .git directory is never listed.
func (v *LocalVault) ListFiles(ctx context.Context) ([]types.VaultFile, error) {
	var files []types.VaultFile

	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// an unreadable directory would look like its files were deleted
			if d == nil || d.IsDir() {
				return fmt.Errorf("failed to read %s: %w", p, err)
			}
			log.Printf("vault: skipping %s: %v", p, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Printf("vault: failed to get file info for %s: %v", p, err)
			return nil
		}

		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", p, err)
		}

		files = append(files, newVaultFile(filepath.ToSlash(rel), info.ModTime().UnixMilli(), info.Size()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory %s: %w", v.root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ReadFile reads a vault-relative path
func (v *LocalVault) ReadFile(_ context.Context, relPath string) ([]byte, error) {
	full, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", relPath, err)
	}
	return content, nil
}

func (v *LocalVault) resolve(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes vault root: %s", relPath)
	}
	return filepath.Join(v.root, clean), nil
}

// ValidateDirectory checks if the directory exists and is readable
func ValidateDirectory(dirPath string) error {
	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", dirPath)
		}
		return fmt.Errorf("cannot access directory %s: %w", dirPath, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dirPath)
	}

	file, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("directory is not readable: %s (%w)", dirPath, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close directory: %w", err)
	}

	return nil
}
