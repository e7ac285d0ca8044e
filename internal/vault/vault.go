package vault

import (
	"context"
	"fmt"
	"path"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// Vault is the host-side view of the tracked file collection
type Vault interface {
	// ListFiles enumerates every file with vault-relative slash paths
	ListFiles(ctx context.Context) ([]types.VaultFile, error)
	// ReadFile returns the raw content of a vault-relative path
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Source identifiers accepted by VAULT_SOURCE
const (
	SourceLocal = "local"
	SourceS3    = "s3"
	SourceGit   = "git"
)

// New creates the Vault selected by the configuration
func New(ctx context.Context, cfg *types.Config) (Vault, error) {
	switch cfg.VaultSource {
	case SourceLocal, "":
		return NewLocalVault(cfg.VaultRoot)
	case SourceS3:
		return NewS3Vault(ctx, cfg)
	case SourceGit:
		return OpenGitVault(ctx, GitOptions{
			Dir:       cfg.VaultRoot,
			RemoteURL: cfg.GitRemoteURL,
			Branch:    cfg.GitBranch,
			Token:     cfg.GitToken,
			Pull:      cfg.GitPull,
		})
	default:
		return nil, fmt.Errorf("unsupported vault source %q", cfg.VaultSource)
	}
}

func newVaultFile(relPath string, mtimeMillis, size int64) types.VaultFile {
	return types.VaultFile{
		Path:      relPath,
		Name:      path.Base(relPath),
		Extension: types.ExtensionOf(relPath),
		Mtime:     mtimeMillis,
		Size:      size,
	}
}
