package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// GitOptions configures a GitVault
type GitOptions struct {
	Dir       string // working copy location
	RemoteURL string // cloned into Dir when Dir holds no repository yet
	Branch    string
	Token     string
	Pull      bool // fast-forward the working copy before listing
}

// GitVault tracks the files of a git working copy. Only paths present in the
// git index are listed, so untracked scratch files never reach a snapshot.
type GitVault struct {
	local *LocalVault
	repo  *git.Repository
}

// OpenGitVault opens the working copy in opts.Dir, cloning it first if needed
func OpenGitVault(ctx context.Context, opts GitOptions) (*GitVault, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("git vault directory is required")
	}

	repo, err := git.PlainOpen(opts.Dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		if opts.RemoteURL == "" {
			return nil, fmt.Errorf("no git repository at %s and GIT_REMOTE_URL is empty", opts.Dir)
		}
		repo, err = cloneRepository(ctx, opts)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to open git repository %s: %w", opts.Dir, err)
	case opts.Pull:
		if err := pullRepository(ctx, repo, opts); err != nil {
			return nil, err
		}
	}

	local, err := NewLocalVault(opts.Dir)
	if err != nil {
		return nil, err
	}

	return &GitVault{local: local, repo: repo}, nil
}

func auth(token string) *http.BasicAuth {
	if token == "" {
		return nil
	}
	return &http.BasicAuth{
		Username: "x-access-token",
		Password: token,
	}
}

func cloneRepository(ctx context.Context, opts GitOptions) (*git.Repository, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}

	cloneOpts := &git.CloneOptions{
		URL: opts.RemoteURL,
	}
	if a := auth(opts.Token); a != nil {
		cloneOpts.Auth = a
	}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
		cloneOpts.SingleBranch = true
	}

	log.Printf("vault: cloning %s into %s", opts.RemoteURL, opts.Dir)

	repo, err := git.PlainCloneContext(ctx, opts.Dir, false, cloneOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", opts.RemoteURL, err)
	}
	return repo, nil
}

func pullRepository(ctx context.Context, repo *git.Repository, opts GitOptions) error {
	if _, err := repo.Remote(git.DefaultRemoteName); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up remote: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	pullOpts := &git.PullOptions{RemoteName: git.DefaultRemoteName}
	if a := auth(opts.Token); a != nil {
		pullOpts.Auth = a
	}
	if opts.Branch != "" {
		pullOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}

	err = wt.PullContext(ctx, pullOpts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull %s: %w", opts.Dir, err)
	}
	return nil
}

// Head returns the commit hash the working copy is on
func (v *GitVault) Head() (string, error) {
	ref, err := v.repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

// ListFiles returns the files recorded in the git index that still exist on
// disk. Size and mtime come from the working copy, not the index.
func (v *GitVault) ListFiles(ctx context.Context) ([]types.VaultFile, error) {
	idx, err := v.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read git index: %w", err)
	}

	files := make([]types.VaultFile, 0, len(idx.Entries))
	for _, entry := range idx.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		full := filepath.Join(v.local.Root(), filepath.FromSlash(entry.Name))
		info, err := os.Stat(full)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("vault: failed to stat %s: %v", entry.Name, err)
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, newVaultFile(entry.Name, info.ModTime().UnixMilli(), info.Size()))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ReadFile reads a tracked path from the working copy
func (v *GitVault) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	return v.local.ReadFile(ctx, relPath)
}
