package filestate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// ContentReader reads the raw bytes of a vault file
type ContentReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// hashableExtensions is the fixed set of text-like formats whose content is hashed
var hashableExtensions = map[string]struct{}{
	"md":   {},
	"txt":  {},
	"csv":  {},
	"json": {},
	"js":   {},
	"ts":   {},
	"css":  {},
	"html": {},
	"yaml": {},
	"yml":  {},
}

// IsHashable reports whether files with the given extension get a content hash
func IsHashable(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	_, ok := hashableExtensions[ext]
	return ok
}

// Builder produces FileState records for vault files
type Builder struct {
	reader      ContentReader
	normalize   bool
	limiter     *rate.Limiter
	concurrency int
	logger      *log.Logger
}

// Option configures a Builder
type Option func(*Builder)

// WithNormalization hashes content after line ending, BOM and Unicode normalisation
func WithNormalization(enabled bool) Option {
	return func(b *Builder) {
		b.normalize = enabled
	}
}

// WithRateLimit throttles content reads; a non-positive limit disables throttling
func WithRateLimit(limit float64, burst int) Option {
	return func(b *Builder) {
		if limit <= 0 {
			b.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithConcurrency sets how many files BuildAll reads in parallel
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n < 1 {
			n = 1
		}
		b.concurrency = n
	}
}

// WithLogger sets the logger used to report absorbed read failures
func WithLogger(logger *log.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a Builder reading content through reader
func NewBuilder(reader ContentReader, opts ...Option) *Builder {
	b := &Builder{
		reader:      reader,
		concurrency: 1,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the state of one file. A read failure still yields a usable
// state without a hash, together with a transient_read SnapshotError.
// Only context cancellation is returned with an empty state.
func (b *Builder) Build(ctx context.Context, file types.VaultFile) (types.FileState, error) {
	state := types.FileState{
		Path:  file.Path,
		Mtime: file.Mtime,
		Size:  file.Size,
	}

	ext := file.Extension
	if ext == "" {
		ext = types.ExtensionOf(file.Path)
	}
	if !IsHashable(ext) {
		return state, nil
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return types.FileState{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return types.FileState{}, err
	}

	content, err := b.reader.ReadFile(ctx, file.Path)
	if err != nil {
		if ctx.Err() != nil {
			return types.FileState{}, ctx.Err()
		}
		b.logger.Printf("filestate: read failed path=%s err=%v (hash omitted)", file.Path, err)
		return state, types.NewSnapshotError(types.ErrorTypeTransientRead, "read", file.Path, err)
	}

	state.Hash = Hash(content, b.normalize)
	return state, nil
}

// BuildAll builds states for every file, reading up to the configured number
// of files in parallel. States are returned sorted by path; read failures are
// collected in readErrs. err is non-nil only when ctx was cancelled.
func (b *Builder) BuildAll(ctx context.Context, files []types.VaultFile) (states []types.FileState, readErrs []error, err error) {
	states = make([]types.FileState, len(files))

	var mu sync.Mutex
	sem := make(chan struct{}, b.concurrency)
	eg, egCtx := errgroup.WithContext(ctx)

	for i, file := range files {
		select {
		case sem <- struct{}{}:
		case <-egCtx.Done():
		}
		if egCtx.Err() != nil {
			break
		}

		eg.Go(func() error {
			defer func() { <-sem }()

			state, buildErr := b.Build(egCtx, file)
			if buildErr != nil && !types.IsTransientRead(buildErr) {
				return buildErr
			}
			if buildErr != nil {
				mu.Lock()
				readErrs = append(readErrs, buildErr)
				mu.Unlock()
			}
			states[i] = state
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(states, func(i, j int) bool { return states[i].Path < states[j].Path })
	sortErrors(readErrs)
	return states, readErrs, nil
}

// Hash returns the SHA-1 hex digest of content
func Hash(content []byte, normalize bool) string {
	if normalize {
		content = Normalize(content)
	}
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

func sortErrors(errs []error) {
	sort.SliceStable(errs, func(i, j int) bool {
		return errorPath(errs[i]) < errorPath(errs[j])
	})
}

func errorPath(err error) string {
	var se *types.SnapshotError
	if errors.As(err, &se) {
		return se.Path
	}
	return err.Error()
}
