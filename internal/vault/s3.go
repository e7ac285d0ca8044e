package vault

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Canejo/vault-state-plugin/internal/s3client"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

// S3Vault treats the objects below a bucket prefix as the vault
type S3Vault struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Vault creates an S3Vault from the configuration
func NewS3Vault(ctx context.Context, cfg *types.Config) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	client, err := s3client.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewS3VaultWithClient(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3VaultWithClient creates an S3Vault over an existing client
func NewS3VaultWithClient(client *s3.Client, bucket, prefix string) *S3Vault {
	return &S3Vault{
		client: client,
		bucket: bucket,
		prefix: s3client.NormalizePrefix(prefix),
	}
}

// ListFiles lists every object under the prefix. Paths are relative to the prefix
// and mtimes come from the object's LastModified.
func (v *S3Vault) ListFiles(ctx context.Context) ([]types.VaultFile, error) {
	var files []types.VaultFile

	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(v.prefix),
	})

	pageCount := 0
	for paginator.HasMorePages() {
		pageCount++
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in S3 bucket: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			key := *obj.Key

			// Skip directory markers
			if strings.HasSuffix(key, "/") {
				continue
			}

			rel := strings.TrimPrefix(key, v.prefix)
			if rel == "" {
				continue
			}

			var mtime int64
			if obj.LastModified != nil {
				mtime = obj.LastModified.UnixMilli()
			}

			files = append(files, newVaultFile(rel, mtime, aws.ToInt64(obj.Size)))
		}
	}

	log.Printf("vault: listed %d objects from s3://%s/%s in %d page(s)", len(files), v.bucket, v.prefix, pageCount)

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ReadFile downloads the object for a vault-relative path
func (v *S3Vault) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	key := v.prefix + strings.TrimLeft(relPath, "/")

	result, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer func() { _ = result.Body.Close() }()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body %s: %w", key, err)
	}
	return content, nil
}
