package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	env "github.com/netflix/go-env"

	"github.com/Canejo/vault-state-plugin/internal/ignore"
	"github.com/Canejo/vault-state-plugin/internal/secrets"
	"github.com/Canejo/vault-state-plugin/internal/storage"
	"github.com/Canejo/vault-state-plugin/internal/types"
	"github.com/Canejo/vault-state-plugin/internal/vault"
)

// Type alias for Config
type Config = types.Config

const maxConcurrency = 32

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config

	_, err := env.UnmarshalFromEnviron(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// secretsEnv is the part of the configuration needed before secrets are exported
type secretsEnv struct {
	SecretID string `env:"SECRETS_MANAGER_SECRET_ID"`
	Region   string `env:"SECRETS_MANAGER_REGION,default=us-east-1"`
	Endpoint string `env:"SECRETS_MANAGER_ENDPOINT"`
}

// LoadWithSecrets exports the Secrets Manager secret named by
// SECRETS_MANAGER_SECRET_ID into the environment, then calls Load.
// Variables already present in the environment win over the secret.
func LoadWithSecrets(ctx context.Context) (*Config, error) {
	var se secretsEnv
	if _, err := env.UnmarshalFromEnviron(&se); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if se.SecretID != "" {
		client, err := secrets.NewClient(ctx, se.Region, se.Endpoint)
		if err != nil {
			return nil, err
		}
		if err := secrets.LoadIntoEnv(ctx, client, se.SecretID); err != nil {
			return nil, err
		}
	}

	return Load()
}

// validateConfig validates configuration values and adjusts them to safe ranges
func validateConfig(config *Config) error {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.Concurrency > maxConcurrency {
		config.Concurrency = maxConcurrency
	}

	if config.ConsolidateThreshold < 1 {
		config.ConsolidateThreshold = 30
	}

	if config.ReadRateLimit < 0 {
		config.ReadRateLimit = 0
	}
	if config.ReadRateBurst < 1 {
		config.ReadRateBurst = 1
	}

	if strings.TrimSpace(config.VaultRoot) == "" {
		return fmt.Errorf("VAULT_ROOT must not be empty")
	}

	if err := validateSnapshotFolder(config.SnapshotFolder); err != nil {
		return err
	}

	if _, err := time.LoadLocation(config.SnapshotTimezone); err != nil {
		return fmt.Errorf("invalid SNAPSHOT_TIMEZONE %q: %w", config.SnapshotTimezone, err)
	}

	switch config.VaultSource {
	case vault.SourceLocal, vault.SourceGit:
	case vault.SourceS3:
		if config.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when VAULT_SOURCE=s3")
		}
	default:
		return fmt.Errorf("VAULT_SOURCE must be one of local, s3, git; got %q", config.VaultSource)
	}

	switch config.SnapshotBackend {
	case storage.BackendLocal:
	case storage.BackendS3:
		if config.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when SNAPSHOT_BACKEND=s3")
		}
	default:
		return fmt.Errorf("SNAPSHOT_BACKEND must be local or s3; got %q", config.SnapshotBackend)
	}

	if (config.S3AccessKeyID == "") != (config.S3SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	if config.S3Endpoint != "" {
		if err := validateHTTPURL("S3_ENDPOINT", config.S3Endpoint); err != nil {
			return err
		}
	}

	if config.SlackWebhookURL != "" {
		if err := validateHTTPURL("SLACK_WEBHOOK_URL", config.SlackWebhookURL); err != nil {
			return err
		}
	}

	return nil
}

func validateSnapshotFolder(folder string) error {
	clean := ignore.CleanPath(folder)
	if clean == "" {
		return fmt.Errorf("SNAPSHOT_FOLDER must name a folder inside the vault")
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return fmt.Errorf("SNAPSHOT_FOLDER must stay inside the vault: %s", folder)
		}
	}
	return nil
}

func validateHTTPURL(name, raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL format: %w", name, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https", name)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s must include a valid host", name)
	}
	return nil
}
