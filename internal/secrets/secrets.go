package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Client is the subset of the Secrets Manager API used here
type Client interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewClient creates a Secrets Manager client using the default credential chain
func NewClient(ctx context.Context, region, endpoint string) (*secretsmanager.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	endpoint = strings.TrimSpace(endpoint)
	return secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Fetch reads secretID and decodes it as a flat JSON object.
// Non-string scalar values are kept in their JSON text form.
func Fetch(ctx context.Context, client Client, secretID string) (map[string]string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretID)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(*out.SecretString), &raw); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", secretID, err)
	}

	values := make(map[string]string, len(raw))
	for key, msg := range raw {
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			values[key] = s
			continue
		}
		values[key] = strings.TrimSpace(string(msg))
	}
	return values, nil
}

// Export sets every value whose key is not already present in the
// environment and returns the keys it set, sorted.
func Export(values map[string]string) ([]string, error) {
	var set []string
	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return set, fmt.Errorf("failed to set %s: %w", key, err)
		}
		set = append(set, key)
	}
	sort.Strings(set)
	return set, nil
}

// LoadIntoEnv fetches secretID and exports its keys without overriding
// variables that are already set.
func LoadIntoEnv(ctx context.Context, client Client, secretID string) error {
	values, err := Fetch(ctx, client, secretID)
	if err != nil {
		return err
	}
	set, err := Export(values)
	if err != nil {
		return err
	}
	log.Printf("secrets: loaded %d variables from %s", len(set), secretID)
	return nil
}
