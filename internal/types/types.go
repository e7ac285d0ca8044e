package types

import (
	"sort"
	"strings"
	"time"
)

// FileState represents the recorded facts about one tracked vault file
type FileState struct {
	Path  string `json:"path"`
	Mtime int64  `json:"mtime"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash,omitempty"` // SHA-1 hex, only for hashable extensions
}

// HasHash reports whether a content hash was recorded for the file
func (f FileState) HasHash() bool {
	return f.Hash != ""
}

// BaseSnapshot is a full materialized state of the vault
type BaseSnapshot struct {
	CreatedAt time.Time            `json:"createdAt"`
	Files     map[string]FileState `json:"files"`
}

// NewBaseSnapshot creates an empty base stamped with createdAt
func NewBaseSnapshot(createdAt time.Time) *BaseSnapshot {
	return &BaseSnapshot{
		CreatedAt: createdAt,
		Files:     make(map[string]FileState),
	}
}

// DeltaRecord is an incremental change set relative to the previously reconstructed state
type DeltaRecord struct {
	CreatedAt time.Time   `json:"createdAt"`
	Added     []FileState `json:"added"`
	Modified  []FileState `json:"modified"`
	Removed   []string    `json:"removed"`
}

// IsEmpty returns true when the delta carries no changes
func (d *DeltaRecord) IsEmpty() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0)
}

// Normalize sorts every collection by path and replaces nil slices with empty ones,
// so that serialising the same changes always yields the same bytes.
func (d *DeltaRecord) Normalize() {
	if d.Added == nil {
		d.Added = []FileState{}
	}
	if d.Modified == nil {
		d.Modified = []FileState{}
	}
	if d.Removed == nil {
		d.Removed = []string{}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Path < d.Added[j].Path })
	sort.Slice(d.Modified, func(i, j int) bool { return d.Modified[i].Path < d.Modified[j].Path })
	sort.Strings(d.Removed)
}

// VaultFile is one entry of the host file listing
type VaultFile struct {
	Path      string // vault-relative, slash separated
	Name      string
	Extension string // lower case, without the leading dot
	Mtime     int64  // milliseconds since epoch
	Size      int64
}

// ExtensionOf returns the lower-cased extension of a path without the leading dot
func ExtensionOf(path string) string {
	base := path
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	idx := strings.LastIndex(base, ".")
	if idx <= 0 || idx == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[idx+1:])
}

// RunOutcome describes what a controller invocation did
type RunOutcome string

const (
	OutcomeBaseCreated  RunOutcome = "base_created"
	OutcomeDeltaCreated RunOutcome = "delta_created"
	OutcomeNoChanges    RunOutcome = "no_changes"
	OutcomeSkipped      RunOutcome = "skipped"
	OutcomeConsolidated RunOutcome = "consolidated"
	OutcomeFailed       RunOutcome = "failed"
)

// AllOutcomes lists every RunOutcome in reporting order
var AllOutcomes = []RunOutcome{
	OutcomeBaseCreated,
	OutcomeDeltaCreated,
	OutcomeNoChanges,
	OutcomeSkipped,
	OutcomeConsolidated,
	OutcomeFailed,
}

// RunSummary represents the result of one controller invocation
type RunSummary struct {
	RunID        string        `json:"run_id"`
	Period       string        `json:"period"`
	Outcome      RunOutcome    `json:"outcome"`
	TrackedFiles int           `json:"tracked_files"`
	Added        int           `json:"added"`
	Modified     int           `json:"modified"`
	Removed      int           `json:"removed"`
	ReadErrors   []string      `json:"read_errors"`
	Consolidated bool          `json:"consolidated"`
	DeltaCount   int           `json:"delta_count"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Err          error         `json:"-"`
}

// Config represents the application configuration
type Config struct {
	// Vault
	VaultRoot            string `json:"vault_root" env:"VAULT_ROOT,default=."`
	VaultSource          string `json:"vault_source" env:"VAULT_SOURCE,default=local"`
	SnapshotBackend      string `json:"snapshot_backend" env:"SNAPSHOT_BACKEND,default=local"`
	SnapshotFolder       string `json:"snapshot_folder" env:"SNAPSHOT_FOLDER,default=.vault-state"`
	IgnorePatterns       string `json:"ignore_patterns" env:"IGNORE_PATTERNS"`
	SettingsFile         string `json:"settings_file" env:"SETTINGS_FILE"`
	ConsolidateThreshold int    `json:"consolidate_threshold" env:"CONSOLIDATE_THRESHOLD,default=30"`
	SnapshotTimezone     string `json:"snapshot_timezone" env:"SNAPSHOT_TIMEZONE,default=UTC"`

	// Scanning
	Concurrency      int     `json:"concurrency" env:"SNAPSHOT_CONCURRENCY,default=4"`
	ReadRateLimit    float64 `json:"read_rate_limit" env:"READ_RATE_LIMIT,default=0"`
	ReadRateBurst    int     `json:"read_rate_burst" env:"READ_RATE_BURST,default=1"`
	NormalizeContent bool    `json:"normalize_content" env:"NORMALIZE_CONTENT,default=false"`

	// S3 vault source and snapshot backend
	S3Bucket          string `json:"s3_bucket" env:"S3_BUCKET"`
	S3Prefix          string `json:"s3_prefix" env:"S3_PREFIX"`
	S3Region          string `json:"s3_region" env:"S3_REGION,default=us-east-1"`
	S3Endpoint        string `json:"s3_endpoint" env:"S3_ENDPOINT"`
	S3AccessKeyID     string `json:"-" env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `json:"-" env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle    bool   `json:"s3_use_path_style" env:"S3_USE_PATH_STYLE,default=false"`

	// Git vault source
	GitRemoteURL string `json:"git_remote_url" env:"GIT_REMOTE_URL"`
	GitBranch    string `json:"git_branch" env:"GIT_BRANCH"`
	GitToken     string `json:"-" env:"GIT_TOKEN"`
	GitPull      bool   `json:"git_pull" env:"GIT_PULL,default=true"`

	// Notifications
	SlackWebhookURL string `json:"-" env:"SLACK_WEBHOOK_URL"`
	SlackChannel    string `json:"slack_channel" env:"SLACK_CHANNEL"`

	// Run history
	HistoryDBPath string `json:"history_db_path" env:"HISTORY_DB_PATH"`

	// Secrets
	SecretsManagerSecretID string `json:"secrets_manager_secret_id" env:"SECRETS_MANAGER_SECRET_ID"`
	SecretsManagerRegion   string `json:"secrets_manager_region" env:"SECRETS_MANAGER_REGION,default=us-east-1"`
	SecretsManagerEndpoint string `json:"secrets_manager_endpoint" env:"SECRETS_MANAGER_ENDPOINT"`

	// OpenTelemetry
	OTelEnabled              bool    `json:"otel_enabled" env:"OTEL_ENABLED,default=false"`
	OTelServiceName          string  `json:"otel_service_name" env:"OTEL_SERVICE_NAME,default=vaultstate"`
	OTelExporterOTLPEndpoint string  `json:"otel_exporter_otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelExporterOTLPProtocol string  `json:"otel_exporter_otlp_protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL,default=http/protobuf"`
	OTelResourceAttributes   string  `json:"otel_resource_attributes" env:"OTEL_RESOURCE_ATTRIBUTES"`
	OTelTracesSampler        string  `json:"otel_traces_sampler" env:"OTEL_TRACES_SAMPLER,default=always_on"`
	OTelTracesSamplerArg     float64 `json:"otel_traces_sampler_arg" env:"OTEL_TRACES_SAMPLER_ARG,default=1.0"`
}

// PeriodLocation returns the location used to derive calendar-day periods.
// Unknown zones fall back to UTC; config.Load rejects them up front.
func (c *Config) PeriodLocation() *time.Location {
	if c == nil || c.SnapshotTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.SnapshotTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
