package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Canejo/vault-state-plugin/internal/ignore"
	"github.com/Canejo/vault-state-plugin/internal/types"
)

// Settings are the user-editable snapshot preferences persisted next to the vault
type Settings struct {
	SnapshotFolder string `yaml:"snapshot_folder,omitempty"`
	IgnorePatterns string `yaml:"ignore_patterns,omitempty"`
}

// DefaultFileName is used when SETTINGS_FILE is not set
const DefaultFileName = ".vaultstate.yaml"

// Path resolves the settings file for cfg
func Path(cfg *types.Config) string {
	if cfg.SettingsFile != "" {
		return cfg.SettingsFile
	}
	return filepath.Join(cfg.VaultRoot, DefaultFileName)
}

// Load reads the settings file. A missing file yields empty settings.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return &s, nil
}

// Save writes the settings through a temp file and rename
func Save(path string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Validate rejects a snapshot folder that resolves outside the vault
func (s *Settings) Validate() error {
	if s.SnapshotFolder == "" {
		return nil
	}
	folder := ignore.CleanPath(s.SnapshotFolder)
	if folder == "" {
		return fmt.Errorf("snapshot_folder must not be the vault root")
	}
	if folder == ".." || strings.HasPrefix(folder, "../") || strings.Contains(folder, "/../") {
		return fmt.Errorf("snapshot_folder must stay inside the vault: %s", s.SnapshotFolder)
	}
	return nil
}

// Apply overrides the configuration with every non-empty setting
func (s *Settings) Apply(cfg *types.Config) {
	if s.SnapshotFolder != "" {
		cfg.SnapshotFolder = s.SnapshotFolder
	}
	if s.IgnorePatterns != "" {
		cfg.IgnorePatterns = s.IgnorePatterns
	}
}
