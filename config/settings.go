package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SettingsSnapshot is what gets persisted when settings change at runtime.
type SettingsSnapshot struct {
	Version   int       `yaml:"version"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Config    *Config   `yaml:"config"`
}

// SettingsStore persists settings snapshots.
type SettingsStore interface {
	IsEnabled() bool
	Load(ctx context.Context, dest *SettingsSnapshot) error
	Save(ctx context.Context, snapshot SettingsSnapshot) error
	Location() string
}

// FileStore keeps the settings snapshot in a local YAML file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path. An empty path disables it.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (fs *FileStore) IsEnabled() bool { return fs != nil && fs.path != "" }

func (fs *FileStore) Location() string { return fs.path }

// Load reads the snapshot. A missing file returns os.ErrNotExist.
func (fs *FileStore) Load(_ context.Context, dest *SettingsSnapshot) error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	return nil
}

// Save writes the snapshot atomically via a temp file and rename.
func (fs *FileStore) Save(_ context.Context, snapshot SettingsSnapshot) error {
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename settings: %w", err)
	}
	return nil
}

// SettingsManager loads persisted overrides at startup and saves them again
// whenever settings are edited through the API.
type SettingsManager struct {
	logger     *zap.Logger
	store      SettingsStore
	liveConfig *LiveConfig
}

// NewSettingsManager creates a new SettingsManager.
func NewSettingsManager(logger *zap.Logger, store SettingsStore, liveConfig *LiveConfig) *SettingsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsManager{
		logger:     logger,
		store:      store,
		liveConfig: liveConfig,
	}
}

// IsEnabled returns true if settings persistence is available.
func (sm *SettingsManager) IsEnabled() bool {
	return sm.store != nil && sm.store.IsEnabled()
}

// LoadSettings merges persisted settings over base.
// Priority: persisted settings > environment > YAML file > defaults.
func (sm *SettingsManager) LoadSettings(ctx context.Context, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	if !sm.IsEnabled() {
		sm.logger.Info("settings persistence not configured, using env/defaults")
		return base.Clone(), nil
	}

	// Decoding over a copy of base leaves fields absent from the file as they
	// were; secrets are never part of the file.
	snapshot := SettingsSnapshot{Config: base.Clone()}
	if err := sm.store.Load(ctx, &snapshot); err != nil {
		if os.IsNotExist(err) {
			sm.logger.Info("no persisted settings yet", zap.String("location", sm.store.Location()))
		} else {
			sm.logger.Warn("failed to load persisted settings, using env/defaults", zap.Error(err))
		}
		return base.Clone(), nil
	}
	if snapshot.Config == nil {
		return base.Clone(), nil
	}

	merged := snapshot.Config
	if result := merged.Validate(); !result.Valid {
		sm.logger.Warn("persisted settings invalid, ignoring",
			zap.String("error", (&ConfigValidationError{Errors: result.Errors}).Error()),
		)
		return base.Clone(), nil
	}
	sm.logger.Info("loaded persisted settings",
		zap.Time("updated_at", snapshot.UpdatedAt),
		zap.Int("version", snapshot.Version),
	)
	return merged, nil
}

// SaveSettings persists the current live config.
func (sm *SettingsManager) SaveSettings(ctx context.Context) error {
	if !sm.IsEnabled() {
		return fmt.Errorf("settings persistence not configured")
	}
	snapshot := SettingsSnapshot{
		Version:   sm.liveConfig.Version(),
		UpdatedAt: time.Now().UTC(),
		Config:    sm.liveConfig.Get(),
	}
	if err := sm.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	sm.logger.Info("saved settings", zap.String("location", sm.store.Location()))
	return nil
}

// UpdateAndSave validates and applies newConfig, then persists it. A failed
// save is logged; the running config still changes.
func (sm *SettingsManager) UpdateAndSave(ctx context.Context, newConfig *Config) error {
	if err := sm.liveConfig.Update(newConfig); err != nil {
		return err
	}
	if sm.IsEnabled() {
		if err := sm.SaveSettings(ctx); err != nil {
			sm.logger.Error("failed to persist settings", zap.Error(err))
		}
	}
	return nil
}

// UpdateFromJSON merges a partial JSON document over the current config.
// Restart-only fields must keep their running values.
func (sm *SettingsManager) UpdateFromJSON(ctx context.Context, data []byte) error {
	cur := sm.liveConfig.Get()
	next, err := ConfigFromJSON(data, cur)
	if err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if errs := RestartRequired(cur, next); len(errs) > 0 {
		return &ConfigValidationError{Errors: errs}
	}
	return sm.UpdateAndSave(ctx, next)
}

// GetLiveConfig returns the LiveConfig for observers to register.
func (sm *SettingsManager) GetLiveConfig() *LiveConfig {
	return sm.liveConfig
}

// SettingsInfo describes where the running settings came from.
type SettingsInfo struct {
	Source      string    `json:"source"` // "file" or "env"
	Location    string    `json:"location,omitempty"`
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	IsValid     bool      `json:"is_valid"`
	Errors      []string  `json:"errors,omitempty"`
	RestartOnly []string  `json:"restart_only_fields"`
}

// GetSettingsInfo returns metadata about the current settings.
func (sm *SettingsManager) GetSettingsInfo() SettingsInfo {
	cfg := sm.liveConfig.Get()
	validation := cfg.Validate()

	info := SettingsInfo{
		Source:      "env",
		Version:     sm.liveConfig.Version(),
		LastUpdated: sm.liveConfig.LastUpdated(),
		IsValid:     validation.Valid,
		RestartOnly: RestartOnlyFields,
	}
	if sm.IsEnabled() {
		info.Source = "file"
		info.Location = sm.store.Location()
	}
	for _, e := range validation.Errors {
		info.Errors = append(info.Errors, e.Field+": "+e.Message)
	}
	return info
}
