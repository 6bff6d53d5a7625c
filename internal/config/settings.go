package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// Settings keys persisted in the local database
const (
	SettingSyncEnabled = "sync.enabled"
	SettingSyncToken   = "sync.server_token"
	SettingSyncURL     = "sync.server_url"
	SettingDeviceName  = "sync.device_name"
)

// SettingsRepository defines operations for managing settings in the database
type SettingsRepository interface {
	// GetSetting retrieves a setting by key, empty string if absent
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting sets a setting value, inserting or replacing as needed
	SetSetting(ctx context.Context, key, value string) error

	// DeleteSetting deletes a setting
	DeleteSetting(ctx context.Context, key string) error
}

// SQLSettingsRepository implements SettingsRepository using a SQL database
type SQLSettingsRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLSettingsRepository creates a new SQL settings repository
func NewSQLSettingsRepository(db *sql.DB, logger *loggy.Logger) SettingsRepository {
	return &SQLSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetSetting retrieves a setting by key
func (r *SQLSettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	q := squirrel.Select("value").
		From("settings").
		Where(squirrel.Eq{"key": key}).
		Limit(1)

	query, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("building get setting query: %w", err)
	}

	var value string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("executing get setting query: %w", err)
	}

	return value, nil
}

// SetSetting sets a setting value
func (r *SQLSettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	now := time.Now()

	q := squirrel.Insert("settings").
		Columns("key", "value", "created_at", "updated_at").
		Values(key, value, now, now).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at")

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building set setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set setting query: %w", err)
	}

	return nil
}

// DeleteSetting deletes a setting
func (r *SQLSettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	q := squirrel.Delete("settings").Where(squirrel.Eq{"key": key})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building delete setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete setting query: %w", err)
	}

	return nil
}

// LoadSyncSettings overlays persisted sync settings onto the configuration.
// Environment variables win when both are present.
func LoadSyncSettings(ctx context.Context, cfg *Config, repo SettingsRepository) error {
	if cfg.Server.Token == "" {
		token, err := repo.GetSetting(ctx, SettingSyncToken)
		if err != nil {
			return fmt.Errorf("loading sync token: %w", err)
		}
		cfg.Server.Token = token
	}

	if cfg.Server.URL == "" {
		url, err := repo.GetSetting(ctx, SettingSyncURL)
		if err != nil {
			return fmt.Errorf("loading sync URL: %w", err)
		}
		cfg.Server.URL = url
	}

	if !cfg.Server.Enabled {
		enabled, err := repo.GetSetting(ctx, SettingSyncEnabled)
		if err != nil {
			return fmt.Errorf("loading sync enabled flag: %w", err)
		}
		cfg.Server.Enabled = enabled == "true"
	}

	return nil
}

// SaveSyncSettings persists the current sync settings to the database
func SaveSyncSettings(ctx context.Context, cfg *Config, repo SettingsRepository) error {
	enabled := "false"
	if cfg.Server.Enabled {
		enabled = "true"
	}

	pairs := map[string]string{
		SettingSyncEnabled: enabled,
		SettingSyncToken:   cfg.Server.Token,
		SettingSyncURL:     cfg.Server.URL,
		SettingDeviceName:  cfg.Server.DeviceName,
	}

	for key, value := range pairs {
		if err := repo.SetSetting(ctx, key, value); err != nil {
			return fmt.Errorf("saving setting %s: %w", key, err)
		}
	}

	return nil
}
