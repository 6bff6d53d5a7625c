package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MURMUR_LLM_ENDPOINT", "http://example.test:9999")
	t.Setenv("MURMUR_SYNC_RETRY_CEILING", "5")
	t.Setenv("MURMUR_SYNC_BACKOFF_BASE", "500ms")
	t.Setenv("MURMUR_MEMORY_FETCH_DEADLINE", "15")
	t.Setenv("MURMUR_SERVER_ENABLED", "true")
	t.Setenv("MURMUR_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv(t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, "http://example.test:9999", cfg.LLM.Endpoint)
	assert.Equal(t, 5, cfg.Sync.RetryCeiling)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.BackoffBase)
	// Bare numbers are interpreted as seconds
	assert.Equal(t, 15*time.Second, cfg.Memory.FetchDeadline)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Sync.RetryCeiling)
	assert.Equal(t, time.Second, cfg.Sync.BackoffBase)
	assert.Equal(t, 10*time.Second, cfg.Memory.FetchDeadline)
	assert.Equal(t, 30*time.Second, cfg.LLM.StreamChunkIdle)
	assert.Equal(t, 300*time.Second, cfg.LLM.StreamTotal)
	assert.False(t, cfg.Server.Enabled)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		cfg, err := LoadFromEnv(t.TempDir(), "")
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		cfg := valid(t)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("empty endpoint", func(t *testing.T) {
		cfg := valid(t)
		cfg.LLM.Endpoint = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero retry ceiling", func(t *testing.T) {
		cfg := valid(t)
		cfg.Sync.RetryCeiling = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("stream total below chunk idle", func(t *testing.T) {
		cfg := valid(t)
		cfg.LLM.StreamTotal = cfg.LLM.StreamChunkIdle / 2
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad similarity", func(t *testing.T) {
		cfg := valid(t)
		cfg.Memory.MinSimilarity = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := valid(t)
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("unknown"))
	assert.Equal(t, slog.Level(9999), ParseLogLevel("none"))
}

func TestGlobalConfig(t *testing.T) {
	cfg := New()
	Set(cfg)

	got, err := Get()
	require.NoError(t, err)
	assert.Same(t, cfg, got)
}

func TestSettingsRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLSettingsRepository(db, loggy.NewNoopLogger())
	ctx := context.Background()

	t.Run("GetSetting found", func(t *testing.T) {
		mock.ExpectQuery("SELECT value FROM settings").
			WithArgs(SettingSyncToken).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("tok-123"))

		value, err := repo.GetSetting(ctx, SettingSyncToken)
		require.NoError(t, err)
		assert.Equal(t, "tok-123", value)
	})

	t.Run("GetSetting missing returns empty", func(t *testing.T) {
		mock.ExpectQuery("SELECT value FROM settings").
			WithArgs("no.such.key").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		value, err := repo.GetSetting(ctx, "no.such.key")
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("SetSetting", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO settings").
			WithArgs(SettingSyncURL, "https://sync.example.test", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.SetSetting(ctx, SettingSyncURL, "https://sync.example.test")
		require.NoError(t, err)
	})

	t.Run("DeleteSetting", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM settings").
			WithArgs(SettingSyncToken).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.DeleteSetting(ctx, SettingSyncToken)
		require.NoError(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
