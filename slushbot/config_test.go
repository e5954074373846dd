package slushbot

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func DefaultTestConfig(t testing.TB) *Config {
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.Development = true

	cfg.Discord.Token = fmt.Sprintf("token_%s", t.Name())
	cfg.Discord.ApplicationID = fmt.Sprintf("app_%s", t.Name())

	cfg.API.Listen = "127.0.0.1:0"

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.Roblox.LogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, dbTypeSQLite, cfg.DatabaseType)
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, 1500*time.Millisecond, cfg.UserCooldown)
	assert.Equal(t, DefaultCommandPrefix, cfg.Discord.CommandPrefix)
	assert.Equal(t, float64(3), cfg.Roblox.RequestsPerSecond)
	assert.Equal(t, 6, cfg.Roblox.Burst)
	assert.Equal(t, 5, cfg.Roblox.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Roblox.RetryBackoff)
	assert.Equal(t, 300*time.Second, cfg.Roblox.CacheTTL)
	assert.Equal(t, ":5000", cfg.API.Listen)
	assert.Equal(t, 240*time.Second, cfg.API.KeepWarmInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, cfg.DatabaseLogLevel.Level())
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultTestConfig(t)
	require.NoError(t, structValidator.Struct(cfg))

	cfg.Discord.Token = ""
	require.Error(t, structValidator.Struct(cfg))
}

func TestValidateConfigDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	require.Error(t, structValidator.Struct(cfg))
}

func TestValidateConfigRobloxLimits(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Roblox.RequestsPerSecond = 0
	require.Error(t, structValidator.Struct(cfg))

	cfg = DefaultTestConfig(t)
	cfg.Roblox.Burst = 0
	require.Error(t, structValidator.Struct(cfg))
}
