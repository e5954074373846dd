package slushbot

import (
	"log/slog"
	"time"
)

const (
	// DefaultEnvPrefix is the default environment variable prefix
	DefaultEnvPrefix = "SLUSH"

	// EnvvarSetEnvPrefix overrides the environment variable prefix
	EnvvarSetEnvPrefix = "SLUSH_SET_ENV_PREFIX"

	// DefaultDatabaseType is the default database type (sqlite or postgres)
	DefaultDatabaseType = dbTypeSQLite

	// DefaultDatabase is the default sqlite path (or postgres DSN)
	DefaultDatabase = "slushbot.sqlite3"

	// DefaultDatabaseSlowThreshold is the threshold above which
	// queries are logged as slow
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	// DefaultCommandPrefix is the message prefix for text commands
	DefaultCommandPrefix = "!"

	// DefaultUserCooldown is the minimum interval between commands
	// from the same user
	DefaultUserCooldown = 1500 * time.Millisecond

	// DefaultUserCooldownIdleTimeout is how long an idle per-user
	// limiter is kept before being swept
	DefaultUserCooldownIdleTimeout = 10 * time.Minute

	// DefaultRobloxRequestsPerSecond is the token bucket refill rate
	// for outbound Roblox API calls
	DefaultRobloxRequestsPerSecond = 3

	// DefaultRobloxBurst is the token bucket burst size for outbound
	// Roblox API calls
	DefaultRobloxBurst = 6

	// DefaultRobloxMaxAttempts is the number of attempts made for a
	// single Roblox API call before giving up
	DefaultRobloxMaxAttempts = 5

	// DefaultRobloxRetryBackoff is the base backoff between retries
	// (multiplied by the attempt number)
	DefaultRobloxRetryBackoff = 500 * time.Millisecond

	// DefaultRobloxCacheTTL is how long gamepass lookups are cached
	DefaultRobloxCacheTTL = 300 * time.Second

	// DefaultRobloxRequestTimeout is the per-request timeout for
	// Roblox API calls
	DefaultRobloxRequestTimeout = 15 * time.Second

	// DefaultAPIListen is the listen address for the keep-alive server
	DefaultAPIListen = ":5000"

	// DefaultKeepWarmInterval is how often the bot pings its own
	// keep-alive endpoint
	DefaultKeepWarmInterval = 240 * time.Second

	// DefaultStartupTimeout is the max duration to wait for the bot
	// to come up before aborting
	DefaultStartupTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the max duration allowed for a
	// graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultEmbedsPerMessage is the max embeds attached to a single
	// Discord message when sending bulk results
	DefaultEmbedsPerMessage = 5

	// DefaultReadTimeout is the keep-alive server's read timeout
	DefaultReadTimeout = 5 * time.Second

	// DefaultReadHeaderTimeout is the keep-alive server's read header timeout
	DefaultReadHeaderTimeout = 5 * time.Second

	// DefaultWriteTimeout is the keep-alive server's write timeout
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the keep-alive server's idle timeout
	DefaultIdleTimeout = 30 * time.Second
)

var (
	// DefaultLogLevel is the default top-level log level
	DefaultLogLevel = slog.LevelInfo

	// DefaultDatabaseLogLevel is the default gorm logger level
	DefaultDatabaseLogLevel = slog.LevelWarn

	// DefaultDiscordLogLevel is the default discord component log level
	DefaultDiscordLogLevel = slog.LevelInfo

	// DefaultDiscordgoLogLevel is the default level for the bridged
	// discordgo internal logger
	DefaultDiscordgoLogLevel = slog.LevelWarn

	// DefaultRobloxLogLevel is the default Roblox client log level
	DefaultRobloxLogLevel = slog.LevelInfo

	// DefaultAPILogLevel is the default keep-alive server log level
	DefaultAPILogLevel = slog.LevelInfo
)

// Config holds the bot's startup configuration. Values are loaded
// from environment variables and/or an env file (see cmd).
//
//nolint:lll // struct tags can't be split
type Config struct {
	// DatabaseType indicates the database type (sqlite or postgres)
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" binding:"oneof=sqlite postgres"`

	// Database is the sqlite filepath, or the postgres DSN
	Database string `yaml:"database" mapstructure:"database" binding:"required"`

	// DatabaseLogLevel sets the log level for the gorm logger
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level"`

	// DatabaseSlowThreshold is the query duration above which
	// queries are logged as slow
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold"`

	// LogLevel sets the bot's top-level log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level"`

	// StartupTimeout bounds SlushBot.Run startup
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" binding:"required"`

	// ShutdownTimeout bounds the graceful shutdown on exit
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" binding:"required"`

	// UserCooldown is the minimum interval between commands from the
	// same user
	UserCooldown time.Duration `yaml:"user_cooldown" mapstructure:"user_cooldown"`

	// Development runs the keep-alive server in gin's debug mode
	Development bool `yaml:"development" mapstructure:"development"`

	Discord DiscordConfig `yaml:"discord" mapstructure:"discord"`
	Roblox  RobloxConfig  `yaml:"roblox" mapstructure:"roblox"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
}

// DiscordConfig holds Discord credentials and gateway options.
//
//nolint:lll // struct tags can't be split
type DiscordConfig struct {
	// Token is the bot token
	Token string `yaml:"token" mapstructure:"token" binding:"required"`

	// ApplicationID is the Discord application ID, used to register
	// slash commands
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" binding:"required"`

	// GuildID, if set, registers slash commands against a single
	// guild instead of globally (guild registration is immediate,
	// global can take an hour)
	GuildID string `yaml:"guild_id" mapstructure:"guild_id"`

	// OwnerID is the Discord user ID allowed to run owner-only
	// commands such as /diag. Empty disables them.
	OwnerID string `yaml:"owner_id" mapstructure:"owner_id"`

	// CommandPrefix is the prefix for text commands ("!" by default)
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level"`

	// DiscordGoLogLevel sets the log level of the bridged
	// discordgo internal logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level"`
}

// RobloxConfig holds options for the Roblox pricing API client.
//
//nolint:lll // struct tags can't be split
type RobloxConfig struct {
	// Cookie is the main .ROBLOSECURITY cookie. Optional - most
	// gamepass detail lookups work unauthenticated.
	Cookie string `yaml:"cookie" mapstructure:"cookie" log:"[redacted]"`

	// BackupCookie is tried when the main cookie gets a 401/403, or
	// when the response carries no price
	BackupCookie string `yaml:"backup_cookie" mapstructure:"backup_cookie" log:"[redacted]"`

	// RequestsPerSecond is the outbound token bucket refill rate
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" binding:"gt=0"`

	// Burst is the outbound token bucket size
	Burst int `yaml:"burst" mapstructure:"burst" binding:"gte=1"`

	// MaxAttempts is the number of tries for a single API call
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" binding:"gte=1"`

	// RetryBackoff is the base retry backoff, multiplied by the
	// attempt number
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`

	// CacheTTL is how long gamepass lookups are cached
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// RequestTimeout is the per-request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level"`
}

// APIConfig holds options for the keep-alive HTTP server.
//
//nolint:lll // struct tags can't be split
type APIConfig struct {
	// Listen address, like ":5000"
	Listen string `yaml:"listen" mapstructure:"listen" binding:"required"`

	// ExternalURL, if set, is pinged every KeepWarmInterval to keep
	// free-tier hosts from idling the process. Empty disables the
	// keep-warm loop.
	ExternalURL string `yaml:"external_url" mapstructure:"external_url"`

	// KeepWarmInterval is how often ExternalURL is pinged
	KeepWarmInterval time.Duration `yaml:"keep_warm_interval" mapstructure:"keep_warm_interval"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level"`
}

// DefaultConfig returns a Config with default values set
func DefaultConfig() *Config {
	cfg := &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      &slog.LevelVar{},
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              &slog.LevelVar{},
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		UserCooldown:          DefaultUserCooldown,
		Discord: DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			LogLevel:          &slog.LevelVar{},
			DiscordGoLogLevel: &slog.LevelVar{},
		},
		Roblox: RobloxConfig{
			RequestsPerSecond: DefaultRobloxRequestsPerSecond,
			Burst:             DefaultRobloxBurst,
			MaxAttempts:       DefaultRobloxMaxAttempts,
			RetryBackoff:      DefaultRobloxRetryBackoff,
			CacheTTL:          DefaultRobloxCacheTTL,
			RequestTimeout:    DefaultRobloxRequestTimeout,
			LogLevel:          &slog.LevelVar{},
		},
		API: APIConfig{
			Listen:            DefaultAPIListen,
			KeepWarmInterval:  DefaultKeepWarmInterval,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			LogLevel:          &slog.LevelVar{},
		},
	}
	cfg.LogLevel.Set(DefaultLogLevel)
	cfg.DatabaseLogLevel.Set(DefaultDatabaseLogLevel)
	cfg.Discord.LogLevel.Set(DefaultDiscordLogLevel)
	cfg.Discord.DiscordGoLogLevel.Set(DefaultDiscordgoLogLevel)
	cfg.Roblox.LogLevel.Set(DefaultRobloxLogLevel)
	cfg.API.LogLevel.Set(DefaultAPILogLevel)
	return cfg
}
