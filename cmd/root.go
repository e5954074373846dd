package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/ItsRyan504/Slush-Bot/slushbot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = slushbot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "slushbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", slushbot.DefaultDatabase)
	viper.SetDefault("database_type", slushbot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		slushbot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		slushbot.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("development", false)

	viper.SetDefault("log_level", slushbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", slushbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", slushbot.DefaultShutdownTimeout)
	viper.SetDefault("user_cooldown", slushbot.DefaultUserCooldown)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.owner_id", "")
	viper.SetDefault("discord.command_prefix", slushbot.DefaultCommandPrefix)
	viper.SetDefault(
		"discord.log_level",
		slushbot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		slushbot.DefaultDiscordgoLogLevel.String(),
	)

	// Roblox config
	viper.SetDefault("roblox.cookie", "")
	viper.SetDefault("roblox.backup_cookie", "")
	viper.SetDefault(
		"roblox.requests_per_second",
		slushbot.DefaultRobloxRequestsPerSecond,
	)
	viper.SetDefault("roblox.burst", slushbot.DefaultRobloxBurst)
	viper.SetDefault("roblox.max_attempts", slushbot.DefaultRobloxMaxAttempts)
	viper.SetDefault("roblox.retry_backoff", slushbot.DefaultRobloxRetryBackoff)
	viper.SetDefault("roblox.cache_ttl", slushbot.DefaultRobloxCacheTTL)
	viper.SetDefault(
		"roblox.request_timeout",
		slushbot.DefaultRobloxRequestTimeout,
	)
	viper.SetDefault(
		"roblox.log_level",
		slushbot.DefaultRobloxLogLevel.String(),
	)

	// API config
	viper.SetDefault("api.listen", slushbot.DefaultAPIListen)
	viper.SetDefault("api.external_url", "")
	viper.SetDefault(
		"api.keep_warm_interval",
		slushbot.DefaultKeepWarmInterval,
	)
	viper.SetDefault("api.read_timeout", slushbot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		slushbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", slushbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", slushbot.DefaultIdleTimeout)
	viper.SetDefault("api.log_level", slushbot.DefaultAPILogLevel.String())

	envPrefix := os.Getenv(slushbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = slushbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"roblox.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load before reading configuration",
	)
}
