// Package config binds the server's command-line flags to OUTLIER_*
// environment variables and an optional .env file
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mcoot/outlier/internal/factory"
	"github.com/mcoot/outlier/internal/logging"
	"github.com/mcoot/outlier/internal/services/category/openai"
	"github.com/mcoot/outlier/internal/services/session"
	redisstorage "github.com/mcoot/outlier/internal/storage/redis"
	"github.com/mcoot/outlier/internal/telemetry"
)

// EnvPrefix is prepended to every flag name to form its environment variable
const EnvPrefix = "OUTLIER"

const envFileFlag = "env-file"

// Server holds everything the server process can be configured with
type Server struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	PublicURL       string

	Storage           string
	RedisURL          string
	RedisSessionTTL   time.Duration
	SQLitePath        string
	MaxUpdateAttempts int

	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAIModel    string
	CategoriesFile string

	HubCleanupInterval time.Duration

	OTLPEndpoint string

	Log logging.Config

	EnvFile string
}

// BindFlags registers the server flags on fs, writing into cfg
func BindFlags(fs *pflag.FlagSet, cfg *Server) {
	redisDefaults := redisstorage.DefaultConfig()
	openaiDefaults := openai.DefaultConfig()
	logDefaults := logging.DefaultConfig()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Host, "host", "b", "", "address to bind to (env: OUTLIER_HOST)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: OUTLIER_PORT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for in-flight requests on shutdown (env: OUTLIER_SHUTDOWN_TIMEOUT)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "base URL encoded in join QR codes (env: OUTLIER_PUBLIC_URL)")

	fs.StringVar(&cfg.Storage, "storage", factory.StorageTypeMemory, "session store: memory, redis or sqlite (env: OUTLIER_STORAGE)")
	fs.StringVar(&cfg.RedisURL, "redis-url", redisDefaults.URL, "redis connection URL (env: OUTLIER_REDIS_URL)")
	fs.DurationVar(&cfg.RedisSessionTTL, "redis-session-ttl", redisDefaults.SessionTTL, "expiry of idle sessions in redis, 0 keeps them (env: OUTLIER_REDIS_SESSION_TTL)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", "outlier.db", "sqlite database file (env: OUTLIER_SQLITE_PATH)")
	fs.IntVar(&cfg.MaxUpdateAttempts, "max-update-attempts", session.DefaultConfig().MaxUpdateAttempts, "retries for conflicting session writes (env: OUTLIER_MAX_UPDATE_ATTEMPTS)")

	fs.StringVar(&cfg.OpenAIKey, "openai-key", "", "OpenAI API key, enables category generation (env: OUTLIER_OPENAI_KEY)")
	fs.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible API endpoint (env: OUTLIER_OPENAI_BASE_URL)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", openaiDefaults.Model, "model used for category generation (env: OUTLIER_OPENAI_MODEL)")
	fs.StringVar(&cfg.CategoriesFile, "categories-file", "", "JSON file replacing the built-in categories (env: OUTLIER_CATEGORIES_FILE)")

	fs.DurationVar(&cfg.HubCleanupInterval, "hub-cleanup-interval", time.Minute, "how often idle stream hubs are closed (env: OUTLIER_HUB_CLEANUP_INTERVAL)")

	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", "", "OTLP/HTTP trace endpoint, tracing is off when empty (env: OUTLIER_OTLP_ENDPOINT)")

	fs.StringVar(&cfg.Log.Format, "log-format", logDefaults.Format, "log format: json or text (env: OUTLIER_LOG_FORMAT)")
	fs.StringVar(&cfg.Log.Level, "log-level", logDefaults.Level, "minimum log level (env: OUTLIER_LOG_LEVEL)")
	fs.StringVar(&cfg.Log.File, "log-file", "", "also write logs to this rotated file (env: OUTLIER_LOG_FILE)")
	fs.IntVar(&cfg.Log.MaxSizeMB, "log-max-size", logDefaults.MaxSizeMB, "log file size in MB before rotation (env: OUTLIER_LOG_MAX_SIZE)")
	fs.IntVar(&cfg.Log.MaxBackups, "log-max-backups", logDefaults.MaxBackups, "rotated log files kept (env: OUTLIER_LOG_MAX_BACKUPS)")
	fs.IntVar(&cfg.Log.MaxAgeDays, "log-max-age", logDefaults.MaxAgeDays, "days rotated log files are kept (env: OUTLIER_LOG_MAX_AGE)")

	fs.StringVar(&cfg.EnvFile, envFileFlag, "", "load environment variables from this file first (env: OUTLIER_ENV_FILE)")
}

// Resolve fills every flag not given on the command line from the
// environment. The env file, if any, is loaded first; variables already
// set in the process win over it.
func Resolve(fs *pflag.FlagSet) error {
	envFile, _ := fs.GetString(envFileFlag)
	if envFile == "" {
		envFile = os.Getenv(EnvPrefix + "_ENV_FILE")
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, envName(f.Name), err))
			}
		}
	})
	return errors.Join(errs...)
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// Validate checks values that flags alone cannot constrain
func (c *Server) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.Storage {
	case factory.StorageTypeMemory, factory.StorageTypeRedis, factory.StorageTypeSQLite:
	default:
		return fmt.Errorf("unknown storage %q: must be memory, redis or sqlite", c.Storage)
	}
	if c.MaxUpdateAttempts < 1 {
		return fmt.Errorf("max-update-attempts must be at least 1: %d", c.MaxUpdateAttempts)
	}
	if c.HubCleanupInterval <= 0 {
		return errors.New("hub-cleanup-interval must be positive")
	}
	return nil
}

// Factory converts the server settings into the application factory config
func (c *Server) Factory() factory.Config {
	cfg := factory.Config{
		StorageType:    c.Storage,
		SQLitePath:     c.SQLitePath,
		CategoriesFile: c.CategoriesFile,
		SessionConfig:  session.Config{MaxUpdateAttempts: c.MaxUpdateAttempts},
	}

	if c.Storage == factory.StorageTypeRedis {
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = c.RedisURL
		redisCfg.SessionTTL = c.RedisSessionTTL
		cfg.RedisConfig = &redisCfg
	}

	if c.OpenAIKey != "" {
		openaiCfg := openai.DefaultConfig()
		openaiCfg.APIKey = c.OpenAIKey
		openaiCfg.BaseURL = c.OpenAIBaseURL
		openaiCfg.Model = c.OpenAIModel
		cfg.OpenAIConfig = &openaiCfg
	}

	return cfg
}

// Telemetry returns the tracing settings
func (c *Server) Telemetry() telemetry.Config {
	return telemetry.Config{
		Endpoint:    c.OTLPEndpoint,
		ServiceName: telemetry.DefaultServiceName,
	}
}
