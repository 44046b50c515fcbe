package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig selects the sink. Driver is "postgres" or "sqlite".
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// FetchConfig configures the page fetcher. Backend is "http" or "colly".
type FetchConfig struct {
	Backend        string `mapstructure:"backend"`
	TimeoutSecs    int    `mapstructure:"timeout_secs"`
	AcceptLanguage string `mapstructure:"accept_language"`
	BlockPrivate   bool   `mapstructure:"block_private"`
}

func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// CacheConfig enables the Redis detail page cache when RedisURL is set.
type CacheConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

type IngestConfig struct {
	SourcesFile string `mapstructure:"sources_file"`
	DumpDir     string `mapstructure:"dump_dir"`
	LockDir     string `mapstructure:"lock_dir"`
	Retries     int    `mapstructure:"retries"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	AdminSecret string `mapstructure:"admin_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads granthub.yaml from the working directory when present, then
// GRANTHUB_* environment variables, over built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("granthub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GRANTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "granthub.db")
	v.SetDefault("fetch.backend", "http")
	v.SetDefault("fetch.timeout_secs", 40)
	v.SetDefault("fetch.accept_language", "en-US,en;q=0.5")
	v.SetDefault("fetch.block_private", true)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl_hours", 12)
	v.SetDefault("ingest.sources_file", "")
	v.SetDefault("ingest.dump_dir", "dumps")
	v.SetDefault("ingest.lock_dir", "")
	v.SetDefault("ingest.retries", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
	switch c.Fetch.Backend {
	case "http", "colly":
	default:
		return eris.Errorf("config: fetch.backend must be http or colly, got %q", c.Fetch.Backend)
	}
	if c.Fetch.TimeoutSecs <= 0 {
		return eris.Errorf("config: fetch.timeout_secs must be positive, got %d", c.Fetch.TimeoutSecs)
	}
	if c.Ingest.Retries < 0 {
		return eris.Errorf("config: ingest.retries must not be negative, got %d", c.Ingest.Retries)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
