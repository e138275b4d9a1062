package config

import (
	"errors"
	"io/fs"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. HCPCS_STORE_DRIVER.
const EnvPrefix = "HCPCS"

// Config holds the full application configuration.
type Config struct {
	Crawl    CrawlConfig    `yaml:"crawl" mapstructure:"crawl"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Policy   PolicyConfig   `yaml:"policy" mapstructure:"policy"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Artifact ArtifactConfig `yaml:"artifact" mapstructure:"artifact"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CrawlConfig configures the catalog traversal.
type CrawlConfig struct {
	BaseURL         string   `yaml:"base_url" mapstructure:"base_url"`
	IndexURL        string   `yaml:"index_url" mapstructure:"index_url"`
	CategoryPrefix  string   `yaml:"category_prefix" mapstructure:"category_prefix"`
	Workers         int      `yaml:"workers" mapstructure:"workers"`
	CategoryPauseMs int      `yaml:"category_pause_ms" mapstructure:"category_pause_ms"`
	MaxCategories   int      `yaml:"max_categories" mapstructure:"max_categories"`
	Categories      []string `yaml:"categories" mapstructure:"categories"`
	ProgressEvery   int      `yaml:"progress_every" mapstructure:"progress_every"`
}

// CategoryPause returns the pause between listing requests.
func (c CrawlConfig) CategoryPause() time.Duration {
	return time.Duration(c.CategoryPauseMs) * time.Millisecond
}

// FetchConfig configures HTTP behavior: politeness, retries and blocking.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxBackoffSecs    int     `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	MaxConnsPerHost   int     `yaml:"max_conns_per_host" mapstructure:"max_conns_per_host"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// PolicyConfig holds the extraction and reconciliation policies.
type PolicyConfig struct {
	// GroupCode is "category" (first uppercase letter of the category name)
	// or "code" (first letter of the HCPCS code).
	GroupCode string `yaml:"group_code" mapstructure:"group_code"`
	// Duplicates is "last_wins" or "dedupe".
	Duplicates string `yaml:"duplicates" mapstructure:"duplicates"`
	// AsOf pins the close date used when a record has no effective date
	// (YYYY-MM-DD). Empty derives it from the batch.
	AsOf string `yaml:"as_of" mapstructure:"as_of"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ArtifactConfig configures the intermediate crawl snapshot.
type ArtifactConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("crawl.base_url", "https://www.hcpcsdata.com")
	v.SetDefault("crawl.index_url", "")
	v.SetDefault("crawl.category_prefix", "/Codes/")
	v.SetDefault("crawl.workers", 20)
	v.SetDefault("crawl.category_pause_ms", 1000)
	v.SetDefault("crawl.max_categories", 0)
	v.SetDefault("crawl.categories", []string{})
	v.SetDefault("crawl.progress_every", 100)

	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_attempts", 5)
	v.SetDefault("fetch.max_backoff_secs", 60)
	v.SetDefault("fetch.requests_per_second", 5.0)
	v.SetDefault("fetch.burst", 5)
	v.SetDefault("fetch.breaker_threshold", 10)
	v.SetDefault("fetch.breaker_reset_secs", 60)
	v.SetDefault("fetch.max_conns_per_host", 20)
	v.SetDefault("fetch.max_body_bytes", 8<<20)

	v.SetDefault("policy.group_code", "category")
	v.SetDefault("policy.duplicates", "last_wins")
	v.SetDefault("policy.as_of", "")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "hcpcs.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)

	v.SetDefault("artifact.dir", "data")
	v.SetDefault("artifact.format", "json")

	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from .env, config.yaml and the environment, in
// increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var (
	validModes      = []string{"crawl", "load", "run", "migrate", "report", "export", "serve"}
	validDrivers    = []string{"", "sqlite", "sqlite3", "mysql", "postgres", "postgresql", "pgx"}
	validGroupCodes = []string{"category", "code"}
	validDuplicates = []string{"last_wins", "dedupe"}
	validFormats    = []string{"json", "yaml", "yml"}
)

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	if !slices.Contains(validModes, mode) {
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	driver := strings.ToLower(c.Store.Driver)
	if !slices.Contains(validDrivers, driver) {
		add("store.driver must be one of sqlite, mysql, postgres")
	}
	sqlite := driver == "" || strings.HasPrefix(driver, "sqlite")
	if c.Store.DatabaseURL == "" && !sqlite {
		add("store.database_url is required")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || (c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns) {
		add("store.min_conns must be between 0 and store.max_conns")
	}

	switch mode {
	case "crawl", "run":
		if u, err := url.Parse(c.Crawl.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("crawl.base_url must be an absolute http(s) URL")
		}
		if c.Crawl.Workers < 1 || c.Crawl.Workers > 100 {
			add("crawl.workers must be between 1 and 100")
		}
		if c.Crawl.CategoryPauseMs < 0 {
			add("crawl.category_pause_ms must be >= 0")
		}
		if c.Crawl.MaxCategories < 0 {
			add("crawl.max_categories must be >= 0")
		}
		if c.Fetch.TimeoutSecs < 1 {
			add("fetch.timeout_secs must be > 0")
		}
		if c.Fetch.MaxAttempts < 1 {
			add("fetch.max_attempts must be > 0")
		}
		if c.Fetch.RequestsPerSecond < 0 || c.Fetch.Burst < 0 || c.Fetch.BreakerThreshold < 0 {
			add("fetch rate, burst and breaker settings must be >= 0")
		}
		if !slices.Contains(validGroupCodes, strings.ToLower(c.Policy.GroupCode)) {
			add("policy.group_code must be category or code")
		}
		if !slices.Contains(validFormats, strings.ToLower(c.Artifact.Format)) {
			add("artifact.format must be json or yaml")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
	}

	if mode == "load" || mode == "run" {
		if !slices.Contains(validDuplicates, strings.ToLower(c.Policy.Duplicates)) {
			add("policy.duplicates must be last_wins or dedupe")
		}
		if c.Policy.AsOf != "" {
			if _, err := time.Parse("2006-01-02", c.Policy.AsOf); err != nil {
				add("policy.as_of must be YYYY-MM-DD")
			}
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
