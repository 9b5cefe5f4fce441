package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// ExtractorConfig controls the batch passes
type ExtractorConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	InputDir        string        `mapstructure:"input_dir"`
	OutputDir       string        `mapstructure:"output_dir"`
	SnapshotDir     string        `mapstructure:"snapshot_dir"`
	TreeFile        string        `mapstructure:"tree_file"`
	SourceExt       string        `mapstructure:"source_ext"`
	DryRun          bool          `mapstructure:"dry_run"`
	Limit           int           `mapstructure:"limit"`
	Refetch         bool          `mapstructure:"refetch"`
	FetchWorkers    int           `mapstructure:"fetch_workers"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`
}

// FetcherConfig controls how pages are retrieved
type FetcherConfig struct {
	Mode                  string        `mapstructure:"mode"` // browser or http
	Timeout               time.Duration `mapstructure:"timeout"`
	Headless              bool          `mapstructure:"headless"`
	BrowserArgs           []string      `mapstructure:"browser_args"`
	UserAgent             string        `mapstructure:"user_agent"`
	AcceptLanguage        string        `mapstructure:"accept_language"`
	ViewportWidth         int           `mapstructure:"viewport_width"`
	ViewportHeight        int           `mapstructure:"viewport_height"`
	ChallengePolls        int           `mapstructure:"challenge_polls"`
	ChallengePollInterval time.Duration `mapstructure:"challenge_poll_interval"`
	SettleDelay           time.Duration `mapstructure:"settle_delay"`
	ScrollPixels          int           `mapstructure:"scroll_pixels"`
	MaxRequestsPerSecond  int           `mapstructure:"max_requests_per_second"`
	CacheSize             int           `mapstructure:"cache_size"`
	Proxies               []string      `mapstructure:"proxies"`
}

// DownloaderConfig controls thumbnail downloads
type DownloaderConfig struct {
	Dir         string        `mapstructure:"dir"`
	Concurrency int           `mapstructure:"concurrency"`
	Overwrite   bool          `mapstructure:"overwrite"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// RedisConfig holds Redis connection details
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	Database  int    `mapstructure:"database"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"base-url":      "extractor.base_url",
	"input-dir":     "extractor.input_dir",
	"output-dir":    "extractor.output_dir",
	"snapshot-dir":  "extractor.snapshot_dir",
	"tree-file":     "extractor.tree_file",
	"dry-run":       "extractor.dry_run",
	"limit":         "extractor.limit",
	"refetch":       "extractor.refetch",
	"fetch-workers": "extractor.fetch_workers",
	"fetcher":       "fetcher.mode",
	"headless":      "fetcher.headless",
	"thumbnail-dir": "downloader.dir",
	"concurrency":   "downloader.concurrency",
	"overwrite":     "downloader.overwrite",
	"host":          "server.host",
	"port":          "server.port",
	"log-level":     "log.level",
}

// Load reads config.yaml (optional), EXTRACTOR_* environment variables and
// any flags set on flags, in increasing order of precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("extractor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debugf("No config.yaml found, using defaults")
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("extractor.base_url", "https://assetstore.unity.com")
	v.SetDefault("extractor.input_dir", "files/source")
	v.SetDefault("extractor.output_dir", "files/data")
	v.SetDefault("extractor.snapshot_dir", "files/html")
	v.SetDefault("extractor.tree_file", "files/category-tree.json")
	v.SetDefault("extractor.source_ext", ".unitypackage")
	v.SetDefault("extractor.dry_run", false)
	v.SetDefault("extractor.limit", 0)
	v.SetDefault("extractor.refetch", false)
	v.SetDefault("extractor.fetch_workers", 1)
	v.SetDefault("extractor.politeness_delay", "2s")

	v.SetDefault("fetcher.mode", "browser")
	v.SetDefault("fetcher.timeout", "90s")
	v.SetDefault("fetcher.headless", true)
	v.SetDefault("fetcher.browser_args", []string{"--disable-blink-features=AutomationControlled", "--no-sandbox"})
	v.SetDefault("fetcher.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetcher.accept_language", "en-US,en;q=0.9")
	v.SetDefault("fetcher.viewport_width", 1366)
	v.SetDefault("fetcher.viewport_height", 900)
	v.SetDefault("fetcher.challenge_polls", 10)
	v.SetDefault("fetcher.challenge_poll_interval", "1s")
	v.SetDefault("fetcher.settle_delay", "1s")
	v.SetDefault("fetcher.scroll_pixels", 400)
	v.SetDefault("fetcher.max_requests_per_second", 1)
	v.SetDefault("fetcher.cache_size", 256)

	v.SetDefault("downloader.dir", "files/thumbnails")
	v.SetDefault("downloader.concurrency", 5)
	v.SetDefault("downloader.overwrite", false)
	v.SetDefault("downloader.timeout", "60s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "assetstore")
	v.SetDefault("database.user", "assetstore")
	v.SetDefault("database.password", "assetstore")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.key_prefix", "extractor:")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Extractor.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsed, err := url.Parse(c.Extractor.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Extractor.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.Extractor.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if c.Extractor.FetchWorkers <= 0 {
		return fmt.Errorf("fetch workers must be positive")
	}
	if c.Extractor.PolitenessDelay < 0 {
		return fmt.Errorf("politeness delay cannot be negative")
	}

	if c.Fetcher.Mode != "browser" && c.Fetcher.Mode != "http" {
		return fmt.Errorf("fetcher mode must be browser or http")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher timeout must be positive")
	}
	if c.Fetcher.ChallengePolls < 0 {
		return fmt.Errorf("challenge polls cannot be negative")
	}
	if c.Fetcher.MaxRequestsPerSecond <= 0 {
		return fmt.Errorf("max requests per second must be positive")
	}
	if c.Fetcher.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}

	if c.Downloader.Concurrency <= 0 {
		return fmt.Errorf("download concurrency must be positive")
	}
	if c.Downloader.Timeout <= 0 {
		return fmt.Errorf("download timeout must be positive")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be text or json")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}

// ConfigureLogging applies the log section to the global logrus logger.
func (l LogConfig) ConfigureLogging() {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if l.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
