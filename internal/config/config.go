package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Reindexer   ReindexerConfig   `mapstructure:"reindexer"`
	Uploads     UploadsConfig     `mapstructure:"uploads"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Processor   ProcessorConfig   `mapstructure:"processor"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	AI          AIConfig          `mapstructure:"ai"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StorageConfig selects the persistence driver
type StorageConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite | reindexer
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ReindexerConfig contains Reindexer database configuration
type ReindexerConfig struct {
	DSN            string `mapstructure:"dsn"`
	Namespace      string `mapstructure:"namespace"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type UploadsConfig struct {
	Dir         string `mapstructure:"dir"`
	MaxFileSize int64  `mapstructure:"max_file_size"` // bytes
}

type ExtractionConfig struct {
	OCRLanguages      string  `mapstructure:"ocr_languages"`
	TesseractPath     string  `mapstructure:"tesseract_path"`
	MinPrintableRatio float64 `mapstructure:"min_printable_ratio"`
}

// ProcessorConfig sizes the ordered worker pool
type ProcessorConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// CacheConfig contains result cache configuration
type CacheConfig struct {
	Shards int           `mapstructure:"shards"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// ConcurrencyConfig limits simultaneous processing runs
type ConcurrencyConfig struct {
	MaxConcurrentOps int `mapstructure:"max_concurrent_ops"`
}

// AIConfig enables the generation task types when an API key is present
type AIConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`
}

// Get returns the loaded configuration, or the defaults if Load was never called
func Get() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	v := newViper()
	cfg = &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration from defaults, an optional YAML file and APP_* environment variables
func Load(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	cfg, err := load(configPath)
	if err != nil {
		return err
	}
	instance = cfg
	return nil
}

func load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)
	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "data/docflow.db")

	// cproto протокол - RPC/TCP порт 6534
	v.SetDefault("reindexer.dsn", "cproto://localhost:6534/docflow")
	v.SetDefault("reindexer.namespace", "documents")
	v.SetDefault("reindexer.max_connections", 4)

	v.SetDefault("uploads.dir", "data/uploads")
	v.SetDefault("uploads.max_file_size", 100<<20)

	v.SetDefault("extraction.ocr_languages", "eng+chi_sim")
	v.SetDefault("extraction.tesseract_path", "tesseract")
	v.SetDefault("extraction.min_printable_ratio", 0.85)

	v.SetDefault("processor.workers", 4)
	v.SetDefault("processor.queue_size", 100)
	v.SetDefault("processor.batch_timeout", "5m")

	v.SetDefault("cache.shards", 16)
	v.SetDefault("cache.ttl", "15m")

	v.SetDefault("concurrency.max_concurrent_ops", 8)

	v.SetDefault("ai.gemini_api_key", "")
	v.SetDefault("ai.gemini_model", "gemini-2.0-flash")
}

// bindEnvVars binds environment variables to viper keys.
// Every key gets APP_<SECTION>_<KEY>; a few also accept a conventional unprefixed name.
func bindEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key, "APP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	_ = v.BindEnv("ai.gemini_api_key", "APP_AI_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("reindexer.dsn", "APP_REINDEXER_DSN", "REINDEXER_DSN")
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}

	switch cfg.Storage.Driver {
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "reindexer":
		if cfg.Reindexer.DSN == "" {
			return fmt.Errorf("reindexer.dsn is required for the reindexer driver")
		}
		if cfg.Reindexer.Namespace == "" {
			return fmt.Errorf("reindexer.namespace is required")
		}
		if cfg.Reindexer.MaxConnections < 1 {
			return fmt.Errorf("reindexer.max_connections must be at least 1")
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite or reindexer, got %q", cfg.Storage.Driver)
	}

	if cfg.Uploads.Dir == "" {
		return fmt.Errorf("uploads.dir is required")
	}
	if cfg.Uploads.MaxFileSize < 1 {
		return fmt.Errorf("uploads.max_file_size must be positive")
	}

	if cfg.Extraction.MinPrintableRatio < 0 || cfg.Extraction.MinPrintableRatio > 1 {
		return fmt.Errorf("extraction.min_printable_ratio must be between 0 and 1")
	}

	if cfg.Processor.Workers < 1 {
		return fmt.Errorf("processor.workers must be at least 1")
	}
	if cfg.Processor.QueueSize < 1 {
		return fmt.Errorf("processor.queue_size must be at least 1")
	}
	if cfg.Processor.BatchTimeout <= 0 {
		return fmt.Errorf("processor.batch_timeout must be positive")
	}

	if cfg.Cache.Shards < 1 {
		return fmt.Errorf("cache.shards must be at least 1")
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be non-negative")
	}

	if cfg.Concurrency.MaxConcurrentOps < 1 {
		return fmt.Errorf("concurrency.max_concurrent_ops must be at least 1")
	}

	return nil
}
