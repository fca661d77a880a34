package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	DefaultContainer = "job-descriptions"

	BackendDocIntel = "docintel"
	BackendLocal    = "local"

	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	DocIntel  DocIntelConfig  `yaml:"document_intelligence"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Workers         int           `yaml:"workers"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	AutoExtract     bool          `yaml:"auto_extract"`
	MultipartMemory int64         `yaml:"multipart_memory"`
	AllowOrigin     string        `yaml:"cors_allow_origin"`
}

type StorageConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	AccountKey       string        `yaml:"account_key"`
	Container        string        `yaml:"container"`
	SASExpiry        time.Duration `yaml:"sas_expiry"`
}

type DocIntelConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Key          string        `yaml:"key"`
	ModelID      string        `yaml:"model_id"`
	APIVersion   string        `yaml:"api_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ExtractorConfig struct {
	Backend string `yaml:"backend"`
}

type JobsConfig struct {
	Store         string `yaml:"store"`
	DataDir       string `yaml:"data_dir"`
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Workers:         2,
			PollInterval:    5 * time.Second,
			MultipartMemory: 32 << 20,
			AllowOrigin:     "*",
		},
		Storage: StorageConfig{
			Container: DefaultContainer,
			SASExpiry: time.Hour,
		},
		DocIntel: DocIntelConfig{
			ModelID:      "prebuilt-read",
			APIVersion:   "2023-07-31",
			PollInterval: time.Second,
			Timeout:      30 * time.Second,
		},
		Extractor: ExtractorConfig{Backend: BackendDocIntel},
		Jobs: JobsConfig{
			Store:       StoreFile,
			DataDir:     ".data",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "jobdesc",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env files, then the optional YAML file, then environment overrides.
// An empty path falls back to CONFIG_FILE and then config.yaml; a missing default file is ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = getEnv("CONFIG_FILE", "config.yaml")
		explicit = os.Getenv("CONFIG_FILE") != ""
	}
	if err := loadYAML(cfg, path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("HTTP_ADDR", cfg.Server.Addr)
	cfg.Server.Workers = getEnvAsInt("NUM_WORKERS", cfg.Server.Workers)
	cfg.Server.PollInterval = getEnvAsDuration("WORKER_POLL_INTERVAL", cfg.Server.PollInterval)
	cfg.Server.AutoExtract = getEnvAsBool("AUTO_EXTRACT", cfg.Server.AutoExtract)
	cfg.Server.MultipartMemory = getEnvAsInt64("MULTIPART_MEMORY", cfg.Server.MultipartMemory)
	cfg.Server.AllowOrigin = getEnv("CORS_ALLOW_ORIGIN", cfg.Server.AllowOrigin)

	cfg.Storage.ConnectionString = cleanSecret(getEnv("AZURE_STORAGE_CONNECTION_STRING", cfg.Storage.ConnectionString))
	cfg.Storage.AccountKey = strings.TrimSpace(getEnv("AZURE_STORAGE_KEY", cfg.Storage.AccountKey))
	cfg.Storage.Container = getEnv("STORAGE_CONTAINER", cfg.Storage.Container)
	cfg.Storage.SASExpiry = getEnvAsDuration("SAS_EXPIRY", cfg.Storage.SASExpiry)

	cfg.DocIntel.Endpoint = strings.TrimSpace(getEnv("DOCUMENT_INTELLIGENCE_ENDPOINT", cfg.DocIntel.Endpoint))
	cfg.DocIntel.Key = strings.TrimSpace(getEnv("DOCUMENT_INTELLIGENCE_KEY", cfg.DocIntel.Key))
	cfg.DocIntel.ModelID = getEnv("DOCUMENT_INTELLIGENCE_MODEL", cfg.DocIntel.ModelID)
	cfg.DocIntel.APIVersion = getEnv("DOCUMENT_INTELLIGENCE_API_VERSION", cfg.DocIntel.APIVersion)
	cfg.DocIntel.PollInterval = getEnvAsDuration("DOCUMENT_INTELLIGENCE_POLL_INTERVAL", cfg.DocIntel.PollInterval)
	cfg.DocIntel.Timeout = getEnvAsDuration("DOCUMENT_INTELLIGENCE_TIMEOUT", cfg.DocIntel.Timeout)

	cfg.Extractor.Backend = getEnv("EXTRACTOR_BACKEND", cfg.Extractor.Backend)

	cfg.Jobs.Store = getEnv("JOB_STORE", cfg.Jobs.Store)
	cfg.Jobs.DataDir = getEnv("DATA_DIR", cfg.Jobs.DataDir)
	cfg.Jobs.DatabaseURL = getEnv("DB_URL", cfg.Jobs.DatabaseURL)
	cfg.Jobs.RedisAddr = getEnv("REDIS_ADDR", cfg.Jobs.RedisAddr)
	cfg.Jobs.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Jobs.RedisPassword)
	cfg.Jobs.RedisDB = getEnvAsInt("REDIS_DB", cfg.Jobs.RedisDB)
	cfg.Jobs.RedisPrefix = getEnv("REDIS_PREFIX", cfg.Jobs.RedisPrefix)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = getEnvAsBool("LOG_DEVELOPMENT", cfg.Log.Development)
}

// Validate checks what the HTTP server needs at startup.
func (c *Config) Validate() error {
	if c.Storage.ConnectionString == "" {
		return errors.New("AZURE_STORAGE_CONNECTION_STRING is required")
	}
	if c.Storage.Container == "" {
		return errors.New("STORAGE_CONTAINER must not be empty")
	}
	if c.Storage.SASExpiry <= 0 {
		return errors.New("SAS_EXPIRY must be positive")
	}
	switch c.Jobs.Store {
	case StoreFile, StoreRedis:
	case StorePostgres:
		if c.Jobs.DatabaseURL == "" {
			return errors.New("DB_URL is required when JOB_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.Jobs.Store)
	}
	if c.Server.Workers > 0 {
		return c.ValidateExtraction()
	}
	return nil
}

// ValidateExtraction checks what the extraction routine needs.
func (c *Config) ValidateExtraction() error {
	if c.Storage.ConnectionString == "" {
		return errors.New("AZURE_STORAGE_CONNECTION_STRING is required")
	}
	switch c.Extractor.Backend {
	case BackendLocal:
		return nil
	case BackendDocIntel:
		if c.DocIntel.Endpoint == "" {
			return errors.New("DOCUMENT_INTELLIGENCE_ENDPOINT is required")
		}
		if c.DocIntel.Key == "" {
			return errors.New("DOCUMENT_INTELLIGENCE_KEY is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown EXTRACTOR_BACKEND %q", c.Extractor.Backend)
	}
}

// Connection strings copied out of portals often carry stray line breaks.
func cleanSecret(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
