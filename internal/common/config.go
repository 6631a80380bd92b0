package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Run modes
const (
	ModeAll    = "all"    // API and worker in one process
	ModeAPI    = "api"    // HTTP only: enqueue, status, stream
	ModeWorker = "worker" // worker loop only
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Stream      StreamConfig    `toml:"stream"`
	Logging     LoggingConfig   `toml:"logging"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Embeddings  EmbeddingConfig `toml:"embeddings"`
	Geocoding   GeocodingConfig `toml:"geocoding"`
	Quota       QuotaConfig     `toml:"quota"`
	Civic       CivicConfig     `toml:"civic"`
	Cleanup     CleanupConfig   `toml:"cleanup"`
	CORS        CORSConfig      `toml:"cors"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
	Mode string `toml:"mode"` // all | api | worker
}

type QueueConfig struct {
	PollInterval    string `toml:"poll_interval"`     // e.g., "1s" - how often the worker checks the pending queue
	Concurrency     int    `toml:"concurrency"`       // Max jobs executing at once
	JobTimeout      string `toml:"job_timeout"`       // e.g., "5m" - hard per-job timeout
	CancelOnTimeout bool   `toml:"cancel_on_timeout"` // Cancel the handler context at timeout (default: false, cooperative only)
	QueueName       string `toml:"queue_name"`        // Pending queue name / key prefix
}

type StorageConfig struct {
	Type   string       `toml:"type"` // "badger" or "redis"
	Badger BadgerConfig `toml:"badger"`
	Redis  RedisConfig  `toml:"redis"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	InMemory       bool   `toml:"in_memory"`        // Run without a directory (tests, throwaway runs)
}

// RedisConfig represents the networked job store used when api and worker run as separate processes
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
	JobTTL    string `toml:"job_ttl"` // e.g., "72h" - empty or "0" keeps records forever
}

type StreamConfig struct {
	KeepaliveInterval string `toml:"keepalive_interval"` // e.g., "15s"
	CloseDelay        string `toml:"close_delay"`        // e.g., "1s" - delay before closing after a terminal status
	WriteTimeout      string `toml:"write_timeout"`      // e.g., "10s" - per-message write deadline
	SubscriberBuffer  int    `toml:"subscriber_buffer"`  // Per-subscriber channel capacity
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// GeminiConfig contains Google Gemini API configuration for flyer analysis and embeddings
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration for flyer analysis
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the flyer analysis provider
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"`
}

// EmbeddingConfig configures event embeddings (Gemini)
type EmbeddingConfig struct {
	Enabled   bool   `toml:"enabled"`
	Model     string `toml:"model"`
	Dimension int    `toml:"dimension"`
}

// GeocodingConfig contains Google Geocoding API configuration
type GeocodingConfig struct {
	APIKey         string  `toml:"api_key"`
	RatePerSecond  float64 `toml:"rate_per_second"`
	RequestTimeout string  `toml:"request_timeout"`
	Region         string  `toml:"region"`
}

// QuotaConfig limits uploads per user
type QuotaConfig struct {
	Enabled        bool    `toml:"enabled"`
	UploadsPerHour float64 `toml:"uploads_per_hour"`
	Burst          int     `toml:"burst"`
}

// CivicConfig configures civic-engagement source intake
type CivicConfig struct {
	UserAgent      string   `toml:"user_agent"`
	RequestTimeout string   `toml:"request_timeout"`
	MaxBodySize    int64    `toml:"max_body_size"`
	AllowedHosts   []string `toml:"allowed_hosts"` // Empty allows any host
}

// CleanupConfig schedules outdated-event cleanup
type CleanupConfig struct {
	Enabled   bool   `toml:"enabled"`
	Schedule  string `toml:"schedule"` // Cron schedule with seconds field
	BatchSize int    `toml:"batch_size"`
	Retention string `toml:"retention"` // e.g., "24h" - events ending longer ago than this are outdated
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
			Mode: ModeAll,
		},
		Queue: QueueConfig{
			PollInterval:    "1s",
			Concurrency:     3,
			JobTimeout:      "5m",
			CancelOnTimeout: false,
			QueueName:       "eventjobs",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "eventjobs:",
				JobTTL:    "72h",
			},
		},
		Stream: StreamConfig{
			KeepaliveInterval: "15s",
			CloseDelay:        "1s",
			WriteTimeout:      "10s",
			SubscriberBuffer:  256,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Timeout:     "2m",
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   4096,
			Timeout:     "2m",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
		Embeddings: EmbeddingConfig{
			Enabled:   true,
			Model:     "gemini-embedding-001",
			Dimension: 768,
		},
		Geocoding: GeocodingConfig{
			RatePerSecond:  10,
			RequestTimeout: "10s",
		},
		Quota: QuotaConfig{
			Enabled:        true,
			UploadsPerHour: 20,
			Burst:          5,
		},
		Civic: CivicConfig{
			UserAgent:      "eventjobs/1.0 (+civic-intake)",
			RequestTimeout: "30s",
			MaxBodySize:    5 * 1024 * 1024,
		},
		Cleanup: CleanupConfig{
			Enabled:   true,
			Schedule:  "0 0 3 * * *", // 03:00 daily
			BatchSize: 100,
			Retention: "24h",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies EVENTJOBS_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("EVENTJOBS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("EVENTJOBS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("EVENTJOBS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if mode := os.Getenv("EVENTJOBS_MODE"); mode != "" {
		config.Server.Mode = mode
	}

	// Queue configuration
	if pollInterval := os.Getenv("EVENTJOBS_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("EVENTJOBS_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if jobTimeout := os.Getenv("EVENTJOBS_QUEUE_JOB_TIMEOUT"); jobTimeout != "" {
		config.Queue.JobTimeout = jobTimeout
	}
	if cancel := os.Getenv("EVENTJOBS_QUEUE_CANCEL_ON_TIMEOUT"); cancel != "" {
		if b, err := strconv.ParseBool(cancel); err == nil {
			config.Queue.CancelOnTimeout = b
		}
	}

	// Storage configuration
	if storageType := os.Getenv("EVENTJOBS_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("EVENTJOBS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if addr := os.Getenv("EVENTJOBS_REDIS_ADDR"); addr != "" {
		config.Storage.Redis.Addr = addr
	}
	if password := os.Getenv("EVENTJOBS_REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}
	if db := os.Getenv("EVENTJOBS_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Storage.Redis.DB = d
		}
	}

	// Logging configuration
	if level := os.Getenv("EVENTJOBS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("EVENTJOBS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// API keys
	if key := os.Getenv("EVENTJOBS_GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}
	if key := os.Getenv("EVENTJOBS_CLAUDE_API_KEY"); key != "" {
		config.Claude.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = key
	}
	if provider := os.Getenv("EVENTJOBS_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if key := os.Getenv("EVENTJOBS_GEOCODING_API_KEY"); key != "" {
		config.Geocoding.APIKey = key
	}

	// Cleanup configuration
	if schedule := os.Getenv("EVENTJOBS_CLEANUP_SCHEDULE"); schedule != "" {
		config.Cleanup.Schedule = schedule
	}
	if batchSize := os.Getenv("EVENTJOBS_CLEANUP_BATCH_SIZE"); batchSize != "" {
		if b, err := strconv.Atoi(batchSize); err == nil {
			config.Cleanup.BatchSize = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string, mode string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if mode != "" {
		config.Server.Mode = mode
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case ModeAll, ModeAPI, ModeWorker:
	default:
		return fmt.Errorf("invalid server mode %q (expected all, api or worker)", c.Server.Mode)
	}

	switch c.Storage.Type {
	case "badger", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s (expected badger or redis)", c.Storage.Type)
	}
	if c.Server.Mode != ModeAll && c.Storage.Type != "redis" {
		return fmt.Errorf("mode %q requires storage type redis so api and worker can share the job store", c.Server.Mode)
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}

	for name, value := range map[string]string{
		"queue.poll_interval":       c.Queue.PollInterval,
		"queue.job_timeout":         c.Queue.JobTimeout,
		"stream.keepalive_interval": c.Stream.KeepaliveInterval,
		"stream.close_delay":        c.Stream.CloseDelay,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if c.Cleanup.Enabled {
		if err := ValidateCleanupSchedule(c.Cleanup.Schedule); err != nil {
			return err
		}
	}

	return nil
}

// ValidateCleanupSchedule parses a six-field (seconds first) cron expression
func ValidateCleanupSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule: %w", err)
	}
	return nil
}

// ParseDuration parses value and falls back when it is empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// RunsAPI reports whether the HTTP server should start
func (c *Config) RunsAPI() bool {
	return c.Server.Mode == ModeAll || c.Server.Mode == ModeAPI
}

// RunsWorker reports whether the worker loop should start
func (c *Config) RunsWorker() bool {
	return c.Server.Mode == ModeAll || c.Server.Mode == ModeWorker
}
