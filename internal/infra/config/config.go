package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Clustering ClusteringConfig `yaml:"clustering"`
	FAQ        FAQConfig        `yaml:"faq"`
	Batch      BatchConfig      `yaml:"batch"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Valkey     ValkeyConfig     `yaml:"valkey"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address         string          `yaml:"address"`
	ReadTimeout     time.Duration   `yaml:"readTimeout"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	AllowedOrigins  []string        `yaml:"allowedOrigins"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig picks the chat provider used for extraction and consolidation.
type LLMConfig struct {
	Provider               string          `yaml:"provider"`
	APIKey                 string          `yaml:"apiKey"`
	BaseURL                string          `yaml:"baseUrl"`
	Model                  string          `yaml:"model"`
	Temperature            float32         `yaml:"temperature"`
	ExtractionMaxTokens    int             `yaml:"extractionMaxTokens"`
	ConsolidationMaxTokens int             `yaml:"consolidationMaxTokens"`
	Anthropic              AnthropicConfig `yaml:"anthropic"`
}

// AnthropicConfig holds Messages API settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
}

// EmbeddingConfig controls question embeddings.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	MaxTokens int    `yaml:"maxTokens"`
	Encoding  string `yaml:"encoding"`
}

// ClusteringConfig selects the similarity threshold and candidate index.
type ClusteringConfig struct {
	Threshold   float64 `yaml:"threshold"`
	Index       string  `yaml:"index"`
	Planes      int     `yaml:"planes"`
	MaxHamming  int     `yaml:"maxHamming"`
	Seed        int64   `yaml:"seed"`
	MergeGroups bool    `yaml:"mergeGroups"`
}

// FAQConfig controls FAQ generation.
type FAQConfig struct {
	MinConfidence        float64       `yaml:"minConfidence"`
	MinQuestionCount     int           `yaml:"minQuestionCount"`
	AutoPublishThreshold int           `yaml:"autoPublishThreshold"`
	MaxTitleLength       int           `yaml:"maxTitleLength"`
	DefaultCategory      string        `yaml:"defaultCategory"`
	BackfillLimit        int           `yaml:"backfillLimit"`
	DefaultConfidence    float64       `yaml:"defaultConfidence"`
	ConsolidationTimeout time.Duration `yaml:"consolidationTimeout"`
}

// BatchConfig bounds one extraction run.
type BatchConfig struct {
	BatchSize            int           `yaml:"batchSize"`
	MaxBodyChars         int           `yaml:"maxBodyChars"`
	MaxBodyTokens        int           `yaml:"maxBodyTokens"`
	MaxThreadChars       int           `yaml:"maxThreadChars"`
	MaxQuestionChars     int           `yaml:"maxQuestionChars"`
	MaxAnswerChars       int           `yaml:"maxAnswerChars"`
	MaxErrorChars        int           `yaml:"maxErrorChars"`
	ItemTimeout          time.Duration `yaml:"itemTimeout"`
	MaxConsecutiveErrors int           `yaml:"maxConsecutiveErrors"`
	MaxTotalErrors       int           `yaml:"maxTotalErrors"`
	MemoryCheckEvery     int           `yaml:"memoryCheckEvery"`
	MemoryLimitBytes     uint64        `yaml:"memoryLimitBytes"`
	HighWaterRatio       float64       `yaml:"highWaterRatio"`
	CriticalRatio        float64       `yaml:"criticalRatio"`
	PressurePause        time.Duration `yaml:"pressurePause"`
	RequestsPerMinute    int           `yaml:"requestsPerMinute"`
}

// PipelineConfig tunes orchestration.
type PipelineConfig struct {
	LockTTL          time.Duration `yaml:"lockTtl"`
	ProgressLogEvery int           `yaml:"progressLogEvery"`
}

// PostgresConfig contains DSN and pooling settings. An empty DSN selects
// the in-memory repositories.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// ValkeyConfig contains connection information for the shared run state.
type ValkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

// StorageConfig points at the R2/S3 bucket holding large email bodies.
type StorageConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"accessKey"`
	SecretKey       string `yaml:"secretKey"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	InlineBodyLimit int    `yaml:"inlineBodyLimit"`
}

// QueueConfig selects how run triggers reach the worker.
type QueueConfig struct {
	Backend string `yaml:"backend"`
	Key     string `yaml:"key"`
}

// Load reads configuration from .env, a YAML file and environment variables,
// in that order of increasing precedence.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	envString("HTTP_ADDRESS", &cfg.HTTP.Address)
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	envBool("HTTP_RATE_LIMIT_ENABLED", &cfg.HTTP.RateLimit.Enabled)
	envInt("HTTP_RATE_LIMIT_RPM", &cfg.HTTP.RateLimit.RequestsPerMinute)
	envInt("HTTP_RATE_LIMIT_BURST", &cfg.HTTP.RateLimit.Burst)

	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)

	envString("LLM_PROVIDER", &cfg.LLM.Provider)
	envString("LLM_API_KEY", &cfg.LLM.APIKey)
	envString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	envString("LLM_MODEL", &cfg.LLM.Model)
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(parsed)
		}
	}
	envString("ANTHROPIC_API_KEY", &cfg.LLM.Anthropic.APIKey)
	envString("ANTHROPIC_BASE_URL", &cfg.LLM.Anthropic.BaseURL)
	envString("ANTHROPIC_MODEL", &cfg.LLM.Anthropic.Model)

	envString("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	envString("EMBEDDING_MODEL", &cfg.Embedding.Model)
	envInt("EMBEDDING_DIMENSION", &cfg.Embedding.Dimension)

	envFloat("CLUSTERING_THRESHOLD", &cfg.Clustering.Threshold)
	envString("CLUSTERING_INDEX", &cfg.Clustering.Index)
	envBool("CLUSTERING_MERGE_GROUPS", &cfg.Clustering.MergeGroups)

	envFloat("FAQ_MIN_CONFIDENCE", &cfg.FAQ.MinConfidence)
	envInt("FAQ_MIN_QUESTION_COUNT", &cfg.FAQ.MinQuestionCount)
	envInt("FAQ_AUTO_PUBLISH_THRESHOLD", &cfg.FAQ.AutoPublishThreshold)

	envInt("BATCH_SIZE", &cfg.Batch.BatchSize)
	envDuration("BATCH_ITEM_TIMEOUT", &cfg.Batch.ItemTimeout)
	envInt("BATCH_REQUESTS_PER_MINUTE", &cfg.Batch.RequestsPerMinute)
	if v := os.Getenv("BATCH_MEMORY_LIMIT_BYTES"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Batch.MemoryLimitBytes = parsed
		}
	}

	envDuration("PIPELINE_LOCK_TTL", &cfg.Pipeline.LockTTL)

	envString("POSTGRES_DSN", &cfg.Postgres.DSN)
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxConns = int32(parsed)
		}
	}

	envBool("VALKEY_ENABLED", &cfg.Valkey.Enabled)
	envString("VALKEY_ADDR", &cfg.Valkey.Addr)

	envBool("STORAGE_ENABLED", &cfg.Storage.Enabled)
	envString("STORAGE_ENDPOINT", &cfg.Storage.Endpoint)
	envString("STORAGE_ACCESS_KEY", &cfg.Storage.AccessKey)
	envString("STORAGE_SECRET_KEY", &cfg.Storage.SecretKey)
	envString("STORAGE_BUCKET", &cfg.Storage.Bucket)
	envString("STORAGE_REGION", &cfg.Storage.Region)

	envString("QUEUE_BACKEND", &cfg.Queue.Backend)
	envString("QUEUE_KEY", &cfg.Queue.Key)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			Provider:               "echo",
			Model:                  "gpt-4o-mini",
			Temperature:            0.1,
			ExtractionMaxTokens:    1500,
			ConsolidationMaxTokens: 800,
			Anthropic: AnthropicConfig{
				Model: "claude-3-5-haiku-latest",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "deterministic",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			MaxTokens: 8000,
			Encoding:  "cl100k_base",
		},
		Clustering: ClusteringConfig{
			Threshold:  0.8,
			Index:      "linear",
			Planes:     16,
			MaxHamming: 3,
			Seed:       42,
		},
		FAQ: FAQConfig{
			MinConfidence:        0.5,
			MinQuestionCount:     2,
			AutoPublishThreshold: 3,
			MaxTitleLength:       120,
			DefaultCategory:      "general",
			BackfillLimit:        200,
			DefaultConfidence:    0.7,
			ConsolidationTimeout: 30 * time.Second,
		},
		Batch: BatchConfig{
			BatchSize:            50,
			MaxBodyChars:         8000,
			MaxBodyTokens:        2000,
			MaxThreadChars:       2000,
			MaxQuestionChars:     1000,
			MaxAnswerChars:       4000,
			MaxErrorChars:        500,
			ItemTimeout:          25 * time.Second,
			MaxConsecutiveErrors: 10,
			MaxTotalErrors:       25,
			MemoryCheckEvery:     5,
			HighWaterRatio:       0.75,
			CriticalRatio:        0.90,
			PressurePause:        2 * time.Second,
			RequestsPerMinute:    120,
		},
		Pipeline: PipelineConfig{
			LockTTL:          15 * time.Minute,
			ProgressLogEvery: 10,
		},
		Postgres: PostgresConfig{
			MaxConns: 4,
		},
		Valkey: ValkeyConfig{
			Prefix: "faq-pipeline",
		},
		Storage: StorageConfig{
			Region:          "auto",
			InlineBodyLimit: 16 << 10,
		},
		Queue: QueueConfig{
			Backend: "immediate",
			Key:     "faq-pipeline:jobs",
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	switch c.LLM.Provider {
	case "echo":
	case "openai":
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			return errors.New("llm.apiKey is required for the openai provider")
		}
	case "anthropic":
		if strings.TrimSpace(c.LLM.Anthropic.APIKey) == "" {
			return errors.New("llm.anthropic.apiKey is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	switch c.Embedding.Provider {
	case "deterministic":
	case "openai":
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			return errors.New("llm.apiKey is required for openai embeddings")
		}
		if strings.TrimSpace(c.Embedding.Model) == "" {
			return errors.New("embedding.model cannot be empty")
		}
	default:
		return fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return errors.New("embedding.dimension must be positive")
	}
	if c.Clustering.Threshold <= 0 || c.Clustering.Threshold > 1 {
		return errors.New("clustering.threshold must be in (0, 1]")
	}
	switch c.Clustering.Index {
	case "linear":
	case "lsh":
		if c.Clustering.Planes <= 0 || c.Clustering.Planes > 64 {
			return errors.New("clustering.planes must be in [1, 64]")
		}
		if c.Clustering.MaxHamming < 0 {
			return errors.New("clustering.maxHamming cannot be negative")
		}
	default:
		return fmt.Errorf("clustering.index %q is not supported", c.Clustering.Index)
	}
	if c.FAQ.MinConfidence < 0 || c.FAQ.MinConfidence > 1 {
		return errors.New("faq.minConfidence must be in [0, 1]")
	}
	if c.FAQ.MinQuestionCount < 1 {
		return errors.New("faq.minQuestionCount must be positive")
	}
	if c.FAQ.AutoPublishThreshold < 0 {
		return errors.New("faq.autoPublishThreshold cannot be negative")
	}
	if c.Batch.BatchSize <= 0 {
		return errors.New("batch.batchSize must be positive")
	}
	if c.Batch.ItemTimeout <= 0 {
		return errors.New("batch.itemTimeout must be positive")
	}
	if c.Batch.HighWaterRatio <= 0 || c.Batch.CriticalRatio <= c.Batch.HighWaterRatio || c.Batch.CriticalRatio > 1 {
		return errors.New("batch ratios must satisfy 0 < highWaterRatio < criticalRatio <= 1")
	}
	if c.Pipeline.LockTTL <= 0 {
		return errors.New("pipeline.lockTtl must be positive")
	}
	if c.Valkey.Enabled && strings.TrimSpace(c.Valkey.Addr) == "" {
		return errors.New("valkey.addr cannot be empty when valkey is enabled")
	}
	if c.Storage.Enabled && (strings.TrimSpace(c.Storage.Endpoint) == "" || strings.TrimSpace(c.Storage.Bucket) == "") {
		return errors.New("storage.endpoint and storage.bucket are required when storage is enabled")
	}
	switch c.Queue.Backend {
	case "immediate":
	case "valkey":
		if !c.Valkey.Enabled {
			return errors.New("queue.backend valkey requires valkey.enabled")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	return nil
}
