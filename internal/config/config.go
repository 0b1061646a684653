package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the PicFlow server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	AI        AIConfig
	Queue     QueueConfig
	Thumbnail ThumbnailConfig
	Events    EventsConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
	MaxUploadBytes  int64
	MigrationsDir   string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL       string
	StatusTTL time.Duration
}

type StorageConfig struct {
	DefaultBackend string
	Local          LocalStorageConfig
	S3             S3Config
}

type LocalStorageConfig struct {
	Root    string
	BaseURL string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLExpiry time.Duration
}

// Enabled reports whether an S3 backend should be registered.
func (c S3Config) Enabled() bool {
	return c.Endpoint != ""
}

type AIConfig struct {
	Provider            string
	InferenceTimeout    time.Duration
	EmbeddingDimensions int
	Ollama              OllamaConfig
	VLLM                VLLMConfig
	OpenAI              OpenAIConfig
}

type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
}

type VLLMConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

type QueueConfig struct {
	Workers         int
	Capacity        int
	ShutdownTimeout time.Duration
	JobTimeout      time.Duration
}

// ThumbnailConfig controls thumbnail size and the size-based JPEG quality policy.
type ThumbnailConfig struct {
	MaxDimension int
	BaseQuality  int
	SmallBytes   int64
	MediumBytes  int64
	LargeBytes   int64
}

type EventsConfig struct {
	KafkaBrokers []string
	Topic        string
}

// Enabled reports whether status events should be published.
func (c EventsConfig) Enabled() bool {
	return len(c.KafkaBrokers) > 0
}

var validProviders = map[string]bool{
	"ollama": true,
	"vllm":   true,
	"openai": true,
	"mock":   true,
}

var validBackends = map[string]bool{
	"local": true,
	"s3":    true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("PICFLOW_PORT", 8080),
			Env:             envString("PICFLOW_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MINUTE", 60),
			MaxUploadBytes:  envInt64("MAX_UPLOAD_BYTES", 50<<20),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			StatusTTL: envDuration("REDIS_STATUS_TTL", 24*time.Hour),
		},
		Storage: StorageConfig{
			DefaultBackend: envString("STORAGE_DEFAULT_BACKEND", "local"),
			Local: LocalStorageConfig{
				Root:    envString("STORAGE_LOCAL_ROOT", "./data/pictures"),
				BaseURL: envString("STORAGE_LOCAL_BASE_URL", "/files"),
			},
			S3: S3Config{
				Endpoint:  os.Getenv("S3_ENDPOINT"),
				AccessKey: os.Getenv("S3_ACCESS_KEY"),
				SecretKey: os.Getenv("S3_SECRET_KEY"),
				Bucket:    os.Getenv("S3_BUCKET"),
				Region:    envString("S3_REGION", "us-east-1"),
				UseSSL:    envBool("S3_USE_SSL", true),
				URLExpiry: envDuration("S3_URL_EXPIRY", time.Hour),
			},
		},
		AI: AIConfig{
			Provider:            os.Getenv("AI_PROVIDER"),
			InferenceTimeout:    envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			EmbeddingDimensions: envInt("AI_EMBEDDING_DIMENSIONS", 0),
			Ollama: OllamaConfig{
				BaseURL:        envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:          envString("OLLAMA_MODEL", "llava"),
				EmbeddingModel: envString("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			},
			VLLM: VLLMConfig{
				BaseURL:        envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:          envString("VLLM_MODEL", ""),
				EmbeddingModel: envString("VLLM_EMBEDDING_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				APIKey:         os.Getenv("OPENAI_API_KEY"),
				BaseURL:        envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:          envString("OPENAI_MODEL", "gpt-4o-mini"),
				EmbeddingModel: envString("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			},
		},
		Queue: QueueConfig{
			Workers:         envInt("QUEUE_WORKERS", 4),
			Capacity:        envInt("QUEUE_CAPACITY", 10000),
			ShutdownTimeout: envDuration("QUEUE_SHUTDOWN_TIMEOUT", 10*time.Second),
			JobTimeout:      envDuration("QUEUE_JOB_TIMEOUT", 0),
		},
		Thumbnail: ThumbnailConfig{
			MaxDimension: envInt("THUMBNAIL_MAX_DIMENSION", 500),
			BaseQuality:  envInt("THUMBNAIL_BASE_QUALITY", 85),
			SmallBytes:   envInt64("THUMBNAIL_SMALL_BYTES", 1<<20),
			MediumBytes:  envInt64("THUMBNAIL_MEDIUM_BYTES", 5<<20),
			LargeBytes:   envInt64("THUMBNAIL_LARGE_BYTES", 10<<20),
		},
		Events: EventsConfig{
			KafkaBrokers: envList("EVENTS_KAFKA_BROKERS"),
			Topic:        envString("EVENTS_TOPIC", "picture-processing"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validBackends[c.Storage.DefaultBackend] {
		return fmt.Errorf("STORAGE_DEFAULT_BACKEND must be one of local, s3; got %q", c.Storage.DefaultBackend)
	}
	if c.Storage.Local.Root == "" {
		return fmt.Errorf("STORAGE_LOCAL_ROOT is required")
	}
	if c.Storage.DefaultBackend == "s3" && !c.Storage.S3.Enabled() {
		return fmt.Errorf("S3_ENDPOINT is required when STORAGE_DEFAULT_BACKEND is s3")
	}
	if c.Storage.S3.Enabled() && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when S3_ENDPOINT is set")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.EmbeddingDimensions < 0 {
		return fmt.Errorf("AI_EMBEDDING_DIMENSIONS must not be negative, got %d", c.AI.EmbeddingDimensions)
	}

	if c.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", c.Queue.Capacity)
	}

	if c.Thumbnail.MaxDimension <= 0 {
		return fmt.Errorf("THUMBNAIL_MAX_DIMENSION must be positive, got %d", c.Thumbnail.MaxDimension)
	}
	if c.Thumbnail.BaseQuality < 1 || c.Thumbnail.BaseQuality > 100 {
		return fmt.Errorf("THUMBNAIL_BASE_QUALITY must be between 1 and 100, got %d", c.Thumbnail.BaseQuality)
	}
	if !(c.Thumbnail.SmallBytes <= c.Thumbnail.MediumBytes && c.Thumbnail.MediumBytes <= c.Thumbnail.LargeBytes) {
		return fmt.Errorf("thumbnail size thresholds must be ascending: small <= medium <= large")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envList splits a comma-separated value, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
