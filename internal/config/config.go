// Package config handles configuration for the civicmesh service
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration for the service
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	LLM         LLMConfig         `mapstructure:"llm"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Confidence  ConfidenceConfig  `mapstructure:"confidence"`
	AnswerCache AnswerCacheConfig `mapstructure:"answer_cache"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Tenant      TenantConfig      `mapstructure:"tenant"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN builds the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Database, d.Username, d.Password, d.SSLMode)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
	Enabled     bool          `mapstructure:"enabled"`
}

// EmbeddingConfig contains embedding provider and cache settings
type EmbeddingConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	Endpoint      string        `mapstructure:"endpoint"`
	Model         string        `mapstructure:"model"`
	Dimensions    int           `mapstructure:"dimensions"`
	BatchSize     int           `mapstructure:"batch_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	CacheSize     int           `mapstructure:"cache_size"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	UsageSampling float64       `mapstructure:"usage_sampling"`
}

// LLMConfig contains chat-completion provider settings
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Endpoint       string        `mapstructure:"endpoint"`
	Model          string        `mapstructure:"model"`
	RewriteModel   string        `mapstructure:"rewrite_model"`
	RewriteTimeout time.Duration `mapstructure:"rewrite_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// VectorIndexConfig contains vector index connection settings
type VectorIndexConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	APIKey           string        `mapstructure:"api_key"`
	ChunksNamespace  string        `mapstructure:"chunks_namespace"`
	ContentNamespace string        `mapstructure:"content_namespace"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig contains hybrid search tuning constants
type RetrievalConfig struct {
	DefaultMatchCount  int     `mapstructure:"default_match_count"`
	CandidateMultiple  int     `mapstructure:"candidate_multiple"`
	MinSimilarity      float64 `mapstructure:"min_similarity"`
	SemanticWeight     float64 `mapstructure:"semantic_weight"`
	LexicalWeight      float64 `mapstructure:"lexical_weight"`
	RecencyWeight      float64 `mapstructure:"recency_weight"`
	AuthorityWeight    float64 `mapstructure:"authority_weight"`
	MaxSearchLimit     int     `mapstructure:"max_search_limit"`
	SnippetLength      int     `mapstructure:"snippet_length"`
}

// ConfidenceConfig contains confidence band thresholds
type ConfidenceConfig struct {
	HighThreshold   float64 `mapstructure:"high_threshold"`
	MediumThreshold float64 `mapstructure:"medium_threshold"`
}

// AnswerCacheConfig contains answer cache settings
type AnswerCacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// IngestionConfig contains connector runtime settings
type IngestionConfig struct {
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	ScrapeTimeout   time.Duration `mapstructure:"scrape_timeout"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`
	MaxPages        int           `mapstructure:"max_pages"`
	DaysAhead       int           `mapstructure:"days_ahead"`
	EmbedTruncate   int           `mapstructure:"embed_truncate"`
	CronSchedule    string        `mapstructure:"cron_schedule"`
	MonitorTimeout  time.Duration `mapstructure:"monitor_timeout"`
	IngestTimeout   time.Duration `mapstructure:"ingest_timeout"`
	StepCooldown    time.Duration `mapstructure:"step_cooldown"`
}

// MonitorConfig contains change-monitor settings
type MonitorConfig struct {
	StalenessDays int           `mapstructure:"staleness_days"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	DiscoveryFeed string        `mapstructure:"discovery_feed"`
}

// AuthConfig contains secrets gating protected endpoints
type AuthConfig struct {
	CronSecret  string `mapstructure:"cron_secret"`
	AdminSecret string `mapstructure:"admin_secret"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

// TenantConfig contains tenant presentation defaults and geo scope
type TenantConfig struct {
	DefaultTenantID string   `mapstructure:"default_tenant_id"`
	Name            string   `mapstructure:"name"`
	Phone           string   `mapstructure:"phone"`
	Website         string   `mapstructure:"website"`
	Locality        string   `mapstructure:"locality"`
	HomeState       string   `mapstructure:"home_state"`
	MetroLocalities []string `mapstructure:"metro_localities"`
}

// Load loads configuration from environment and config files
func Load() (*Config, error) {
	viper.SetConfigName("civicmesh")
	viper.SetConfigType("yaml")

	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/configs")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; defaults and env vars suffice
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	// Service defaults
	viper.SetDefault("service.port", 8086)
	viper.SetDefault("service.metrics_port", 9096)
	viper.SetDefault("service.shutdown_timeout", "30s")
	viper.SetDefault("service.log_level", "info")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "civicmesh_development")
	viper.SetDefault("database.username", "civicmesh")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)

	// Redis defaults
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.enabled", true)

	// Embedding defaults
	viper.SetDefault("embedding.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)
	viper.SetDefault("embedding.batch_size", 100)
	viper.SetDefault("embedding.timeout", "30s")
	viper.SetDefault("embedding.max_retries", 3)
	viper.SetDefault("embedding.cache_size", 1000)
	viper.SetDefault("embedding.cache_ttl", "30m")
	viper.SetDefault("embedding.usage_sampling", 0.05)

	// LLM defaults
	viper.SetDefault("llm.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.rewrite_model", "gpt-4o-mini")
	viper.SetDefault("llm.rewrite_timeout", "2s")
	viper.SetDefault("llm.timeout", "60s")

	// Vector index defaults
	viper.SetDefault("vector_index.chunks_namespace", "chunks")
	viper.SetDefault("vector_index.content_namespace", "content")
	viper.SetDefault("vector_index.timeout", "10s")

	// Retrieval defaults
	viper.SetDefault("retrieval.default_match_count", 20)
	viper.SetDefault("retrieval.candidate_multiple", 3)
	viper.SetDefault("retrieval.min_similarity", 0.30)
	viper.SetDefault("retrieval.semantic_weight", 0.60)
	viper.SetDefault("retrieval.lexical_weight", 0.20)
	viper.SetDefault("retrieval.recency_weight", 0.10)
	viper.SetDefault("retrieval.authority_weight", 0.10)
	viper.SetDefault("retrieval.max_search_limit", 20)
	viper.SetDefault("retrieval.snippet_length", 300)

	// Confidence defaults
	viper.SetDefault("confidence.high_threshold", 0.60)
	viper.SetDefault("confidence.medium_threshold", 0.40)

	// Answer cache defaults
	viper.SetDefault("answer_cache.ttl", "168h") // 7 days

	// Ingestion defaults
	viper.SetDefault("ingestion.fetch_timeout", "30s")
	viper.SetDefault("ingestion.scrape_timeout", "15s")
	viper.SetDefault("ingestion.politeness_delay", "500ms")
	viper.SetDefault("ingestion.max_pages", 20)
	viper.SetDefault("ingestion.days_ahead", 90)
	viper.SetDefault("ingestion.embed_truncate", 8000)
	viper.SetDefault("ingestion.cron_schedule", "")
	viper.SetDefault("ingestion.monitor_timeout", "90s")
	viper.SetDefault("ingestion.ingest_timeout", "120s")
	viper.SetDefault("ingestion.step_cooldown", "3s")

	// Monitor defaults
	viper.SetDefault("monitor.staleness_days", 90)
	viper.SetDefault("monitor.fetch_timeout", "15s")

	// Tenant defaults
	viper.SetDefault("tenant.default_tenant_id", "")
	viper.SetDefault("tenant.metro_localities", []string{})
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.AutomaticEnv()

	// Service bindings
	_ = viper.BindEnv("service.port", "CIVICMESH_PORT")
	_ = viper.BindEnv("service.log_level", "LOG_LEVEL")

	// Database bindings
	_ = viper.BindEnv("database.host", "DATABASE_HOST")
	_ = viper.BindEnv("database.port", "DATABASE_PORT")
	_ = viper.BindEnv("database.database", "DATABASE_NAME")
	_ = viper.BindEnv("database.username", "DATABASE_USER")
	_ = viper.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	// Redis bindings
	_ = viper.BindEnv("redis.address", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Provider bindings
	_ = viper.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("vector_index.endpoint", "VECTOR_INDEX_ENDPOINT")
	_ = viper.BindEnv("vector_index.api_key", "VECTOR_INDEX_API_KEY")

	// Auth bindings
	_ = viper.BindEnv("auth.cron_secret", "CRON_SECRET")
	_ = viper.BindEnv("auth.admin_secret", "ADMIN_PASSWORD")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Tenant bindings
	_ = viper.BindEnv("tenant.default_tenant_id", "DEFAULT_TENANT_ID")
	_ = viper.BindEnv("tenant.name", "TENANT_NAME")
	_ = viper.BindEnv("tenant.phone", "TENANT_PHONE")
	_ = viper.BindEnv("tenant.home_state", "TENANT_HOME_STATE")
	_ = viper.BindEnv("tenant.website", "TENANT_WEBSITE")
	_ = viper.BindEnv("tenant.locality", "TENANT_LOCALITY")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Service.Port <= 0 || cfg.Service.Port > 65535 {
		return fmt.Errorf("invalid service port: %d", cfg.Service.Port)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.BatchSize <= 0 {
		return fmt.Errorf("invalid embedding batch size: %d", cfg.Embedding.BatchSize)
	}
	if cfg.Retrieval.MinSimilarity < -1 || cfg.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("invalid minimum similarity: %f", cfg.Retrieval.MinSimilarity)
	}
	if cfg.Confidence.MediumThreshold > cfg.Confidence.HighThreshold {
		return fmt.Errorf("confidence medium threshold %f exceeds high threshold %f",
			cfg.Confidence.MediumThreshold, cfg.Confidence.HighThreshold)
	}
	return nil
}
