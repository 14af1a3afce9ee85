// Package config loads engine configuration from file and environment
// variables via viper.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// LLM configuration for extraction and generation
	LLM LLMConfig `mapstructure:"llm"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Reranker configuration
	Reranker RerankerConfig `mapstructure:"reranker"`

	// Cache configuration for LLM responses
	Cache CacheConfig `mapstructure:"cache"`

	// Breaker configuration shared by collaborator calls
	Breaker BreakerConfig `mapstructure:"breaker"`

	// Ingestion pipeline configuration
	Ingestion IngestionConfig `mapstructure:"ingestion"`

	// Retrieval query path configuration
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Taxonomy points at the entity type definitions file
	Taxonomy TaxonomyConfig `mapstructure:"taxonomy"`

	// Metadata points at the metadata schema file
	Metadata MetadataConfig `mapstructure:"metadata"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds graph database configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // neo4j, memory
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// LLMConfig holds configuration for the extraction and generation model
type LLMConfig struct {
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

// RerankerConfig holds cross-encoder reranking configuration
type RerankerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Model          string `mapstructure:"model"`
	TopN           int    `mapstructure:"top_n"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

// CacheConfig holds the LLM response cache configuration. An empty path
// keeps the cache in memory.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

// BreakerConfig holds retry and circuit breaker configuration
type BreakerConfig struct {
	MaxAttempts     int    `mapstructure:"max_attempts"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`  // per-call timeout
	Threshold       uint32 `mapstructure:"threshold"`        // consecutive failures before opening
	CooldownSeconds int    `mapstructure:"cooldown_seconds"` // open-state duration
}

// IngestionConfig holds ingestion pipeline configuration
type IngestionConfig struct {
	Workers             int     `mapstructure:"workers"`
	BatchSize           int     `mapstructure:"batch_size"`
	MinConfidence       float64 `mapstructure:"min_confidence"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	RebuildCommunities  bool    `mapstructure:"rebuild_communities"`
}

// RetrievalConfig holds query path configuration
type RetrievalConfig struct {
	TopK           int     `mapstructure:"top_k"`
	CandidateLimit int     `mapstructure:"candidate_limit"`
	EntityTopK     int     `mapstructure:"entity_top_k"`
	DenseWeight    float64 `mapstructure:"dense_weight"`
	GraphWeight    float64 `mapstructure:"graph_weight"`
	LexicalWeight  float64 `mapstructure:"lexical_weight"`
}

// TaxonomyConfig holds the path to the entity type definitions file
type TaxonomyConfig struct {
	Path string `mapstructure:"path"`
}

// MetadataConfig holds the path to the metadata schema file
type MetadataConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	// Database defaults
	viper.SetDefault("database.driver", "neo4j")
	viper.SetDefault("database.uri", "bolt://localhost:7687")
	viper.SetDefault("database.username", "neo4j")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "neo4j")

	// LLM defaults
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.max_tokens", 4096)

	// Embedding defaults
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)

	// Reranker defaults
	viper.SetDefault("reranker.enabled", true)
	viper.SetDefault("reranker.model", "gpt-4o-mini")
	viper.SetDefault("reranker.top_n", 50)
	viper.SetDefault("reranker.max_concurrency", 5)

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.ttl_minutes", 1440)
	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("cache.path", fmt.Sprintf("%s/.rag-engine/cache", home))
	}

	// Breaker defaults
	viper.SetDefault("breaker.max_attempts", 3)
	viper.SetDefault("breaker.timeout_seconds", 60)
	viper.SetDefault("breaker.threshold", 5)
	viper.SetDefault("breaker.cooldown_seconds", 30)

	// Ingestion defaults
	viper.SetDefault("ingestion.workers", 4)
	viper.SetDefault("ingestion.batch_size", 100)
	viper.SetDefault("ingestion.min_confidence", 0.5)
	viper.SetDefault("ingestion.similarity_threshold", 0.9)
	viper.SetDefault("ingestion.rebuild_communities", true)

	// Retrieval defaults
	viper.SetDefault("retrieval.top_k", 10)
	viper.SetDefault("retrieval.candidate_limit", 50)
	viper.SetDefault("retrieval.entity_top_k", 10)
	viper.SetDefault("retrieval.dense_weight", 1.0)
	viper.SetDefault("retrieval.graph_weight", 1.5)
	viper.SetDefault("retrieval.lexical_weight", 0.5)

	// Schema file defaults
	viper.SetDefault("taxonomy.path", "taxonomy.yaml")
	viper.SetDefault("metadata.path", "metadata_schema.yaml")
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	// One OpenAI key serves extraction, embedding and reranking
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}

	// Database credentials
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}

	// Generic database settings
	if dbDriver := os.Getenv("DB_DRIVER"); dbDriver != "" {
		config.Database.Driver = dbDriver
	}
	if dbURI := os.Getenv("DB_URI"); dbURI != "" {
		config.Database.URI = dbURI
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		viper.Set("server.port", port)
	}

	// Cache settings
	if path := os.Getenv("CACHE_PATH"); path != "" {
		config.Cache.Path = path
	}
}
