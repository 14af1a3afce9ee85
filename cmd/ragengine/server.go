package ragengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/twattier/rag-engine"
	"github.com/twattier/rag-engine/pkg/config"
	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/embedder"
	"github.com/twattier/rag-engine/pkg/llm"
	"github.com/twattier/rag-engine/pkg/logger"
	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/reranker"
	"github.com/twattier/rag-engine/pkg/resilience"
	"github.com/twattier/rag-engine/pkg/search"
	"github.com/twattier/rag-engine/pkg/server"
	"github.com/twattier/rag-engine/pkg/types"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the rag-engine HTTP server",
	Long: `Start the rag-engine HTTP server to provide REST API access to the
knowledge graph.

The server provides endpoints for:
- Ingesting pre-chunked documents
- Querying with naive, local, global or hybrid retrieval
- Deleting documents and their orphaned graph elements
- Graph statistics and health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "release", "Server mode (debug, release, test)")

	// Database flags
	serverCmd.Flags().String("db-driver", "neo4j", "Graph store driver (neo4j, memory)")
	serverCmd.Flags().String("db-uri", "bolt://localhost:7687", "Graph store URI")
	serverCmd.Flags().String("db-username", "neo4j", "Graph store username")
	serverCmd.Flags().String("db-password", "", "Graph store password")
	serverCmd.Flags().String("db-database", "neo4j", "Graph store database name")

	// LLM flags
	serverCmd.Flags().String("llm-model", "", "Extraction model")
	serverCmd.Flags().String("llm-api-key", "", "LLM API key")
	serverCmd.Flags().String("llm-base-url", "", "LLM base URL")

	// Embedding flags
	serverCmd.Flags().String("embedding-model", "", "Embedding model")
	serverCmd.Flags().String("embedding-api-key", "", "Embedding API key")
	serverCmd.Flags().String("embedding-base-url", "", "Embedding base URL")

	// Reranker flags
	serverCmd.Flags().Bool("reranker-enabled", true, "Enable cross-encoder reranking")
	serverCmd.Flags().String("reranker-model", "", "Reranking model")

	// Configuration file flags
	serverCmd.Flags().String("taxonomy", "", "Path to the entity-type taxonomy YAML")
	serverCmd.Flags().String("metadata-schema", "", "Path to the metadata schema YAML")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with command-line flags
	overrideConfigWithFlags(cmd, cfg)

	// Validate configuration
	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.Default(cfg.Log.Level, cfg.Log.Format)

	// Initialize the engine
	log.Info("initializing engine", "driver", cfg.Database.Driver)
	engine, err := initializeEngine(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Create and setup server
	srv := server.New(cfg, engine, log)
	srv.Setup()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := engine.Close(shutdownCtx); err != nil {
			return fmt.Errorf("engine shutdown error: %w", err)
		}

		log.Info("server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	// Server flags
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}

	// Database flags
	if cmd.Flags().Changed("db-driver") {
		cfg.Database.Driver, _ = cmd.Flags().GetString("db-driver")
	}
	if cmd.Flags().Changed("db-uri") {
		cfg.Database.URI, _ = cmd.Flags().GetString("db-uri")
	}
	if cmd.Flags().Changed("db-username") {
		cfg.Database.Username, _ = cmd.Flags().GetString("db-username")
	}
	if cmd.Flags().Changed("db-password") {
		cfg.Database.Password, _ = cmd.Flags().GetString("db-password")
	}
	if cmd.Flags().Changed("db-database") {
		cfg.Database.Database, _ = cmd.Flags().GetString("db-database")
	}

	// LLM flags
	if cmd.Flags().Changed("llm-model") {
		cfg.LLM.Model, _ = cmd.Flags().GetString("llm-model")
	}
	if cmd.Flags().Changed("llm-api-key") {
		cfg.LLM.APIKey, _ = cmd.Flags().GetString("llm-api-key")
	}
	if cmd.Flags().Changed("llm-base-url") {
		cfg.LLM.BaseURL, _ = cmd.Flags().GetString("llm-base-url")
	}

	// Embedding flags
	if cmd.Flags().Changed("embedding-model") {
		cfg.Embedding.Model, _ = cmd.Flags().GetString("embedding-model")
	}
	if cmd.Flags().Changed("embedding-api-key") {
		cfg.Embedding.APIKey, _ = cmd.Flags().GetString("embedding-api-key")
	}
	if cmd.Flags().Changed("embedding-base-url") {
		cfg.Embedding.BaseURL, _ = cmd.Flags().GetString("embedding-base-url")
	}

	// Reranker flags
	if cmd.Flags().Changed("reranker-enabled") {
		cfg.Reranker.Enabled, _ = cmd.Flags().GetBool("reranker-enabled")
	}
	if cmd.Flags().Changed("reranker-model") {
		cfg.Reranker.Model, _ = cmd.Flags().GetString("reranker-model")
	}

	// Configuration file flags
	if cmd.Flags().Changed("taxonomy") {
		cfg.Taxonomy.Path, _ = cmd.Flags().GetString("taxonomy")
	}
	if cmd.Flags().Changed("metadata-schema") {
		cfg.Metadata.Path, _ = cmd.Flags().GetString("metadata-schema")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "memory" && cfg.Database.URI == "" {
		return fmt.Errorf("database URI is required")
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required (set OPENAI_API_KEY or llm.api_key)")
	}
	if cfg.Taxonomy.Path == "" {
		return fmt.Errorf("taxonomy path is required")
	}
	if cfg.Metadata.Path == "" {
		return fmt.Errorf("metadata schema path is required")
	}
	return nil
}

func initializeEngine(cfg *config.Config, log *slog.Logger) (ragengine.Engine, error) {
	// Graph store
	var store driver.GraphStore
	switch cfg.Database.Driver {
	case "neo4j":
		neo4jStore, err := driver.NewNeo4jStore(cfg.Database.URI, cfg.Database.Username, cfg.Database.Password, cfg.Database.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to create neo4j store: %w", err)
		}
		schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := neo4jStore.EnsureSchema(schemaCtx); err != nil {
			return nil, fmt.Errorf("failed to ensure graph schema: %w", err)
		}
		store = neo4jStore
	case "memory":
		store = driver.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	// Extraction LLM, optionally behind a response cache
	llmConfig := llm.Config{
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
	var llmClient llm.Client = llm.NewOpenAIClient(llmConfig)
	if cfg.Cache.Enabled {
		cache, err := llm.NewBadgerCache(llm.BadgerCacheConfig{
			Path: cfg.Cache.Path,
			TTL:  time.Duration(cfg.Cache.TTLMinutes) * time.Minute,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open response cache: %w", err)
		}
		llmClient = llm.NewCachedClient(llmClient, cache, llmConfig)
		log.Info("response cache enabled", "path", cfg.Cache.Path)
	}

	// Embedder
	embedClient := embedder.NewOpenAIClient(embedder.Config{
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})

	// Reranker runs against its own model, never the extraction one
	var rerankClient reranker.Client
	if cfg.Reranker.Enabled {
		rerankLLM := llm.NewOpenAIClient(llm.Config{
			Model:   cfg.Reranker.Model,
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
		})
		rerankClient = reranker.NewOpenAIClient(rerankLLM, reranker.Config{
			TopN:           cfg.Reranker.TopN,
			MaxConcurrency: cfg.Reranker.MaxConcurrency,
		})
	}

	taxonomy, err := types.LoadTaxonomy(cfg.Taxonomy.Path)
	if err != nil {
		return nil, err
	}
	schema, err := metafilter.LoadSchema(cfg.Metadata.Path)
	if err != nil {
		return nil, err
	}

	engineConfig := ragengine.Config{
		Workers:                 cfg.Ingestion.Workers,
		BatchSize:               cfg.Ingestion.BatchSize,
		MinConfidence:           cfg.Ingestion.MinConfidence,
		SimilarityThreshold:     cfg.Ingestion.SimilarityThreshold,
		DefaultTopK:             cfg.Retrieval.TopK,
		RerankTopN:              cfg.Reranker.TopN,
		DisableCommunityRebuild: !cfg.Ingestion.RebuildCommunities,
		Search: search.Config{
			EntityTopK:     cfg.Retrieval.EntityTopK,
			CandidateLimit: cfg.Retrieval.CandidateLimit,
			DenseWeight:    cfg.Retrieval.DenseWeight,
			GraphWeight:    cfg.Retrieval.GraphWeight,
			LexicalWeight:  cfg.Retrieval.LexicalWeight,
		},
		Resilience: resilience.Config{
			MaxAttempts:      cfg.Breaker.MaxAttempts,
			Timeout:          time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
			BreakerThreshold: cfg.Breaker.Threshold,
			BreakerCooldown:  time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		},
	}

	return ragengine.NewClient(store, llmClient, embedClient, rerankClient, taxonomy, schema, engineConfig, log)
}
