package ragengine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/twattier/rag-engine/pkg/builder"
	"github.com/twattier/rag-engine/pkg/community"
	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/embedder"
	"github.com/twattier/rag-engine/pkg/extraction"
	"github.com/twattier/rag-engine/pkg/llm"
	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/reranker"
	"github.com/twattier/rag-engine/pkg/resilience"
	"github.com/twattier/rag-engine/pkg/resolver"
	"github.com/twattier/rag-engine/pkg/search"
	"github.com/twattier/rag-engine/pkg/types"
)

// Engine is the public surface of the retrieval and knowledge-construction
// engine.
type Engine interface {
	// Ingest processes one document's chunks into the graph. Documents are
	// independent units of work and may be ingested concurrently.
	Ingest(ctx context.Context, req *IngestRequest) (*types.IngestResult, error)

	// Query answers a natural-language query in the requested retrieval mode.
	Query(ctx context.Context, req *QueryRequest) (*types.QueryResult, error)

	// Delete removes a document, its chunks, and any entities or
	// relationships left without a live source document.
	Delete(ctx context.Context, docID string) (*driver.DeleteResult, error)

	// GraphStats summarizes the persisted graph.
	GraphStats(ctx context.Context) (*types.GraphStats, error)

	// UpdateTaxonomy atomically installs a new entity-type snapshot.
	// In-flight ingestions keep the snapshot they started with.
	UpdateTaxonomy(version int64, defs []types.EntityTypeDef) error

	// Close releases all collaborator connections.
	Close(ctx context.Context) error
}

// Config holds the engine's tuning knobs. Zero values select defaults.
type Config struct {
	// Workers bounds chunk-level extraction parallelism per document.
	Workers int
	// BatchSize bounds items per graph write transaction.
	BatchSize int
	// MinConfidence discards extracted candidates below this confidence.
	MinConfidence float64
	// SimilarityThreshold is the fuzzy-match cutoff for entity resolution.
	SimilarityThreshold float64
	// DefaultTopK applies when a query does not specify top-k.
	DefaultTopK int
	// RerankTopN bounds how many chunks enter reranking.
	RerankTopN int
	// DisableCommunityRebuild skips community detection after ingestion.
	DisableCommunityRebuild bool
	// Search tunes the retrieval orchestrator.
	Search search.Config
	// Resilience applies uniformly to LLM, embedding and reranking calls.
	Resilience resilience.Config
}

const (
	defaultTopK       = 10
	defaultRerankTopN = 50
)

// Client is the default Engine implementation.
type Client struct {
	store     driver.GraphStore
	llm       llm.Client
	embedder  embedder.Client
	reranker  reranker.Client
	embedExec *resilience.Executor
	rankExec  *resilience.Executor

	extractor *extraction.Extractor
	resolver  *resolver.Resolver
	builder   *builder.Manager
	searcher  *search.Orchestrator
	detector  *community.Detector

	taxonomy *types.TaxonomyHolder
	schema   *metafilter.Schema
	config   Config
	logger   *slog.Logger
}

var _ Engine = (*Client)(nil)

// NewClient wires the engine together. rerankClient may be nil, which
// disables reranking; every other collaborator is required.
func NewClient(
	store driver.GraphStore,
	llmClient llm.Client,
	embedClient embedder.Client,
	rerankClient reranker.Client,
	taxonomy *types.Taxonomy,
	schema *metafilter.Schema,
	config Config,
	logger *slog.Logger,
) (*Client, error) {
	if store == nil {
		return nil, errors.New("graph store is required")
	}
	if llmClient == nil {
		return nil, errors.New("llm client is required")
	}
	if embedClient == nil {
		return nil, errors.New("embedder client is required")
	}
	if taxonomy == nil {
		return nil, errors.New("taxonomy is required")
	}
	if schema == nil {
		return nil, errors.New("metadata schema is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = defaultTopK
	}
	if config.RerankTopN <= 0 {
		config.RerankTopN = defaultRerankTopN
	}

	llmExec := resilience.NewExecutor("llm", config.Resilience, logger)
	embedExec := resilience.NewExecutor("embedder", config.Resilience, logger)
	rankExec := resilience.NewExecutor("reranker", config.Resilience, logger)

	return &Client{
		store:     store,
		llm:       llmClient,
		embedder:  embedClient,
		reranker:  rerankClient,
		embedExec: embedExec,
		rankExec:  rankExec,
		extractor: extraction.New(llmClient, llmExec, extraction.Config{
			MinConfidence: config.MinConfidence,
		}, logger),
		resolver: resolver.New(resolver.NewTrigramSimilarity(), resolver.Config{
			Threshold: config.SimilarityThreshold,
		}, logger),
		builder:  builder.New(store, builder.Config{BatchSize: config.BatchSize}, logger),
		searcher: search.NewOrchestrator(store, embedClient, embedExec, config.Search, logger),
		detector: community.NewDetector(store, logger),
		taxonomy: types.NewTaxonomyHolder(taxonomy),
		schema:   schema,
		config:   config,
		logger:   logger,
	}, nil
}

// Delete removes the document and garbage-collects graph elements whose last
// source reference it was.
func (c *Client) Delete(ctx context.Context, docID string) (*driver.DeleteResult, error) {
	if docID == "" {
		return nil, types.ErrEmptyDocID
	}
	result, err := c.store.DeleteDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("document deleted",
		"doc_id", docID,
		"chunks", result.ChunksDeleted,
		"entities", result.EntitiesDeleted,
		"relationships", result.RelationshipsDeleted)
	return result, nil
}

// GraphStats returns persisted graph counts and the entity-type distribution.
func (c *Client) GraphStats(ctx context.Context) (*types.GraphStats, error) {
	return c.store.Stats(ctx)
}

// UpdateTaxonomy swaps in a new entity-type snapshot. The version must be
// greater than the current one.
func (c *Client) UpdateTaxonomy(version int64, defs []types.EntityTypeDef) error {
	next, err := types.NewTaxonomy(version, defs)
	if err != nil {
		return err
	}
	if err := c.taxonomy.Swap(next); err != nil {
		return err
	}
	c.logger.Info("taxonomy updated", "version", version, "types", len(defs))
	return nil
}

// Close releases collaborator resources. The store closes last so in-flight
// client shutdown errors do not mask a store close failure.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if err := c.llm.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.reranker != nil {
		if err := c.reranker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
