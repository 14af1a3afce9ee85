/*
Package search runs hybrid retrieval: dense-vector, sparse lexical and graph
strategies against the (optionally metadata-restricted) store, merged into
one deduplicated candidate set.

Modes: naive is dense chunk similarity only; local expands a one-hop entity
neighborhood around the query; global aggregates over entity communities;
hybrid runs local and global concurrently and folds in lexical matches.
Sub-strategies in hybrid degrade independently: one failing strategy is
logged and dropped, the query only fails when every strategy fails.
*/
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twattier/rag-engine/pkg/driver"
	"github.com/twattier/rag-engine/pkg/embedder"
	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/resilience"
	"github.com/twattier/rag-engine/pkg/types"
)

// Config holds the orchestrator's tuning knobs.
type Config struct {
	// EntityTopK is how many seed entities local/global start from (default 10).
	EntityTopK int
	// NeighborhoodLimit caps one-hop expansion (default 50).
	NeighborhoodLimit int
	// CandidateLimit caps chunks fetched per strategy before merge (default 50).
	CandidateLimit int
	// DenseWeight, GraphWeight and LexicalWeight shape the merged score.
	// Graph proximity outweighs raw lexical overlap by default.
	DenseWeight   float64
	GraphWeight   float64
	LexicalWeight float64
}

func (c Config) withDefaults() Config {
	if c.EntityTopK <= 0 {
		c.EntityTopK = 10
	}
	if c.NeighborhoodLimit <= 0 {
		c.NeighborhoodLimit = 50
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 50
	}
	if c.DenseWeight <= 0 {
		c.DenseWeight = 1.0
	}
	if c.GraphWeight <= 0 {
		c.GraphWeight = 1.5
	}
	if c.LexicalWeight <= 0 {
		c.LexicalWeight = 0.5
	}
	return c
}

// Request describes one retrieval call.
type Request struct {
	Query       string
	Mode        types.QueryMode
	TopK        int
	Restriction *metafilter.Restriction
}

// Result is the merged candidate set with per-strategy latency.
type Result struct {
	Chunks        []*types.ScoredChunk
	Entities      []*types.ScoredEntity
	Relationships []*types.ScoredRelationship
	EmbeddingMs   int64
	PerStrategyMs map[string]int64
}

// Orchestrator executes retrieval strategies and merges their candidates.
type Orchestrator struct {
	store    driver.GraphStore
	embedder embedder.Client
	executor *resilience.Executor
	config   Config
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. The executor wraps embedding calls.
func NewOrchestrator(store driver.GraphStore, embedClient embedder.Client, executor *resilience.Executor, config Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		embedder: embedClient,
		executor: executor,
		config:   config.withDefaults(),
		logger:   logger,
	}
}

// Retrieve runs the requested mode and merges candidates.
func (o *Orchestrator) Retrieve(ctx context.Context, req *Request) (*Result, error) {
	if req.TopK <= 0 {
		return nil, types.ErrInvalidTopK
	}

	embedStart := time.Now()
	queryEmbedding, err := resilience.DoValue(ctx, o.executor, func(ctx context.Context) ([]float32, error) {
		return o.embedder.EmbedSingle(ctx, req.Query)
	})
	if err != nil {
		return nil, &types.CollaboratorError{Collaborator: "embedder", Err: err}
	}
	embeddingMs := time.Since(embedStart).Milliseconds()

	merger := newMerger()
	perStrategy := map[string]int64{}

	runStrategy := func(name string, weight float64, fn strategyFunc) error {
		start := time.Now()
		partial, err := fn(ctx)
		perStrategy[name] = time.Since(start).Milliseconds()
		if err != nil {
			return fmt.Errorf("%s strategy failed: %w", name, err)
		}
		merger.fold(name, weight, partial)
		return nil
	}

	switch req.Mode {
	case types.QueryModeNaive:
		if err := runStrategy("naive", o.config.DenseWeight, o.naive(queryEmbedding, req)); err != nil {
			return nil, err
		}
	case types.QueryModeLocal:
		if err := runStrategy("local", o.config.GraphWeight, o.local(queryEmbedding, req)); err != nil {
			return nil, err
		}
	case types.QueryModeGlobal:
		if err := runStrategy("global", o.config.GraphWeight, o.global(queryEmbedding, req)); err != nil {
			return nil, err
		}
	case types.QueryModeHybrid:
		if err := o.runHybrid(ctx, queryEmbedding, req, merger, perStrategy); err != nil {
			return nil, err
		}
	default:
		return nil, types.ErrUnknownMode
	}

	result := merger.result(req.TopK)
	result.EmbeddingMs = embeddingMs
	result.PerStrategyMs = perStrategy
	return result, nil
}

// runHybrid executes local and global concurrently and folds in lexical
// matches. Strategies degrade independently; the call fails only when all of
// them fail. Context cancellation aborts in-flight strategies.
func (o *Orchestrator) runHybrid(ctx context.Context, queryEmbedding []float32, req *Request, merger *merger, perStrategy map[string]int64) error {
	strategies := []struct {
		name   string
		weight float64
		fn     strategyFunc
	}{
		{"local", o.config.GraphWeight, o.local(queryEmbedding, req)},
		{"global", o.config.GraphWeight, o.global(queryEmbedding, req)},
		{"lexical", o.config.LexicalWeight, o.lexical(req)},
	}

	type outcome struct {
		name      string
		weight    float64
		partial   *partial
		elapsedMs int64
		err       error
	}

	results := make([]outcome, len(strategies))
	var wg sync.WaitGroup
	for i, s := range strategies {
		wg.Add(1)
		go func(i int, name string, weight float64, fn strategyFunc) {
			defer wg.Done()
			start := time.Now()
			p, err := fn(ctx)
			results[i] = outcome{
				name:      name,
				weight:    weight,
				partial:   p,
				elapsedMs: time.Since(start).Milliseconds(),
				err:       err,
			}
		}(i, s.name, s.weight, s.fn)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	for _, r := range results {
		perStrategy[r.name] = r.elapsedMs
		if r.err != nil {
			o.logger.Warn("retrieval strategy degraded", "strategy", r.name, "error", r.err)
			errs = append(errs, r.err)
			continue
		}
		merger.fold(r.name, r.weight, r.partial)
	}
	if len(errs) == len(strategies) {
		return fmt.Errorf("all retrieval strategies failed: %w", errors.Join(errs...))
	}
	return nil
}

type strategyFunc func(ctx context.Context) (*partial, error)

// partial is one strategy's raw candidates before weighting.
type partial struct {
	chunks        []*types.ScoredChunk
	entities      []*types.ScoredEntity
	relationships []*types.ScoredRelationship
}

func (o *Orchestrator) naive(queryEmbedding []float32, req *Request) strategyFunc {
	return func(ctx context.Context) (*partial, error) {
		chunks, err := o.store.ChunksByEmbedding(ctx, queryEmbedding, o.config.CandidateLimit, req.Restriction)
		if err != nil {
			return nil, err
		}
		return &partial{chunks: chunks}, nil
	}
}

func (o *Orchestrator) lexical(req *Request) strategyFunc {
	return func(ctx context.Context) (*partial, error) {
		chunks, err := o.store.ChunksByKeyword(ctx, req.Query, o.config.CandidateLimit, req.Restriction)
		if err != nil {
			return nil, err
		}
		return &partial{chunks: chunks}, nil
	}
}

// local embeds the query, finds the nearest entities and expands one hop,
// collecting the neighborhood's chunks and edges.
func (o *Orchestrator) local(queryEmbedding []float32, req *Request) strategyFunc {
	return func(ctx context.Context) (*partial, error) {
		seeds, err := o.seedEntities(ctx, queryEmbedding)
		if err != nil {
			return nil, err
		}
		if len(seeds) == 0 {
			return &partial{}, nil
		}

		seedIDs := make([]string, len(seeds))
		seedScores := make(map[string]float64, len(seeds))
		for i, s := range seeds {
			seedIDs[i] = s.Entity.ID
			seedScores[s.Entity.ID] = s.Score
		}

		hood, err := o.store.Neighborhood(ctx, seedIDs, o.config.NeighborhoodLimit)
		if err != nil {
			return nil, err
		}

		out := &partial{entities: seeds}
		for _, entity := range hood.Entities {
			if _, isSeed := seedScores[entity.ID]; isSeed {
				continue
			}
			// Neighbors inherit half the best adjacent seed's score.
			out.entities = append(out.entities, &types.ScoredEntity{
				Entity: entity,
				Score:  bestAdjacentScore(entity.ID, hood.Relationships, seedScores) * 0.5,
			})
		}
		for _, rel := range hood.Relationships {
			score := seedScores[rel.SourceID]
			if s := seedScores[rel.TargetID]; s > score {
				score = s
			}
			out.relationships = append(out.relationships, &types.ScoredRelationship{
				Relationship: rel,
				Score:        score * rel.Weight,
			})
		}

		docIDs := collectDocIDs(out.entities)
		chunks, err := o.store.ChunksForDocuments(ctx, docIDs, queryEmbedding, o.config.CandidateLimit, req.Restriction)
		if err != nil {
			return nil, err
		}
		out.chunks = chunks
		return out, nil
	}
}

// global aggregates over entity communities. Without communities built yet it
// falls back to similarity over the best-connected entities.
func (o *Orchestrator) global(queryEmbedding []float32, req *Request) strategyFunc {
	return func(ctx context.Context) (*partial, error) {
		seeds, err := o.seedEntities(ctx, queryEmbedding)
		if err != nil {
			return nil, err
		}
		seedIDs := make([]string, len(seeds))
		seedScores := make(map[string]float64, len(seeds))
		for i, s := range seeds {
			seedIDs[i] = s.Entity.ID
			seedScores[s.Entity.ID] = s.Score
		}

		communities, err := o.store.CommunitiesForEntities(ctx, seedIDs)
		if err != nil {
			return nil, err
		}
		if len(communities) == 0 {
			return o.globalFallback(ctx, queryEmbedding, req, seedScores)
		}

		memberIDs := make([]string, 0)
		memberScore := make(map[string]float64)
		for _, community := range communities {
			// Community score is its best seed match.
			score := 0.0
			for _, id := range community.MemberIDs {
				if s := seedScores[id]; s > score {
					score = s
				}
			}
			for _, id := range community.MemberIDs {
				if _, seen := memberScore[id]; !seen {
					memberIDs = append(memberIDs, id)
				}
				if score > memberScore[id] {
					memberScore[id] = score
				}
			}
		}

		members, err := o.store.GetEntities(ctx, memberIDs)
		if err != nil {
			return nil, err
		}

		out := &partial{}
		for _, entity := range members {
			score := memberScore[entity.ID]
			if s, isSeed := seedScores[entity.ID]; isSeed && s > score {
				score = s
			}
			out.entities = append(out.entities, &types.ScoredEntity{Entity: entity, Score: score})
		}

		hood, err := o.store.Neighborhood(ctx, memberIDs, o.config.NeighborhoodLimit)
		if err != nil {
			return nil, err
		}
		for _, rel := range hood.Relationships {
			score := memberScore[rel.SourceID]
			if s := memberScore[rel.TargetID]; s > score {
				score = s
			}
			out.relationships = append(out.relationships, &types.ScoredRelationship{
				Relationship: rel,
				Score:        score * rel.Weight,
			})
		}

		chunks, err := o.store.ChunksForDocuments(ctx, collectDocIDs(out.entities), queryEmbedding, o.config.CandidateLimit, req.Restriction)
		if err != nil {
			return nil, err
		}
		out.chunks = chunks
		return out, nil
	}
}

func (o *Orchestrator) globalFallback(ctx context.Context, queryEmbedding []float32, req *Request, seedScores map[string]float64) (*partial, error) {
	o.logger.Debug("no communities built, falling back to top-degree aggregation")

	top, err := o.store.TopDegreeEntities(ctx, o.config.EntityTopK)
	if err != nil {
		return nil, err
	}

	out := &partial{}
	for _, scored := range top {
		score := scored.Score
		if s := seedScores[scored.Entity.ID]; s > score {
			score = s
		}
		out.entities = append(out.entities, &types.ScoredEntity{Entity: scored.Entity, Score: score})
	}

	chunks, err := o.store.ChunksForDocuments(ctx, collectDocIDs(out.entities), queryEmbedding, o.config.CandidateLimit, req.Restriction)
	if err != nil {
		return nil, err
	}
	out.chunks = chunks
	return out, nil
}

// seedEntities finds the query's nearest entities, dropping non-positive
// matches so unrelated documents never enter the neighborhood.
func (o *Orchestrator) seedEntities(ctx context.Context, queryEmbedding []float32) ([]*types.ScoredEntity, error) {
	scored, err := o.store.EntitiesByEmbedding(ctx, queryEmbedding, o.config.EntityTopK)
	if err != nil {
		return nil, err
	}
	seeds := scored[:0]
	for _, s := range scored {
		if s.Score > 0 {
			seeds = append(seeds, s)
		}
	}
	return seeds, nil
}

func bestAdjacentScore(entityID string, relationships []*types.Relationship, seedScores map[string]float64) float64 {
	best := 0.0
	for _, rel := range relationships {
		var other string
		switch entityID {
		case rel.SourceID:
			other = rel.TargetID
		case rel.TargetID:
			other = rel.SourceID
		default:
			continue
		}
		if s := seedScores[other]; s > best {
			best = s
		}
	}
	return best
}

func collectDocIDs(entities []*types.ScoredEntity) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entities {
		for _, docID := range e.Entity.SourceIDs {
			if !seen[docID] {
				seen[docID] = true
				out = append(out, docID)
			}
		}
	}
	return out
}
