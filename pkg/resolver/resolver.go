/*
Package resolver merges candidate entity mentions into canonical graph
entities. Exact normalized-name matches within a type short-circuit; the rest
go through a pluggable fuzzy similarity scorer with a configurable threshold.

Resolution is serialized per entity type so concurrent document ingestions
cannot race into creating duplicate canonicals for the same name.
*/
package resolver

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twattier/rag-engine/pkg/types"
)

// DefaultThreshold is the fuzzy-match score at or above which a candidate is
// merged into an existing canonical entity.
const DefaultThreshold = 0.90

// Config parameterizes a Resolver.
type Config struct {
	// Threshold for fuzzy merging (default 0.90).
	Threshold float64
}

// Result describes the outcome of resolving one document's candidates.
type Result struct {
	// Entities is the canonical set touched by this document: newly created
	// canonicals plus existing ones that absorbed a mention.
	Entities []*types.Entity
	// NameToID maps each candidate's normalized name to its canonical entity
	// ID, used to re-point candidate relationships.
	NameToID map[string]string
	// Created and Merged count new canonicals vs. mentions absorbed into
	// existing ones.
	Created int
	Merged  int
	// Retired maps persisted canonical IDs removed by consolidation to the
	// surviving canonical ID. The caller re-points stored relationships and
	// deletes the retired entities.
	Retired map[string]string
}

// Resolver resolves candidates against persisted canonicals.
type Resolver struct {
	similarity Similarity
	threshold  float64
	logger     *slog.Logger

	mu        sync.Mutex
	typeLocks map[string]*sync.Mutex
}

// New creates a Resolver. A nil similarity falls back to the trigram scorer.
func New(similarity Similarity, config Config, logger *slog.Logger) *Resolver {
	if similarity == nil {
		similarity = NewTrigramSimilarity()
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		similarity: similarity,
		threshold:  config.Threshold,
		logger:     logger,
		typeLocks:  make(map[string]*sync.Mutex),
	}
}

// Resolve merges candidates into canonical entities. existing holds the
// persisted canonicals for the types present in candidates, as fetched by the
// caller. Candidates of the same type are also deduplicated against each
// other within the call.
func (r *Resolver) Resolve(ctx context.Context, docID string, candidates []*types.CandidateEntity, existing []*types.Entity) (*Result, error) {
	result := &Result{NameToID: make(map[string]string), Retired: make(map[string]string)}
	if len(candidates) == 0 {
		return result, nil
	}

	byType := make(map[string][]*types.CandidateEntity)
	for _, c := range candidates {
		byType[c.Type] = append(byType[c.Type], c)
	}
	existingByType := make(map[string][]*types.Entity)
	for _, e := range existing {
		existingByType[e.Type] = append(existingByType[e.Type], e)
	}

	// Lock types in sorted order so two documents touching the same types
	// never deadlock.
	typeNames := make([]string, 0, len(byType))
	for name := range byType {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	touched := make(map[string]*types.Entity)
	for _, typeName := range typeNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock := r.lockFor(typeName)
		lock.Lock()
		r.resolveType(docID, byType[typeName], existingByType[typeName], touched, result)
		lock.Unlock()
	}

	result.Entities = make([]*types.Entity, 0, len(touched))
	for _, e := range touched {
		result.Entities = append(result.Entities, e)
	}
	sort.Slice(result.Entities, func(i, j int) bool {
		return result.Entities[i].CreatedAt.Before(result.Entities[j].CreatedAt)
	})
	return result, nil
}

func (r *Resolver) resolveType(docID string, candidates []*types.CandidateEntity, existing []*types.Entity, touched map[string]*types.Entity, result *Result) {
	// pool is the live canonical set for this type: persisted entities plus
	// canonicals created earlier in this call.
	pool := make([]*types.Entity, len(existing))
	copy(pool, existing)
	byName := make(map[string]*types.Entity, len(existing))
	for _, e := range existing {
		byName[NormalizeName(e.Name)] = e
	}
	createdHere := make(map[string]bool)

	for _, candidate := range candidates {
		normalized := NormalizeName(candidate.Name)

		// Exact name match within the type short-circuits fuzzy scoring.
		var matches []*types.Entity
		if exact := byName[normalized]; exact != nil {
			matches = []*types.Entity{exact}
		} else {
			matches = r.fuzzyMatches(candidate.Name, pool)
		}

		if len(matches) > 0 {
			survivor := matches[0]
			r.absorb(survivor, candidate, docID)
			touched[survivor.ID] = survivor
			result.NameToID[normalized] = survivor.ID
			result.Merged++

			// A mention bridging several canonicals unifies them: the
			// earliest-created canonical survives and absorbs the rest.
			for _, loser := range matches[1:] {
				r.retire(survivor, loser, createdHere, touched, result)
				pool = removeEntity(pool, loser.ID)
				delete(byName, NormalizeName(loser.Name))
			}
			continue
		}

		created := newEntity(candidate, docID)
		pool = append(pool, created)
		byName[normalized] = created
		createdHere[created.ID] = true
		touched[created.ID] = created
		result.NameToID[normalized] = created.ID
		result.Created++
	}
}

// fuzzyMatches returns every canonical scoring at or above the threshold,
// earliest-created first so the survivor of a multi-way match is
// deterministic.
func (r *Resolver) fuzzyMatches(name string, pool []*types.Entity) []*types.Entity {
	var matches []*types.Entity
	for _, candidate := range pool {
		score := r.similarity.Score(name, candidate.Name)
		if score < r.threshold {
			continue
		}
		r.logger.Debug("fuzzy-matched entity mention",
			"mention", name, "canonical", candidate.Name, "score", score)
		matches = append(matches, candidate)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}

// retire folds a duplicated canonical into the survivor. The survivor keeps
// its name and ID; the loser contributes provenance, description and
// confidence. Persisted losers land in Result.Retired for the store to
// re-point and delete; losers created within this call are simply dropped.
func (r *Resolver) retire(survivor, loser *types.Entity, createdHere map[string]bool, touched map[string]*types.Entity, result *Result) {
	for _, sid := range loser.SourceIDs {
		survivor.AddSourceID(sid)
	}
	if len(loser.Description) > len(survivor.Description) {
		survivor.Description = loser.Description
	}
	if loser.Confidence > survivor.Confidence {
		survivor.Confidence = loser.Confidence
	}
	survivor.UpdatedAt = time.Now().UTC()

	delete(touched, loser.ID)
	for name, id := range result.NameToID {
		if id == loser.ID {
			result.NameToID[name] = survivor.ID
		}
	}

	if createdHere[loser.ID] {
		result.Created--
		return
	}
	result.Retired[loser.ID] = survivor.ID
	for id, target := range result.Retired {
		if target == loser.ID {
			result.Retired[id] = survivor.ID
		}
	}
	r.logger.Info("consolidated duplicate canonicals",
		"survivor", survivor.Name, "retired", loser.Name)
}

func removeEntity(pool []*types.Entity, id string) []*types.Entity {
	out := pool[:0]
	for _, e := range pool {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// absorb merges a mention into a canonical entity. The canonical keeps its
// name and ID; the mention contributes provenance and a longer description.
func (r *Resolver) absorb(canonical *types.Entity, candidate *types.CandidateEntity, docID string) {
	canonical.AddSourceID(docID)
	if len(candidate.Description) > len(canonical.Description) {
		canonical.Description = candidate.Description
	}
	if candidate.Confidence > canonical.Confidence {
		canonical.Confidence = candidate.Confidence
	}
	canonical.UpdatedAt = time.Now().UTC()
}

func newEntity(candidate *types.CandidateEntity, docID string) *types.Entity {
	now := time.Now().UTC()
	return &types.Entity{
		ID:          uuid.NewString(),
		Name:        candidate.Name,
		Type:        candidate.Type,
		Description: candidate.Description,
		Confidence:  candidate.Confidence,
		SourceIDs:   []string{docID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *Resolver) lockFor(typeName string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.typeLocks[typeName]
	if !ok {
		lock = &sync.Mutex{}
		r.typeLocks[typeName] = lock
	}
	return lock
}

// ResolveRelationships converts candidate relationships into canonical edges
// using the name mapping from entity resolution. Edges whose endpoints did
// not resolve are dropped; repeated triples are merged with provenance and a
// confidence-averaged weight.
func ResolveRelationships(candidates []*types.CandidateRelationship, nameToID map[string]string, docID string) []*types.Relationship {
	byTriple := make(map[string]*types.Relationship)
	tripleCounts := make(map[string]int)
	order := make([]string, 0, len(candidates))

	for _, c := range candidates {
		sourceID := nameToID[NormalizeName(c.SourceName)]
		targetID := nameToID[NormalizeName(c.TargetName)]
		if sourceID == "" || targetID == "" || sourceID == targetID {
			continue
		}

		now := time.Now().UTC()
		edge := &types.Relationship{
			SourceID:    sourceID,
			TargetID:    targetID,
			Type:        types.CanonicalRelationType(c.Type),
			Description: c.Description,
			Keywords:    c.Keywords,
			Weight:      clampWeight(c.Confidence),
			SourceIDs:   []string{docID},
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		key := edge.TripleKey()
		if existing, ok := byTriple[key]; ok {
			n := tripleCounts[key]
			existing.Weight = (existing.Weight*float64(n) + edge.Weight) / float64(n+1)
			if len(edge.Description) > len(existing.Description) {
				existing.Description = edge.Description
			}
			tripleCounts[key] = n + 1
			continue
		}

		edge.ID = uuid.NewString()
		byTriple[key] = edge
		tripleCounts[key] = 1
		order = append(order, key)
	}

	out := make([]*types.Relationship, 0, len(byTriple))
	for _, key := range order {
		out = append(out, byTriple[key])
	}
	return out
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
