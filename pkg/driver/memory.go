package driver

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/types"
)

// MemoryStore is an in-process GraphStore used by tests and local runs. It
// honors the same contract as the Neo4j store; metadata restrictions are
// applied via the restriction's Match function.
type MemoryStore struct {
	mu            sync.RWMutex
	documents     map[string]*types.Document
	chunks        map[string]*types.TextChunk
	entities      map[string]*types.Entity
	relationships map[string]*types.Relationship // keyed by canonical triple
	communities   []*types.Community
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:     make(map[string]*types.Document),
		chunks:        make(map[string]*types.TextChunk),
		entities:      make(map[string]*types.Entity),
		relationships: make(map[string]*types.Relationship),
	}
}

// UpsertDocument implements GraphStore.
func (m *MemoryStore) UpsertDocument(ctx context.Context, doc *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *doc
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	copied.UpdatedAt = time.Now().UTC()
	m.documents[doc.ID] = &copied
	return nil
}

// GetDocument implements GraphStore.
func (m *MemoryStore) GetDocument(ctx context.Context, docID string) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[docID]
	if !ok {
		return nil, &types.StorageError{DocID: docID, Op: "get document", Err: types.ErrDocumentNotFound}
	}
	copied := *doc
	return &copied, nil
}

// UpdateDocumentStatus implements GraphStore.
func (m *MemoryStore) UpdateDocumentStatus(ctx context.Context, docID string, status types.DocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[docID]
	if !ok {
		return &types.StorageError{DocID: docID, Op: "update status", Err: types.ErrDocumentNotFound}
	}
	doc.Status = status
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteDocument implements GraphStore.
func (m *MemoryStore) DeleteDocument(ctx context.Context, docID string) (*DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &DeleteResult{}
	for id, chunk := range m.chunks {
		if chunk.DocID == docID {
			delete(m.chunks, id)
			result.ChunksDeleted++
		}
	}
	for key, rel := range m.relationships {
		rel.SourceIDs = removeString(rel.SourceIDs, docID)
		if len(rel.SourceIDs) == 0 {
			delete(m.relationships, key)
			result.RelationshipsDeleted++
		}
	}
	for id, entity := range m.entities {
		entity.SourceIDs = removeString(entity.SourceIDs, docID)
		if len(entity.SourceIDs) == 0 {
			delete(m.entities, id)
			result.EntitiesDeleted++
			for key, rel := range m.relationships {
				if rel.SourceID == id || rel.TargetID == id {
					delete(m.relationships, key)
					result.RelationshipsDeleted++
				}
			}
		}
	}
	delete(m.documents, docID)
	return result, nil
}

// CountDocuments implements GraphStore.
func (m *MemoryStore) CountDocuments(ctx context.Context, restriction *metafilter.Restriction) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, doc := range m.documents {
		if m.matches(doc, restriction) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) matches(doc *types.Document, restriction *metafilter.Restriction) bool {
	if restriction == nil || restriction.Match == nil {
		return true
	}
	return restriction.Match(doc.Metadata)
}

// UpsertChunks implements GraphStore.
func (m *MemoryStore) UpsertChunks(ctx context.Context, chunks []*types.TextChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chunk := range chunks {
		if _, ok := m.documents[chunk.DocID]; !ok {
			return &types.StorageError{DocID: chunk.DocID, Op: "upsert chunks", Err: types.ErrDocumentNotFound}
		}
		copied := *chunk
		if copied.CreatedAt.IsZero() {
			copied.CreatedAt = time.Now().UTC()
		}
		m.chunks[chunk.ID] = &copied
	}
	return nil
}

// EntitiesByTypes implements GraphStore.
func (m *MemoryStore) EntitiesByTypes(ctx context.Context, typeNames []string) ([]*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(typeNames))
	for _, t := range typeNames {
		wanted[t] = true
	}

	var out []*types.Entity
	for _, entity := range m.entities {
		if wanted[entity.Type] {
			copied := *entity
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetEntities implements GraphStore.
func (m *MemoryStore) GetEntities(ctx context.Context, ids []string) ([]*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Entity, 0, len(ids))
	for _, id := range ids {
		if entity, ok := m.entities[id]; ok {
			copied := *entity
			out = append(out, &copied)
		}
	}
	return out, nil
}

// UpsertEntities implements GraphStore.
func (m *MemoryStore) UpsertEntities(ctx context.Context, entities []*types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entity := range entities {
		copied := *entity
		copied.SourceIDs = append([]string(nil), entity.SourceIDs...)
		if existing, ok := m.entities[entity.ID]; ok {
			copied.CreatedAt = existing.CreatedAt
		}
		m.entities[entity.ID] = &copied
	}
	return nil
}

// UpsertRelationships implements GraphStore.
func (m *MemoryStore) UpsertRelationships(ctx context.Context, relationships []*types.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rel := range relationships {
		if _, ok := m.entities[rel.SourceID]; !ok {
			return &types.StorageError{Op: "upsert relationships", Err: types.ErrEmptyName}
		}
		if _, ok := m.entities[rel.TargetID]; !ok {
			return &types.StorageError{Op: "upsert relationships", Err: types.ErrEmptyName}
		}

		key := rel.TripleKey()
		if existing, ok := m.relationships[key]; ok {
			for _, sid := range rel.SourceIDs {
				existing.SourceIDs = appendUnique(existing.SourceIDs, sid)
			}
			if rel.Weight > existing.Weight {
				existing.Weight = rel.Weight
			}
			if len(rel.Description) > len(existing.Description) {
				existing.Description = rel.Description
			}
			existing.UpdatedAt = time.Now().UTC()
			continue
		}

		copied := *rel
		copied.SourceIDs = append([]string(nil), rel.SourceIDs...)
		m.relationships[key] = &copied
	}
	return nil
}

// MergeEntities implements GraphStore. Re-pointed edges that collide with an
// existing triple merge into it; edges that become self-loops are dropped.
func (m *MemoryStore) MergeEntities(ctx context.Context, retired map[string]string) error {
	if len(retired) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	resolve := func(id string) string {
		if survivor, ok := retired[id]; ok {
			return survivor
		}
		return id
	}

	var moved []*types.Relationship
	for key, rel := range m.relationships {
		if resolve(rel.SourceID) != rel.SourceID || resolve(rel.TargetID) != rel.TargetID {
			delete(m.relationships, key)
			moved = append(moved, rel)
		}
	}
	for _, rel := range moved {
		rel.SourceID = resolve(rel.SourceID)
		rel.TargetID = resolve(rel.TargetID)
		if rel.SourceID == rel.TargetID {
			continue
		}
		key := rel.TripleKey()
		if existing, ok := m.relationships[key]; ok {
			for _, sid := range rel.SourceIDs {
				existing.SourceIDs = appendUnique(existing.SourceIDs, sid)
			}
			if rel.Weight > existing.Weight {
				existing.Weight = rel.Weight
			}
			if len(rel.Description) > len(existing.Description) {
				existing.Description = rel.Description
			}
			existing.UpdatedAt = time.Now().UTC()
			continue
		}
		rel.UpdatedAt = time.Now().UTC()
		m.relationships[key] = rel
	}

	for id := range retired {
		delete(m.entities, id)
	}
	return nil
}

// ChunksByEmbedding implements GraphStore.
func (m *MemoryStore) ChunksByEmbedding(ctx context.Context, embedding []float32, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error) {
	return m.chunkSimilarity(embedding, topK, restriction, nil)
}

// ChunksForDocuments implements GraphStore.
func (m *MemoryStore) ChunksForDocuments(ctx context.Context, docIDs []string, embedding []float32, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	allowed := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		allowed[id] = true
	}
	return m.chunkSimilarity(embedding, topK, restriction, allowed)
}

func (m *MemoryStore) chunkSimilarity(embedding []float32, topK int, restriction *metafilter.Restriction, allowed map[string]bool) ([]*types.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []*types.ScoredChunk
	for _, chunk := range m.chunks {
		if allowed != nil && !allowed[chunk.DocID] {
			continue
		}
		doc, ok := m.documents[chunk.DocID]
		if !ok || !m.matches(doc, restriction) {
			continue
		}
		if len(chunk.Embedding) == 0 {
			continue
		}
		copied := *chunk
		scored = append(scored, &types.ScoredChunk{
			Chunk: &copied,
			Score: float64(CosineSimilarity(embedding, chunk.Embedding)),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// ChunksByKeyword implements GraphStore with term-overlap scoring.
func (m *MemoryStore) ChunksByKeyword(ctx context.Context, query string, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	var scored []*types.ScoredChunk
	for _, chunk := range m.chunks {
		doc, ok := m.documents[chunk.DocID]
		if !ok || !m.matches(doc, restriction) {
			continue
		}
		content := strings.ToLower(chunk.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		copied := *chunk
		scored = append(scored, &types.ScoredChunk{
			Chunk: &copied,
			Score: float64(matched) / float64(len(terms)),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// EntitiesByEmbedding implements GraphStore.
func (m *MemoryStore) EntitiesByEmbedding(ctx context.Context, embedding []float32, topK int) ([]*types.ScoredEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []*types.ScoredEntity
	for _, entity := range m.entities {
		if len(entity.Embedding) == 0 {
			continue
		}
		copied := *entity
		scored = append(scored, &types.ScoredEntity{
			Entity: &copied,
			Score:  float64(CosineSimilarity(embedding, entity.Embedding)),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Neighborhood implements GraphStore.
func (m *MemoryStore) Neighborhood(ctx context.Context, entityIDs []string, limit int) (*Neighborhood, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seeds := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		seeds[id] = true
	}

	out := &Neighborhood{}
	seen := make(map[string]bool)
	for _, rel := range m.relationships {
		if len(out.Relationships) >= limit {
			break
		}
		var neighborID string
		switch {
		case seeds[rel.SourceID]:
			neighborID = rel.TargetID
		case seeds[rel.TargetID]:
			neighborID = rel.SourceID
		default:
			continue
		}

		copiedRel := *rel
		out.Relationships = append(out.Relationships, &copiedRel)
		if entity, ok := m.entities[neighborID]; ok && !seen[neighborID] {
			seen[neighborID] = true
			copied := *entity
			out.Entities = append(out.Entities, &copied)
		}
	}
	return out, nil
}

// TopDegreeEntities implements GraphStore.
func (m *MemoryStore) TopDegreeEntities(ctx context.Context, limit int) ([]*types.ScoredEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	degrees := make(map[string]int)
	for _, rel := range m.relationships {
		degrees[rel.SourceID]++
		degrees[rel.TargetID]++
	}

	maxDegree := 0
	for _, d := range degrees {
		if d > maxDegree {
			maxDegree = d
		}
	}

	scored := make([]*types.ScoredEntity, 0, len(m.entities))
	for id, entity := range m.entities {
		score := 0.0
		if maxDegree > 0 {
			score = float64(degrees[id]) / float64(maxDegree)
		}
		copied := *entity
		scored = append(scored, &types.ScoredEntity{Entity: &copied, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entity.ID < scored[j].Entity.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// EntityGraph implements GraphStore.
func (m *MemoryStore) EntityGraph(ctx context.Context) ([]*types.Entity, []*types.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entities := make([]*types.Entity, 0, len(m.entities))
	for _, entity := range m.entities {
		copied := *entity
		entities = append(entities, &copied)
	}
	relationships := make([]*types.Relationship, 0, len(m.relationships))
	for _, rel := range m.relationships {
		copied := *rel
		relationships = append(relationships, &copied)
	}
	return entities, relationships, nil
}

// ReplaceCommunities implements GraphStore.
func (m *MemoryStore) ReplaceCommunities(ctx context.Context, communities []*types.Community) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.communities = make([]*types.Community, len(communities))
	for i, c := range communities {
		copied := *c
		copied.MemberIDs = append([]string(nil), c.MemberIDs...)
		m.communities[i] = &copied
	}
	return nil
}

// CommunitiesForEntities implements GraphStore.
func (m *MemoryStore) CommunitiesForEntities(ctx context.Context, entityIDs []string) ([]*types.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = true
	}

	var out []*types.Community
	for _, community := range m.communities {
		for _, member := range community.MemberIDs {
			if wanted[member] {
				copied := *community
				out = append(out, &copied)
				break
			}
		}
	}
	return out, nil
}

// Stats implements GraphStore.
func (m *MemoryStore) Stats(ctx context.Context) (*types.GraphStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &types.GraphStats{
		DocumentCount:          int64(len(m.documents)),
		ChunkCount:             int64(len(m.chunks)),
		EntityCount:            int64(len(m.entities)),
		RelationshipCount:      int64(len(m.relationships)),
		EntityTypeDistribution: map[string]int64{},
	}
	for _, entity := range m.entities {
		stats.EntityTypeDistribution[entity.Type]++
	}
	return stats, nil
}

// Close implements GraphStore.
func (m *MemoryStore) Close(ctx context.Context) error { return nil }

var _ GraphStore = (*MemoryStore)(nil)

func removeString(list []string, value string) []string {
	out := list[:0]
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
