package search

import (
	"sort"

	"github.com/twattier/rag-engine/pkg/types"
)

// merger accumulates weighted candidates across strategies, deduplicating by
// identity. A candidate seen by several strategies sums their weighted
// scores and records every contributing strategy.
type merger struct {
	chunks        map[string]*types.ScoredChunk
	entities      map[string]*types.ScoredEntity
	relationships map[string]*types.ScoredRelationship
}

func newMerger() *merger {
	return &merger{
		chunks:        make(map[string]*types.ScoredChunk),
		entities:      make(map[string]*types.ScoredEntity),
		relationships: make(map[string]*types.ScoredRelationship),
	}
}

func (m *merger) fold(strategy string, weight float64, p *partial) {
	if p == nil {
		return
	}

	for _, c := range p.chunks {
		weighted := c.Score * weight
		if existing, ok := m.chunks[c.Chunk.ID]; ok {
			existing.Score += weighted
			existing.Sources = append(existing.Sources, strategy)
			continue
		}
		m.chunks[c.Chunk.ID] = &types.ScoredChunk{
			Chunk:   c.Chunk,
			Score:   weighted,
			Sources: []string{strategy},
		}
	}

	for _, e := range p.entities {
		weighted := e.Score * weight
		if existing, ok := m.entities[e.Entity.ID]; ok {
			existing.Score += weighted
			existing.Sources = append(existing.Sources, strategy)
			continue
		}
		m.entities[e.Entity.ID] = &types.ScoredEntity{
			Entity:  e.Entity,
			Score:   weighted,
			Sources: []string{strategy},
		}
	}

	for _, r := range p.relationships {
		key := r.Relationship.TripleKey()
		weighted := r.Score * weight
		if existing, ok := m.relationships[key]; ok {
			existing.Score += weighted
			existing.Sources = append(existing.Sources, strategy)
			continue
		}
		m.relationships[key] = &types.ScoredRelationship{
			Relationship: r.Relationship,
			Score:        weighted,
			Sources:      []string{strategy},
		}
	}
}

// result ranks the merged candidates. Score ties go to the most recently
// updated candidate.
func (m *merger) result(topK int) *Result {
	out := &Result{}

	for _, c := range m.chunks {
		out.Chunks = append(out.Chunks, c)
	}
	sort.SliceStable(out.Chunks, func(i, j int) bool {
		if out.Chunks[i].Score != out.Chunks[j].Score {
			return out.Chunks[i].Score > out.Chunks[j].Score
		}
		return out.Chunks[i].Chunk.CreatedAt.After(out.Chunks[j].Chunk.CreatedAt)
	})
	if len(out.Chunks) > topK {
		out.Chunks = out.Chunks[:topK]
	}

	for _, e := range m.entities {
		out.Entities = append(out.Entities, e)
	}
	sort.SliceStable(out.Entities, func(i, j int) bool {
		if out.Entities[i].Score != out.Entities[j].Score {
			return out.Entities[i].Score > out.Entities[j].Score
		}
		return out.Entities[i].Entity.UpdatedAt.After(out.Entities[j].Entity.UpdatedAt)
	})
	if len(out.Entities) > topK {
		out.Entities = out.Entities[:topK]
	}

	for _, r := range m.relationships {
		out.Relationships = append(out.Relationships, r)
	}
	sort.SliceStable(out.Relationships, func(i, j int) bool {
		if out.Relationships[i].Score != out.Relationships[j].Score {
			return out.Relationships[i].Score > out.Relationships[j].Score
		}
		return out.Relationships[i].Relationship.UpdatedAt.After(out.Relationships[j].Relationship.UpdatedAt)
	})
	if len(out.Relationships) > topK {
		out.Relationships = out.Relationships[:topK]
	}

	return out
}
