package driver

import (
	"math"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/twattier/rag-engine/pkg/types"
)

func recordNode(record *db.Record, key string) (dbtype.Node, bool) {
	value, found := record.Get(key)
	if !found {
		return dbtype.Node{}, false
	}
	node, ok := value.(dbtype.Node)
	return node, ok
}

func recordInt(record *db.Record, key string) int {
	value, found := record.Get(key)
	if !found {
		return 0
	}
	switch v := value.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func recordFloat(record *db.Record, key string) float64 {
	value, found := record.Get(key)
	if !found {
		return 0
	}
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func asString(value any) string {
	s, _ := value.(string)
	return s
}

func asInt(value any) int {
	switch v := value.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func asFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func asTime(value any) time.Time {
	if s, ok := value.(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func asStrings(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asEmbedding(value any) []float32 {
	raw, ok := value.([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		switch f := v.(type) {
		case float64:
			out[i] = float32(f)
		case int64:
			out[i] = float32(f)
		}
	}
	return out
}

func toFloat64s(embedding []float32) []float64 {
	if len(embedding) == 0 {
		return nil
	}
	out := make([]float64, len(embedding))
	for i, v := range embedding {
		out[i] = float64(v)
	}
	return out
}

func documentFromNode(node dbtype.Node) *types.Document {
	doc := &types.Document{
		ID:          asString(node.Props["id"]),
		ContentType: asString(node.Props["content_type"]),
		Status:      types.DocumentStatus(asString(node.Props["status"])),
		ChunkCount:  asInt(node.Props["chunk_count"]),
		EntityCount: asInt(node.Props["entity_count"]),
		CreatedAt:   asTime(node.Props["created_at"]),
		UpdatedAt:   asTime(node.Props["updated_at"]),
	}
	for key, value := range node.Props {
		if field, ok := strings.CutPrefix(key, "meta_"); ok {
			if doc.Metadata == nil {
				doc.Metadata = map[string]any{}
			}
			doc.Metadata[field] = value
		}
	}
	return doc
}

func chunkFromNode(node dbtype.Node) *types.TextChunk {
	return &types.TextChunk{
		ID:         asString(node.Props["id"]),
		DocID:      asString(node.Props["doc_id"]),
		Index:      asInt(node.Props["index"]),
		Content:    asString(node.Props["content"]),
		TokenCount: asInt(node.Props["token_count"]),
		Embedding:  asEmbedding(node.Props["embedding"]),
		CreatedAt:  asTime(node.Props["created_at"]),
	}
}

func entityFromNode(node dbtype.Node) *types.Entity {
	return &types.Entity{
		ID:          asString(node.Props["id"]),
		Name:        asString(node.Props["name"]),
		Type:        asString(node.Props["type"]),
		Description: asString(node.Props["description"]),
		Confidence:  asFloat(node.Props["confidence"]),
		Embedding:   asEmbedding(node.Props["embedding"]),
		SourceIDs:   asStrings(node.Props["source_ids"]),
		CreatedAt:   asTime(node.Props["created_at"]),
		UpdatedAt:   asTime(node.Props["updated_at"]),
	}
}

func entitiesFromRecords(records []*db.Record, key string) []*types.Entity {
	entities := make([]*types.Entity, 0, len(records))
	for _, record := range records {
		if node, ok := recordNode(record, key); ok {
			entities = append(entities, entityFromNode(node))
		}
	}
	return entities
}

func relationshipFromDB(rel dbtype.Relationship, sourceID, targetID string) *types.Relationship {
	return &types.Relationship{
		ID:          asString(rel.Props["id"]),
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        asString(rel.Props["rel_type"]),
		Description: asString(rel.Props["description"]),
		Keywords:    asString(rel.Props["keywords"]),
		Weight:      asFloat(rel.Props["weight"]),
		SourceIDs:   asStrings(rel.Props["source_ids"]),
		CreatedAt:   asTime(rel.Props["created_at"]),
		UpdatedAt:   asTime(rel.Props["updated_at"]),
	}
}

func communityFromNode(node dbtype.Node) *types.Community {
	return &types.Community{
		ID:        asString(node.Props["id"]),
		MemberIDs: asStrings(node.Props["member_ids"]),
		Summary:   asString(node.Props["summary"]),
		Size:      asInt(node.Props["size"]),
		UpdatedAt: asTime(node.Props["updated_at"]),
	}
}

// CosineSimilarity computes the cosine similarity of two vectors, 0 when
// either is empty or lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
