package driver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/twattier/rag-engine/pkg/metafilter"
	"github.com/twattier/rag-engine/pkg/types"
)

// Neo4jStore implements GraphStore against a Neo4j database.
//
// Layout: (:Document {id, meta_*}), (:Chunk {id})-[:PART_OF]->(:Document),
// (:Entity {id}), (s:Entity)-[:RELATED {id, rel_type}]->(t:Entity),
// (:Community {id}). Relationship types live in the rel_type property under a
// fixed RELATED label so the open type vocabulary never becomes a label
// explosion.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to Neo4j.
func NewNeo4jStore(uri, username, password, database string) (*Neo4jStore, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{client: client, database: database}, nil
}

// EnsureSchema creates the indexes retrieval depends on. Safe to call on
// every startup.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.type)`,
		`CREATE FULLTEXT INDEX chunk_content IF NOT EXISTS FOR (c:Chunk) ON EACH [c.content]`,
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

// UpsertDocument implements GraphStore. Metadata is flattened onto the node
// under a meta_ prefix so compiled filter predicates can reference it.
func (s *Neo4jStore) UpsertDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil {
		return fmt.Errorf("cannot upsert nil document")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.UpdatedAt = time.Now().UTC()

	props := map[string]any{
		"content_type": doc.ContentType,
		"status":       string(doc.Status),
		"chunk_count":  doc.ChunkCount,
		"entity_count": doc.EntityCount,
		"created_at":   doc.CreatedAt.Format(time.RFC3339),
		"updated_at":   doc.UpdatedAt.Format(time.RFC3339),
	}
	for field, value := range doc.Metadata {
		props["meta_"+field] = metafilter.StoreValue(value)
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d += $props
		`, map[string]any{"id": doc.ID, "props": props})
		return nil, err
	})
	if err != nil {
		return &types.StorageError{DocID: doc.ID, Op: "upsert document", Err: err}
	}
	return nil
}

// GetDocument implements GraphStore.
func (s *Neo4jStore) GetDocument(ctx context.Context, docID string) (*types.Document, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (d:Document {id: $id}) RETURN d`, map[string]any{"id": docID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{DocID: docID, Op: "get document", Err: err}
	}

	records := result.([]*db.Record)
	if len(records) == 0 {
		return nil, &types.StorageError{DocID: docID, Op: "get document", Err: types.ErrDocumentNotFound}
	}
	node, ok := recordNode(records[0], "d")
	if !ok {
		return nil, &types.StorageError{DocID: docID, Op: "get document", Err: types.ErrDocumentNotFound}
	}
	return documentFromNode(node), nil
}

// UpdateDocumentStatus implements GraphStore.
func (s *Neo4jStore) UpdateDocumentStatus(ctx context.Context, docID string, status types.DocumentStatus) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			SET d.status = $status, d.updated_at = $updated_at
		`, map[string]any{
			"id":         docID,
			"status":     string(status),
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		})
		return nil, err
	})
	if err != nil {
		return &types.StorageError{DocID: docID, Op: "update status", Err: err}
	}
	return nil
}

// DeleteDocument implements GraphStore. Chunks go with the document; entities
// and relationships lose this document from source_ids and are removed once
// no source remains.
func (s *Neo4jStore) DeleteDocument(ctx context.Context, docID string) (*DeleteResult, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		out := &DeleteResult{}

		res, err := tx.Run(ctx, `
			MATCH (c:Chunk)-[:PART_OF]->(d:Document {id: $id})
			DETACH DELETE c
			RETURN count(c) AS deleted
		`, map[string]any{"id": docID})
		if err != nil {
			return nil, err
		}
		if record, err := res.Single(ctx); err == nil {
			out.ChunksDeleted = recordInt(record, "deleted")
		}

		// Drop this document's provenance from edges first, then from
		// entities, so orphan detection sees the updated lists.
		res, err = tx.Run(ctx, `
			MATCH (:Entity)-[r:RELATED]->(:Entity)
			WHERE $id IN r.source_ids
			SET r.source_ids = [sid IN r.source_ids WHERE sid <> $id]
			WITH r
			WHERE size(r.source_ids) = 0
			DELETE r
			RETURN count(r) AS deleted
		`, map[string]any{"id": docID})
		if err != nil {
			return nil, err
		}
		if record, err := res.Single(ctx); err == nil {
			out.RelationshipsDeleted = recordInt(record, "deleted")
		}

		res, err = tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE $id IN e.source_ids
			SET e.source_ids = [sid IN e.source_ids WHERE sid <> $id]
			WITH e
			WHERE size(e.source_ids) = 0
			DETACH DELETE e
			RETURN count(e) AS deleted
		`, map[string]any{"id": docID})
		if err != nil {
			return nil, err
		}
		if record, err := res.Single(ctx); err == nil {
			out.EntitiesDeleted = recordInt(record, "deleted")
		}

		if _, err := tx.Run(ctx, `MATCH (d:Document {id: $id}) DETACH DELETE d`, map[string]any{"id": docID}); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, &types.StorageError{DocID: docID, Op: "delete document", Err: err}
	}
	return result.(*DeleteResult), nil
}

// CountDocuments implements GraphStore.
func (s *Neo4jStore) CountDocuments(ctx context.Context, restriction *metafilter.Restriction) (int, error) {
	query := `MATCH (d:Document) `
	params := map[string]any{}
	if restriction != nil && restriction.Predicate != "" {
		query += `WHERE ` + restriction.Predicate + ` `
		for k, v := range restriction.Params {
			params[k] = v
		}
	}
	query += `RETURN count(d) AS total`

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return 0, &types.StorageError{Op: "count documents", Err: err}
	}
	return recordInt(result.(*db.Record), "total"), nil
}

// UpsertChunks implements GraphStore.
func (s *Neo4jStore) UpsertChunks(ctx context.Context, chunks []*types.TextChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now().UTC()
		}
		rows[i] = map[string]any{
			"id":          chunk.ID,
			"doc_id":      chunk.DocID,
			"index":       chunk.Index,
			"content":     chunk.Content,
			"token_count": chunk.TokenCount,
			"embedding":   toFloat64s(chunk.Embedding),
			"created_at":  chunk.CreatedAt.Format(time.RFC3339),
		}
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MATCH (d:Document {id: row.doc_id})
			MERGE (c:Chunk {id: row.id})
			SET c.doc_id = row.doc_id,
			    c.index = row.index,
			    c.content = row.content,
			    c.token_count = row.token_count,
			    c.embedding = row.embedding,
			    c.created_at = row.created_at
			MERGE (c)-[:PART_OF]->(d)
		`, map[string]any{"rows": rows})
		return nil, err
	})
	if err != nil {
		return &types.StorageError{DocID: chunks[0].DocID, Op: "upsert chunks", Err: err}
	}
	return nil
}

// EntitiesByTypes implements GraphStore.
func (s *Neo4jStore) EntitiesByTypes(ctx context.Context, typeNames []string) ([]*types.Entity, error) {
	if len(typeNames) == 0 {
		return nil, nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE e.type IN $types
			RETURN e
		`, map[string]any{"types": typeNames})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{Op: "entities by types", Err: err}
	}
	return entitiesFromRecords(result.([]*db.Record), "e"), nil
}

// GetEntities implements GraphStore.
func (s *Neo4jStore) GetEntities(ctx context.Context, ids []string) ([]*types.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE e.id IN $ids
			RETURN e
		`, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{Op: "get entities", Err: err}
	}
	return entitiesFromRecords(result.([]*db.Record), "e"), nil
}

// UpsertEntities implements GraphStore.
func (s *Neo4jStore) UpsertEntities(ctx context.Context, entities []*types.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(entities))
	for i, e := range entities {
		rows[i] = map[string]any{
			"id":          e.ID,
			"name":        e.Name,
			"type":        e.Type,
			"description": e.Description,
			"confidence":  e.Confidence,
			"embedding":   toFloat64s(e.Embedding),
			"source_ids":  e.SourceIDs,
			"created_at":  e.CreatedAt.Format(time.RFC3339),
			"updated_at":  e.UpdatedAt.Format(time.RFC3339),
		}
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (e:Entity {id: row.id})
			ON CREATE SET e.created_at = row.created_at
			SET e.name = row.name,
			    e.type = row.type,
			    e.description = row.description,
			    e.confidence = row.confidence,
			    e.embedding = row.embedding,
			    e.source_ids = row.source_ids,
			    e.updated_at = row.updated_at
		`, map[string]any{"rows": rows})
		return nil, err
	})
	if err != nil {
		return &types.StorageError{Op: "upsert entities", Err: err}
	}
	return nil
}

// UpsertRelationships implements GraphStore. The MERGE key is the canonical
// triple, so repeated extractions update the existing edge.
func (s *Neo4jStore) UpsertRelationships(ctx context.Context, relationships []*types.Relationship) error {
	if len(relationships) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(relationships))
	for i, r := range relationships {
		rows[i] = map[string]any{
			"id":          r.ID,
			"source_id":   r.SourceID,
			"target_id":   r.TargetID,
			"rel_type":    types.CanonicalRelationType(r.Type),
			"description": r.Description,
			"keywords":    r.Keywords,
			"weight":      r.Weight,
			"source_ids":  r.SourceIDs,
			"created_at":  r.CreatedAt.Format(time.RFC3339),
			"updated_at":  r.UpdatedAt.Format(time.RFC3339),
		}
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MATCH (s:Entity {id: row.source_id})
			MATCH (t:Entity {id: row.target_id})
			MERGE (s)-[r:RELATED {rel_type: row.rel_type}]->(t)
			ON CREATE SET r.id = row.id, r.created_at = row.created_at, r.source_ids = []
			SET r.description = row.description,
			    r.keywords = row.keywords,
			    r.weight = CASE WHEN r.weight IS NULL OR row.weight > r.weight THEN row.weight ELSE r.weight END,
			    r.source_ids = [sid IN r.source_ids WHERE NOT sid IN row.source_ids] + row.source_ids,
			    r.updated_at = row.updated_at
		`, map[string]any{"rows": rows})
		return nil, err
	})
	if err != nil {
		return &types.StorageError{Op: "upsert relationships", Err: err}
	}
	return nil
}

// MergeEntities implements GraphStore. Edges move onto the survivor before
// the retired node is deleted, so no still-sourced relationship is lost; a
// re-pointed edge colliding with an existing triple merges into it.
func (s *Neo4jStore) MergeEntities(ctx context.Context, retired map[string]string) error {
	if len(retired) == 0 {
		return nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for loserID, survivorID := range retired {
			params := map[string]any{"loser": loserID, "survivor": survivorID}
			if _, err := tx.Run(ctx, `
				MATCH (loser:Entity {id: $loser})-[r:RELATED]->(t:Entity)
				WHERE t.id <> $survivor
				MATCH (survivor:Entity {id: $survivor})
				MERGE (survivor)-[merged:RELATED {rel_type: r.rel_type}]->(t)
				ON CREATE SET merged = properties(r)
				ON MATCH SET merged.source_ids = [sid IN merged.source_ids WHERE NOT sid IN r.source_ids] + r.source_ids,
				    merged.weight = CASE WHEN r.weight > merged.weight THEN r.weight ELSE merged.weight END
				DELETE r
			`, params); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, `
				MATCH (src:Entity)-[r:RELATED]->(loser:Entity {id: $loser})
				WHERE src.id <> $survivor
				MATCH (survivor:Entity {id: $survivor})
				MERGE (src)-[merged:RELATED {rel_type: r.rel_type}]->(survivor)
				ON CREATE SET merged = properties(r)
				ON MATCH SET merged.source_ids = [sid IN merged.source_ids WHERE NOT sid IN r.source_ids] + r.source_ids,
				    merged.weight = CASE WHEN r.weight > merged.weight THEN r.weight ELSE merged.weight END
				DELETE r
			`, params); err != nil {
				return nil, err
			}
			if _, err := tx.Run(ctx, `MATCH (e:Entity {id: $loser}) DETACH DELETE e`, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return &types.StorageError{Op: "merge entities", Err: err}
	}
	return nil
}

// ChunksByEmbedding implements GraphStore. The metadata predicate narrows the
// candidate set inside the store; similarity is computed over the survivors.
func (s *Neo4jStore) ChunksByEmbedding(ctx context.Context, embedding []float32, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error) {
	return s.chunkSimilarity(ctx, embedding, topK, restriction, nil)
}

// ChunksForDocuments implements GraphStore.
func (s *Neo4jStore) ChunksForDocuments(ctx context.Context, docIDs []string, embedding []float32, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	return s.chunkSimilarity(ctx, embedding, topK, restriction, docIDs)
}

func (s *Neo4jStore) chunkSimilarity(ctx context.Context, embedding []float32, topK int, restriction *metafilter.Restriction, docIDs []string) ([]*types.ScoredChunk, error) {
	query := `
		MATCH (c:Chunk)-[:PART_OF]->(d:Document)
		WHERE c.embedding IS NOT NULL`
	params := map[string]any{}
	if docIDs != nil {
		query += ` AND d.id IN $doc_ids`
		params["doc_ids"] = docIDs
	}
	if restriction != nil && restriction.Predicate != "" {
		query += ` AND ` + restriction.Predicate
		for k, v := range restriction.Params {
			params[k] = v
		}
	}
	query += `
		RETURN c`

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{Op: "chunk similarity", Err: err}
	}

	scored := make([]*types.ScoredChunk, 0)
	for _, record := range result.([]*db.Record) {
		node, ok := recordNode(record, "c")
		if !ok {
			continue
		}
		chunk := chunkFromNode(node)
		if len(chunk.Embedding) == 0 {
			continue
		}
		scored = append(scored, &types.ScoredChunk{
			Chunk: chunk,
			Score: float64(CosineSimilarity(embedding, chunk.Embedding)),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// ChunksByKeyword implements GraphStore using the chunk fulltext index.
func (s *Neo4jStore) ChunksByKeyword(ctx context.Context, query string, topK int, restriction *metafilter.Restriction) ([]*types.ScoredChunk, error) {
	cypher := `
		CALL db.index.fulltext.queryNodes('chunk_content', $query) YIELD node, score
		MATCH (node)-[:PART_OF]->(d:Document)`
	params := map[string]any{"query": query, "limit": topK}
	if restriction != nil && restriction.Predicate != "" {
		cypher += `
		WHERE ` + restriction.Predicate
		for k, v := range restriction.Params {
			params[k] = v
		}
	}
	cypher += `
		RETURN node AS c, score
		ORDER BY score DESC
		LIMIT $limit`

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{Op: "chunk keyword search", Err: err}
	}

	records := result.([]*db.Record)
	scored := make([]*types.ScoredChunk, 0, len(records))
	var maxScore float64
	for _, record := range records {
		if sc := recordFloat(record, "score"); sc > maxScore {
			maxScore = sc
		}
	}
	for _, record := range records {
		node, ok := recordNode(record, "c")
		if !ok {
			continue
		}
		score := recordFloat(record, "score")
		if maxScore > 0 {
			score /= maxScore
		}
		scored = append(scored, &types.ScoredChunk{Chunk: chunkFromNode(node), Score: score})
	}
	return scored, nil
}

// EntitiesByEmbedding implements GraphStore.
func (s *Neo4jStore) EntitiesByEmbedding(ctx context.Context, embedding []float32, topK int) ([]*types.ScoredEntity, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE e.embedding IS NOT NULL
			RETURN e
		`, nil)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{Op: "entity similarity", Err: err}
	}

	scored := make([]*types.ScoredEntity, 0)
	for _, entity := range entitiesFromRecords(result.([]*db.Record), "e") {
		if len(entity.Embedding) == 0 {
			continue
		}
		scored = append(scored, &types.ScoredEntity{
			Entity: entity,
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
func (s *Neo4jStore) Neighborhood(ctx context.Context, entityIDs []string, limit int) (*Neighborhood, error) {
	if len(entityIDs) == 0 {
		return &Neighborhood{}, nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity)-[r:RELATED]-(n:Entity)
			WHERE e.id IN $ids
			RETURN DISTINCT n, r, startNode(r).id AS source_id, endNode(r).id AS target_id
			LIMIT $limit
		`, map[string]any{"ids": entityIDs, "limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{Op: "neighborhood", Err: err}
	}

	out := &Neighborhood{}
	seenEntities := make(map[string]bool)
	seenEdges := make(map[string]bool)
	for _, record := range result.([]*db.Record) {
		if node, ok := recordNode(record, "n"); ok {
			entity := entityFromNode(node)
			if !seenEntities[entity.ID] {
				seenEntities[entity.ID] = true
				out.Entities = append(out.Entities, entity)
			}
		}
		relValue, found := record.Get("r")
		if !found {
			continue
		}
		rel, ok := relValue.(dbtype.Relationship)
		if !ok {
			continue
		}
		sourceID, _ := record.Get("source_id")
		targetID, _ := record.Get("target_id")
		edge := relationshipFromDB(rel, asString(sourceID), asString(targetID))
		if !seenEdges[edge.ID] {
			seenEdges[edge.ID] = true
			out.Relationships = append(out.Relationships, edge)
		}
	}
	return out, nil
}

// TopDegreeEntities implements GraphStore.
func (s *Neo4jStore) TopDegreeEntities(ctx context.Context, limit int) ([]*types.ScoredEntity, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity)
			OPTIONAL MATCH (e)-[r:RELATED]-()
			WITH e, count(r) AS degree
			ORDER BY degree DESC
			LIMIT $limit
			RETURN e, degree
		`, map[string]any{"limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{Op: "top degree entities", Err: err}
	}

	records := result.([]*db.Record)
	scored := make([]*types.ScoredEntity, 0, len(records))
	var maxDegree float64
	for _, record := range records {
		if d := float64(recordInt(record, "degree")); d > maxDegree {
			maxDegree = d
		}
	}
	for _, record := range records {
		node, ok := recordNode(record, "e")
		if !ok {
			continue
		}
		score := float64(recordInt(record, "degree"))
		if maxDegree > 0 {
			score /= maxDegree
		}
		scored = append(scored, &types.ScoredEntity{Entity: entityFromNode(node), Score: score})
	}
	return scored, nil
}

// EntityGraph implements GraphStore.
func (s *Neo4jStore) EntityGraph(ctx context.Context) ([]*types.Entity, []*types.Relationship, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (e:Entity) RETURN e`, nil)
		if err != nil {
			return nil, err
		}
		entityRecords, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx, `
			MATCH (s:Entity)-[r:RELATED]->(t:Entity)
			RETURN r, s.id AS source_id, t.id AS target_id
		`, nil)
		if err != nil {
			return nil, err
		}
		relRecords, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return [2][]*db.Record{entityRecords, relRecords}, nil
	})
	if err != nil {
		return nil, nil, &types.StorageError{Op: "entity graph", Err: err}
	}

	records := result.([2][]*db.Record)
	entities := entitiesFromRecords(records[0], "e")

	relationships := make([]*types.Relationship, 0, len(records[1]))
	for _, record := range records[1] {
		relValue, found := record.Get("r")
		if !found {
			continue
		}
		rel, ok := relValue.(dbtype.Relationship)
		if !ok {
			continue
		}
		sourceID, _ := record.Get("source_id")
		targetID, _ := record.Get("target_id")
		relationships = append(relationships, relationshipFromDB(rel, asString(sourceID), asString(targetID)))
	}
	return entities, relationships, nil
}

// ReplaceCommunities implements GraphStore.
func (s *Neo4jStore) ReplaceCommunities(ctx context.Context, communities []*types.Community) error {
	rows := make([]map[string]any, len(communities))
	for i, c := range communities {
		rows[i] = map[string]any{
			"id":         c.ID,
			"member_ids": c.MemberIDs,
			"summary":    c.Summary,
			"size":       c.Size,
			"updated_at": c.UpdatedAt.Format(time.RFC3339),
		}
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (c:Community) DETACH DELETE c`, nil); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		_, err := tx.Run(ctx, `
			UNWIND $rows AS row
			CREATE (c:Community {id: row.id})
			SET c.member_ids = row.member_ids,
			    c.summary = row.summary,
			    c.size = row.size,
			    c.updated_at = row.updated_at
		`, map[string]any{"rows": rows})
		return nil, err
	})
	if err != nil {
		return &types.StorageError{Op: "replace communities", Err: err}
	}
	return nil
}

// CommunitiesForEntities implements GraphStore.
func (s *Neo4jStore) CommunitiesForEntities(ctx context.Context, entityIDs []string) ([]*types.Community, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (c:Community)
			WHERE any(id IN $ids WHERE id IN c.member_ids)
			RETURN c
		`, map[string]any{"ids": entityIDs})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StorageError{Op: "communities for entities", Err: err}
	}

	records := result.([]*db.Record)
	communities := make([]*types.Community, 0, len(records))
	for _, record := range records {
		node, ok := recordNode(record, "c")
		if !ok {
			continue
		}
		communities = append(communities, communityFromNode(node))
	}
	return communities, nil
}

// Stats implements GraphStore.
func (s *Neo4jStore) Stats(ctx context.Context) (*types.GraphStats, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		stats := &types.GraphStats{EntityTypeDistribution: map[string]int64{}}

		res, err := tx.Run(ctx, `
			MATCH (d:Document) WITH count(d) AS docs
			MATCH (c:Chunk) WITH docs, count(c) AS chunks
			OPTIONAL MATCH (:Entity)-[r:RELATED]->(:Entity)
			RETURN docs, chunks, count(r) AS rels
		`, nil)
		if err != nil {
			return nil, err
		}
		if record, err := res.Single(ctx); err == nil {
			stats.DocumentCount = int64(recordInt(record, "docs"))
			stats.ChunkCount = int64(recordInt(record, "chunks"))
			stats.RelationshipCount = int64(recordInt(record, "rels"))
		}

		res, err = tx.Run(ctx, `
			MATCH (e:Entity)
			RETURN e.type AS type, count(e) AS total
		`, nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			typeValue, _ := record.Get("type")
			total := int64(recordInt(record, "total"))
			stats.EntityTypeDistribution[asString(typeValue)] = total
			stats.EntityCount += total
		}
		return stats, nil
	})
	if err != nil {
		return nil, &types.StorageError{Op: "stats", Err: err}
	}
	return result.(*types.GraphStats), nil
}

// Close implements GraphStore.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

var _ GraphStore = (*Neo4jStore)(nil)
