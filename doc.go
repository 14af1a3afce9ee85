/*
Package ragengine turns document text into a queryable entity-relationship
graph and answers natural-language queries over it by combining dense vector
similarity, sparse lexical matching, graph traversal, metadata pre-filtering
and optional cross-encoder reranking.

Ingestion path: LLM-guided extraction per chunk (bounded worker pool),
incremental entity resolution against persisted canonicals, batched
transactional graph construction. Query path: metadata filter compilation,
hybrid retrieval orchestration, reranking with graceful degradation, result
assembly with a latency breakdown.

The Client wires the subsystems under pkg/ together; each subsystem is usable
on its own.
*/
package ragengine
