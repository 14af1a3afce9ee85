/*
Package extraction turns a document's text chunks into candidate entities and
relationships using LLM-guided extraction constrained by the configured
entity-type taxonomy.

Chunks are independent and extracted in parallel by the caller. A malformed
LLM response is repaired where possible, retried once with a stricter prompt,
and otherwise the chunk is marked failed without failing the document.
*/
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"

	"github.com/twattier/rag-engine/pkg/llm"
	"github.com/twattier/rag-engine/pkg/prompts"
	"github.com/twattier/rag-engine/pkg/resilience"
	"github.com/twattier/rag-engine/pkg/types"
)

// Config parameterizes the extractor.
type Config struct {
	// MinConfidence discards candidates below this threshold (default 0.5).
	MinConfidence float64
}

// ChunkResult holds the candidates extracted from one chunk.
type ChunkResult struct {
	ChunkIndex    int
	Entities      []*types.CandidateEntity
	Relationships []*types.CandidateRelationship
	// Failed is set when the chunk's extraction failed after the stricter
	// retry; the rest of the document continues.
	Failed bool
	Err    error
}

// Extractor runs LLM extraction per chunk.
type Extractor struct {
	llm      llm.Client
	executor *resilience.Executor
	config   Config
	logger   *slog.Logger
}

// New creates an Extractor. The executor wraps every generation call with
// retry and circuit breaking.
func New(llmClient llm.Client, executor *resilience.Executor, config Config, logger *slog.Logger) *Extractor {
	if config.MinConfidence <= 0 {
		config.MinConfidence = 0.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: llmClient, executor: executor, config: config, logger: logger}
}

// ExtractChunk extracts candidates from a single chunk using the given
// taxonomy snapshot. A first malformed response triggers one stricter-prompt
// retry; a second failure marks the chunk failed.
func (e *Extractor) ExtractChunk(ctx context.Context, taxonomy *types.Taxonomy, chunk *types.TextChunk) *ChunkResult {
	result := &ChunkResult{ChunkIndex: chunk.Index}

	raw, err := e.generate(ctx, prompts.ExtractEntities(taxonomy, chunk.Content))
	if err != nil {
		result.Failed = true
		result.Err = &types.ExtractionError{DocID: chunk.DocID, ChunkIndex: chunk.Index, Err: err}
		return result
	}

	parsed, parseErr := parseResponse(raw)
	if parseErr != nil {
		e.logger.Warn("unparseable extraction response, retrying with strict prompt",
			"doc_id", chunk.DocID, "chunk", chunk.Index, "error", parseErr)

		raw, err = e.generate(ctx, prompts.ExtractEntitiesStrict(taxonomy, chunk.Content))
		if err == nil {
			parsed, parseErr = parseResponse(raw)
		} else {
			parseErr = err
		}
		if parseErr != nil {
			result.Failed = true
			result.Err = &types.ExtractionError{DocID: chunk.DocID, ChunkIndex: chunk.Index, Err: parseErr}
			return result
		}
	}

	result.Entities, result.Relationships = e.toCandidates(parsed, taxonomy, chunk)
	return result
}

func (e *Extractor) generate(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := resilience.DoValue(ctx, e.executor, func(ctx context.Context) (*llm.Response, error) {
		return e.llm.Generate(ctx, messages)
	})
	if err != nil {
		return "", &types.CollaboratorError{Collaborator: "llm", Err: err}
	}
	return resp.Content, nil
}

// rawExtraction mirrors the JSON shape requested from the model.
type rawExtraction struct {
	Entities      []rawEntity       `json:"entities"`
	Relationships []rawRelationship `json:"relationships"`
}

type rawEntity struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

type rawRelationship struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Keywords    string  `json:"keywords"`
	Confidence  float64 `json:"confidence"`
}

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSON   = regexp.MustCompile(`(?s)\{.*\}`)
)

// parseResponse extracts the JSON object from a model response, repairing
// minor syntax damage before giving up.
func parseResponse(content string) (*rawExtraction, error) {
	jsonStr := content
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		jsonStr = m[1]
	} else if m := bareJSON.FindString(content); m != "" {
		jsonStr = m
	}

	var parsed rawExtraction
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(jsonStr)
		if repairErr != nil {
			return nil, fmt.Errorf("response is not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil, fmt.Errorf("repaired response is not valid JSON: %w", err)
		}
	}
	return &parsed, nil
}

// toCandidates converts the parsed response into candidates, dropping
// empty-name entities, below-threshold confidences and unknown types.
func (e *Extractor) toCandidates(parsed *rawExtraction, taxonomy *types.Taxonomy, chunk *types.TextChunk) ([]*types.CandidateEntity, []*types.CandidateRelationship) {
	entities := make([]*types.CandidateEntity, 0, len(parsed.Entities))
	kept := make(map[string]bool)

	for _, raw := range parsed.Entities {
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			continue
		}
		if raw.Confidence < e.config.MinConfidence {
			e.logger.Debug("discarding low-confidence candidate",
				"name", name, "confidence", raw.Confidence, "doc_id", chunk.DocID)
			continue
		}
		typeName := strings.ToLower(strings.TrimSpace(raw.Type))
		if _, ok := taxonomy.Lookup(typeName); !ok {
			e.logger.Debug("discarding candidate with unknown type",
				"name", name, "type", raw.Type, "doc_id", chunk.DocID)
			continue
		}

		entities = append(entities, &types.CandidateEntity{
			Name:        name,
			Type:        typeName,
			Description: strings.TrimSpace(raw.Description),
			Confidence:  raw.Confidence,
			DocID:       chunk.DocID,
			ChunkIndex:  chunk.Index,
			TextSpan:    findTextSpan(name, chunk.Content),
		})
		kept[strings.ToLower(name)] = true
	}

	relationships := make([]*types.CandidateRelationship, 0, len(parsed.Relationships))
	for _, raw := range parsed.Relationships {
		source := strings.TrimSpace(raw.Source)
		target := strings.TrimSpace(raw.Target)
		if source == "" || target == "" || source == target {
			continue
		}
		// Only keep edges whose endpoints survived entity filtering.
		if !kept[strings.ToLower(source)] || !kept[strings.ToLower(target)] {
			continue
		}
		relationships = append(relationships, &types.CandidateRelationship{
			SourceName:  source,
			TargetName:  target,
			Type:        raw.Type,
			Description: strings.TrimSpace(raw.Description),
			Keywords:    strings.TrimSpace(raw.Keywords),
			Confidence:  raw.Confidence,
			DocID:       chunk.DocID,
			ChunkIndex:  chunk.Index,
		})
	}

	return entities, relationships
}

// findTextSpan locates the entity surface form in the chunk text, returning
// char offsets or "not found" for paraphrased mentions.
func findTextSpan(name, text string) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(name))
	if idx < 0 {
		return "not found"
	}
	return fmt.Sprintf("char %d-%d", idx, idx+len(name))
}
