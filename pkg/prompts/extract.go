// Package prompts builds the LLM prompts used by the extraction pipeline.
// Prompt builders take a taxonomy snapshot so the type definitions and
// few-shot examples embedded in the prompt always come from one consistent
// configuration version.
package prompts

import (
	"fmt"
	"strings"

	"github.com/twattier/rag-engine/pkg/llm"
	"github.com/twattier/rag-engine/pkg/types"
)

const extractSystemPrompt = `You are an expert entity and relationship extraction system.
You extract entities of the configured types and the relationships between them from document text, and you respond with valid JSON only.`

const extractResponseFormat = `Respond with a JSON object of this exact shape:
{
  "entities": [
    {"name": "...", "type": "...", "description": "...", "confidence": 0.0}
  ],
  "relationships": [
    {"source": "...", "target": "...", "type": "...", "description": "...", "keywords": "...", "confidence": 0.0}
  ]
}
Rules:
- "type" of an entity must be one of the configured entity types.
- "source" and "target" of a relationship must be entity names from the "entities" list.
- "type" of a relationship is a short label such as "employed_by" or "depends_on".
- "confidence" is your certainty in [0,1].
- Return {"entities": [], "relationships": []} if nothing is found.`

// ExtractEntities builds the per-chunk extraction prompt embedding the
// taxonomy definitions and their examples.
func ExtractEntities(taxonomy *types.Taxonomy, chunkText string) []llm.Message {
	var b strings.Builder
	b.WriteString("Extract entities and relationships from the text below.\n\nEntity types:\n")
	for _, def := range taxonomy.Types() {
		fmt.Fprintf(&b, "- %s: %s", def.TypeName, def.Description)
		if len(def.Examples) > 0 {
			fmt.Fprintf(&b, " (examples: %s)", strings.Join(def.Examples, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(extractResponseFormat)
	b.WriteString("\n\n<TEXT>\n")
	b.WriteString(chunkText)
	b.WriteString("\n</TEXT>")

	return []llm.Message{
		{Role: llm.RoleSystem, Content: extractSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// ExtractEntitiesStrict builds the retry prompt used after a malformed
// response: same task, tightened output instructions.
func ExtractEntitiesStrict(taxonomy *types.Taxonomy, chunkText string) []llm.Message {
	messages := ExtractEntities(taxonomy, chunkText)
	messages[0].Content += "\nYour previous answer was not parseable. Respond with ONLY the JSON object, no prose, no markdown fences, no commentary."
	return messages
}
