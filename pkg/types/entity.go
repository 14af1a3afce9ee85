package types

import (
	"strings"
	"time"
)

// Entity is a canonical graph node: the single merged node representing all
// mentions of the same real-world concept across documents. Names are unique
// within a type after resolution.
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	SourceIDs   []string  `json:"source_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the Entity required fields.
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if e.Type == "" {
		return ErrEmptyType
	}
	return nil
}

// AddSourceID appends docID to SourceIDs if not already present.
func (e *Entity) AddSourceID(docID string) {
	for _, id := range e.SourceIDs {
		if id == docID {
			return
		}
	}
	e.SourceIDs = append(e.SourceIDs, docID)
}

// Relationship is a directed, typed edge between two canonical entities.
// Both endpoints must exist before the edge is visible. Multiple extractions
// of the same (source, type, target) triple are merged, not duplicated.
type Relationship struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	TargetID    string    `json:"target_id"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Keywords    string    `json:"keywords,omitempty"`
	Weight      float64   `json:"weight"`
	SourceIDs   []string  `json:"source_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the Relationship required fields and weight range.
func (r *Relationship) Validate() error {
	if r.SourceID == "" || r.TargetID == "" {
		return ErrEmptyName
	}
	if r.Weight < 0 || r.Weight > 1 {
		return ErrInvalidWeight
	}
	return nil
}

// TripleKey identifies the merge unit for relationships: the canonicalized
// (source, type, target) triple.
func (r *Relationship) TripleKey() string {
	return r.SourceID + "|" + CanonicalRelationType(r.Type) + "|" + r.TargetID
}

// AddSourceID appends docID to SourceIDs if not already present.
func (r *Relationship) AddSourceID(docID string) {
	for _, id := range r.SourceIDs {
		if id == docID {
			return
		}
	}
	r.SourceIDs = append(r.SourceIDs, docID)
}

// CanonicalRelationType normalizes a free-form relationship label emitted by
// the LLM into UPPER_SNAKE form. The label vocabulary itself stays open.
func CanonicalRelationType(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "RELATED_TO"
	}
	var b strings.Builder
	prevUnderscore := false
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 32)
			prevUnderscore = false
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "RELATED_TO"
	}
	return out
}

// CandidateEntity is an entity mention produced by the extractor before
// resolution. Many candidates may map to one canonical entity.
type CandidateEntity struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
	DocID       string  `json:"doc_id"`
	ChunkIndex  int     `json:"chunk_index"`
	// TextSpan records char offsets of the surface form when it appears
	// verbatim in the chunk, e.g. "char 245-260".
	TextSpan string `json:"text_span,omitempty"`
}

// CandidateRelationship is a relationship mention produced by the extractor,
// referencing candidate entities by name within the same document.
type CandidateRelationship struct {
	SourceName  string  `json:"source_name"`
	TargetName  string  `json:"target_name"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Keywords    string  `json:"keywords,omitempty"`
	Confidence  float64 `json:"confidence"`
	DocID       string  `json:"doc_id"`
	ChunkIndex  int     `json:"chunk_index"`
}
