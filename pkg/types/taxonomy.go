package types

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// EntityTypeDef describes one entity type the extractor is allowed to emit.
type EntityTypeDef struct {
	TypeName    string   `json:"type_name" yaml:"type_name"`
	Description string   `json:"description" yaml:"description"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Validate enforces the type-name convention: lowercase, no spaces.
func (d *EntityTypeDef) Validate() error {
	if d.TypeName == "" {
		return ErrEmptyType
	}
	if d.TypeName != strings.ToLower(d.TypeName) {
		return &ValidationError{Field: "type_name", Reason: "must be lowercase"}
	}
	if strings.Contains(d.TypeName, " ") {
		return &ValidationError{Field: "type_name", Reason: "cannot contain spaces"}
	}
	return nil
}

// Taxonomy is a versioned, immutable snapshot of the entity-type
// configuration. A snapshot is passed into each extraction call, so an
// in-flight extraction never observes a half-updated taxonomy.
type Taxonomy struct {
	version int64
	types   []EntityTypeDef
	byName  map[string]EntityTypeDef
}

// NewTaxonomy builds a snapshot from type definitions. Definitions are
// validated and copied; the snapshot never changes afterwards.
func NewTaxonomy(version int64, defs []EntityTypeDef) (*Taxonomy, error) {
	if len(defs) == 0 {
		return nil, &ValidationError{Field: "entity_types", Reason: "at least one entity type is required"}
	}
	byName := make(map[string]EntityTypeDef, len(defs))
	copied := make([]EntityTypeDef, len(defs))
	for i, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, exists := byName[def.TypeName]; exists {
			return nil, &ValidationError{Field: "type_name", Reason: fmt.Sprintf("duplicate entity type %q", def.TypeName)}
		}
		byName[def.TypeName] = def
		copied[i] = def
	}
	return &Taxonomy{version: version, types: copied, byName: byName}, nil
}

// LoadTaxonomy reads a versioned taxonomy from a YAML file. A file without an
// explicit version gets version 1.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}
	var raw struct {
		Version     int64           `yaml:"version"`
		EntityTypes []EntityTypeDef `yaml:"entity_types"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if raw.Version <= 0 {
		raw.Version = 1
	}
	return NewTaxonomy(raw.Version, raw.EntityTypes)
}

// Version returns the snapshot version.
func (t *Taxonomy) Version() int64 { return t.version }

// Types returns the type definitions in configured order.
func (t *Taxonomy) Types() []EntityTypeDef {
	out := make([]EntityTypeDef, len(t.types))
	copy(out, t.types)
	return out
}

// TypeNames returns the configured type names in order.
func (t *Taxonomy) TypeNames() []string {
	names := make([]string, len(t.types))
	for i, def := range t.types {
		names[i] = def.TypeName
	}
	return names
}

// Lookup returns the definition for name, if configured.
func (t *Taxonomy) Lookup(name string) (EntityTypeDef, bool) {
	def, ok := t.byName[strings.ToLower(name)]
	return def, ok
}

// TaxonomyHolder holds the current taxonomy snapshot and swaps it atomically.
// Readers grab a snapshot once per ingestion call and keep using it even if
// the configuration is updated mid-flight.
type TaxonomyHolder struct {
	current atomic.Pointer[Taxonomy]
}

// NewTaxonomyHolder creates a holder with an initial snapshot.
func NewTaxonomyHolder(initial *Taxonomy) *TaxonomyHolder {
	h := &TaxonomyHolder{}
	h.current.Store(initial)
	return h
}

// Current returns the active snapshot.
func (h *TaxonomyHolder) Current() *Taxonomy {
	return h.current.Load()
}

// Swap installs a new snapshot. The new version must be greater than the
// current one so stale updates are rejected.
func (h *TaxonomyHolder) Swap(next *Taxonomy) error {
	for {
		cur := h.current.Load()
		if cur != nil && next.version <= cur.version {
			return &ValidationError{Field: "taxonomy_version", Reason: fmt.Sprintf("version %d is not newer than %d", next.version, cur.version)}
		}
		if h.current.CompareAndSwap(cur, next) {
			return nil
		}
	}
}
