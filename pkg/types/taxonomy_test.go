package types

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaxonomyValidation(t *testing.T) {
	t.Run("rejects empty type list", func(t *testing.T) {
		_, err := NewTaxonomy(1, nil)
		assert.Error(t, err)
	})

	t.Run("rejects uppercase names", func(t *testing.T) {
		_, err := NewTaxonomy(1, []EntityTypeDef{{TypeName: "Person"}})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := NewTaxonomy(1, []EntityTypeDef{
			{TypeName: "person"},
			{TypeName: "person"},
		})
		assert.Error(t, err)
	})
}

func TestTaxonomyLookupIsCaseInsensitive(t *testing.T) {
	tax, err := NewTaxonomy(1, []EntityTypeDef{{TypeName: "organization", Description: "a company"}})
	require.NoError(t, err)

	def, ok := tax.Lookup("Organization")
	require.True(t, ok)
	assert.Equal(t, "a company", def.Description)

	_, ok = tax.Lookup("planet")
	assert.False(t, ok)
}

func TestTaxonomyHolderRejectsStaleSwap(t *testing.T) {
	v1, err := NewTaxonomy(1, []EntityTypeDef{{TypeName: "person"}})
	require.NoError(t, err)
	v2, err := NewTaxonomy(2, []EntityTypeDef{{TypeName: "person"}, {TypeName: "location"}})
	require.NoError(t, err)

	holder := NewTaxonomyHolder(v1)
	require.NoError(t, holder.Swap(v2))
	assert.Error(t, holder.Swap(v1))
	assert.Equal(t, int64(2), holder.Current().Version())
}

func TestLoadTaxonomy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	content := `version: 3
entity_types:
  - type_name: person
    description: People mentioned in documents
    examples: ["Jane Smith"]
  - type_name: organization
    description: Companies and institutions
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tax.Version())
	assert.Equal(t, []string{"person", "organization"}, tax.TypeNames())

	_, err = LoadTaxonomy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
