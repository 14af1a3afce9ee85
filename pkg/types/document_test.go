package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to DocumentStatus
		ok       bool
	}{
		{DocumentPending, DocumentProcessing, true},
		{DocumentPending, DocumentIndexed, false},
		{DocumentProcessing, DocumentIndexed, true},
		{DocumentProcessing, DocumentFailed, true},
		{DocumentProcessing, DocumentProcessing, false},
		{DocumentIndexed, DocumentProcessing, true},
		{DocumentIndexed, DocumentFailed, false},
		{DocumentFailed, DocumentProcessing, true},
		{DocumentFailed, DocumentIndexed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestDocumentValidate(t *testing.T) {
	assert.ErrorIs(t, (&Document{}).Validate(), ErrEmptyDocID)
	assert.NoError(t, (&Document{ID: "doc-1"}).Validate())
}

func TestTextChunkValidate(t *testing.T) {
	assert.ErrorIs(t, (&TextChunk{Content: "x"}).Validate(), ErrEmptyDocID)
	assert.ErrorIs(t, (&TextChunk{DocID: "doc-1"}).Validate(), ErrEmptyContent)
	assert.NoError(t, (&TextChunk{DocID: "doc-1", Content: "x"}).Validate())
}
