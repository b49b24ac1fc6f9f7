// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/papergraph/pkg/types"
)

func TestNormalizeArxiv(t *testing.T) {
	raw := json.RawMessage(`{
		"entry_id": "http://arxiv.org/abs/2301.07041v2",
		"title": "Attention  Is\n  All You Need",
		"summary": "We propose\na new architecture.",
		"doi": "10.48550/ARXIV.2301.07041",
		"authors": ["A. Author"],
		"references": [
			"arXiv:1706.03762v5",
			{"arxiv_id": null, "doi": "10.1000/XYZ", "title": "Some paper"},
			{"ss_paper_id": "ABCDEF0123456789ABCDEF0123456789ABCDEF01"},
			{"arxiv_id": "1706.03762"},
			{"title": "No identifiers"}
		],
		"citations": [{"arxiv_id": "2402.00001v1"}]
	}`)

	p, err := NormalizeArxiv(raw)
	require.NoError(t, err)
	assert.Equal(t, "2301.07041", p.ArxivID)
	assert.Equal(t, "10.48550/arxiv.2301.07041", p.SecondaryID)
	assert.Equal(t, "Attention Is All You Need", p.Title)
	assert.Equal(t, "We propose a new architecture.", p.Abstract)
	assert.Equal(t, []string{"1706.03762", "10.1000/xyz", "abcdef0123456789abcdef0123456789abcdef01"}, p.ReferenceList)
	assert.Equal(t, []string{"2402.00001"}, p.CitationList)
	assert.Equal(t, types.PaperSchemaVersion, p.SchemaVersion)
}

func TestNormalizeArxiv_SecondaryFallsBackToSemanticScholar(t *testing.T) {
	p, err := NormalizeArxiv(json.RawMessage(`{"entry_id": "2301.00001", "summary": "x", "ss_paper_id": "ABCDEF0123456789ABCDEF0123456789ABCDEF01"}`))
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", p.SecondaryID)
}

func TestNormalizeArxiv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"entry_id": `},
		{"no identifier", `{"summary": "text"}`},
		{"empty abstract", `{"entry_id": "2301.00001", "summary": "  "}`},
		{"entry id not arxiv", `{"entry_id": "dummy123", "summary": "text"}`},
		{"bad reference", `{"entry_id": "2301.00001", "summary": "t", "references": [42]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeArxiv(json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
}

func TestReferenceIdentifier(t *testing.T) {
	tests := []struct {
		ref  Reference
		want string
	}{
		{Reference{ArxivID: "arXiv:2301.00001v3", DOI: "10.1/x"}, "2301.00001"},
		{Reference{DOI: "https://doi.org/10.1000/ABC"}, "10.1000/abc"},
		{Reference{Title: "only a title"}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ref.Identifier())
	}
}
