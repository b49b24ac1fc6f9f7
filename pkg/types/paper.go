// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the papergraph store,
// the similarity index, and the graph builder.
package types

import (
	"encoding/json"
	"time"
)

// PaperSchemaVersion is the version tag written on every normalized paper
// record. Bump it when the meaning of a stored column changes.
const PaperSchemaVersion = 1

// DefaultEmbeddingDimensions is the vector length produced by the
// all-MiniLM-L6-v2 family of models.
const DefaultEmbeddingDimensions = 384

// RawRecord is one bronze-layer row: a source payload stored as fetched.
type RawRecord struct {
	// ID is assigned by the store on insert.
	ID int64 `json:"id" yaml:"id"`

	// Source names the upstream system (e.g. "arxiv").
	Source string `json:"source" yaml:"source"`

	// ExternalID is the upstream identifier, when the payload carries one.
	ExternalID string `json:"external_id,omitempty" yaml:"external_id,omitempty"`

	// Payload is the raw JSON document.
	Payload json.RawMessage `json:"payload" yaml:"-"`

	IngestedAt time.Time `json:"ingested_at" yaml:"ingested_at"`
}

// Paper is one normalized publication (the silver layer).
type Paper struct {
	// ID is assigned by the store on first insert and never changes.
	ID int64 `json:"id" yaml:"id"`

	// ArxivID is the normalized arXiv identifier (e.g. "2301.07041").
	ArxivID string `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`

	// SecondaryID is a normalized non-arXiv identifier such as a DOI or a
	// Semantic Scholar paper id.
	SecondaryID string `json:"secondary_id,omitempty" yaml:"secondary_id,omitempty"`

	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	Abstract   string `json:"abstract" yaml:"abstract"`
	Conclusion string `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`

	// ReferenceList holds identifiers of papers this one cites, as known at
	// ingestion time.
	ReferenceList []string `json:"reference_list,omitempty" yaml:"reference_list,omitempty"`

	// CitationList holds identifiers of papers citing this one.
	CitationList []string `json:"citation_list,omitempty" yaml:"citation_list,omitempty"`

	// Embedding is nil until the embedding provider has processed the paper.
	Embedding []float32 `json:"embedding,omitempty" yaml:"-"`

	SchemaVersion int       `json:"schema_version" yaml:"schema_version"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// HasEmbedding reports whether the paper carries a vector.
func (p *Paper) HasEmbedding() bool {
	return len(p.Embedding) > 0
}

// ExternalIDs returns the paper's non-empty identifiers.
func (p *Paper) ExternalIDs() []string {
	var ids []string
	if p.ArxivID != "" {
		ids = append(ids, p.ArxivID)
	}
	if p.SecondaryID != "" && p.SecondaryID != p.ArxivID {
		ids = append(ids, p.SecondaryID)
	}
	return ids
}
