// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// RelationshipType categorizes an edge between two papers.
type RelationshipType string

const (
	// RelCites links a citing paper (source) to the cited paper (target).
	RelCites RelationshipType = "CITES"

	// RelSimilar links two papers whose embeddings are close. Stored once
	// per unordered pair with the lower id as source.
	RelSimilar RelationshipType = "SIMILAR"
)

// Valid reports whether t belongs to the known vocabulary.
func (t RelationshipType) Valid() bool {
	return t == RelCites || t == RelSimilar
}

// Undirected reports whether the edge type has no inherent direction.
func (t RelationshipType) Undirected() bool {
	return t == RelSimilar
}

// Relationship is one gold-layer edge.
type Relationship struct {
	SourcePaperID int64            `json:"source_paper_id" yaml:"source_paper_id"`
	TargetPaperID int64            `json:"target_paper_id" yaml:"target_paper_id"`
	Type          RelationshipType `json:"relationship_type" yaml:"relationship_type"`

	// Strength is a confidence in [0, 1]. CITES edges carry 1.0, SIMILAR
	// edges carry the cosine similarity.
	Strength float64 `json:"strength" yaml:"strength"`

	// CreatedAt is set on insert and never changes afterwards.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// RelationshipKey is the unique identity of an edge.
type RelationshipKey struct {
	SourcePaperID int64
	TargetPaperID int64
	Type          RelationshipType
}

// Key returns the identity triple of r.
func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{SourcePaperID: r.SourcePaperID, TargetPaperID: r.TargetPaperID, Type: r.Type}
}

// Validate checks the edge invariants that hold for every stored row.
func (r Relationship) Validate() error {
	if r.SourcePaperID <= 0 || r.TargetPaperID <= 0 {
		return fmt.Errorf("%w: relationship endpoints must be positive ids (%d -> %d)",
			ErrInvalidInput, r.SourcePaperID, r.TargetPaperID)
	}
	if r.SourcePaperID == r.TargetPaperID {
		return fmt.Errorf("%w: self relationship on paper %d", ErrInvalidInput, r.SourcePaperID)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown relationship type %q", ErrInvalidInput, r.Type)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("%w: strength %v outside [0, 1]", ErrInvalidInput, r.Strength)
	}
	if r.Type.Undirected() && r.SourcePaperID > r.TargetPaperID {
		return fmt.Errorf("%w: %s edge %d -> %d is not in canonical order",
			ErrInvalidInput, r.Type, r.SourcePaperID, r.TargetPaperID)
	}
	return nil
}

// NewCitation builds a CITES edge from citing to cited.
func NewCitation(citing, cited int64) Relationship {
	return Relationship{SourcePaperID: citing, TargetPaperID: cited, Type: RelCites, Strength: 1.0}
}

// NewSimilarity builds a canonical SIMILAR edge between a and b.
func NewSimilarity(a, b int64, similarity float64) Relationship {
	if a > b {
		a, b = b, a
	}
	return Relationship{SourcePaperID: a, TargetPaperID: b, Type: RelSimilar, Strength: clampUnit(similarity)}
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// UpsertOutcome reports what an upsert did to the edge table.
type UpsertOutcome int

const (
	UpsertUnchanged UpsertOutcome = iota
	UpsertInserted
	UpsertUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// PendingReference is a citation whose target paper has not been ingested
// yet. It is keyed by the normalized external identifier of the target.
type PendingReference struct {
	ID               int64     `json:"id" yaml:"id"`
	SourcePaperID    int64     `json:"source_paper_id" yaml:"source_paper_id"`
	TargetExternalID string    `json:"target_external_id" yaml:"target_external_id"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at"`
}

// StoreStats summarizes row counts per layer.
type StoreStats struct {
	RawRecords        int            `json:"raw_records" yaml:"raw_records"`
	Papers            int            `json:"papers" yaml:"papers"`
	EmbeddedPapers    int            `json:"embedded_papers" yaml:"embedded_papers"`
	Relationships     map[string]int `json:"relationships" yaml:"relationships"`
	PendingReferences int            `json:"pending_references" yaml:"pending_references"`
}
