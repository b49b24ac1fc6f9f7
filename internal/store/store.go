// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists the three papergraph layers: raw records
// (bronze), normalized papers (silver) and relationship edges plus pending
// references (gold). SQLite and PostgreSQL backends implement Store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pdiddy/papergraph/pkg/types"
)

const (
	defaultTimeout = 30 * time.Second

	// scanPageSize is the number of papers fetched per page by ScanPapers.
	scanPageSize = 500

	// inClauseChunk bounds the number of ids bound into one IN (...) list.
	inClauseChunk = 500

	// strengthEpsilon is the tolerance under which two strengths are equal
	// and an upsert leaves the row untouched.
	strengthEpsilon = 1e-9
)

// Store is the Record Store contract. Every call is atomic on its own and
// bounded by the configured timeout; a call that runs past it fails with
// types.ErrTimeout.
type Store interface {
	// InsertRaw appends a bronze record and returns its id.
	InsertRaw(ctx context.Context, rec *types.RawRecord) (int64, error)

	// InsertPaper inserts p, or merges it into the existing row matched by
	// either external identifier, and returns the paper id. It fails with
	// types.ErrConstraintViolation when the two identifiers belong to two
	// different papers and with types.ErrInvalidInput when the abstract
	// is empty.
	InsertPaper(ctx context.Context, p *types.Paper) (int64, error)

	// GetPaper returns the paper or types.ErrNotFound.
	GetPaper(ctx context.Context, id int64) (*types.Paper, error)

	// GetPapers returns the papers among ids that exist, ordered by id.
	GetPapers(ctx context.Context, ids []int64) ([]types.Paper, error)

	// ResolveExternalID maps an arXiv id, DOI or secondary id to a paper
	// id, or returns types.ErrNotFound.
	ResolveExternalID(ctx context.Context, externalID string) (int64, error)

	// UpdateEmbedding sets (or clears, when vec is nil) a paper's vector.
	UpdateEmbedding(ctx context.Context, id int64, vec []float32) error

	// ScanPapers calls fn for every paper in id order, one page at a time.
	ScanPapers(ctx context.Context, fn func(*types.Paper) error) error

	// ListUnembedded returns up to limit papers with an abstract and no
	// embedding, in id order.
	ListUnembedded(ctx context.Context, limit int) ([]types.Paper, error)

	// UpsertRelationship inserts rel or updates its strength when it
	// differs from the stored one.
	UpsertRelationship(ctx context.Context, rel types.Relationship) (types.UpsertOutcome, error)

	// GetRelationship returns one edge or types.ErrNotFound.
	GetRelationship(ctx context.Context, key types.RelationshipKey) (*types.Relationship, error)

	// ListRelationships returns edges matching filter ordered by
	// (source, target, type).
	ListRelationships(ctx context.Context, filter RelationshipFilter) ([]types.Relationship, error)

	// RelationshipsTouching returns every edge with at least one endpoint
	// in ids.
	RelationshipsTouching(ctx context.Context, ids []int64) ([]types.Relationship, error)

	// AddPendingReference records an unresolved citation. It reports
	// false when the entry already existed.
	AddPendingReference(ctx context.Context, ref types.PendingReference) (bool, error)

	// ScanPendingReferences lists pending entries for one target
	// identifier, or all of them when targetExternalID is empty.
	ScanPendingReferences(ctx context.Context, targetExternalID string) ([]types.PendingReference, error)

	// ClearPendingReference deletes one pending entry.
	ClearPendingReference(ctx context.Context, ref types.PendingReference) error

	// ResolvePendingReferences claims every pending entry whose target is
	// one of targetExternalIDs, upserts a CITES edge from each entry's
	// source to targetPaperID, and deletes the entries, all in one
	// transaction. Only one concurrent caller can claim a given entry.
	ResolvePendingReferences(ctx context.Context, targetExternalIDs []string, targetPaperID int64) ([]types.PendingReference, error)

	// CountPendingReferences returns the number of pending entries.
	CountPendingReferences(ctx context.Context) (int, error)

	// Stats returns row counts per layer.
	Stats(ctx context.Context) (types.StoreStats, error)

	// Close releases the underlying connections.
	Close() error
}

// RelationshipFilter narrows ListRelationships. Zero fields match all.
type RelationshipFilter struct {
	// PaperID matches edges where the paper is either endpoint.
	PaperID int64

	Type types.RelationshipType
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg types.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case types.DriverSQLite, "":
		return NewSQLite(cfg)
	case types.DriverPostgres:
		return NewPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported store driver %q", types.ErrInvalidInput, cfg.Driver)
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

// deadlineError maps a context deadline to types.ErrTimeout, keeping the
// original cause in the chain. It returns nil when err is not a deadline.
func deadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", types.ErrTimeout, err)
	}
	return nil
}

func sameStrength(a, b float64) bool {
	return math.Abs(a-b) <= strengthEpsilon
}

func validatePaper(p *types.Paper) error {
	if p == nil {
		return fmt.Errorf("%w: nil paper", types.ErrInvalidInput)
	}
	if p.Abstract == "" {
		return fmt.Errorf("%w: paper abstract is required", types.ErrInvalidInput)
	}
	if err := validateEmbedding(p.ID, p.Embedding); err != nil {
		return err
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = types.PaperSchemaVersion
	}
	return nil
}

// validateEmbedding rejects non-empty vectors with zero norm or non-finite
// components. An empty vector clears the embedding.
func validateEmbedding(id int64, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	for _, x := range vec {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: paper %d embedding has a non-finite component", types.ErrInvalidInput, id)
		}
	}
	if isZero(vec) {
		return fmt.Errorf("%w: paper %d has a zero embedding", types.ErrInvalidInput, id)
	}
	return nil
}

func isZero(vec []float32) bool {
	for _, x := range vec {
		if x != 0 {
			return false
		}
	}
	return true
}

func encodeStrings(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encoding list: %w", err)
	}
	return string(data), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decoding list: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

func chunkIDs(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for len(ids) > 0 {
		n := min(size, len(ids))
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
