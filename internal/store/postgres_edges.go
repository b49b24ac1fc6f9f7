// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pdiddy/papergraph/internal/ident"
	"github.com/pdiddy/papergraph/pkg/types"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the edge helpers use.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpsertRelationship inserts rel or updates its strength. The row is left
// untouched when the strength is unchanged.
func (s *Postgres) UpsertRelationship(ctx context.Context, rel types.Relationship) (types.UpsertOutcome, error) {
	if err := rel.Validate(); err != nil {
		return types.UpsertUnchanged, err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.upsertRelationship(ctx, s.pool, rel)
}

func (s *Postgres) upsertRelationship(ctx context.Context, q querier, rel types.Relationship) (types.UpsertOutcome, error) {
	var inserted bool
	err := q.QueryRow(ctx,
		`INSERT INTO relationships (`+relationshipColumns+`)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (source_paper_id, target_paper_id, relationship_type) DO UPDATE
		   SET strength = EXCLUDED.strength, updated_at = now()
		   WHERE abs(relationships.strength - EXCLUDED.strength) > $5
		 RETURNING (xmax = 0)`,
		rel.SourcePaperID, rel.TargetPaperID, string(rel.Type), rel.Strength, strengthEpsilon,
	).Scan(&inserted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return types.UpsertUnchanged, nil
	case err != nil:
		return types.UpsertUnchanged, s.translate("upserting relationship", err)
	case inserted:
		return types.UpsertInserted, nil
	default:
		return types.UpsertUpdated, nil
	}
}

func collectPostgresRelationships(rows pgx.Rows) ([]types.Relationship, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Relationship, error) {
		var (
			r       types.Relationship
			relType string
		)
		err := row.Scan(&r.SourcePaperID, &r.TargetPaperID, &relType, &r.Strength, &r.CreatedAt, &r.UpdatedAt)
		r.Type = types.RelationshipType(relType)
		return r, err
	})
}

// GetRelationship returns one edge by key.
func (s *Postgres) GetRelationship(ctx context.Context, key types.RelationshipKey) (*types.Relationship, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE source_paper_id = $1 AND target_paper_id = $2 AND relationship_type = $3`,
		key.SourcePaperID, key.TargetPaperID, string(key.Type))
	if err != nil {
		return nil, s.translate("getting relationship", err)
	}
	rels, err := collectPostgresRelationships(rows)
	if err != nil {
		return nil, s.translate("getting relationship", err)
	}
	if len(rels) == 0 {
		return nil, fmt.Errorf("getting relationship: %w", types.ErrNotFound)
	}
	return &rels[0], nil
}

// ListRelationships returns edges matching filter.
func (s *Postgres) ListRelationships(ctx context.Context, filter RelationshipFilter) ([]types.Relationship, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE ($1 = 0 OR source_paper_id = $1 OR target_paper_id = $1)
		   AND ($2 = '' OR relationship_type = $2)
		 ORDER BY source_paper_id, target_paper_id, relationship_type`,
		filter.PaperID, string(filter.Type))
	if err != nil {
		return nil, s.translate("listing relationships", err)
	}
	rels, err := collectPostgresRelationships(rows)
	if err != nil {
		return nil, s.translate("scanning relationships", err)
	}
	return rels, nil
}

// RelationshipsTouching returns every edge with an endpoint in ids.
func (s *Postgres) RelationshipsTouching(ctx context.Context, ids []int64) ([]types.Relationship, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE source_paper_id = ANY($1) OR target_paper_id = ANY($1)
		 ORDER BY source_paper_id, target_paper_id, relationship_type`, ids)
	if err != nil {
		return nil, s.translate("listing touching relationships", err)
	}
	rels, err := collectPostgresRelationships(rows)
	if err != nil {
		return nil, s.translate("scanning touching relationships", err)
	}
	return rels, nil
}

// --- pending references ---

// AddPendingReference records an unresolved citation.
func (s *Postgres) AddPendingReference(ctx context.Context, ref types.PendingReference) (bool, error) {
	target := ident.Normalize(ref.TargetExternalID)
	if ref.SourcePaperID <= 0 || target == "" {
		return false, fmt.Errorf("%w: pending reference needs a source paper and a target identifier", types.ErrInvalidInput)
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = now()
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pending_references (source_paper_id, target_external_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (source_paper_id, target_external_id) DO NOTHING`,
		ref.SourcePaperID, target, ref.CreatedAt)
	if err != nil {
		return false, s.translate("adding pending reference", err)
	}
	return tag.RowsAffected() > 0, nil
}

func collectPostgresPending(rows pgx.Rows) ([]types.PendingReference, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.PendingReference, error) {
		var ref types.PendingReference
		err := row.Scan(&ref.ID, &ref.SourcePaperID, &ref.TargetExternalID, &ref.CreatedAt)
		return ref, err
	})
}

// ScanPendingReferences lists pending entries for one target, or all.
func (s *Postgres) ScanPendingReferences(ctx context.Context, targetExternalID string) ([]types.PendingReference, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, source_paper_id, target_external_id, created_at FROM pending_references
		 WHERE $1 = '' OR target_external_id = $1
		 ORDER BY id`, ident.Normalize(targetExternalID))
	if err != nil {
		return nil, s.translate("scanning pending references", err)
	}
	refs, err := collectPostgresPending(rows)
	if err != nil {
		return nil, s.translate("scanning pending references", err)
	}
	return refs, nil
}

// ClearPendingReference deletes one pending entry.
func (s *Postgres) ClearPendingReference(ctx context.Context, ref types.PendingReference) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`DELETE FROM pending_references WHERE source_paper_id = $1 AND target_external_id = $2`,
		ref.SourcePaperID, ident.Normalize(ref.TargetExternalID))
	if err != nil {
		return s.translate("clearing pending reference", err)
	}
	return nil
}

// ResolvePendingReferences claims the pending entries for any of
// targetExternalIDs and turns them into CITES edges to targetPaperID.
func (s *Postgres) ResolvePendingReferences(ctx context.Context, targetExternalIDs []string, targetPaperID int64) ([]types.PendingReference, error) {
	targets := ident.NormalizeAll(targetExternalIDs)
	if len(targets) == 0 {
		return nil, nil
	}
	if targetPaperID <= 0 {
		return nil, fmt.Errorf("%w: target paper id must be positive", types.ErrInvalidInput)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, s.translate("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`DELETE FROM pending_references WHERE target_external_id = ANY($1)
		 RETURNING id, source_paper_id, target_external_id, created_at`, targets)
	if err != nil {
		return nil, s.translate("claiming pending references", err)
	}
	claimed, err := collectPostgresPending(rows)
	if err != nil {
		return nil, s.translate("claiming pending references", err)
	}

	for _, ref := range claimed {
		if ref.SourcePaperID == targetPaperID {
			continue
		}
		if _, err := s.upsertRelationship(ctx, tx, types.NewCitation(ref.SourcePaperID, targetPaperID)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, s.translate("committing pending resolution", err)
	}
	return claimed, nil
}

// CountPendingReferences returns the number of pending entries.
func (s *Postgres) CountPendingReferences(ctx context.Context) (int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pending_references`).Scan(&n); err != nil {
		return 0, s.translate("counting pending references", err)
	}
	return n, nil
}
