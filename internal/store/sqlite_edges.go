// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pdiddy/papergraph/internal/ident"
	"github.com/pdiddy/papergraph/pkg/types"
)

const relationshipColumns = `source_paper_id, target_paper_id, relationship_type, strength, created_at, updated_at`

// UpsertRelationship inserts rel or updates its strength.
func (s *SQLite) UpsertRelationship(ctx context.Context, rel types.Relationship) (types.UpsertOutcome, error) {
	if err := rel.Validate(); err != nil {
		return types.UpsertUnchanged, err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.UpsertUnchanged, s.translate("beginning transaction", err)
	}
	defer tx.Rollback()

	outcome, err := s.upsertRelationshipTx(ctx, tx, rel)
	if err != nil {
		return types.UpsertUnchanged, err
	}
	if err := tx.Commit(); err != nil {
		return types.UpsertUnchanged, s.translate("committing relationship", err)
	}
	return outcome, nil
}

func (s *SQLite) upsertRelationshipTx(ctx context.Context, tx *sql.Tx, rel types.Relationship) (types.UpsertOutcome, error) {
	var current float64
	err := tx.QueryRowContext(ctx,
		`SELECT strength FROM relationships
		 WHERE source_paper_id = ? AND target_paper_id = ? AND relationship_type = ?`,
		rel.SourcePaperID, rel.TargetPaperID, string(rel.Type),
	).Scan(&current)

	ts := formatTime(now())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO relationships (`+relationshipColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			rel.SourcePaperID, rel.TargetPaperID, string(rel.Type), rel.Strength, ts, ts,
		)
		if err != nil {
			return types.UpsertUnchanged, s.translate("inserting relationship", err)
		}
		return types.UpsertInserted, nil
	case err != nil:
		return types.UpsertUnchanged, s.translate("reading relationship", err)
	case sameStrength(current, rel.Strength):
		return types.UpsertUnchanged, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE relationships SET strength = ?, updated_at = ?
		 WHERE source_paper_id = ? AND target_paper_id = ? AND relationship_type = ?`,
		rel.Strength, ts, rel.SourcePaperID, rel.TargetPaperID, string(rel.Type),
	)
	if err != nil {
		return types.UpsertUnchanged, s.translate("updating relationship", err)
	}
	return types.UpsertUpdated, nil
}

func scanSQLiteRelationship(row rowScanner) (types.Relationship, error) {
	var (
		r                    types.Relationship
		relType              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.SourcePaperID, &r.TargetPaperID, &relType, &r.Strength, &createdAt, &updatedAt); err != nil {
		return r, err
	}
	r.Type = types.RelationshipType(relType)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func collectSQLiteRelationships(rows *sql.Rows) ([]types.Relationship, error) {
	defer rows.Close()
	var rels []types.Relationship
	for rows.Next() {
		r, err := scanSQLiteRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// GetRelationship returns one edge by key.
func (s *SQLite) GetRelationship(ctx context.Context, key types.RelationshipKey) (*types.Relationship, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	r, err := scanSQLiteRelationship(s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE source_paper_id = ? AND target_paper_id = ? AND relationship_type = ?`,
		key.SourcePaperID, key.TargetPaperID, string(key.Type)))
	if err != nil {
		return nil, s.translate("getting relationship", err)
	}
	return &r, nil
}

// ListRelationships returns edges matching filter.
func (s *SQLite) ListRelationships(ctx context.Context, filter RelationshipFilter) ([]types.Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE 1 = 1`
	var args []any
	if filter.PaperID != 0 {
		query += ` AND (source_paper_id = ? OR target_paper_id = ?)`
		args = append(args, filter.PaperID, filter.PaperID)
	}
	if filter.Type != "" {
		query += ` AND relationship_type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY source_paper_id, target_paper_id, relationship_type`

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.translate("listing relationships", err)
	}
	rels, err := collectSQLiteRelationships(rows)
	if err != nil {
		return nil, s.translate("scanning relationships", err)
	}
	return rels, nil
}

// RelationshipsTouching returns every edge with an endpoint in ids.
func (s *SQLite) RelationshipsTouching(ctx context.Context, ids []int64) ([]types.Relationship, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	seen := make(map[types.RelationshipKey]bool)
	var rels []types.Relationship
	for _, chunk := range chunkIDs(ids, inClauseChunk) {
		placeholders, args := inClause(chunk)
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+relationshipColumns+` FROM relationships
			 WHERE source_paper_id IN (`+placeholders+`) OR target_paper_id IN (`+placeholders+`)
			 ORDER BY source_paper_id, target_paper_id, relationship_type`,
			append(args, args...)...)
		if err != nil {
			return nil, s.translate("listing touching relationships", err)
		}
		batch, err := collectSQLiteRelationships(rows)
		if err != nil {
			return nil, s.translate("scanning touching relationships", err)
		}
		for _, r := range batch {
			if !seen[r.Key()] {
				seen[r.Key()] = true
				rels = append(rels, r)
			}
		}
	}
	return rels, nil
}

// --- pending references ---

// AddPendingReference records an unresolved citation.
func (s *SQLite) AddPendingReference(ctx context.Context, ref types.PendingReference) (bool, error) {
	target := ident.Normalize(ref.TargetExternalID)
	if ref.SourcePaperID <= 0 || target == "" {
		return false, fmt.Errorf("%w: pending reference needs a source paper and a target identifier", types.ErrInvalidInput)
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = now()
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_references (source_paper_id, target_external_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (source_paper_id, target_external_id) DO NOTHING`,
		ref.SourcePaperID, target, formatTime(ref.CreatedAt),
	)
	if err != nil {
		return false, s.translate("adding pending reference", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading pending reference result: %w", err)
	}
	return n > 0, nil
}

func scanSQLitePending(row rowScanner) (types.PendingReference, error) {
	var (
		ref       types.PendingReference
		createdAt string
	)
	if err := row.Scan(&ref.ID, &ref.SourcePaperID, &ref.TargetExternalID, &createdAt); err != nil {
		return ref, err
	}
	ref.CreatedAt = parseTime(createdAt)
	return ref, nil
}

func collectSQLitePending(rows *sql.Rows) ([]types.PendingReference, error) {
	defer rows.Close()
	var refs []types.PendingReference
	for rows.Next() {
		ref, err := scanSQLitePending(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ScanPendingReferences lists pending entries for one target, or all.
func (s *SQLite) ScanPendingReferences(ctx context.Context, targetExternalID string) ([]types.PendingReference, error) {
	query := `SELECT id, source_paper_id, target_external_id, created_at FROM pending_references`
	var args []any
	if targetExternalID != "" {
		query += ` WHERE target_external_id = ?`
		args = append(args, ident.Normalize(targetExternalID))
	}
	query += ` ORDER BY id`

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.translate("scanning pending references", err)
	}
	refs, err := collectSQLitePending(rows)
	if err != nil {
		return nil, s.translate("scanning pending references", err)
	}
	return refs, nil
}

// ClearPendingReference deletes one pending entry. Clearing an entry that
// is already gone is not an error.
func (s *SQLite) ClearPendingReference(ctx context.Context, ref types.PendingReference) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_references WHERE source_paper_id = ? AND target_external_id = ?`,
		ref.SourcePaperID, ident.Normalize(ref.TargetExternalID))
	if err != nil {
		return s.translate("clearing pending reference", err)
	}
	return nil
}

// ResolvePendingReferences claims the pending entries for any of
// targetExternalIDs and turns them into CITES edges to targetPaperID.
// Entries whose source is the target itself are dropped without an edge.
func (s *SQLite) ResolvePendingReferences(ctx context.Context, targetExternalIDs []string, targetPaperID int64) ([]types.PendingReference, error) {
	targets := ident.NormalizeAll(targetExternalIDs)
	if len(targets) == 0 {
		return nil, nil
	}
	if targetPaperID <= 0 {
		return nil, fmt.Errorf("%w: target paper id must be positive", types.ErrInvalidInput)
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.translate("beginning transaction", err)
	}
	defer tx.Rollback()

	args := make([]any, len(targets))
	for i, t := range targets {
		args[i] = t
	}
	rows, err := tx.QueryContext(ctx,
		`DELETE FROM pending_references WHERE target_external_id IN (`+placeholders(len(targets))+`)
		 RETURNING id, source_paper_id, target_external_id, created_at`, args...)
	if err != nil {
		return nil, s.translate("claiming pending references", err)
	}
	claimed, err := collectSQLitePending(rows)
	if err != nil {
		return nil, s.translate("claiming pending references", err)
	}

	for _, ref := range claimed {
		if ref.SourcePaperID == targetPaperID {
			continue
		}
		if _, err := s.upsertRelationshipTx(ctx, tx, types.NewCitation(ref.SourcePaperID, targetPaperID)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, s.translate("committing pending resolution", err)
	}
	return claimed, nil
}

// CountPendingReferences returns the number of pending entries.
func (s *SQLite) CountPendingReferences(ctx context.Context) (int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pending_references`).Scan(&n); err != nil {
		return 0, s.translate("counting pending references", err)
	}
	return n, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := range n {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
