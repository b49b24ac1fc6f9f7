// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/pdiddy/papergraph/internal/ident"
	"github.com/pdiddy/papergraph/pkg/types"
)

// SQLite is the default Store backend. Lists and embeddings live in
// JSON-valued TEXT columns.
type SQLite struct {
	db      *sql.DB
	path    string
	timeout time.Duration
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens or creates the database at cfg.Path and creates the
// schema if it does not exist. Write transactions take the database lock
// up front (_txlock=immediate) so concurrent upserts queue on the busy
// timeout instead of failing mid-transaction.
func NewSQLite(cfg types.StoreConfig) (*SQLite, error) {
	path := cfg.Path
	if path == "" {
		path = "papergraph.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{
		db:      db,
		path:    path,
		timeout: timeoutOrDefault(cfg.Timeout),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS raw_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			external_id TEXT,
			payload TEXT NOT NULL CHECK (json_valid(payload)),
			ingested_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_records_external_id ON raw_records(external_id)`,
		`CREATE TABLE IF NOT EXISTS papers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			arxiv_id TEXT UNIQUE,
			secondary_id TEXT UNIQUE,
			title TEXT,
			abstract TEXT NOT NULL,
			conclusion TEXT,
			reference_list TEXT NOT NULL DEFAULT '[]',
			citation_list TEXT NOT NULL DEFAULT '[]',
			embedding TEXT,
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			source_paper_id INTEGER NOT NULL REFERENCES papers(id),
			target_paper_id INTEGER NOT NULL REFERENCES papers(id),
			relationship_type TEXT NOT NULL,
			strength REAL NOT NULL CHECK (strength >= 0 AND strength <= 1),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (source_paper_id, target_paper_id, relationship_type),
			CHECK (source_paper_id <> target_paper_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_paper_id)`,
		`CREATE TABLE IF NOT EXISTS pending_references (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_paper_id INTEGER NOT NULL REFERENCES papers(id),
			target_external_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (source_paper_id, target_external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_target ON pending_references(target_external_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLite) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// translate maps driver errors onto the types error taxonomy.
func (s *SQLite) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, types.ErrNotFound)
	}
	if terr := deadlineError(err); terr != nil {
		return fmt.Errorf("%s: %w", op, terr)
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %w", op, types.ErrConstraintViolation, err)
		case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w: %w", op, types.ErrUnknownPaper, err)
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %w", op, types.ErrTimeout, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func now() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// --- bronze ---

// InsertRaw appends a raw record.
func (s *SQLite) InsertRaw(ctx context.Context, rec *types.RawRecord) (int64, error) {
	if rec == nil || !json.Valid(rec.Payload) {
		return 0, fmt.Errorf("%w: raw record payload must be valid JSON", types.ErrInvalidInput)
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = now()
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_records (source, external_id, payload, ingested_at) VALUES (?, ?, ?, ?)`,
		rec.Source, nullIfEmpty(rec.ExternalID), string(rec.Payload), formatTime(rec.IngestedAt),
	)
	if err != nil {
		return 0, s.translate("inserting raw record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading raw record id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// --- silver ---

const paperColumns = `id, arxiv_id, secondary_id, title, abstract, conclusion,
	reference_list, citation_list, embedding, schema_version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePaper(row rowScanner) (*types.Paper, error) {
	var (
		p                            types.Paper
		arxivID, secondaryID         sql.NullString
		title, conclusion, embedding sql.NullString
		refsJSON, citesJSON          string
		createdAt, updatedAt         string
	)
	if err := row.Scan(&p.ID, &arxivID, &secondaryID, &title, &p.Abstract, &conclusion,
		&refsJSON, &citesJSON, &embedding, &p.SchemaVersion, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.ArxivID = arxivID.String
	p.SecondaryID = secondaryID.String
	p.Title = title.String
	p.Conclusion = conclusion.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)

	var err error
	if p.ReferenceList, err = decodeStrings(refsJSON); err != nil {
		return nil, fmt.Errorf("paper %d reference_list: %w", p.ID, err)
	}
	if p.CitationList, err = decodeStrings(citesJSON); err != nil {
		return nil, fmt.Errorf("paper %d citation_list: %w", p.ID, err)
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &p.Embedding); err != nil {
			return nil, fmt.Errorf("paper %d embedding: %w", p.ID, err)
		}
	}
	return &p, nil
}

func encodeEmbedding(vec []float32) (any, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("encoding embedding: %w", err)
	}
	return string(data), nil
}

// InsertPaper inserts p or merges it into the paper already holding one of
// its identifiers.
func (s *SQLite) InsertPaper(ctx context.Context, p *types.Paper) (int64, error) {
	if err := validatePaper(p); err != nil {
		return 0, err
	}
	p.ArxivID = ident.Normalize(p.ArxivID)
	p.SecondaryID = ident.Normalize(p.SecondaryID)

	refs, err := encodeStrings(p.ReferenceList)
	if err != nil {
		return 0, err
	}
	cites, err := encodeStrings(p.CitationList)
	if err != nil {
		return 0, err
	}
	emb, err := encodeEmbedding(p.Embedding)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.translate("beginning transaction", err)
	}
	defer tx.Rollback()

	existing, err := s.matchPaperTx(ctx, tx, p.ExternalIDs())
	if err != nil {
		return 0, err
	}

	ts := now()
	var id int64
	if existing != 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE papers SET
				arxiv_id = COALESCE(arxiv_id, ?),
				secondary_id = COALESCE(secondary_id, ?),
				title = COALESCE(?, title),
				abstract = ?,
				conclusion = COALESCE(?, conclusion),
				reference_list = ?,
				citation_list = ?,
				embedding = COALESCE(?, embedding),
				schema_version = ?,
				updated_at = ?
			 WHERE id = ?`,
			nullIfEmpty(p.ArxivID), nullIfEmpty(p.SecondaryID), nullIfEmpty(p.Title), p.Abstract,
			nullIfEmpty(p.Conclusion), refs, cites, emb, p.SchemaVersion, formatTime(ts), existing,
		)
		if err != nil {
			return 0, s.translate("merging paper", err)
		}
		id = existing
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO papers (arxiv_id, secondary_id, title, abstract, conclusion,
				reference_list, citation_list, embedding, schema_version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullIfEmpty(p.ArxivID), nullIfEmpty(p.SecondaryID), nullIfEmpty(p.Title), p.Abstract,
			nullIfEmpty(p.Conclusion), refs, cites, emb, p.SchemaVersion, formatTime(ts), formatTime(ts),
		)
		if err != nil {
			return 0, s.translate("inserting paper", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("reading paper id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, s.translate("committing paper", err)
	}
	p.ID = id
	return id, nil
}

// matchPaperTx returns the id of the single paper holding any of ids, 0
// when none does, and ErrConstraintViolation when they span two papers.
func (s *SQLite) matchPaperTx(ctx context.Context, tx *sql.Tx, ids []string) (int64, error) {
	var match int64
	for _, ext := range ids {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM papers WHERE arxiv_id = ? OR secondary_id = ? ORDER BY id LIMIT 1`, ext, ext,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, s.translate("matching paper identifiers", err)
		}
		if match != 0 && match != id {
			return 0, fmt.Errorf("%w: identifiers %v belong to papers %d and %d",
				types.ErrConstraintViolation, ids, match, id)
		}
		match = id
	}
	return match, nil
}

// GetPaper returns one paper by id.
func (s *SQLite) GetPaper(ctx context.Context, id int64) (*types.Paper, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	p, err := scanSQLitePaper(s.db.QueryRowContext(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE id = ?`, id))
	if err != nil {
		return nil, s.translate(fmt.Sprintf("getting paper %d", id), err)
	}
	return p, nil
}

// GetPapers returns the existing papers among ids, ordered by id.
func (s *SQLite) GetPapers(ctx context.Context, ids []int64) ([]types.Paper, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var papers []types.Paper
	for _, chunk := range chunkIDs(ids, inClauseChunk) {
		placeholders, args := inClause(chunk)
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+paperColumns+` FROM papers WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
		if err != nil {
			return nil, s.translate("getting papers", err)
		}
		batch, err := collectSQLitePapers(rows)
		if err != nil {
			return nil, s.translate("scanning papers", err)
		}
		papers = append(papers, batch...)
	}
	return papers, nil
}

func collectSQLitePapers(rows *sql.Rows) ([]types.Paper, error) {
	defer rows.Close()
	var papers []types.Paper
	for rows.Next() {
		p, err := scanSQLitePaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders(len(ids)), args
}

// ResolveExternalID maps an identifier to a paper id.
func (s *SQLite) ResolveExternalID(ctx context.Context, externalID string) (int64, error) {
	norm := ident.Normalize(externalID)
	if norm == "" {
		return 0, fmt.Errorf("%w: empty external identifier", types.ErrInvalidInput)
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM papers WHERE arxiv_id = ? OR secondary_id = ? ORDER BY id LIMIT 1`, norm, norm,
	).Scan(&id)
	if err != nil {
		return 0, s.translate(fmt.Sprintf("resolving %q", norm), err)
	}
	return id, nil
}

// UpdateEmbedding stores vec on the paper.
func (s *SQLite) UpdateEmbedding(ctx context.Context, id int64, vec []float32) error {
	if err := validateEmbedding(id, vec); err != nil {
		return err
	}
	emb, err := encodeEmbedding(vec)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE papers SET embedding = ?, updated_at = ? WHERE id = ?`, emb, formatTime(now()), id)
	if err != nil {
		return s.translate("updating embedding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating embedding of paper %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// ScanPapers walks all papers in id order using keyset pagination. Each
// page is read under its own timeout and fn runs with no open cursor, so
// fn may call back into the store.
func (s *SQLite) ScanPapers(ctx context.Context, fn func(*types.Paper) error) error {
	var after int64
	for {
		page, err := s.papersAfter(ctx, after)
		if err != nil {
			return err
		}
		for i := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(&page[i]); err != nil {
				return err
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (s *SQLite) papersAfter(ctx context.Context, after int64) ([]types.Paper, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE id > ? ORDER BY id LIMIT ?`, after, scanPageSize)
	if err != nil {
		return nil, s.translate("scanning papers", err)
	}
	papers, err := collectSQLitePapers(rows)
	if err != nil {
		return nil, s.translate("scanning papers", err)
	}
	return papers, nil
}

// ListUnembedded returns papers waiting for an embedding.
func (s *SQLite) ListUnembedded(ctx context.Context, limit int) ([]types.Paper, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", types.ErrInvalidInput)
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paperColumns+` FROM papers
		 WHERE embedding IS NULL AND abstract <> ''
		 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, s.translate("listing unembedded papers", err)
	}
	papers, err := collectSQLitePapers(rows)
	if err != nil {
		return nil, s.translate("scanning unembedded papers", err)
	}
	return papers, nil
}

// Stats returns row counts per layer.
func (s *SQLite) Stats(ctx context.Context) (types.StoreStats, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	stats := types.StoreStats{Relationships: map[string]int{}}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT count(*) FROM raw_records`, &stats.RawRecords},
		{`SELECT count(*) FROM papers`, &stats.Papers},
		{`SELECT count(*) FROM papers WHERE embedding IS NOT NULL`, &stats.EmbeddedPapers},
		{`SELECT count(*) FROM pending_references`, &stats.PendingReferences},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return stats, s.translate("counting rows", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT relationship_type, count(*) FROM relationships GROUP BY relationship_type`)
	if err != nil {
		return stats, s.translate("counting relationships", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			relType string
			n       int
		)
		if err := rows.Scan(&relType, &n); err != nil {
			return stats, s.translate("scanning relationship counts", err)
		}
		stats.Relationships[relType] = n
	}
	return stats, rows.Err()
}
