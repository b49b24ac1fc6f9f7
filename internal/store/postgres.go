// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/pdiddy/papergraph/internal/ident"
	"github.com/pdiddy/papergraph/internal/index"
	"github.com/pdiddy/papergraph/pkg/types"
)

// Postgres state codes the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgQueryCanceled       = "57014"
	pgLockNotAvailable    = "55P03"
)

// Postgres is the Store backend for shared deployments. Embeddings live in
// a pgvector column so similarity queries can run in the database.
type Postgres struct {
	pool    *pgxpool.Pool
	dims    int
	timeout time.Duration
}

var (
	_ Store          = (*Postgres)(nil)
	_ index.Searcher = (*Postgres)(nil)
)

// NewPostgres connects to cfg.DSN, installs the vector extension and
// creates the schema.
func NewPostgres(ctx context.Context, cfg types.StoreConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres store requires a DSN", types.ErrInvalidInput)
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = types.DefaultEmbeddingDimensions
	}

	// The vector type must exist before pooled connections register it.
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	_, err = conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating vector extension: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}

	s := &Postgres{pool: pool, dims: dims, timeout: timeoutOrDefault(cfg.Timeout)}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS raw_records (
			id BIGSERIAL PRIMARY KEY,
			source TEXT NOT NULL,
			external_id TEXT,
			payload JSONB NOT NULL,
			ingested_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_records_external_id ON raw_records(external_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS papers (
			id BIGSERIAL PRIMARY KEY,
			arxiv_id TEXT UNIQUE,
			secondary_id TEXT UNIQUE,
			title TEXT,
			abstract TEXT NOT NULL,
			conclusion TEXT,
			reference_list TEXT[] NOT NULL DEFAULT '{}',
			citation_list TEXT[] NOT NULL DEFAULT '{}',
			embedding vector(%d),
			schema_version INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.dims),
		`CREATE TABLE IF NOT EXISTS relationships (
			source_paper_id BIGINT NOT NULL REFERENCES papers(id),
			target_paper_id BIGINT NOT NULL REFERENCES papers(id),
			relationship_type TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL CHECK (strength >= 0 AND strength <= 1),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (source_paper_id, target_paper_id, relationship_type),
			CHECK (source_paper_id <> target_paper_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_paper_id)`,
		`CREATE TABLE IF NOT EXISTS pending_references (
			id BIGSERIAL PRIMARY KEY,
			source_paper_id BIGINT NOT NULL REFERENCES papers(id),
			target_external_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (source_paper_id, target_external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_target ON pending_references(target_external_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *Postgres) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Postgres) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, types.ErrNotFound)
	}
	if terr := deadlineError(err); terr != nil {
		return fmt.Errorf("%s: %w", op, terr)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, types.ErrConstraintViolation, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", op, types.ErrUnknownPaper, err)
		case pgQueryCanceled, pgLockNotAvailable:
			return fmt.Errorf("%s: %w: %w", op, types.ErrTimeout, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toVector(vec []float32) *pgvector.Vector {
	if len(vec) == 0 {
		return nil
	}
	v := pgvector.NewVector(vec)
	return &v
}

func nullableText(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// --- bronze ---

// InsertRaw appends a raw record.
func (s *Postgres) InsertRaw(ctx context.Context, rec *types.RawRecord) (int64, error) {
	if rec == nil || !json.Valid(rec.Payload) {
		return 0, fmt.Errorf("%w: raw record payload must be valid JSON", types.ErrInvalidInput)
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = now()
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO raw_records (source, external_id, payload, ingested_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		rec.Source, nullIfEmpty(rec.ExternalID), string(rec.Payload), rec.IngestedAt,
	).Scan(&rec.ID)
	if err != nil {
		return 0, s.translate("inserting raw record", err)
	}
	return rec.ID, nil
}

// --- silver ---

func scanPostgresPaper(row pgx.Row) (*types.Paper, error) {
	var (
		p                                       types.Paper
		arxivID, secondaryID, title, conclusion *string
		emb                                     *pgvector.Vector
	)
	if err := row.Scan(&p.ID, &arxivID, &secondaryID, &title, &p.Abstract, &conclusion,
		&p.ReferenceList, &p.CitationList, &emb, &p.SchemaVersion, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ArxivID = nullableText(arxivID)
	p.SecondaryID = nullableText(secondaryID)
	p.Title = nullableText(title)
	p.Conclusion = nullableText(conclusion)
	if len(p.ReferenceList) == 0 {
		p.ReferenceList = nil
	}
	if len(p.CitationList) == 0 {
		p.CitationList = nil
	}
	if emb != nil {
		p.Embedding = emb.Slice()
	}
	return &p, nil
}

func collectPostgresPapers(rows pgx.Rows) ([]types.Paper, error) {
	defer rows.Close()
	var papers []types.Paper
	for rows.Next() {
		p, err := scanPostgresPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// InsertPaper inserts p or merges it into the paper already holding one of
// its identifiers.
func (s *Postgres) InsertPaper(ctx context.Context, p *types.Paper) (int64, error) {
	if err := validatePaper(p); err != nil {
		return 0, err
	}
	p.ArxivID = ident.Normalize(p.ArxivID)
	p.SecondaryID = ident.Normalize(p.SecondaryID)

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, s.translate("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id FROM papers
		 WHERE arxiv_id = ANY($1) OR secondary_id = ANY($1)
		 ORDER BY id FOR UPDATE`, p.ExternalIDs())
	if err != nil {
		return 0, s.translate("matching paper identifiers", err)
	}
	matches, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, s.translate("matching paper identifiers", err)
	}
	matches = slices.Compact(matches)
	if len(matches) > 1 {
		return 0, fmt.Errorf("%w: identifiers %v belong to papers %v", types.ErrConstraintViolation, p.ExternalIDs(), matches)
	}

	var id int64
	if len(matches) == 1 {
		id = matches[0]
		_, err = tx.Exec(ctx,
			`UPDATE papers SET
				arxiv_id = COALESCE(arxiv_id, $1),
				secondary_id = COALESCE(secondary_id, $2),
				title = COALESCE($3, title),
				abstract = $4,
				conclusion = COALESCE($5, conclusion),
				reference_list = $6,
				citation_list = $7,
				embedding = COALESCE($8, embedding),
				schema_version = $9,
				updated_at = now()
			 WHERE id = $10`,
			nullIfEmpty(p.ArxivID), nullIfEmpty(p.SecondaryID), nullIfEmpty(p.Title), p.Abstract,
			nullIfEmpty(p.Conclusion), nonNil(p.ReferenceList), nonNil(p.CitationList),
			toVector(p.Embedding), p.SchemaVersion, id,
		)
		if err != nil {
			return 0, s.translate("merging paper", err)
		}
	} else {
		err = tx.QueryRow(ctx,
			`INSERT INTO papers (arxiv_id, secondary_id, title, abstract, conclusion,
				reference_list, citation_list, embedding, schema_version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			 RETURNING id`,
			nullIfEmpty(p.ArxivID), nullIfEmpty(p.SecondaryID), nullIfEmpty(p.Title), p.Abstract,
			nullIfEmpty(p.Conclusion), nonNil(p.ReferenceList), nonNil(p.CitationList),
			toVector(p.Embedding), p.SchemaVersion,
		).Scan(&id)
		if err != nil {
			return 0, s.translate("inserting paper", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, s.translate("committing paper", err)
	}
	p.ID = id
	return id, nil
}

// GetPaper returns one paper by id.
func (s *Postgres) GetPaper(ctx context.Context, id int64) (*types.Paper, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	p, err := scanPostgresPaper(s.pool.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = $1`, id))
	if err != nil {
		return nil, s.translate(fmt.Sprintf("getting paper %d", id), err)
	}
	return p, nil
}

// GetPapers returns the existing papers among ids, ordered by id.
func (s *Postgres) GetPapers(ctx context.Context, ids []int64) ([]types.Paper, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, s.translate("getting papers", err)
	}
	papers, err := collectPostgresPapers(rows)
	if err != nil {
		return nil, s.translate("scanning papers", err)
	}
	return papers, nil
}

// ResolveExternalID maps an identifier to a paper id.
func (s *Postgres) ResolveExternalID(ctx context.Context, externalID string) (int64, error) {
	norm := ident.Normalize(externalID)
	if norm == "" {
		return 0, fmt.Errorf("%w: empty external identifier", types.ErrInvalidInput)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM papers WHERE arxiv_id = $1 OR secondary_id = $1 ORDER BY id LIMIT 1`, norm,
	).Scan(&id)
	if err != nil {
		return 0, s.translate(fmt.Sprintf("resolving %q", norm), err)
	}
	return id, nil
}

// UpdateEmbedding stores vec on the paper.
func (s *Postgres) UpdateEmbedding(ctx context.Context, id int64, vec []float32) error {
	if len(vec) > 0 && len(vec) != s.dims {
		return &types.DimensionError{PaperID: id, Expected: s.dims, Actual: len(vec)}
	}
	if err := validateEmbedding(id, vec); err != nil {
		return err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE papers SET embedding = $1, updated_at = now() WHERE id = $2`, toVector(vec), id)
	if err != nil {
		return s.translate("updating embedding", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating embedding of paper %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// ScanPapers walks all papers in id order, one page per round trip.
func (s *Postgres) ScanPapers(ctx context.Context, fn func(*types.Paper) error) error {
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

func (s *Postgres) papersAfter(ctx context.Context, after int64) ([]types.Paper, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE id > $1 ORDER BY id LIMIT $2`, after, scanPageSize)
	if err != nil {
		return nil, s.translate("scanning papers", err)
	}
	papers, err := collectPostgresPapers(rows)
	if err != nil {
		return nil, s.translate("scanning papers", err)
	}
	return papers, nil
}

// ListUnembedded returns papers waiting for an embedding.
func (s *Postgres) ListUnembedded(ctx context.Context, limit int) ([]types.Paper, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", types.ErrInvalidInput)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+paperColumns+` FROM papers
		 WHERE embedding IS NULL AND abstract <> ''
		 ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, s.translate("listing unembedded papers", err)
	}
	papers, err := collectPostgresPapers(rows)
	if err != nil {
		return nil, s.translate("scanning unembedded papers", err)
	}
	return papers, nil
}

// Search answers a top-k cosine query with the pgvector <=> operator.
func (s *Postgres) Search(ctx context.Context, vec []float32, opts index.Options) ([]index.Neighbor, error) {
	if opts.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", types.ErrInvalidInput, opts.K)
	}
	if len(vec) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", types.ErrInvalidInput, len(vec), s.dims)
	}
	if isZero(vec) {
		return nil, fmt.Errorf("%w: zero query vector", types.ErrInvalidInput)
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, 1 - (embedding <=> $1) AS similarity
		 FROM papers
		 WHERE embedding IS NOT NULL AND id <> $2
		 ORDER BY embedding <=> $1, id
		 LIMIT $3`,
		pgvector.NewVector(vec), opts.Exclude, opts.K)
	if err != nil {
		return nil, s.translate("searching embeddings", err)
	}
	defer rows.Close()

	var out []index.Neighbor
	for rows.Next() {
		var n index.Neighbor
		if err := rows.Scan(&n.PaperID, &n.Similarity); err != nil {
			return nil, s.translate("scanning neighbors", err)
		}
		if math.IsNaN(n.Similarity) {
			continue
		}
		n.Similarity = min(1, max(-1, n.Similarity))
		if n.Similarity < opts.Floor {
			continue
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, s.translate("scanning neighbors", err)
	}
	return out, nil
}

// Stats returns row counts per layer.
func (s *Postgres) Stats(ctx context.Context) (types.StoreStats, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	stats := types.StoreStats{Relationships: map[string]int{}}
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM raw_records),
			(SELECT count(*) FROM papers),
			(SELECT count(*) FROM papers WHERE embedding IS NOT NULL),
			(SELECT count(*) FROM pending_references)`,
	).Scan(&stats.RawRecords, &stats.Papers, &stats.EmbeddedPapers, &stats.PendingReferences)
	if err != nil {
		return stats, s.translate("counting rows", err)
	}

	rows, err := s.pool.Query(ctx,
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
