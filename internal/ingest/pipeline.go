// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ingest moves papers through the three layers: a raw payload is
// stored, normalized into a paper record, embedded and handed to the graph
// builder.
package ingest

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/papergraph/internal/embed"
	"github.com/pdiddy/papergraph/internal/graph"
	"github.com/pdiddy/papergraph/internal/ident"
	"github.com/pdiddy/papergraph/internal/logging"
	"github.com/pdiddy/papergraph/pkg/types"
)

// Store is the part of the record store the pipeline writes.
type Store interface {
	InsertRaw(ctx context.Context, rec *types.RawRecord) (int64, error)
	InsertPaper(ctx context.Context, p *types.Paper) (int64, error)
	GetPapers(ctx context.Context, ids []int64) ([]types.Paper, error)
	ResolveExternalID(ctx context.Context, externalID string) (int64, error)
	UpdateEmbedding(ctx context.Context, id int64, vec []float32) error
	ListUnembedded(ctx context.Context, limit int) ([]types.Paper, error)
}

// Deriver derives relationships for one stored paper.
type Deriver interface {
	DeriveRelationshipsFor(ctx context.Context, paperID int64) (graph.Summary, error)
}

// Pipeline runs ingestion and embedding.
type Pipeline struct {
	store    Store
	deriver  Deriver
	provider embed.Provider
	cfg      types.IngestConfig
	alpha    float64
	logger   *log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithCitationAlpha enables blending each new embedding with the
// embeddings of the papers it cites.
func WithCitationAlpha(alpha float64) Option {
	return func(p *Pipeline) {
		p.alpha = alpha
	}
}

// WithProvider sets the embedding provider. Without one EmbedMissing fails.
func WithProvider(provider embed.Provider) Option {
	return func(p *Pipeline) {
		p.provider = provider
	}
}

// New returns a Pipeline writing to st and deriving through d.
func New(st Store, d Deriver, cfg types.IngestConfig, opts ...Option) *Pipeline {
	def := types.DefaultConfig().Ingest
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	p := &Pipeline{store: st, deriver: d, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDiscard(p.logger)
	return p
}

// Ingest stores one raw arXiv payload, normalizes it into a paper (merging
// with an existing record that shares an identifier) and derives the
// paper's relationships.
func (p *Pipeline) Ingest(ctx context.Context, raw json.RawMessage) (int64, graph.Summary, error) {
	payload, err := DecodeArxiv(raw)
	if err != nil {
		return 0, graph.Summary{}, err
	}

	if _, err := p.store.InsertRaw(ctx, &types.RawRecord{
		Source:     SourceArxiv,
		ExternalID: ident.Normalize(payload.EntryID),
		Payload:    raw,
	}); err != nil {
		return 0, graph.Summary{}, fmt.Errorf("storing raw record: %w", err)
	}

	paper, err := payload.Paper()
	if err != nil {
		return 0, graph.Summary{}, err
	}

	id, err := p.store.InsertPaper(ctx, paper)
	if err != nil {
		return 0, graph.Summary{}, fmt.Errorf("storing paper %s: %w", firstNonEmpty(paper.ArxivID, paper.SecondaryID), err)
	}

	sum, err := p.deriver.DeriveRelationshipsFor(ctx, id)
	if err != nil {
		return id, sum, err
	}
	p.logger.Info("ingested paper", "paper_id", id, "arxiv_id", paper.ArxivID, "edges", sum.Edges(), "pending", sum.PendingAdded)
	return id, sum, nil
}

// IngestResult holds the outcome of a batch ingestion.
type IngestResult struct {
	Ingested int
	Failed   int
	PaperIDs []int64
	Edges    graph.Summary
}

// Total returns the number of payloads processed.
func (r IngestResult) Total() int {
	return r.Ingested + r.Failed
}

// HasFailures reports whether any payload failed.
func (r IngestResult) HasFailures() bool {
	return r.Failed > 0
}

// IngestAll reads a stream of arXiv payloads from r, either JSON lines or
// a single JSON array, and ingests them in order. Malformed payloads are
// counted and skipped; store failures stop the run.
func (p *Pipeline) IngestAll(ctx context.Context, r io.Reader) (IngestResult, error) {
	var res IngestResult

	dec := json.NewDecoder(r)
	for {
		var doc json.RawMessage
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("%w: reading payload %d: %v", types.ErrInvalidInput, res.Total()+1, err)
		}

		docs := []json.RawMessage{doc}
		if trimmed := bytes.TrimSpace(doc); len(trimmed) > 0 && trimmed[0] == '[' {
			docs = nil
			if err := json.Unmarshal(trimmed, &docs); err != nil {
				return res, fmt.Errorf("%w: reading payload array: %v", types.ErrInvalidInput, err)
			}
		}

		if err := p.ingestEach(ctx, docs, &res); err != nil {
			return res, err
		}
	}
}

// IngestPayloads ingests already decoded payloads, such as the output of
// ArxivFetcher.Fetch, with the same skip rules as IngestAll.
func (p *Pipeline) IngestPayloads(ctx context.Context, docs []json.RawMessage) (IngestResult, error) {
	var res IngestResult
	err := p.ingestEach(ctx, docs, &res)
	return res, err
}

func (p *Pipeline) ingestEach(ctx context.Context, docs []json.RawMessage, res *IngestResult) error {
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, sum, err := p.Ingest(ctx, d)
		res.Edges.Add(sum)
		switch {
		case err == nil:
			res.Ingested++
			res.PaperIDs = append(res.PaperIDs, id)
		case errors.Is(err, types.ErrInvalidInput):
			res.Failed++
			p.logger.Warn("skipping payload", "index", res.Total(), "err", err)
		default:
			return err
		}
	}
	return nil
}

// EmbedSummary reports one EmbedMissing run.
type EmbedSummary struct {
	Embedded int                `json:"embedded" yaml:"embedded"`
	Blended  int                `json:"blended" yaml:"blended"`
	Edges    graph.Summary      `json:"edges" yaml:"edges"`
	Failed   []graph.PaperError `json:"-" yaml:"-"`
}

// EmbedMissing embeds up to limit papers that have no embedding yet, with
// at most the configured number of requests in flight. Each embedding is
// stored and the paper's relationships derived. Provider failures are
// collected per paper; a dimension mismatch aborts the run.
func (p *Pipeline) EmbedMissing(ctx context.Context, limit int) (EmbedSummary, error) {
	var es EmbedSummary
	if p.provider == nil {
		return es, fmt.Errorf("%w: no embedding provider configured", types.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = p.cfg.BatchSize
	}

	papers, err := p.store.ListUnembedded(ctx, limit)
	if err != nil {
		return es, fmt.Errorf("listing unembedded papers: %w", err)
	}
	if len(papers) == 0 {
		return es, nil
	}
	p.logger.Info("embedding papers", "count", len(papers), "model", p.provider.Model(), "workers", p.cfg.Workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range papers {
		paper := &papers[i]
		g.Go(func() error {
			blended, sum, err := p.embedOne(gctx, paper)
			mu.Lock()
			defer mu.Unlock()
			es.Edges.Add(sum)
			if err == nil {
				es.Embedded++
				if blended {
					es.Blended++
				}
				return nil
			}
			if errors.Is(err, types.ErrDimensionMismatch) || errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Warn("embedding failed", "paper_id", paper.ID, "err", err)
			es.Failed = append(es.Failed, graph.PaperError{PaperID: paper.ID, Err: err})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return es, fmt.Errorf("embedding papers: %w", err)
	}

	slices.SortFunc(es.Failed, func(a, b graph.PaperError) int { return cmp.Compare(a.PaperID, b.PaperID) })
	return es, nil
}

func (p *Pipeline) embedOne(ctx context.Context, paper *types.Paper) (bool, graph.Summary, error) {
	vec, err := p.provider.Embed(ctx, embed.PaperText(paper))
	if err != nil {
		var dimErr *types.DimensionError
		if errors.As(err, &dimErr) {
			dimErr.PaperID = paper.ID
		}
		return false, graph.Summary{}, err
	}

	blended := false
	if p.alpha > 0 && p.alpha < 1 {
		refs, err := p.referenceEmbeddings(ctx, paper, len(vec))
		if err != nil {
			return false, graph.Summary{}, err
		}
		if len(refs) > 0 {
			if vec, err = embed.Blend(vec, refs, p.alpha); err != nil {
				return false, graph.Summary{}, err
			}
			blended = true
		}
	}

	if err := p.store.UpdateEmbedding(ctx, paper.ID, vec); err != nil {
		return blended, graph.Summary{}, fmt.Errorf("storing embedding: %w", err)
	}
	sum, err := p.deriver.DeriveRelationshipsFor(ctx, paper.ID)
	return blended, sum, err
}

// referenceEmbeddings returns the embeddings of the stored papers that
// paper cites. References that are not stored, or not yet embedded, are
// skipped.
func (p *Pipeline) referenceEmbeddings(ctx context.Context, paper *types.Paper, dims int) ([][]float32, error) {
	var ids []int64
	for _, ref := range ident.NormalizeAll(paper.ReferenceList) {
		id, err := p.store.ResolveExternalID(ctx, ref)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving reference %q: %w", ref, err)
		}
		if id != paper.ID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cited, err := p.store.GetPapers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading cited papers: %w", err)
	}
	var refs [][]float32
	for i := range cited {
		if len(cited[i].Embedding) == dims {
			refs = append(refs, cited[i].Embedding)
		}
	}
	return refs, nil
}
