// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package graph derives relationship edges between stored papers and
// exports bounded subgraphs of the result.
//
// The Builder turns one paper's references into CITES edges (recording
// unresolved ones as pending references) and its embedding into SIMILAR
// edges, then resolves pending references that were waiting for it.
package graph

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/papergraph/internal/ident"
	"github.com/pdiddy/papergraph/internal/index"
	"github.com/pdiddy/papergraph/internal/logging"
	"github.com/pdiddy/papergraph/pkg/types"
)

// pairStripes is the number of mutexes guarding edge writes. Writes for one
// unordered pair always take the same stripe.
const pairStripes = 64

// Store is the part of the record store the builder uses.
type Store interface {
	GetPaper(ctx context.Context, id int64) (*types.Paper, error)
	GetPapers(ctx context.Context, ids []int64) ([]types.Paper, error)
	ResolveExternalID(ctx context.Context, externalID string) (int64, error)
	ScanPapers(ctx context.Context, fn func(*types.Paper) error) error
	UpsertRelationship(ctx context.Context, rel types.Relationship) (types.UpsertOutcome, error)
	AddPendingReference(ctx context.Context, ref types.PendingReference) (bool, error)
	ResolvePendingReferences(ctx context.Context, targetExternalIDs []string, targetPaperID int64) ([]types.PendingReference, error)
}

// Summary counts what one derivation did.
type Summary struct {
	Inserted        int `json:"inserted" yaml:"inserted"`
	Updated         int `json:"updated" yaml:"updated"`
	Unchanged       int `json:"unchanged" yaml:"unchanged"`
	PendingAdded    int `json:"pending_added" yaml:"pending_added"`
	PendingResolved int `json:"pending_resolved" yaml:"pending_resolved"`
	SelfReferences  int `json:"self_references" yaml:"self_references"`
}

// Edges returns the number of edges upserted, changed or not.
func (s Summary) Edges() int {
	return s.Inserted + s.Updated + s.Unchanged
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.PendingAdded += o.PendingAdded
	s.PendingResolved += o.PendingResolved
	s.SelfReferences += o.SelfReferences
}

func (s *Summary) count(o types.UpsertOutcome) {
	switch o {
	case types.UpsertInserted:
		s.Inserted++
	case types.UpsertUpdated:
		s.Updated++
	default:
		s.Unchanged++
	}
}

// Builder derives relationships. It is safe for concurrent use.
type Builder struct {
	store    Store
	index    *index.Index
	searcher index.Searcher
	cfg      types.GraphConfig
	logger   *log.Logger

	locks [pairStripes]sync.Mutex
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the builder's logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// WithSearcher replaces the in-memory index as the neighbor source, for
// example with the pgvector-backed store.
func WithSearcher(s index.Searcher) Option {
	return func(b *Builder) {
		b.searcher = s
	}
}

// NewBuilder returns a Builder over st. idx may be nil when a searcher
// option supplies neighbors.
func NewBuilder(st Store, idx *index.Index, cfg types.GraphConfig, opts ...Option) *Builder {
	b := &Builder{
		store: st,
		index: idx,
		cfg:   cfg.WithDefaults(),
	}
	if idx != nil {
		b.searcher = idx
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrDiscard(b.logger)
	return b
}

// Config returns the effective graph configuration.
func (b *Builder) Config() types.GraphConfig {
	return b.cfg
}

// DeriveRelationshipsFor computes the CITES and SIMILAR edges of one
// stored paper, upserts them and resolves pending references that target
// the paper. Running it twice with unchanged inputs leaves the edge table
// unchanged.
func (b *Builder) DeriveRelationshipsFor(ctx context.Context, paperID int64) (Summary, error) {
	var sum Summary

	p, err := b.loadPaper(ctx, paperID)
	if err != nil {
		return sum, err
	}
	if p.HasEmbedding() && len(p.Embedding) != b.cfg.Dimensions {
		return sum, &types.DimensionError{PaperID: p.ID, Expected: b.cfg.Dimensions, Actual: len(p.Embedding)}
	}

	candidates := make(map[types.RelationshipKey]types.Relationship)

	if err := b.citationCandidates(ctx, p, candidates, &sum); err != nil {
		return sum, err
	}
	if err := b.similarityCandidates(ctx, p, candidates); err != nil {
		return sum, err
	}

	keys := make([]types.RelationshipKey, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	for _, k := range keys {
		outcome, err := b.upsert(ctx, candidates[k])
		if err != nil {
			return sum, fmt.Errorf("upserting %s edge %d -> %d: %w", k.Type, k.SourcePaperID, k.TargetPaperID, err)
		}
		sum.count(outcome)
	}

	if ids := p.ExternalIDs(); len(ids) > 0 {
		claimed, err := b.store.ResolvePendingReferences(ctx, ids, p.ID)
		if err != nil {
			return sum, fmt.Errorf("resolving references to paper %d: %w", p.ID, err)
		}
		sum.PendingResolved += len(claimed)
	}

	b.logger.Debug("derived relationships",
		"paper_id", p.ID,
		"inserted", sum.Inserted,
		"updated", sum.Updated,
		"unchanged", sum.Unchanged,
		"pending_added", sum.PendingAdded,
		"pending_resolved", sum.PendingResolved)
	return sum, nil
}

func (b *Builder) loadPaper(ctx context.Context, paperID int64) (*types.Paper, error) {
	p, err := b.store.GetPaper(ctx, paperID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("%w: paper %d", types.ErrUnknownPaper, paperID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading paper %d: %w", paperID, err)
	}
	return p, nil
}

// citationCandidates resolves each reference of p. Unresolved references
// become pending entries.
func (b *Builder) citationCandidates(ctx context.Context, p *types.Paper, out map[types.RelationshipKey]types.Relationship, sum *Summary) error {
	own := make(map[string]bool)
	for _, id := range p.ExternalIDs() {
		own[id] = true
	}

	for _, ref := range ident.NormalizeAll(p.ReferenceList) {
		if own[ref] {
			sum.SelfReferences++
			continue
		}

		target, err := b.store.ResolveExternalID(ctx, ref)
		switch {
		case err == nil:
			if target == p.ID {
				sum.SelfReferences++
				continue
			}
			rel := types.NewCitation(p.ID, target)
			out[rel.Key()] = rel
		case errors.Is(err, types.ErrNotFound):
			if err := b.deferReference(ctx, p.ID, ref, sum); err != nil {
				return err
			}
		default:
			return fmt.Errorf("resolving reference %q of paper %d: %w", ref, p.ID, err)
		}
	}
	return nil
}

// deferReference records ref as pending, then looks it up once more: a
// paper inserted between the first lookup and the pending write would
// otherwise never see this entry.
func (b *Builder) deferReference(ctx context.Context, paperID int64, ref string, sum *Summary) error {
	added, err := b.store.AddPendingReference(ctx, types.PendingReference{SourcePaperID: paperID, TargetExternalID: ref})
	if err != nil {
		return fmt.Errorf("recording pending reference %q of paper %d: %w", ref, paperID, err)
	}
	if added {
		sum.PendingAdded++
	}

	target, err := b.store.ResolveExternalID(ctx, ref)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("re-resolving reference %q of paper %d: %w", ref, paperID, err)
	}

	b.lockPair(paperID, target)
	claimed, err := b.store.ResolvePendingReferences(ctx, []string{ref}, target)
	b.unlockPair(paperID, target)
	if err != nil {
		return fmt.Errorf("claiming pending reference %q: %w", ref, err)
	}
	sum.PendingResolved += len(claimed)
	return nil
}

// similarityCandidates adds p's embedding to the index and turns its
// nearest neighbors into canonical SIMILAR edges.
func (b *Builder) similarityCandidates(ctx context.Context, p *types.Paper, out map[types.RelationshipKey]types.Relationship) error {
	if !p.HasEmbedding() || b.searcher == nil {
		return nil
	}
	if b.index != nil {
		if err := b.index.Add(p.ID, p.Embedding); err != nil {
			return fmt.Errorf("indexing paper %d: %w", p.ID, err)
		}
	}

	neighbors, err := b.searcher.Search(ctx, p.Embedding, index.Options{
		K:       b.cfg.NeighborK,
		Floor:   b.cfg.SimilarityFloor,
		Exclude: p.ID,
	})
	if err != nil {
		return fmt.Errorf("searching neighbors of paper %d: %w", p.ID, err)
	}
	for _, n := range neighbors {
		if n.PaperID == p.ID {
			continue
		}
		rel := types.NewSimilarity(p.ID, n.PaperID, n.Similarity)
		out[rel.Key()] = rel
	}
	return nil
}

// upsert writes rel under its pair lock. A constraint violation means a
// concurrent writer inserted the row first; the retry finds it and
// updates instead.
func (b *Builder) upsert(ctx context.Context, rel types.Relationship) (types.UpsertOutcome, error) {
	b.lockPair(rel.SourcePaperID, rel.TargetPaperID)
	defer b.unlockPair(rel.SourcePaperID, rel.TargetPaperID)

	outcome, err := b.store.UpsertRelationship(ctx, rel)
	if errors.Is(err, types.ErrConstraintViolation) {
		outcome, err = b.store.UpsertRelationship(ctx, rel)
	}
	return outcome, err
}

func (b *Builder) stripe(x, y int64) *sync.Mutex {
	if x > y {
		x, y = y, x
	}
	h := uint64(x)*0x9E3779B97F4A7C15 ^ uint64(y)
	return &b.locks[h%pairStripes]
}

func (b *Builder) lockPair(x, y int64)   { b.stripe(x, y).Lock() }
func (b *Builder) unlockPair(x, y int64) { b.stripe(x, y).Unlock() }

func compareKeys(a, b types.RelationshipKey) int {
	switch {
	case a.SourcePaperID != b.SourcePaperID:
		return cmp.Compare(a.SourcePaperID, b.SourcePaperID)
	case a.TargetPaperID != b.TargetPaperID:
		return cmp.Compare(a.TargetPaperID, b.TargetPaperID)
	default:
		return cmp.Compare(a.Type, b.Type)
	}
}

// PaperError is a per-paper failure collected during a rebuild.
type PaperError struct {
	PaperID int64
	Err     error
}

func (e PaperError) Error() string {
	return fmt.Sprintf("paper %d: %v", e.PaperID, e.Err)
}

func (e PaperError) Unwrap() error {
	return e.Err
}

// RebuildSummary reports a full rebuild.
type RebuildSummary struct {
	Papers  int          `json:"papers" yaml:"papers"`
	Indexed int          `json:"indexed" yaml:"indexed"`
	Edges   Summary      `json:"edges" yaml:"edges"`
	Failed  []PaperError `json:"-" yaml:"-"`
}

// RebuildAll reloads the index from the store and derives relationships
// for every paper with at most workers derivations in flight. Per-paper
// failures are collected; a dimension mismatch aborts the run.
func (b *Builder) RebuildAll(ctx context.Context, workers int) (RebuildSummary, error) {
	var rs RebuildSummary
	if workers <= 0 {
		workers = b.cfg.Workers
	}

	if b.index != nil {
		if err := b.index.Rebuild(ctx, b.store); err != nil {
			return rs, err
		}
		rs.Indexed = b.index.Len()
	}

	var ids []int64
	err := b.store.ScanPapers(ctx, func(p *types.Paper) error {
		ids = append(ids, p.ID)
		return nil
	})
	if err != nil {
		return rs, fmt.Errorf("listing papers: %w", err)
	}
	rs.Papers = len(ids)
	b.logger.Info("rebuilding graph", "papers", len(ids), "indexed", rs.Indexed, "workers", workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		g.Go(func() error {
			sum, err := b.DeriveRelationshipsFor(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			rs.Edges.Add(sum)
			if err == nil {
				return nil
			}
			if errors.Is(err, types.ErrDimensionMismatch) || errors.Is(err, context.Canceled) {
				return err
			}
			b.logger.Warn("derivation failed", "paper_id", id, "err", err)
			rs.Failed = append(rs.Failed, PaperError{PaperID: id, Err: err})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rs, fmt.Errorf("rebuilding graph: %w", err)
	}

	slices.SortFunc(rs.Failed, func(a, b PaperError) int { return cmp.Compare(a.PaperID, b.PaperID) })
	return rs, nil
}

// RelatedPaper is one entry of a related-papers lookup.
type RelatedPaper struct {
	PaperID int64   `json:"paper_id" yaml:"paper_id"`
	ArxivID string  `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`
	Title   string  `json:"title,omitempty" yaml:"title,omitempty"`
	Score   float64 `json:"score" yaml:"score"`
}

// Related returns the k nearest stored papers to paperID by embedding.
// It does not write edges.
func (b *Builder) Related(ctx context.Context, paperID int64, k int) ([]RelatedPaper, error) {
	p, err := b.loadPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if !p.HasEmbedding() {
		return nil, fmt.Errorf("%w: paper %d has no embedding", types.ErrInvalidInput, paperID)
	}
	if b.searcher == nil {
		return nil, fmt.Errorf("%w: no similarity searcher configured", types.ErrInvalidInput)
	}

	neighbors, err := b.searcher.Search(ctx, p.Embedding, index.Options{K: k, Exclude: p.ID})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.PaperID
	}
	papers, err := b.store.GetPapers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading related papers: %w", err)
	}
	byID := make(map[int64]*types.Paper, len(papers))
	for i := range papers {
		byID[papers[i].ID] = &papers[i]
	}

	related := make([]RelatedPaper, 0, len(neighbors))
	for _, n := range neighbors {
		rp := RelatedPaper{PaperID: n.PaperID, Score: n.Similarity}
		if q, ok := byID[n.PaperID]; ok {
			rp.ArxivID = q.ArxivID
			rp.Title = q.Title
		}
		related = append(related, rp)
	}
	return related, nil
}
