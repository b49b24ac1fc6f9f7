// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package index holds the in-memory similarity index over paper
// embeddings. Searches run lock-free against the last published snapshot;
// Add and Rebuild publish a new one.
package index

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/hupe1980/vecgo/distance"

	"github.com/pdiddy/papergraph/internal/logging"
	"github.com/pdiddy/papergraph/pkg/types"
)

// Neighbor is one search hit.
type Neighbor struct {
	PaperID    int64   `json:"paper_id" yaml:"paper_id"`
	Similarity float64 `json:"similarity" yaml:"similarity"`
}

// Options controls a search.
type Options struct {
	// K is the maximum number of neighbors returned. Must be positive.
	K int

	// Floor drops neighbors whose similarity is below it.
	Floor float64

	// Exclude is a paper id never returned, usually the query paper.
	Exclude int64
}

// Searcher answers top-k cosine queries. Index and the pgvector-backed
// store searcher both implement it.
type Searcher interface {
	Search(ctx context.Context, vec []float32, opts Options) ([]Neighbor, error)
}

// Source supplies stored papers for Rebuild.
type Source interface {
	ScanPapers(ctx context.Context, fn func(*types.Paper) error) error
}

// snapshot is immutable once published except for appends past len(ids),
// which readers holding an older snapshot never look at.
type snapshot struct {
	ids  []int64
	vecs [][]float32
}

// Index is a brute-force cosine index over unit vectors.
type Index struct {
	dims   int
	logger *log.Logger

	current atomic.Pointer[snapshot]

	mu  sync.Mutex
	pos map[int64]int

	// replay collects vectors added while a rebuild scans its source.
	// It is nil when no rebuild is running.
	replay map[int64][]float32

	rebuildMu sync.Mutex
}

var _ Searcher = (*Index)(nil)

// New returns an empty index for vectors of length dims.
func New(dims int, logger *log.Logger) *Index {
	idx := &Index{
		dims:   dims,
		logger: logging.OrDiscard(logger),
		pos:    make(map[int64]int),
	}
	idx.current.Store(&snapshot{})
	return idx
}

// Dimensions returns the configured vector length.
func (idx *Index) Dimensions() int {
	return idx.dims
}

// Len returns the number of vectors in the published snapshot.
func (idx *Index) Len() int {
	return len(idx.current.Load().ids)
}

// Contains reports whether id is in the published snapshot.
func (idx *Index) Contains(id int64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.pos[id]
	return ok
}

func (idx *Index) prepare(id int64, vec []float32) ([]float32, error) {
	if len(vec) != idx.dims {
		return nil, &types.DimensionError{PaperID: id, Expected: idx.dims, Actual: len(vec)}
	}
	unit, ok := distance.NormalizeL2Copy(vec)
	if !ok {
		return nil, fmt.Errorf("%w: paper %d has a zero embedding", types.ErrInvalidInput, id)
	}
	return unit, nil
}

// Add inserts or replaces the embedding of paper id. Adding the same
// vector twice leaves the index unchanged.
func (idx *Index) Add(id int64, vec []float32) error {
	unit, err := idx.prepare(id, vec)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.replay != nil {
		idx.replay[id] = unit
	}

	cur := idx.current.Load()
	if i, ok := idx.pos[id]; ok {
		vecs := make([][]float32, len(cur.vecs))
		copy(vecs, cur.vecs)
		vecs[i] = unit
		idx.current.Store(&snapshot{ids: cur.ids, vecs: vecs})
		return nil
	}

	idx.pos[id] = len(cur.ids)
	idx.current.Store(&snapshot{
		ids:  append(cur.ids, id),
		vecs: append(cur.vecs, unit),
	})
	return nil
}

// Rebuild replaces the index with every embedded paper from src. Papers
// whose embedding has the wrong length abort the rebuild and the previous
// snapshot stays published. Zero embeddings are skipped. Vectors added
// while the scan runs are carried into the new snapshot.
func (idx *Index) Rebuild(ctx context.Context, src Source) error {
	idx.rebuildMu.Lock()
	defer idx.rebuildMu.Unlock()

	idx.mu.Lock()
	idx.replay = make(map[int64][]float32)
	idx.mu.Unlock()

	next := &snapshot{}
	pos := make(map[int64]int)
	put := func(id int64, unit []float32) {
		if i, ok := pos[id]; ok {
			next.vecs[i] = unit
			return
		}
		pos[id] = len(next.ids)
		next.ids = append(next.ids, id)
		next.vecs = append(next.vecs, unit)
	}

	skipped := 0
	err := src.ScanPapers(ctx, func(p *types.Paper) error {
		if !p.HasEmbedding() {
			return nil
		}
		unit, err := idx.prepare(p.ID, p.Embedding)
		if errors.Is(err, types.ErrDimensionMismatch) {
			return err
		}
		if err != nil {
			idx.logger.Warn("skipping embedding", "paper_id", p.ID, "err", err)
			skipped++
			return nil
		}
		put(p.ID, unit)
		return nil
	})

	idx.mu.Lock()
	defer idx.mu.Unlock()
	replay := idx.replay
	idx.replay = nil
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}

	for id, unit := range replay {
		put(id, unit)
	}
	idx.pos = pos
	idx.current.Store(next)

	idx.logger.Debug("index rebuilt", "vectors", len(next.ids), "skipped", skipped, "replayed", len(replay))
	return nil
}

// Search returns up to opts.K neighbors of vec with similarity at least
// opts.Floor, by descending similarity with ties broken by ascending id.
func (idx *Index) Search(ctx context.Context, vec []float32, opts Options) ([]Neighbor, error) {
	if opts.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", types.ErrInvalidInput, opts.K)
	}
	if len(vec) != idx.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", types.ErrInvalidInput, len(vec), idx.dims)
	}
	query, ok := distance.NormalizeL2Copy(vec)
	if !ok {
		return nil, fmt.Errorf("%w: zero query vector", types.ErrInvalidInput)
	}

	snap := idx.current.Load()
	h := make(neighborHeap, 0, min(opts.K, len(snap.ids))+1)
	for i, id := range snap.ids {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if id == opts.Exclude {
			continue
		}
		sim := clamp(float64(distance.Dot(query, snap.vecs[i])))
		if sim < opts.Floor {
			continue
		}
		n := Neighbor{PaperID: id, Similarity: sim}
		if len(h) < opts.K {
			heap.Push(&h, n)
			continue
		}
		if worse(h[0], n) {
			h[0] = n
			heap.Fix(&h, 0)
		}
	}

	out := make([]Neighbor, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Neighbor)
	}
	return out, nil
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

// worse reports whether a ranks below b.
func worse(a, b Neighbor) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity < b.Similarity
	}
	return a.PaperID > b.PaperID
}

// neighborHeap is a min-heap on rank: the root is the worst kept neighbor.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}
