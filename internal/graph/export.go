// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/papergraph/pkg/types"
)

// Direction selects which edges a subgraph walk follows.
type Direction string

const (
	// DirectionOut follows CITES edges from citing to cited paper.
	DirectionOut Direction = "out"

	// DirectionBoth follows every edge both ways.
	DirectionBoth Direction = "both"
)

// ParseDirection maps a flag value to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionOut, "":
		return DirectionOut, nil
	case DirectionBoth:
		return DirectionBoth, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q (want out or both)", types.ErrInvalidInput, s)
	}
}

// SubgraphOptions bounds a subgraph fetch.
type SubgraphOptions struct {
	MaxHops   int
	Direction Direction
}

// Subgraph is the set of papers reachable from the roots and the edges
// among them.
type Subgraph struct {
	Roots         []int64
	Papers        []types.Paper
	Relationships []types.Relationship
}

// ExportStore is the part of the record store the exporter reads.
type ExportStore interface {
	GetPapers(ctx context.Context, ids []int64) ([]types.Paper, error)
	RelationshipsTouching(ctx context.Context, ids []int64) ([]types.Relationship, error)
}

// Exporter reads bounded subgraphs. It never writes.
type Exporter struct {
	store ExportStore
}

// NewExporter returns an Exporter over st.
func NewExporter(st ExportStore) *Exporter {
	return &Exporter{store: st}
}

// FetchSubgraph walks breadth-first from roots for at most opts.MaxHops
// steps. SIMILAR edges are followed both ways in either direction mode.
func (e *Exporter) FetchSubgraph(ctx context.Context, roots []int64, opts SubgraphOptions) (*Subgraph, error) {
	if opts.MaxHops < 0 {
		return nil, fmt.Errorf("%w: max hops must not be negative, got %d", types.ErrInvalidInput, opts.MaxHops)
	}
	if opts.Direction == "" {
		opts.Direction = DirectionOut
	}

	roots = uniqueIDs(roots)
	found, err := e.store.GetPapers(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("loading roots: %w", err)
	}
	if len(found) != len(roots) {
		have := make(map[int64]bool, len(found))
		for _, p := range found {
			have[p.ID] = true
		}
		for _, id := range roots {
			if !have[id] {
				return nil, fmt.Errorf("%w: paper %d", types.ErrUnknownPaper, id)
			}
		}
	}

	visited := roaring64.New()
	for _, id := range roots {
		visited.Add(uint64(id))
	}

	frontier := roots
	for hop := 0; hop < opts.MaxHops && len(frontier) > 0; hop++ {
		rels, err := e.store.RelationshipsTouching(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("expanding hop %d: %w", hop+1, err)
		}
		inFrontier := make(map[int64]bool, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = true
		}

		var next []int64
		visit := func(id int64) {
			if !visited.Contains(uint64(id)) {
				visited.Add(uint64(id))
				next = append(next, id)
			}
		}
		for _, r := range rels {
			follow := opts.Direction == DirectionBoth || r.Type.Undirected()
			if inFrontier[r.SourcePaperID] {
				visit(r.TargetPaperID)
			}
			if follow && inFrontier[r.TargetPaperID] {
				visit(r.SourcePaperID)
			}
		}
		slices.Sort(next)
		frontier = next
	}

	ids := toInt64s(visited.ToArray())
	papers, err := e.store.GetPapers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading subgraph papers: %w", err)
	}
	rels, err := e.store.RelationshipsTouching(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading subgraph edges: %w", err)
	}
	inner := rels[:0]
	for _, r := range rels {
		if visited.Contains(uint64(r.SourcePaperID)) && visited.Contains(uint64(r.TargetPaperID)) {
			inner = append(inner, r)
		}
	}

	return &Subgraph{Roots: roots, Papers: papers, Relationships: inner}, nil
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func toInt64s(xs []uint64) []int64 {
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}

// ExportPaper is the serialized form of a subgraph node. Embeddings are
// left out.
type ExportPaper struct {
	ID          int64  `json:"id" yaml:"id"`
	ArxivID     string `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`
	SecondaryID string `json:"secondary_id,omitempty" yaml:"secondary_id,omitempty"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Abstract    string `json:"abstract" yaml:"abstract"`
	Root        bool   `json:"root,omitempty" yaml:"root,omitempty"`
}

// ExportEdge is the serialized form of a subgraph edge.
type ExportEdge struct {
	Source   int64   `json:"source" yaml:"source"`
	Target   int64   `json:"target" yaml:"target"`
	Type     string  `json:"type" yaml:"type"`
	Strength float64 `json:"strength" yaml:"strength"`
}

// ExportGraph is the document written by WriteJSON and WriteYAML.
type ExportGraph struct {
	Nodes []ExportPaper `json:"nodes" yaml:"nodes"`
	Edges []ExportEdge  `json:"edges" yaml:"edges"`
}

// Export converts g to its serialized form.
func (g *Subgraph) Export() ExportGraph {
	roots := make(map[int64]bool, len(g.Roots))
	for _, id := range g.Roots {
		roots[id] = true
	}

	out := ExportGraph{
		Nodes: make([]ExportPaper, len(g.Papers)),
		Edges: make([]ExportEdge, len(g.Relationships)),
	}
	for i, p := range g.Papers {
		out.Nodes[i] = ExportPaper{
			ID:          p.ID,
			ArxivID:     p.ArxivID,
			SecondaryID: p.SecondaryID,
			Title:       p.Title,
			Abstract:    p.Abstract,
			Root:        roots[p.ID],
		}
	}
	for i, r := range g.Relationships {
		out.Edges[i] = ExportEdge{
			Source:   r.SourcePaperID,
			Target:   r.TargetPaperID,
			Type:     string(r.Type),
			Strength: r.Strength,
		}
	}
	return out
}

// WriteJSON writes g as indented JSON.
func WriteJSON(w io.Writer, g *Subgraph) error {
	data, err := json.MarshalIndent(g.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteYAML writes g as YAML.
func WriteYAML(w io.Writer, g *Subgraph) error {
	data, err := yaml.Marshal(g.Export())
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}
