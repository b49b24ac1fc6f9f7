// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/papergraph/pkg/types"
)

// chain builds a -> b -> c (CITES) and b ~ d (SIMILAR).
func chain(t *testing.T) (*fixture, [4]int64) {
	t.Helper()
	f := newFixture(t)
	var ids [4]int64
	for i, arxiv := range []string{"2301.00001", "2301.00002", "2301.00003", "2301.00004"} {
		ids[i] = f.paper(t, arxiv, nil, vec(1, float32(i)))
	}
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]
	for _, rel := range []types.Relationship{
		types.NewCitation(a, b),
		types.NewCitation(b, c),
		types.NewSimilarity(d, b, 0.9),
	} {
		_, err := f.store.UpsertRelationship(context.Background(), rel)
		require.NoError(t, err)
	}
	return f, ids
}

func paperIDs(g *Subgraph) []int64 {
	ids := make([]int64, len(g.Papers))
	for i, p := range g.Papers {
		ids[i] = p.ID
	}
	return ids
}

func TestFetchSubgraph_Hops(t *testing.T) {
	f, ids := chain(t)
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]
	ex := NewExporter(f.store)

	tests := []struct {
		name      string
		roots     []int64
		opts      SubgraphOptions
		wantIDs   []int64
		wantEdges int
	}{
		{"zero hops returns roots", []int64{a}, SubgraphOptions{MaxHops: 0}, []int64{a}, 0},
		{"one hop out", []int64{a}, SubgraphOptions{MaxHops: 1, Direction: DirectionOut}, []int64{a, b}, 1},
		{"two hops out follows similar", []int64{a}, SubgraphOptions{MaxHops: 2, Direction: DirectionOut}, []int64{a, b, c, d}, 3},
		{"out ignores incoming cites", []int64{c}, SubgraphOptions{MaxHops: 3, Direction: DirectionOut}, []int64{c}, 0},
		{"both follows incoming cites", []int64{c}, SubgraphOptions{MaxHops: 1, Direction: DirectionBoth}, []int64{b, c}, 1},
		{"similar is undirected in out mode", []int64{d}, SubgraphOptions{MaxHops: 2, Direction: DirectionOut}, []int64{b, c, d}, 2},
		{"duplicate roots", []int64{b, b}, SubgraphOptions{MaxHops: 0}, []int64{b}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ex.FetchSubgraph(context.Background(), tt.roots, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, paperIDs(g))
			assert.Len(t, g.Relationships, tt.wantEdges)
		})
	}
}

func TestFetchSubgraph_Errors(t *testing.T) {
	f, ids := chain(t)
	ex := NewExporter(f.store)

	_, err := ex.FetchSubgraph(context.Background(), []int64{ids[0]}, SubgraphOptions{MaxHops: -1})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = ex.FetchSubgraph(context.Background(), []int64{ids[0], 999}, SubgraphOptions{MaxHops: 1})
	assert.ErrorIs(t, err, types.ErrUnknownPaper)
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"": DirectionOut, "out": DirectionOut, "both": DirectionBoth} {
		got, err := ParseDirection(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDirection("sideways")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestWriteJSONAndYAML(t *testing.T) {
	f, ids := chain(t)
	g, err := NewExporter(f.store).FetchSubgraph(context.Background(), []int64{ids[0]}, SubgraphOptions{MaxHops: 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, g))
	assert.NotContains(t, buf.String(), "embedding")

	var doc ExportGraph
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Nodes, 2)
	assert.True(t, doc.Nodes[0].Root)
	assert.False(t, doc.Nodes[1].Root)
	require.Len(t, doc.Edges, 1)
	assert.Equal(t, "CITES", doc.Edges[0].Type)

	buf.Reset()
	require.NoError(t, WriteYAML(&buf, g))
	var ydoc ExportGraph
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &ydoc))
	assert.Equal(t, doc, ydoc)
}
