// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/papergraph/internal/graph"
	"github.com/pdiddy/papergraph/internal/index"
	"github.com/pdiddy/papergraph/internal/store"
	"github.com/pdiddy/papergraph/pkg/types"
)

const testDims = 4

// fakeProvider returns the vector registered for the first word of the
// text, or fails for unknown words.
type fakeProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
}

func (f *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var word string
	if fields := strings.Fields(text); len(fields) > 0 {
		word = fields[0]
	}
	vec, ok := f.vectors[word]
	if !ok {
		return nil, errors.New("model unavailable")
	}
	if len(vec) != testDims {
		return nil, &types.DimensionError{Expected: testDims, Actual: len(vec)}
	}
	return vec, nil
}

func (f *fakeProvider) Model() string   { return "fake" }
func (f *fakeProvider) Dimensions() int { return testDims }

type fixture struct {
	store    *store.SQLite
	provider *fakeProvider
	pipeline *Pipeline
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.NewSQLite(types.StoreConfig{Path: filepath.Join(t.TempDir(), "graph.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx := index.New(testDims, nil)
	b := graph.NewBuilder(st, idx, types.GraphConfig{Dimensions: testDims, NeighborK: 10, SimilarityFloor: 0.8})
	fp := &fakeProvider{vectors: map[string][]float32{}}
	opts = append([]Option{WithProvider(fp)}, opts...)
	return &fixture{
		store:    st,
		provider: fp,
		pipeline: New(st, b, types.IngestConfig{Workers: 2}, opts...),
	}
}

func payload(arxivID, title string, refs ...string) []byte {
	quoted := make([]string, len(refs))
	for i, r := range refs {
		quoted[i] = fmt.Sprintf("%q", r)
	}
	return fmt.Appendf(nil, `{"entry_id": "http://arxiv.org/abs/%sv1", "title": %q, "summary": "Abstract of %s.", "references": [%s]}`,
		arxivID, title, arxivID, strings.Join(quoted, ","))
}

func TestIngest_StoresAllLayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cited, _, err := f.pipeline.Ingest(ctx, payload("2301.00002", "Cited"))
	require.NoError(t, err)

	id, sum, err := f.pipeline.Ingest(ctx, payload("2301.00001", "Citing", "arXiv:2301.00002", "10.1000/later"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.PendingAdded)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RawRecords)
	assert.Equal(t, 2, stats.Papers)

	rel, err := f.store.GetRelationship(ctx, types.RelationshipKey{SourcePaperID: id, TargetPaperID: cited, Type: types.RelCites})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rel.Strength)
}

func TestIngest_ReingestMerges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.pipeline.Ingest(ctx, payload("2301.00001", "Original"))
	require.NoError(t, err)
	second, _, err := f.pipeline.Ingest(ctx, payload("2301.00001", "Revised"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	p, err := f.store.GetPaper(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Revised", p.Title)
}

func TestIngest_InvalidPayloadNotStored(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.pipeline.Ingest(context.Background(), []byte(`{"entry_id": `))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.RawRecords)
}

func TestIngestAll(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"json lines", string(payload("2301.00001", "A")) + "\n" + `{"summary": "no id"}` + "\n" + string(payload("2301.00002", "B")) + "\n"},
		{"array", "[" + string(payload("2301.00001", "A")) + `, {"summary": "no id"}, ` + string(payload("2301.00002", "B")) + "]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.pipeline.IngestAll(context.Background(), strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, 2, res.Ingested)
			assert.Equal(t, 1, res.Failed)
			assert.Equal(t, 3, res.Total())
			assert.True(t, res.HasFailures())
			assert.Len(t, res.PaperIDs, 2)
		})
	}
}

func TestIngestAll_Malformed(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.IngestAll(context.Background(), strings.NewReader(`{"entry_id": `))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestEmbedMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.vectors["Transformers"] = []float32{1, 0, 0, 0}
	f.provider.vectors["Attention"] = []float32{0.99, 0.01, 0, 0}
	f.provider.vectors["Botany"] = []float32{0, 1, 0, 0}

	var ids []int64
	for i, title := range []string{"Transformers", "Attention", "Botany"} {
		id, _, err := f.pipeline.Ingest(ctx, payload(fmt.Sprintf("2301.0000%d", i+1), title))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	es, err := f.pipeline.EmbedMissing(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, es.Embedded)
	assert.Empty(t, es.Failed)

	similar, err := f.store.ListRelationships(ctx, store.RelationshipFilter{Type: types.RelSimilar})
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, ids[0], similar[0].SourcePaperID)
	assert.Equal(t, ids[1], similar[0].TargetPaperID)

	// Nothing is left to embed.
	es, err = f.pipeline.EmbedMissing(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, es.Embedded)
	assert.Equal(t, 3, f.provider.calls)
}

func TestEmbedMissing_CollectsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.vectors["Known"] = []float32{1, 0, 0, 0}

	_, _, err := f.pipeline.Ingest(ctx, payload("2301.00001", "Known"))
	require.NoError(t, err)
	unknown, _, err := f.pipeline.Ingest(ctx, payload("2301.00002", "Unknown"))
	require.NoError(t, err)

	es, err := f.pipeline.EmbedMissing(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, es.Embedded)
	require.Len(t, es.Failed, 1)
	assert.Equal(t, unknown, es.Failed[0].PaperID)
}

func TestEmbedMissing_DimensionMismatchAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.vectors["Short"] = []float32{1, 0}

	id, _, err := f.pipeline.Ingest(ctx, payload("2301.00001", "Short"))
	require.NoError(t, err)

	_, err = f.pipeline.EmbedMissing(ctx, 10)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	var dimErr *types.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, id, dimErr.PaperID)
}

func TestEmbedMissing_NoProvider(t *testing.T) {
	f := newFixture(t)
	f.pipeline.provider = nil
	_, err := f.pipeline.EmbedMissing(context.Background(), 1)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestEmbedMissing_BlendsCitedEmbeddings(t *testing.T) {
	f := newFixture(t, WithCitationAlpha(0.5))
	ctx := context.Background()
	f.provider.vectors["Base"] = []float32{0, 1, 0, 0}
	f.provider.vectors["Citing"] = []float32{1, 0, 0, 0}

	base, _, err := f.pipeline.Ingest(ctx, payload("2301.00001", "Base"))
	require.NoError(t, err)
	_, err = f.pipeline.EmbedMissing(ctx, 10)
	require.NoError(t, err)

	citing, _, err := f.pipeline.Ingest(ctx, payload("2301.00002", "Citing", "2301.00001"))
	require.NoError(t, err)
	es, err := f.pipeline.EmbedMissing(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, es.Blended)

	p, err := f.store.GetPaper(ctx, citing)
	require.NoError(t, err)
	require.Len(t, p.Embedding, testDims)
	assert.InDelta(t, 0.7071, p.Embedding[0], 1e-3)
	assert.InDelta(t, 0.7071, p.Embedding[1], 1e-3)

	// cos = 0.7071 is under the 0.8 floor, so only the citation links them.
	rels, err := f.store.ListRelationships(ctx, store.RelationshipFilter{PaperID: base})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, types.RelCites, rels[0].Type)
}
