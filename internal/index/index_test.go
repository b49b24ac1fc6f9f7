// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/papergraph/pkg/types"
)

const testDims = 4

func vec(xs ...float32) []float32 {
	v := make([]float32, testDims)
	copy(v, xs)
	return v
}

type fakeSource []types.Paper

func (f fakeSource) ScanPapers(_ context.Context, fn func(*types.Paper) error) error {
	for i := range f {
		if err := fn(&f[i]); err != nil {
			return err
		}
	}
	return nil
}

func TestSearch_FloorAndExclude(t *testing.T) {
	idx := New(testDims, nil)
	require.NoError(t, idx.Add(1, vec(1, 0)))
	require.NoError(t, idx.Add(2, vec(0.99, 0.01)))
	require.NoError(t, idx.Add(3, vec(0, 1)))

	got, err := idx.Search(context.Background(), vec(1, 0), Options{K: 2, Floor: 0.8, Exclude: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].PaperID)
	assert.InDelta(t, 0.99995, got[0].Similarity, 1e-4)
}

func TestSearch_OrderAndTies(t *testing.T) {
	idx := New(testDims, nil)
	require.NoError(t, idx.Add(5, vec(1, 1)))
	require.NoError(t, idx.Add(3, vec(1, 1)))
	require.NoError(t, idx.Add(9, vec(1, 0)))
	require.NoError(t, idx.Add(7, vec(0, 0, 1)))

	got, err := idx.Search(context.Background(), vec(1, 1), Options{K: 3, Floor: -1})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// 3 and 5 tie at 1.0; the lower id comes first.
	assert.Equal(t, []int64{3, 5, 9}, []int64{got[0].PaperID, got[1].PaperID, got[2].PaperID})
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.GreaterOrEqual(t, got[1].Similarity, got[2].Similarity)
}

func TestSearch_KLimitsResults(t *testing.T) {
	idx := New(testDims, nil)
	for i := int64(1); i <= 20; i++ {
		require.NoError(t, idx.Add(i, vec(1, float32(i)/100)))
	}
	got, err := idx.Search(context.Background(), vec(1, 0), Options{K: 5})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
	}
	assert.Equal(t, int64(1), got[0].PaperID)
}

func TestSearch_InvalidInput(t *testing.T) {
	idx := New(testDims, nil)
	require.NoError(t, idx.Add(1, vec(1)))

	tests := []struct {
		name string
		vec  []float32
		opts Options
	}{
		{"zero k", vec(1), Options{K: 0}},
		{"negative k", vec(1), Options{K: -3}},
		{"wrong dimension", []float32{1, 0}, Options{K: 1}},
		{"zero vector", vec(), Options{K: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Search(context.Background(), tt.vec, tt.opts)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := New(testDims, nil)
	got, err := idx.Search(context.Background(), vec(1), Options{K: 10, Floor: 0.8})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAdd_ReplaceAndIdempotent(t *testing.T) {
	idx := New(testDims, nil)
	require.NoError(t, idx.Add(1, vec(1, 0)))
	require.NoError(t, idx.Add(1, vec(1, 0)))
	assert.Equal(t, 1, idx.Len())

	require.NoError(t, idx.Add(1, vec(0, 1)))
	assert.Equal(t, 1, idx.Len())

	got, err := idx.Search(context.Background(), vec(0, 1), Options{K: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
}

func TestAdd_DimensionMismatch(t *testing.T) {
	idx := New(testDims, nil)
	err := idx.Add(4, []float32{1, 2})

	var dimErr *types.DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestRebuild(t *testing.T) {
	idx := New(testDims, nil)
	require.NoError(t, idx.Add(99, vec(1)))

	src := fakeSource{
		{ID: 1, Embedding: vec(1, 0)},
		{ID: 2},
		{ID: 3, Embedding: vec(0, 1)},
	}
	require.NoError(t, idx.Rebuild(context.Background(), src))
	assert.Equal(t, 2, idx.Len())
	assert.False(t, idx.Contains(99))
	assert.True(t, idx.Contains(3))

	bad := fakeSource{{ID: 1, Embedding: []float32{1}}}
	err := idx.Rebuild(context.Background(), bad)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	assert.Equal(t, 2, idx.Len(), "failed rebuild keeps the previous snapshot")
}

func TestRebuild_SkipsZeroEmbedding(t *testing.T) {
	idx := New(testDims, nil)
	src := fakeSource{
		{ID: 1, Embedding: vec(1, 0)},
		{ID: 2, Embedding: vec(0.99, 0.01)},
		{ID: 3, Embedding: vec()},
	}
	require.NoError(t, idx.Rebuild(context.Background(), src))
	assert.Equal(t, 2, idx.Len())
	assert.False(t, idx.Contains(3))

	got, err := idx.Search(context.Background(), vec(1, 0), Options{K: 5, Floor: 0.8, Exclude: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].PaperID)
}

// scanHook runs during a scan, after the papers before it were delivered.
type scanHook struct {
	papers []types.Paper
	after  int
	hook   func()
}

func (s scanHook) ScanPapers(_ context.Context, fn func(*types.Paper) error) error {
	for i := range s.papers {
		if i == s.after {
			s.hook()
		}
		if err := fn(&s.papers[i]); err != nil {
			return err
		}
	}
	return nil
}

func TestRebuild_KeepsAddsDuringScan(t *testing.T) {
	idx := New(testDims, nil)
	src := scanHook{
		papers: []types.Paper{
			{ID: 1, Embedding: vec(1, 0)},
			{ID: 2, Embedding: vec(0, 1)},
		},
		after: 1,
		hook: func() {
			require.NoError(t, idx.Add(99, vec(1, 0.01)))
			require.NoError(t, idx.Add(2, vec(0, 0, 1)))
		},
	}
	require.NoError(t, idx.Rebuild(context.Background(), src))

	assert.Equal(t, 3, idx.Len())
	assert.True(t, idx.Contains(99))

	got, err := idx.Search(context.Background(), vec(1, 0), Options{K: 1, Exclude: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(99), got[0].PaperID)

	got, err = idx.Search(context.Background(), vec(0, 0, 1), Options{K: 1, Floor: 0.9})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].PaperID, "scanned vector is replaced by the newer add")

	// A later add after the rebuild is not replayed into anything stale.
	require.NoError(t, idx.Add(100, vec(1)))
	assert.Equal(t, 4, idx.Len())
}

func TestConcurrentAddAndSearch(t *testing.T) {
	idx := New(testDims, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 50 {
				id := int64(w*100 + i + 1)
				assert.NoError(t, idx.Add(id, vec(1, float32(i))))
			}
		}(w)
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_, err := idx.Search(ctx, vec(1, 1), Options{K: 3})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, idx.Len())
}
