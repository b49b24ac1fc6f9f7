// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/papergraph/pkg/types"
)

func TestPaperText(t *testing.T) {
	tests := []struct {
		name  string
		paper types.Paper
		want  string
	}{
		{"title and abstract", types.Paper{Title: "Attention", Abstract: "We study attention."}, "Attention\n\nWe study attention."},
		{"abstract only", types.Paper{Abstract: "Just the abstract."}, "Just the abstract."},
		{"trims whitespace", types.Paper{Title: "  T  ", Abstract: "\nA\n"}, "T\n\nA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PaperText(&tt.paper))
		})
	}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestBlend(t *testing.T) {
	self := []float32{1, 0, 0}

	got, err := Blend(self, nil, 0.7)
	require.NoError(t, err)
	assert.Equal(t, self, got, "no references leaves the embedding unchanged")

	got, err = Blend(self, [][]float32{{0, 1, 0}}, 1)
	require.NoError(t, err)
	assert.Equal(t, self, got, "alpha 1 disables blending")

	got, err = Blend(self, [][]float32{{0, 1, 0}, {0, 0, 1}}, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(got), 1e-6)
	// 0.5*[1,0,0] + 0.5*[0,0.5,0.5] = [0.5,0.25,0.25]
	want := []float64{0.5, 0.25, 0.25}
	n := math.Sqrt(0.375)
	for i := range want {
		assert.InDelta(t, want[i]/n, float64(got[i]), 1e-6)
	}
}

func TestBlend_Errors(t *testing.T) {
	_, err := Blend([]float32{1, 0}, [][]float32{{1, 0, 0}}, 0.5)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	_, err = Blend([]float32{1, 0}, [][]float32{{-1, 0}}, 0.5)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
