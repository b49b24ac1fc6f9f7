// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaperExternalIDs(t *testing.T) {
	tests := []struct {
		name  string
		paper Paper
		want  []string
	}{
		{"both", Paper{ArxivID: "2301.00001", SecondaryID: "10.1/x"}, []string{"2301.00001", "10.1/x"}},
		{"arxiv only", Paper{ArxivID: "2301.00001"}, []string{"2301.00001"}},
		{"secondary only", Paper{SecondaryID: "10.1/x"}, []string{"10.1/x"}},
		{"same value twice", Paper{ArxivID: "a", SecondaryID: "a"}, []string{"a"}},
		{"none", Paper{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.paper.ExternalIDs())
		})
	}
}

func TestGraphConfigWithDefaults(t *testing.T) {
	got := GraphConfig{SimilarityFloor: 2, NeighborK: 3}.WithDefaults()
	assert.Equal(t, DefaultEmbeddingDimensions, got.Dimensions)
	assert.Equal(t, 3, got.NeighborK)
	assert.Equal(t, DefaultGraphConfig().SimilarityFloor, got.SimilarityFloor)
	assert.Equal(t, DefaultGraphConfig().Workers, got.Workers)

	zeroFloor := GraphConfig{SimilarityFloor: 0}.WithDefaults()
	assert.Zero(t, zeroFloor.SimilarityFloor)
}
