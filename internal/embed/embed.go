// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embed turns paper text into embedding vectors.
package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/vecgo/distance"

	"github.com/pdiddy/papergraph/pkg/types"
)

// Provider generates embeddings from text.
type Provider interface {
	// Embed returns the vector for text. A vector of the wrong length is
	// reported as types.ErrDimensionMismatch.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the name of the embedding model.
	Model() string

	// Dimensions returns the vector length the provider produces.
	Dimensions() int
}

// PaperText is the text embedded for p: the title and abstract separated
// by a blank line, or the abstract alone when there is no title.
func PaperText(p *types.Paper) string {
	title := strings.TrimSpace(p.Title)
	abstract := strings.TrimSpace(p.Abstract)
	if title == "" {
		return abstract
	}
	return title + "\n\n" + abstract
}

// Blend mixes a paper's embedding with the mean embedding of the papers it
// cites: normalize(alpha*self + (1-alpha)*mean(refs)). With no refs, or
// alpha outside (0, 1), self is returned unchanged.
func Blend(self []float32, refs [][]float32, alpha float64) ([]float32, error) {
	if len(refs) == 0 || alpha <= 0 || alpha >= 1 {
		return self, nil
	}

	mean := make([]float64, len(self))
	for _, r := range refs {
		if len(r) != len(self) {
			return nil, &types.DimensionError{Expected: len(self), Actual: len(r)}
		}
		for i, x := range r {
			mean[i] += float64(x)
		}
	}

	n := float64(len(refs))
	out := make([]float32, len(self))
	for i := range out {
		out[i] = float32(alpha*float64(self[i]) + (1-alpha)*mean[i]/n)
	}

	unit, ok := distance.NormalizeL2Copy(out)
	if !ok {
		return nil, fmt.Errorf("%w: blended embedding is zero", types.ErrInvalidInput)
	}
	return unit, nil
}
