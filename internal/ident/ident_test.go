// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ident

import (
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType Type
		wantNorm string
	}{
		// arXiv.
		{"new style", "2301.07041", TypeArxiv, "2301.07041"},
		{"new style with version", "2301.07041v2", TypeArxiv, "2301.07041"},
		{"prefixed", "arXiv:2301.07041", TypeArxiv, "2301.07041"},
		{"prefixed lowercase short", "arxiv:999", TypeArxiv, "999"},
		{"prefixed with version", "arxiv:999v3", TypeArxiv, "999"},
		{"legacy", "hep-th/9901001", TypeArxiv, "hep-th/9901001"},
		{"legacy with version", "hep-th/9901001v1", TypeArxiv, "hep-th/9901001"},
		{"abs url", "http://arxiv.org/abs/2301.07041v1", TypeArxiv, "2301.07041"},
		{"pdf url", "https://arxiv.org/pdf/2301.07041.pdf", TypeArxiv, "2301.07041"},

		// DOI.
		{"bare doi", "10.1145/1234567.1234568", TypeDOI, "10.1145/1234567.1234568"},
		{"doi uppercase", "10.1000/ABC", TypeDOI, "10.1000/abc"},
		{"doi prefix", "doi:10.1000/xyz", TypeDOI, "10.1000/xyz"},
		{"doi url", "https://doi.org/10.1000/XYZ", TypeDOI, "10.1000/xyz"},

		// Semantic Scholar.
		{"s2 id", "649DEF34F8BE52C8B66281AF98AE884C09AEF38B", TypeSemanticScholar, "649def34f8be52c8b66281af98ae884c09aef38b"},

		// Unknown.
		{"free text", "Smith et al. 2020", TypeUnknown, "Smith et al. 2020"},
		{"whitespace only", "   ", TypeUnknown, ""},
		{"empty", "", TypeUnknown, ""},
		{"trimmed", "  2301.07041  ", TypeArxiv, "2301.07041"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotNorm := Classify(tt.input)
			if gotType != tt.wantType {
				t.Errorf("Classify(%q) type = %v, want %v", tt.input, gotType, tt.wantType)
			}
			if gotNorm != tt.wantNorm {
				t.Errorf("Classify(%q) norm = %q, want %q", tt.input, gotNorm, tt.wantNorm)
			}
		})
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"arXiv:2301.07041", "2301.07041v3", "", "  ", "10.1000/A", "doi:10.1000/a", "x"})
	want := []string{"2301.07041", "10.1000/a", "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeAll = %v, want %v", got, want)
	}
}

func TestTypeString(t *testing.T) {
	for typ, want := range map[Type]string{
		TypeArxiv:           "arxiv",
		TypeDOI:             "doi",
		TypeSemanticScholar: "s2",
		TypeUnknown:         "unknown",
	} {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
