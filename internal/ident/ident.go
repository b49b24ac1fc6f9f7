// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ident classifies and normalizes external paper identifiers so
// that a reference string and a stored paper identifier compare equal.
package ident

import (
	"net/url"
	"regexp"
	"strings"
)

// Type classifies an external identifier.
type Type int

const (
	TypeUnknown Type = iota
	TypeArxiv
	TypeDOI
	TypeSemanticScholar
)

func (t Type) String() string {
	switch t {
	case TypeArxiv:
		return "arxiv"
	case TypeDOI:
		return "doi"
	case TypeSemanticScholar:
		return "s2"
	default:
		return "unknown"
	}
}

var (
	// arxivPattern matches new-style arXiv ids: "2301.07041", "2301.07041v2".
	arxivPattern = regexp.MustCompile(`^(\d{4}\.\d{4,5})(?:v\d+)?$`)

	// arxivLegacyPattern matches old-style ids: "hep-th/9901001v1".
	arxivLegacyPattern = regexp.MustCompile(`^([a-z\-]+(?:\.[A-Z]{2})?/\d{7})(?:v\d+)?$`)

	// versionSuffix strips a trailing "v3" from prefixed arXiv ids.
	versionSuffix = regexp.MustCompile(`v\d+$`)

	// doiPattern matches DOIs: "10.1145/1234567.1234568".
	doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

	// s2Pattern matches Semantic Scholar paper ids (40 hex characters).
	s2Pattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
)

// Classify determines the identifier type and returns its normalized form.
// arXiv ids lose their "arXiv:" prefix and version suffix, DOIs and
// Semantic Scholar ids are lowercased, and arxiv.org / doi.org URLs are
// reduced to the bare identifier.
func Classify(identifier string) (Type, string) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return TypeUnknown, ""
	}

	lower := strings.ToLower(identifier)
	switch {
	case strings.HasPrefix(lower, "arxiv:"):
		return TypeArxiv, stripArxivVersion(strings.TrimSpace(identifier[len("arxiv:"):]))
	case strings.HasPrefix(lower, "doi:"):
		return TypeDOI, strings.ToLower(strings.TrimSpace(identifier[len("doi:"):]))
	}

	if m := arxivPattern.FindStringSubmatch(identifier); m != nil {
		return TypeArxiv, m[1]
	}
	if m := arxivLegacyPattern.FindStringSubmatch(identifier); m != nil {
		return TypeArxiv, m[1]
	}
	if doiPattern.MatchString(identifier) {
		return TypeDOI, lower
	}
	if s2Pattern.MatchString(identifier) {
		return TypeSemanticScholar, lower
	}

	if u, err := url.Parse(identifier); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		path := strings.Trim(u.Path, "/")
		switch {
		case host == "arxiv.org" || host == "export.arxiv.org":
			for _, prefix := range []string{"abs/", "pdf/"} {
				if rest, ok := strings.CutPrefix(path, prefix); ok {
					return Classify(strings.TrimSuffix(rest, ".pdf"))
				}
			}
		case host == "doi.org" || host == "dx.doi.org":
			if doiPattern.MatchString(path) {
				return TypeDOI, strings.ToLower(path)
			}
		}
	}

	return TypeUnknown, identifier
}

// Normalize returns the normalized form of identifier.
func Normalize(identifier string) string {
	_, norm := Classify(identifier)
	return norm
}

// NormalizeAll normalizes ids, drops empties and duplicates, and keeps the
// first-seen order.
func NormalizeAll(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		norm := Normalize(id)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}

func stripArxivVersion(id string) string {
	if m := arxivPattern.FindStringSubmatch(id); m != nil {
		return m[1]
	}
	if m := arxivLegacyPattern.FindStringSubmatch(id); m != nil {
		return m[1]
	}
	return versionSuffix.ReplaceAllString(id, "")
}
