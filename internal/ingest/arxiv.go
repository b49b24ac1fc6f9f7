// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdiddy/papergraph/internal/ident"
	"github.com/pdiddy/papergraph/pkg/types"
)

// SourceArxiv is the raw record source for arXiv payloads.
const SourceArxiv = "arxiv"

// ArxivPayload is the raw document stored for one arXiv search result.
// The normalizer reads the identifiers, text and link lists; the remaining
// metadata is kept in the raw layer only.
type ArxivPayload struct {
	EntryID    string      `json:"entry_id"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	DOI        string      `json:"doi,omitempty"`
	Conclusion string      `json:"conclusion,omitempty"`
	SSPaperID  string      `json:"ss_paper_id,omitempty"`
	References []Reference `json:"references,omitempty"`
	Citations  []Reference `json:"citations,omitempty"`

	Published       string   `json:"published,omitempty"`
	Updated         string   `json:"updated,omitempty"`
	Authors         []string `json:"authors,omitempty"`
	Comment         string   `json:"comment,omitempty"`
	JournalRef      string   `json:"journal_ref,omitempty"`
	PrimaryCategory string   `json:"primary_category,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	Links           []string `json:"links,omitempty"`
	PDFURL          string   `json:"pdf_url,omitempty"`
}

// Reference is one entry of a payload's reference or citation list. It
// is either a bare identifier string or an object carrying the linked
// paper's known identifiers.
type Reference struct {
	ArxivID   string `json:"arxiv_id"`
	DOI       string `json:"doi"`
	SSPaperID string `json:"ss_paper_id"`
	Title     string `json:"title"`
}

// UnmarshalJSON accepts a string or an object.
func (r *Reference) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Reference{}
		switch typ, norm := ident.Classify(s); typ {
		case ident.TypeArxiv:
			r.ArxivID = norm
		case ident.TypeDOI:
			r.DOI = norm
		default:
			r.SSPaperID = norm
		}
		return nil
	}

	type plain Reference
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Reference(p)
	return nil
}

// Identifier returns the reference's preferred normalized identifier:
// arXiv id, then DOI, then Semantic Scholar id. It is empty when the
// reference carries none.
func (r Reference) Identifier() string {
	for _, id := range []string{r.ArxivID, r.DOI, r.SSPaperID} {
		if n := ident.Normalize(id); n != "" {
			return n
		}
	}
	return ""
}

func identifiers(refs []Reference) []string {
	var out []string
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		id := r.Identifier()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// DecodeArxiv parses a raw arXiv payload.
func DecodeArxiv(raw json.RawMessage) (*ArxivPayload, error) {
	var p ArxivPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decoding arXiv payload: %v", types.ErrInvalidInput, err)
	}
	return &p, nil
}

// NormalizeArxiv maps a raw arXiv payload to a Paper. The arXiv id comes
// from entry_id (an abs URL or a bare id); the secondary id is the DOI, or
// the Semantic Scholar id when there is no DOI.
func NormalizeArxiv(raw json.RawMessage) (*types.Paper, error) {
	payload, err := DecodeArxiv(raw)
	if err != nil {
		return nil, err
	}
	return payload.Paper()
}

// Paper maps the payload to a normalized Paper.
func (payload *ArxivPayload) Paper() (*types.Paper, error) {
	p := &types.Paper{
		Title:         collapseSpace(payload.Title),
		Abstract:      collapseSpace(payload.Summary),
		Conclusion:    strings.TrimSpace(payload.Conclusion),
		ReferenceList: identifiers(payload.References),
		CitationList:  identifiers(payload.Citations),
		SchemaVersion: types.PaperSchemaVersion,
	}

	if typ, id := ident.Classify(payload.EntryID); typ == ident.TypeArxiv {
		p.ArxivID = id
	} else if payload.EntryID != "" {
		return nil, fmt.Errorf("%w: entry_id %q is not an arXiv identifier", types.ErrInvalidInput, payload.EntryID)
	}

	p.SecondaryID = ident.Normalize(payload.DOI)
	if p.SecondaryID == "" {
		p.SecondaryID = ident.Normalize(payload.SSPaperID)
	}

	if p.ArxivID == "" && p.SecondaryID == "" {
		return nil, fmt.Errorf("%w: payload carries no identifier", types.ErrInvalidInput)
	}
	if p.Abstract == "" {
		return nil, fmt.Errorf("%w: paper %s has an empty abstract", types.ErrInvalidInput, firstNonEmpty(p.ArxivID, p.SecondaryID))
	}
	return p, nil
}

// collapseSpace joins the hard-wrapped lines arXiv returns in titles and
// abstracts.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
