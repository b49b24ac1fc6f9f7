// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/papergraph/internal/httputil"
	"github.com/pdiddy/papergraph/pkg/types"
)

// DefaultArxivURL is the arXiv search endpoint.
const DefaultArxivURL = "https://export.arxiv.org/api/query"

const defaultFetchResults = 5

// ArxivFetcher queries the arXiv API and returns raw payloads ready for
// Ingest.
type ArxivFetcher struct {
	Client    *http.Client
	BaseURL   string
	UserAgent string
}

// NewArxivFetcher returns a fetcher against the public arXiv API.
func NewArxivFetcher() *ArxivFetcher {
	return &ArxivFetcher{
		Client:    &http.Client{Timeout: 30 * time.Second},
		BaseURL:   DefaultArxivURL,
		UserAgent: "papergraph",
	}
}

// Fetch searches arXiv for query and returns up to maxResults payloads in
// relevance order.
func (f *ArxivFetcher) Fetch(ctx context.Context, query string, maxResults int) ([]json.RawMessage, error) {
	q := buildArxivQuery(query)
	if q == "" {
		return nil, fmt.Errorf("%w: empty arXiv query", types.ErrInvalidInput)
	}
	if maxResults <= 0 {
		maxResults = defaultFetchResults
	}

	params := url.Values{}
	params.Set("search_query", q)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, f.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	payloads := make([]json.RawMessage, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if entry.ID == "" {
			continue
		}
		data, err := json.Marshal(entry.payload())
		if err != nil {
			return nil, fmt.Errorf("encoding payload for %s: %w", entry.ID, err)
		}
		payloads = append(payloads, data)
	}
	return payloads, nil
}

// buildArxivQuery turns free text into an all-fields conjunction. Terms
// already carrying a field prefix (au:, ti:, cat:) pass through.
func buildArxivQuery(text string) string {
	var parts []string
	for _, term := range strings.Fields(text) {
		if strings.Contains(term, ":") {
			parts = append(parts, term)
			continue
		}
		parts = append(parts, "all:"+term)
	}
	return strings.Join(parts, " AND ")
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID              string          `xml:"id"`
	Title           string          `xml:"title"`
	Summary         string          `xml:"summary"`
	Published       string          `xml:"published"`
	Updated         string          `xml:"updated"`
	Authors         []arxivAuthor   `xml:"author"`
	Links           []arxivLink     `xml:"link"`
	Categories      []arxivCategory `xml:"category"`
	PrimaryCategory arxivCategory   `xml:"http://arxiv.org/schemas/atom primary_category"`
	DOI             string          `xml:"http://arxiv.org/schemas/atom doi"`
	Comment         string          `xml:"http://arxiv.org/schemas/atom comment"`
	JournalRef      string          `xml:"http://arxiv.org/schemas/atom journal_ref"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

type arxivCategory struct {
	Term string `xml:"term,attr"`
}

func (e arxivEntry) payload() ArxivPayload {
	p := ArxivPayload{
		EntryID:         strings.TrimSpace(e.ID),
		Title:           strings.TrimSpace(e.Title),
		Summary:         strings.TrimSpace(e.Summary),
		DOI:             strings.TrimSpace(e.DOI),
		Published:       e.Published,
		Updated:         e.Updated,
		Comment:         strings.TrimSpace(e.Comment),
		JournalRef:      strings.TrimSpace(e.JournalRef),
		PrimaryCategory: e.PrimaryCategory.Term,
	}
	for _, a := range e.Authors {
		p.Authors = append(p.Authors, strings.TrimSpace(a.Name))
	}
	for _, c := range e.Categories {
		p.Categories = append(p.Categories, c.Term)
	}
	for _, l := range e.Links {
		p.Links = append(p.Links, l.Href)
		if l.Title == "pdf" || l.Type == "application/pdf" {
			p.PDFURL = l.Href
		}
	}
	return p
}
