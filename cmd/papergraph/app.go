// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/papergraph/internal/embed"
	"github.com/pdiddy/papergraph/internal/graph"
	"github.com/pdiddy/papergraph/internal/index"
	"github.com/pdiddy/papergraph/internal/ingest"
	"github.com/pdiddy/papergraph/internal/store"
	"github.com/pdiddy/papergraph/pkg/types"
)

// app holds the components a command works with.
type app struct {
	cfg     types.Config
	store   store.Store
	index   *index.Index
	builder *graph.Builder
}

// openApp opens the configured store and wires the graph builder. With a
// pgvector-capable store the database answers neighbor queries; otherwise
// an in-memory index is used and, when warm is set, loaded from the store.
func openApp(ctx context.Context, warm bool) (*app, error) {
	cfg := appConfig
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}

	a := &app{cfg: cfg, store: st}
	opts := []graph.Option{graph.WithLogger(logger)}
	if searcher, ok := st.(index.Searcher); ok {
		opts = append(opts, graph.WithSearcher(searcher))
	} else {
		a.index = index.New(cfg.Graph.Dimensions, logger)
		if warm {
			if err := a.index.Rebuild(ctx, st); err != nil {
				st.Close()
				return nil, fmt.Errorf("loading similarity index: %w", err)
			}
			logger.Debug("similarity index loaded", "papers", a.index.Len())
		}
	}
	a.builder = graph.NewBuilder(st, a.index, cfg.Graph, opts...)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// pipeline returns an ingestion pipeline, with the configured embedding
// provider when withProvider is set.
func (a *app) pipeline(withProvider bool) *ingest.Pipeline {
	opts := []ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithCitationAlpha(a.cfg.Embedding.CitationAlpha),
	}
	if withProvider {
		opts = append(opts, ingest.WithProvider(embed.NewOllamaFromConfig(a.cfg.Embedding, a.cfg.Graph.Dimensions)))
	}
	return ingest.New(a.store, a.builder, a.cfg.Ingest, opts...)
}

// resolvePaper accepts a numeric paper id or any external identifier.
func (a *app) resolvePaper(ctx context.Context, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	id, err := a.store.ResolveExternalID(ctx, ref)
	if errors.Is(err, types.ErrNotFound) {
		return 0, fmt.Errorf("%w: no paper with identifier %q", types.ErrUnknownPaper, ref)
	}
	return id, err
}

func (a *app) resolvePapers(ctx context.Context, refs []string) ([]int64, error) {
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		id, err := a.resolvePaper(ctx, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// writeOutput encodes v as JSON or YAML.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q: use json or yaml", format)
	}
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:max(n, 0)])
	}
	return string(r[:n-3]) + "..."
}

func printSummary(w io.Writer, sum graph.Summary) {
	fmt.Fprintf(w, "edges: %d inserted, %d updated, %d unchanged\n", sum.Inserted, sum.Updated, sum.Unchanged)
	fmt.Fprintf(w, "pending references: %d added, %d resolved\n", sum.PendingAdded, sum.PendingResolved)
	if sum.SelfReferences > 0 {
		fmt.Fprintf(w, "self references skipped: %d\n", sum.SelfReferences)
	}
}
