// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/papergraph/internal/graph"
)

// --- derive ---

var deriveCmd = &cobra.Command{
	Use:   "derive <paper>...",
	Short: "Derive citation and similarity edges for papers",
	Long: `Derive recomputes the CITES and SIMILAR edges of each paper, given by
numeric id or external identifier (arXiv id, DOI). Unresolved references
are kept as pending and linked once the cited paper arrives. Running
derive twice leaves the graph unchanged.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.resolvePapers(ctx, args)
		if err != nil {
			return err
		}
		var total graph.Summary
		for _, id := range ids {
			sum, err := a.builder.DeriveRelationshipsFor(ctx, id)
			if err != nil {
				return err
			}
			total.Add(sum)
		}
		printSummary(cmd.OutOrStdout(), total)
		return nil
	},
}

// --- rebuild ---

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Reload the similarity index and re-derive every paper",
	Long: `Rebuild reloads the similarity index from stored embeddings and derives
relationships for every paper. Per-paper failures are reported at the end;
an embedding of the wrong length stops the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		workers, _ := cmd.Flags().GetInt("workers")
		rs, err := a.builder.RebuildAll(ctx, workers)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "papers: %d (%d indexed)\n", rs.Papers, rs.Indexed)
		printSummary(out, rs.Edges)
		for _, f := range rs.Failed {
			fmt.Fprintf(out, "  failed: %v\n", f)
		}
		if len(rs.Failed) > 0 {
			return fmt.Errorf("%d paper(s) failed derivation", len(rs.Failed))
		}
		return nil
	},
}

// --- related ---

var relatedCmd = &cobra.Command{
	Use:   "related <paper>",
	Short: "List the papers nearest to a paper by embedding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.resolvePaper(ctx, args[0])
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")
		related, err := a.builder.Related(ctx, id, k)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeOutput(out, "json", related)
		}
		if len(related) == 0 {
			fmt.Fprintln(out, "No related papers found.")
			return nil
		}

		fmt.Fprintf(out, "%-4s  %-8s  %-12s  %-16s  %s\n", "Rank", "Score", "Paper", "arXiv", "Title")
		fmt.Fprintln(out, strings.Repeat("-", 100))
		for i, r := range related {
			fmt.Fprintf(out, "%-4d  %-8.4f  %-12d  %-16s  %s\n", i+1, r.Score, r.PaperID, r.ArxivID, truncate(r.Title, 50))
		}
		return nil
	},
}

// --- subgraph ---

var subgraphCmd = &cobra.Command{
	Use:   "subgraph <paper>...",
	Short: "Export the neighborhood of papers as JSON or YAML",
	Long: `Subgraph walks the relationship graph breadth-first from the given
papers for at most --hops steps and writes the papers reached and the
edges among them. With --direction out, CITES edges are followed from the
citing to the cited paper; with both, they are followed either way.
SIMILAR edges are always followed both ways.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		roots, err := a.resolvePapers(ctx, args)
		if err != nil {
			return err
		}
		hops, _ := cmd.Flags().GetInt("hops")
		dirFlag, _ := cmd.Flags().GetString("direction")
		dir, err := graph.ParseDirection(dirFlag)
		if err != nil {
			return err
		}

		g, err := graph.NewExporter(a.store).FetchSubgraph(ctx, roots, graph.SubgraphOptions{MaxHops: hops, Direction: dir})
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		path, _ := cmd.Flags().GetString("out")
		if path == "" {
			err = writeSubgraph(cmd.OutOrStdout(), format, g)
		} else {
			err = writeSubgraphFile(path, format, g)
		}
		if err != nil {
			return err
		}
		logger.Info("exported subgraph", "papers", len(g.Papers), "edges", len(g.Relationships))
		return nil
	},
}

func writeSubgraph(w io.Writer, format string, g *graph.Subgraph) error {
	switch format {
	case "json", "":
		return graph.WriteJSON(w, g)
	case "yaml":
		return graph.WriteYAML(w, g)
	default:
		return fmt.Errorf("unsupported format %q: use json or yaml", format)
	}
}

// writeSubgraphFile writes g to path. A failed close is reported.
func writeSubgraphFile(path, format string, g *graph.Subgraph) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	return writeSubgraph(f, format, g)
}

func init() {
	rebuildCmd.Flags().Int("workers", 0, "concurrent derivations (0 = graph.workers)")

	relatedCmd.Flags().Int("k", 5, "number of related papers")
	relatedCmd.Flags().Bool("json", false, "output results as JSON")

	subgraphCmd.Flags().Int("hops", 1, "maximum number of hops from the roots")
	subgraphCmd.Flags().String("direction", "out", "edge direction: out or both")
	subgraphCmd.Flags().String("format", "json", "output format: json or yaml")
	subgraphCmd.Flags().String("out", "", "write to file instead of stdout")

	rootCmd.AddCommand(deriveCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(relatedCmd)
	rootCmd.AddCommand(subgraphCmd)
}
