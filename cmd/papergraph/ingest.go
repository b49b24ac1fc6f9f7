// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/papergraph/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest raw arXiv payloads and derive their relationships",
	Long: `Ingest reads arXiv payloads (JSON lines or a JSON array) from the given
files, or from stdin when no file or "-" is given. Each payload is stored
as a raw record, normalized into a paper (merged with an existing paper
sharing an identifier) and linked to the papers it cites.

With --embed, papers without an embedding are embedded afterwards.`,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	withEmbed, _ := cmd.Flags().GetBool("embed")

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	p := a.pipeline(withEmbed)
	if len(args) == 0 {
		args = []string{"-"}
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		var r io.Reader = cmd.InOrStdin()
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()
			r = f
		}

		res, err := p.IngestAll(ctx, r)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: %d ingested, %d skipped\n", path, res.Ingested, res.Failed)
		printSummary(out, res.Edges)
		failed += res.Failed
	}

	if withEmbed {
		limit, _ := cmd.Flags().GetInt("limit")
		if err := embedAndReport(cmd, p, limit); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d payload(s) could not be ingested", failed)
	}
	return nil
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <query>...",
	Short: "Search arXiv and ingest the results",
	Long: `Fetch queries the arXiv API with the given terms (all fields, joined
with AND; prefixed terms such as au:name pass through) and ingests each
result like the ingest command does.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		maxResults, _ := cmd.Flags().GetInt("max-results")
		withEmbed, _ := cmd.Flags().GetBool("embed")

		payloads, err := ingest.NewArxivFetcher().Fetch(ctx, strings.Join(args, " "), maxResults)
		if err != nil {
			return err
		}
		logger.Info("fetched arXiv results", "count", len(payloads))

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		p := a.pipeline(withEmbed)
		res, err := p.IngestPayloads(ctx, payloads)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "arxiv: %d ingested, %d skipped\n", res.Ingested, res.Failed)
		printSummary(out, res.Edges)

		if withEmbed {
			return embedAndReport(cmd, p, 0)
		}
		return nil
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed papers that have no embedding yet",
	Long: `Embed sends the title and abstract of each paper without an embedding
to the configured embedding server, stores the vector, and derives the
paper's similarity edges. When embedding.citation_alpha is between 0 and 1
each vector is blended with the embeddings of the papers it cites.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		return embedAndReport(cmd, a.pipeline(true), limit)
	},
}

type embedder interface {
	EmbedMissing(ctx context.Context, limit int) (ingest.EmbedSummary, error)
}

func embedAndReport(cmd *cobra.Command, p embedder, limit int) error {
	es, err := p.EmbedMissing(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "embedded: %d (%d blended with citations)\n", es.Embedded, es.Blended)
	printSummary(out, es.Edges)
	for _, f := range es.Failed {
		fmt.Fprintf(out, "  failed: %v\n", f)
	}
	if len(es.Failed) > 0 {
		return fmt.Errorf("%d paper(s) failed embedding", len(es.Failed))
	}
	return nil
}

func init() {
	ingestCmd.Flags().Bool("embed", false, "embed unembedded papers after ingesting")
	ingestCmd.Flags().Int("limit", 0, "maximum papers to embed (0 = ingest.batch_size)")
	fetchCmd.Flags().Int("max-results", 5, "maximum arXiv results")
	fetchCmd.Flags().Bool("embed", false, "embed unembedded papers after ingesting")
	embedCmd.Flags().Int("limit", 0, "maximum papers to embed (0 = ingest.batch_size)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(embedCmd)
}
