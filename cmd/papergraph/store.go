// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/papergraph/internal/store"
	"github.com/pdiddy/papergraph/pkg/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema and optionally a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetString("write-config"); path != "" {
			if err := writeDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", path)
		}

		st, err := store.Open(cmd.Context(), appConfig.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		switch appConfig.Store.Driver {
		case types.DriverPostgres:
			fmt.Fprintln(out, "initialized postgres store")
		default:
			fmt.Fprintf(out, "initialized %s\n", appConfig.Store.Path)
		}
		return nil
	},
}

func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	data, err := yaml.Marshal(types.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

var pendingCmd = &cobra.Command{
	Use:   "pending [identifier]",
	Short: "List references waiting for the cited paper to be ingested",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), appConfig.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		var target string
		if len(args) == 1 {
			target = args[0]
		}
		refs, err := st.ScanPendingReferences(cmd.Context(), target)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeOutput(out, "json", refs)
		}
		if len(refs) == 0 {
			fmt.Fprintln(out, "No pending references.")
			return nil
		}
		fmt.Fprintf(out, "%-12s  %s\n", "Source", "Target")
		fmt.Fprintln(out, strings.Repeat("-", 60))
		for _, r := range refs {
			fmt.Fprintf(out, "%-12d  %s\n", r.SourcePaperID, r.TargetExternalID)
		}
		fmt.Fprintf(out, "\n%d pending\n", len(refs))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts for each layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), appConfig.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if format, _ := cmd.Flags().GetString("format"); format != "" {
			return writeOutput(out, format, stats)
		}
		fmt.Fprintf(out, "raw records:        %d\n", stats.RawRecords)
		fmt.Fprintf(out, "papers:             %d (%d embedded)\n", stats.Papers, stats.EmbeddedPapers)
		kinds := make([]string, 0, len(stats.Relationships))
		for t := range stats.Relationships {
			kinds = append(kinds, t)
		}
		slices.Sort(kinds)
		for _, t := range kinds {
			fmt.Fprintf(out, "%-19s %d\n", t+" edges:", stats.Relationships[t])
		}
		fmt.Fprintf(out, "pending references: %d\n", stats.PendingReferences)
		return nil
	},
}

func init() {
	initCmd.Flags().String("write-config", "", "also write a default config file to this path")
	pendingCmd.Flags().Bool("json", false, "output results as JSON")
	statsCmd.Flags().String("format", "", "output format: json or yaml (default: text)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(statsCmd)
}
