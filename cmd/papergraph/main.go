// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the papergraph CLI.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/papergraph/internal/logging"
	"github.com/pdiddy/papergraph/internal/secrets"
	"github.com/pdiddy/papergraph/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// appConfig is the effective configuration, resolved before every command.
	appConfig types.Config

	logger = logging.Discard()
)

// rootCmd is the base command for the papergraph CLI.
var rootCmd = &cobra.Command{
	Use:   "papergraph",
	Short: "Incremental paper relationship graph builder",
	Long: `papergraph stores research papers in three layers (raw payloads,
normalized papers and derived relationships) and keeps a graph of
citation and similarity edges up to date as papers arrive.

Ingest arXiv payloads with ingest, embed them with embed, and read the
graph back with related and subgraph. Derivation is idempotent, so
derive and rebuild can be re-run at any time.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger = logging.New(os.Stderr, cfg.Debug)

		s, err := secrets.Load(".secrets/", logger)
		if err != nil {
			return err
		}
		secrets.Apply(&cfg, s)

		appConfig = cfg
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug("using config file", "path", used)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./papergraph.yaml or ~/.config/papergraph/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("driver", "", "store backend: sqlite or postgres")
	rootCmd.PersistentFlags().String("db", "", "SQLite database file")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("store.driver", rootCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("papergraph")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "papergraph"))
		}
	}

	viper.SetEnvPrefix("PAPERGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(types.DefaultConfig())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			log.Warn("reading config file", "path", cfgFile, "err", err)
		}
	}
}

// setDefaults registers every configuration key so that environment
// variables such as PAPERGRAPH_STORE_DSN are seen by Unmarshal.
func setDefaults(d types.Config) {
	viper.SetDefault("debug", d.Debug)

	viper.SetDefault("graph.dimensions", d.Graph.Dimensions)
	viper.SetDefault("graph.neighbor_k", d.Graph.NeighborK)
	viper.SetDefault("graph.similarity_floor", d.Graph.SimilarityFloor)
	viper.SetDefault("graph.workers", d.Graph.Workers)

	viper.SetDefault("store.driver", string(d.Store.Driver))
	viper.SetDefault("store.path", d.Store.Path)
	viper.SetDefault("store.dsn", d.Store.DSN)
	viper.SetDefault("store.timeout", d.Store.Timeout)
	viper.SetDefault("store.dimensions", 0)

	viper.SetDefault("embedding.url", d.Embedding.URL)
	viper.SetDefault("embedding.model", d.Embedding.Model)
	viper.SetDefault("embedding.api_key", d.Embedding.APIKey)
	viper.SetDefault("embedding.timeout", d.Embedding.Timeout)
	viper.SetDefault("embedding.requests_per_second", d.Embedding.RequestsPerSecond)
	viper.SetDefault("embedding.max_retries", d.Embedding.MaxRetries)
	viper.SetDefault("embedding.citation_alpha", d.Embedding.CitationAlpha)

	viper.SetDefault("ingest.batch_size", d.Ingest.BatchSize)
	viper.SetDefault("ingest.workers", d.Ingest.Workers)
}

func loadConfig() (types.Config, error) {
	var cfg types.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.Graph = cfg.Graph.WithDefaults()
	if cfg.Store.Dimensions <= 0 {
		cfg.Store.Dimensions = cfg.Graph.Dimensions
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
