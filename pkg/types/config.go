// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// GraphConfig holds settings for relationship derivation.
type GraphConfig struct {
	// Dimensions is the embedding length every paper must have (default 384).
	Dimensions int `json:"dimensions" yaml:"dimensions" mapstructure:"dimensions"`

	// NeighborK is the number of nearest neighbors queried per paper (default 10).
	NeighborK int `json:"neighbor_k" yaml:"neighbor_k" mapstructure:"neighbor_k"`

	// SimilarityFloor is the minimum cosine similarity for a SIMILAR edge (default 0.80).
	SimilarityFloor float64 `json:"similarity_floor" yaml:"similarity_floor" mapstructure:"similarity_floor"`

	// Workers bounds concurrent derivations during a full rebuild (default 4).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// StoreDriver selects the Record Store backend.
type StoreDriver string

const (
	DriverSQLite   StoreDriver = "sqlite"
	DriverPostgres StoreDriver = "postgres"
)

// StoreConfig holds settings for the Record Store.
type StoreConfig struct {
	// Driver selects sqlite or postgres.
	Driver StoreDriver `json:"driver" yaml:"driver" mapstructure:"driver"`

	// Path is the SQLite database file (default "papergraph.db").
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`

	// Timeout bounds every single store call (default 30s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// Dimensions is the width of the vector column on PostgreSQL.
	Dimensions int `json:"dimensions" yaml:"dimensions" mapstructure:"dimensions"`
}

// EmbeddingConfig holds settings for the embedding provider.
type EmbeddingConfig struct {
	// URL is the Ollama base URL (default http://localhost:11434).
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// Model is the embedding model name (default all-minilm:l6-v2).
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is sent as a bearer token when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Timeout is the HTTP request timeout (default 30s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// RequestsPerSecond throttles calls to the provider (default 5).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// MaxRetries is the number of retries on HTTP 429 (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// CitationAlpha blends a paper's own embedding with the mean embedding
	// of the papers it cites: alpha*self + (1-alpha)*refs. Zero or one
	// disables blending.
	CitationAlpha float64 `json:"citation_alpha" yaml:"citation_alpha" mapstructure:"citation_alpha"`
}

// IngestConfig holds settings for the ingestion pipeline.
type IngestConfig struct {
	// BatchSize is the default number of papers embedded per run (default 200).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// Workers bounds concurrent embedding requests (default 4).
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// Config groups all papergraph settings.
type Config struct {
	Graph     GraphConfig     `json:"graph" yaml:"graph" mapstructure:"graph"`
	Store     StoreConfig     `json:"store" yaml:"store" mapstructure:"store"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest" mapstructure:"ingest"`
	Debug     bool            `json:"debug" yaml:"debug" mapstructure:"debug"`
}

// DefaultGraphConfig returns the derivation defaults.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Dimensions:      DefaultEmbeddingDimensions,
		NeighborK:       10,
		SimilarityFloor: 0.80,
		Workers:         4,
	}
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Graph: DefaultGraphConfig(),
		Store: StoreConfig{
			Driver:     DriverSQLite,
			Path:       "papergraph.db",
			Timeout:    30 * time.Second,
			Dimensions: DefaultEmbeddingDimensions,
		},
		Embedding: EmbeddingConfig{
			URL:               "http://localhost:11434",
			Model:             "all-minilm:l6-v2",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			MaxRetries:        3,
		},
		Ingest: IngestConfig{
			BatchSize: 200,
			Workers:   4,
		},
	}
}

// WithDefaults fills zero fields of g from DefaultGraphConfig.
func (g GraphConfig) WithDefaults() GraphConfig {
	d := DefaultGraphConfig()
	if g.Dimensions <= 0 {
		g.Dimensions = d.Dimensions
	}
	if g.NeighborK <= 0 {
		g.NeighborK = d.NeighborK
	}
	if g.SimilarityFloor < 0 || g.SimilarityFloor > 1 {
		g.SimilarityFloor = d.SimilarityFloor
	}
	if g.Workers <= 0 {
		g.Workers = d.Workers
	}
	return g
}
