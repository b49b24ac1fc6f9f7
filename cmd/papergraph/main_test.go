// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/papergraph/internal/graph"
	"github.com/pdiddy/papergraph/pkg/types"
)

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	initConfig()

	t.Setenv("PAPERGRAPH_STORE_PATH", "/tmp/graph.db")
	t.Setenv("PAPERGRAPH_GRAPH_SIMILARITY_FLOOR", "0.9")
	t.Setenv("PAPERGRAPH_EMBEDDING_TIMEOUT", "5s")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/graph.db", cfg.Store.Path)
	assert.Equal(t, 0.9, cfg.Graph.SimilarityFloor)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, types.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, cfg.Graph.Dimensions, cfg.Store.Dimensions)
	assert.Equal(t, 10, cfg.Graph.NeighborK)
}

func TestWriteDefaultConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "papergraph.yaml")
	require.NoError(t, writeDefaultConfig(path))
	assert.Error(t, writeDefaultConfig(path), "existing file is not overwritten")

	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults(types.DefaultConfig())
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := loadConfig()
	require.NoError(t, err)
	want := types.DefaultConfig()
	want.Store.Dimensions = want.Graph.Dimensions
	assert.Equal(t, want, cfg)
}

func TestWriteOutput(t *testing.T) {
	v := map[string]int{"papers": 2}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "json", v))
	assert.JSONEq(t, `{"papers": 2}`, buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, "yaml", v))
	assert.YAMLEq(t, "papers: 2\n", buf.String())

	assert.Error(t, writeOutput(&buf, "xml", v))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghijklmnop", 10, "abcdefg..."},
		{"Schrödinger équations über alles", 12, "Schröding..."},
		{"日本語のタイトル", 5, "日本..."},
		{"abcdef", 2, "ab"},
		{"abcdef", 0, ""},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		assert.Equal(t, tt.want, got, tt.in)
		assert.True(t, utf8.ValidString(got), tt.in)
	}
}

func TestWriteSubgraphFile(t *testing.T) {
	g := &graph.Subgraph{
		Roots:  []int64{1},
		Papers: []types.Paper{{ID: 1, ArxivID: "2301.00001", Abstract: "a"}},
	}
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, writeSubgraphFile(path, "yaml", g))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2301.00001")

	assert.Error(t, writeSubgraphFile(filepath.Join(t.TempDir(), "missing", "g.json"), "json", g))
	assert.Error(t, writeSubgraphFile(path, "xml", g))
}
