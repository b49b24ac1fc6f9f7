// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Recognized key files: database-url, embedding-api-key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/papergraph/internal/logging"
	"github.com/pdiddy/papergraph/pkg/types"
)

const (
	// KeyDatabaseURL holds the PostgreSQL DSN.
	KeyDatabaseURL = "database-url"

	// KeyEmbeddingAPIKey holds the bearer token for the embedding endpoint.
	KeyEmbeddingAPIKey = "embedding-api-key"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged as warnings and skipped.
func Load(dir string, logger *log.Logger) (map[string]string, error) {
	logger = logging.OrDiscard(logger)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", "name", name, "err", err)
			continue
		}

		if value := strings.TrimSpace(string(data)); value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply copies recognized secrets into cfg. Values already set in cfg (from
// flags, environment or the config file) win.
func Apply(cfg *types.Config, secrets map[string]string) {
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = secrets[KeyDatabaseURL]
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = secrets[KeyEmbeddingAPIKey]
	}
}
