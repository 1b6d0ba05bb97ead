package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/test
source:
  token: abc
  root: /kb
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RAG.ChunkSize != 900 || cfg.RAG.ChunkOverlap != 150 {
		t.Errorf("chunking defaults = %d/%d, want 900/150", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.DefaultTopK != 6 {
		t.Errorf("top_k default = %d, want 6", cfg.RAG.DefaultTopK)
	}
	if cfg.RAG.VectorBackend != "pgvector" {
		t.Errorf("backend default = %q, want pgvector", cfg.RAG.VectorBackend)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		rag  string
	}{
		{
			name: "overlap not below size",
			rag:  "chunk_size: 100\n  chunk_overlap: 100",
		},
		{
			name: "negative overlap",
			rag:  "chunk_size: 100\n  chunk_overlap: -1",
		},
		{
			name: "unknown backend",
			rag:  "vector_backend: faiss",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "rag:\n  "+tt.rag+"\n")
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
