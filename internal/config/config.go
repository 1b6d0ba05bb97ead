package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultChunkSize          = 900
	defaultChunkOverlap       = 150
	defaultTopK               = 6
	defaultBatchSize          = 16
	defaultSyncConcurrency    = 4
	defaultEmbeddingDimension = 768
)

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL   string `yaml:"url"`
	Key   string `yaml:"key"`
	Debug bool   `yaml:"debug"`
}

// LLMConfig describes one OpenAI-compatible or Ollama endpoint.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "ollama"
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

// SourceConfig points at the cloud drive namespace holding the corpus.
type SourceConfig struct {
	Token string `yaml:"token"`
	Root  string `yaml:"root"`
}

// RAGConfig is the tuning surface of the knowledge pipeline.
type RAGConfig struct {
	ChunkSize          int    `yaml:"chunk_size"`
	ChunkOverlap       int    `yaml:"chunk_overlap"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`
	DefaultTopK        int    `yaml:"default_top_k"`
	EmbedBatchSize     int    `yaml:"embed_batch_size"`
	MaxSyncConcurrency int    `yaml:"max_sync_concurrency"`
	VectorBackend      string `yaml:"vector_backend"` // "pgvector" or "chromem"
	ChromemPath        string `yaml:"chromem_path"`
}

type Config struct {
	Database  DatabaseConfig `yaml:"database"`
	Source    SourceConfig   `yaml:"source"`
	EmbedLLM  LLMConfig      `yaml:"embedding"`
	ChatLLM   LLMConfig      `yaml:"llm"`
	VisionLLM LLMConfig      `yaml:"vision"`
	RAG       RAGConfig      `yaml:"rag"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values so a minimal config file still works.
func (c *Config) ApplyDefaults() {
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = defaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if c.RAG.EmbeddingDimension == 0 {
		c.RAG.EmbeddingDimension = defaultEmbeddingDimension
	}
	if c.RAG.DefaultTopK == 0 {
		c.RAG.DefaultTopK = defaultTopK
	}
	if c.RAG.EmbedBatchSize == 0 {
		c.RAG.EmbedBatchSize = defaultBatchSize
	}
	if c.RAG.MaxSyncConcurrency == 0 {
		c.RAG.MaxSyncConcurrency = defaultSyncConcurrency
	}
	if c.RAG.VectorBackend == "" {
		c.RAG.VectorBackend = "pgvector"
	}
	if c.RAG.ChromemPath == "" {
		c.RAG.ChromemPath = "./chromemdb"
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must satisfy 0 <= overlap < chunk_size, got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.EmbeddingDimension <= 0 {
		return fmt.Errorf("rag.embedding_dimension must be positive, got %d", c.RAG.EmbeddingDimension)
	}
	if c.RAG.MaxSyncConcurrency <= 0 {
		return fmt.Errorf("rag.max_sync_concurrency must be positive, got %d", c.RAG.MaxSyncConcurrency)
	}
	switch c.RAG.VectorBackend {
	case "pgvector", "chromem":
	default:
		return fmt.Errorf("rag.vector_backend must be pgvector or chromem, got %q", c.RAG.VectorBackend)
	}
	return nil
}
