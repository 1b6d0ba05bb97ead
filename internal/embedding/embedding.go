// Package embedding adapts a langchaingo embedder to the pipeline:
// batched requests, bounded retries and a fixed output dimension.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"dialog-rag/internal/config"
)

// ErrEmbeddingFailed marks retry exhaustion against the embedding provider.
// The affected document keeps its previously indexed chunks.
var ErrEmbeddingFailed = errors.New("embedding failed")

const (
	maxRetries       = 2 // 3 attempts total
	defaultRetryBase = 500 * time.Millisecond
)

// Embedder is the slice of langchaingo's embedder the client needs.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// NewEmbedder creates a langchaingo embedder for the configured provider.
func NewEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	switch cfg.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama embedder: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	default:
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(cfg.Key),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing openai embedder: %w", err)
		}
		return embeddings.NewEmbedder(llm)
	}
}

// Client wraps an Embedder with provider-limit batching, jittered
// exponential-backoff retries and dimension validation.
type Client struct {
	inner     Embedder
	dimension int
	batchSize int
	retryBase time.Duration
}

func NewClient(inner Embedder, dimension, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = 16
	}
	return &Client{
		inner:     inner,
		dimension: dimension,
		batchSize: batchSize,
		retryBase: defaultRetryBase,
	}
}

// WithRetryBase overrides the first backoff interval. Used by tests.
func (c *Client) WithRetryBase(d time.Duration) *Client {
	c.retryBase = d
	return c
}

// Dimension is the fixed vector size every returned embedding has.
func (c *Client) Dimension() int { return c.dimension }

// Embed embeds texts preserving order and length. Each vector is validated
// against the deployment's fixed dimension before it is returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBase
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	var vectors [][]float32
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		result, err := c.inner.EmbedDocuments(ctx, batch)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Int("batch", len(batch)).Msg("embedding attempt failed")
			return err
		}
		vectors = result
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(batch))
	}
	for i, v := range vectors {
		if len(v) != c.dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingFailed, i, len(v), c.dimension)
		}
	}
	return vectors, nil
}
