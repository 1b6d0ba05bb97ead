// Package rag answers queries over the knowledge base: it gates retrieval
// on the dialog's scope, searches the vector index and optionally feeds
// the hits to a chat model.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"dialog-rag/internal/config"
	"dialog-rag/internal/llmservice"
	"dialog-rag/internal/models"
)

const answerPrompt = `Answer the question using only the context below.
If the context does not contain the answer, say you do not know.

Context:
%s

Question: %s`

// Scope decides whether a dialog may retrieve and which documents it sees.
type Scope interface {
	RetrievalScope(ctx context.Context, dialogID int64) (ok bool, allowed []int64, err error)
}

// QueryEmbedder turns a query string into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the nearest-neighbor side of the chunk index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, allowedDocIDs []int64) ([]models.ChunkHit, error)
}

type Retriever struct {
	scope    Scope
	embedder QueryEmbedder
	index    Searcher
	chatCfg  *config.LLMConfig
	topK     int
}

func NewRetriever(scope Scope, embedder QueryEmbedder, index Searcher, chatCfg *config.LLMConfig, topK int) *Retriever {
	if topK <= 0 {
		topK = 6
	}
	return &Retriever{
		scope:    scope,
		embedder: embedder,
		index:    index,
		chatCfg:  chatCfg,
		topK:     topK,
	}
}

// Retrieve returns the dialog's nearest chunks for the query, best first.
// A dialog whose scope forbids retrieval gets an empty result, as does a
// failed query embedding: the conversation proceeds without context rather
// than failing.
func (r *Retriever) Retrieve(ctx context.Context, dialogID int64, query string, topK int) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		topK = r.topK
	}

	ok, allowed, err := r.scope.RetrievalScope(ctx, dialogID)
	if err != nil {
		return nil, fmt.Errorf("resolving retrieval scope for dialog %d: %w", dialogID, err)
	}
	if !ok {
		return []models.RetrievedChunk{}, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		log.Warn().Err(err).Int64("dialog", dialogID).Msg("query embedding failed, answering without context")
		return []models.RetrievedChunk{}, nil
	}

	hits, err := r.index.Search(ctx, vector, topK, allowed)
	if err != nil {
		return nil, fmt.Errorf("searching chunks for dialog %d: %w", dialogID, err)
	}

	out := make([]models.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.RetrievedChunk{
			ChunkID:       h.ChunkID,
			Text:          h.Text,
			Score:         1 - h.Distance,
			DocumentID:    h.DocumentID,
			DocumentTitle: h.DocumentTitle,
		})
	}
	return out, nil
}

// Answer retrieves context for the query and generates a grounded reply
// with the chat model. Source lists the titles of the documents the
// context came from.
func (r *Retriever) Answer(ctx context.Context, dialogID int64, query string) (*models.PromptResponse, error) {
	chunks, err := r.Retrieve(ctx, dialogID, query, 0)
	if err != nil {
		return nil, err
	}

	var contextText strings.Builder
	titles := make([]string, 0, len(chunks))
	seen := make(map[string]bool)
	for _, c := range chunks {
		contextText.WriteString(c.Text)
		contextText.WriteString("\n---\n")
		if !seen[c.DocumentTitle] {
			seen[c.DocumentTitle] = true
			titles = append(titles, c.DocumentTitle)
		}
	}

	prompt := query
	if len(chunks) > 0 {
		prompt = fmt.Sprintf(answerPrompt, contextText.String(), query)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	res, err := llmservice.GenerateContent(ctx, r.chatCfg, nil, messages)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	if len(res.Choices) == 0 {
		return nil, fmt.Errorf("chat model returned no choices")
	}

	return &models.PromptResponse{
		Query:   query,
		Source:  strings.Join(titles, ", "),
		Content: res.Choices[0].Content,
	}, nil
}
