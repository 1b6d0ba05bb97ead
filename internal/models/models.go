package models

// Chunk is one contiguous window of a document's extracted text.
type Chunk struct {
	Order int
	Text  string
	Page  int // 0 when the source format has no pages
}

// EmbeddedChunk is a chunk paired with its embedding, ready for storage.
type EmbeddedChunk struct {
	Order     int
	Text      string
	Page      int
	Embedding []float32
}

// ChunkHit is one row of a nearest-neighbor search, ordered by distance.
type ChunkHit struct {
	ChunkID       int64
	DocumentID    int64
	DocumentTitle string
	Text          string
	Distance      float32
}

// RetrievedChunk is what the retriever hands to the conversation layer.
type RetrievedChunk struct {
	ChunkID       int64
	Text          string
	Score         float32
	DocumentID    int64
	DocumentTitle string
}

// PromptResponse carries a generated answer together with its sources.
type PromptResponse struct {
	Query   string
	Source  string
	Content string
}
