// Package chromemdb is the software-similarity fallback behind the same
// ChunkIndex contract as the pgvector backend, for deployments whose
// Postgres has no vector extension. chromem-go computes cosine similarity
// over the stored vectors at query time.
package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"

	"dialog-rag/internal/helper"
	"dialog-rag/internal/models"
)

const (
	chunkCollection = "kb_chunks"
	metaCollection  = "kb_meta"
	compress        = false
)

// Index stores chunk vectors in chromem-go collections. Replacement is
// stage-then-swap: the new chunk generation is written first and the old one
// removed last, so a failure mid-replace leaves the previous set intact.
type Index struct {
	db     *chromem.DB
	chunks *chromem.Collection
	meta   *chromem.Collection
}

// noEmbed satisfies chromem's embedding hook; every document we add already
// carries its embedding, so it must never be called for chunk content.
func noEmbed(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}

// NewIndex opens (or creates) a persistent index at path. An empty path
// gives an in-memory index, which tests use.
func NewIndex(path string) (*Index, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(path); err != nil {
			return nil, fmt.Errorf("create index folder: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem database: %w", err)
		}
	}

	chunks, err := db.GetOrCreateCollection(chunkCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open chunk collection: %w", err)
	}
	meta, err := db.GetOrCreateCollection(metaCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open meta collection: %w", err)
	}
	return &Index{db: db, chunks: chunks, meta: meta}, nil
}

func docKey(documentID int64) string {
	return strconv.FormatInt(documentID, 10)
}

// generation returns the document's current chunk generation, empty when
// the document has never been indexed here.
func (ix *Index) generation(ctx context.Context, documentID int64) string {
	doc, err := ix.meta.GetByID(ctx, docKey(documentID))
	if err != nil {
		return ""
	}
	return doc.Content
}

// ReplaceChunks implements db.ChunkIndex.
func (ix *Index) ReplaceChunks(ctx context.Context, documentID int64, title string, chunks []models.EmbeddedChunk) error {
	oldGen := ix.generation(ctx, documentID)
	newGen, err := helper.GenerateUUID()
	if err != nil {
		return err
	}

	if len(chunks) > 0 {
		docs := make([]chromem.Document, len(chunks))
		for i, c := range chunks {
			docs[i] = chromem.Document{
				ID:      fmt.Sprintf("%d:%s:%d", documentID, newGen, c.Order),
				Content: c.Text,
				Metadata: map[string]string{
					"document_id": docKey(documentID),
					"title":       title,
					"order":       strconv.Itoa(c.Order),
					"page":        strconv.Itoa(c.Page),
					"generation":  newGen,
				},
				Embedding: c.Embedding,
			}
		}
		if err := ix.chunks.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("stage new chunks of document %d: %w", documentID, err)
		}
	}

	// point the document at the new generation, then drop the old one
	metaDoc := chromem.Document{
		ID:        docKey(documentID),
		Content:   newGen,
		Embedding: []float32{1},
	}
	if err := ix.meta.AddDocuments(ctx, []chromem.Document{metaDoc}, 1); err != nil {
		return fmt.Errorf("swap chunk generation of document %d: %w", documentID, err)
	}

	if oldGen != "" {
		where := map[string]string{"document_id": docKey(documentID), "generation": oldGen}
		if err := ix.chunks.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("drop old chunks of document %d: %w", documentID, err)
		}
	}
	return nil
}

// Search implements db.ChunkIndex. chromem ranks by cosine similarity; the
// contract wants increasing distance, so distance = 1 - similarity. Chunk
// ids here are synthetic (documentID*1e6 + order) but stable per
// generation, which keeps tie-breaking deterministic.
func (ix *Index) Search(ctx context.Context, vector []float32, topK int, allowedDocIDs []int64) ([]models.ChunkHit, error) {
	if topK <= 0 || (allowedDocIDs != nil && len(allowedDocIDs) == 0) {
		return nil, nil
	}
	total := ix.chunks.Count()
	if total == 0 {
		return nil, nil
	}

	// over-fetch and filter in Go: chromem's where filter cannot express
	// an id set or a negation over generations
	results, err := ix.chunks.QueryEmbedding(ctx, vector, total, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	var allowed map[int64]bool
	if allowedDocIDs != nil {
		allowed = make(map[int64]bool, len(allowedDocIDs))
		for _, id := range allowedDocIDs {
			allowed[id] = true
		}
	}

	currentGen := make(map[int64]string)
	var hits []models.ChunkHit
	for _, res := range results {
		docID, err := strconv.ParseInt(res.Metadata["document_id"], 10, 64)
		if err != nil {
			continue
		}
		if allowed != nil && !allowed[docID] {
			continue
		}
		gen, ok := currentGen[docID]
		if !ok {
			gen = ix.generation(ctx, docID)
			currentGen[docID] = gen
		}
		if res.Metadata["generation"] != gen {
			continue
		}
		order, _ := strconv.Atoi(res.Metadata["order"])
		hits = append(hits, models.ChunkHit{
			ChunkID:       docID*1_000_000 + int64(order),
			DocumentID:    docID,
			DocumentTitle: res.Metadata["title"],
			Text:          res.Content,
			Distance:      1 - res.Similarity,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// PurgeChunks implements db.ChunkIndex.
func (ix *Index) PurgeChunks(ctx context.Context, documentID int64) error {
	where := map[string]string{"document_id": docKey(documentID)}
	if err := ix.chunks.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("purge chunks of document %d: %w", documentID, err)
	}
	if err := ix.meta.Delete(ctx, nil, nil, docKey(documentID)); err != nil {
		return fmt.Errorf("purge meta of document %d: %w", documentID, err)
	}
	return nil
}
