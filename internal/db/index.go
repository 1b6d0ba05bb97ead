package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/uptrace/bun"

	"dialog-rag/internal/models"
)

// ChunkIndex is the vector side of the store. Implemented natively by the
// pgvector-backed Repository and by the chromem software-cosine fallback;
// callers cannot tell the backends apart.
type ChunkIndex interface {
	// ReplaceChunks atomically swaps a document's chunk set. On failure
	// the previous chunks remain fully intact. An empty slice empties
	// the document.
	ReplaceChunks(ctx context.Context, documentID int64, title string, chunks []models.EmbeddedChunk) error

	// Search returns the topK nearest chunks by increasing distance,
	// ties broken by lowest chunk id. A non-nil allowedDocIDs restricts
	// results to those documents; an empty non-nil set yields nothing.
	Search(ctx context.Context, vector []float32, topK int, allowedDocIDs []int64) ([]models.ChunkHit, error)

	// PurgeChunks drops every chunk of a document from the index.
	PurgeChunks(ctx context.Context, documentID int64) error
}

// Vector is a []float32 that round-trips through pgvector's text format,
// e.g. [1,2,3]. bun would otherwise render Postgres array syntax, which the
// vector type rejects.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	return vectorLiteral(v), nil
}

func (v *Vector) Scan(src any) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}

	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("parsing vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// vectorLiteral renders a []float32 in pgvector's text format, e.g. [1,2,3].
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ReplaceChunks implements ChunkIndex on the pgvector backend: old chunks
// out, new chunks in, one transaction. The caller has already staged the
// complete embedded chunk set, so no partially-embedded document can commit.
func (r *Repository) ReplaceChunks(ctx context.Context, documentID int64, _ string, chunks []models.EmbeddedChunk) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*KBChunk)(nil)).Where("document_id = ?", documentID).Exec(ctx); err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		rows := make([]KBChunk, len(chunks))
		for i, c := range chunks {
			rows[i] = KBChunk{
				DocumentID: documentID,
				Order:      c.Order,
				Text:       c.Text,
				Page:       c.Page,
				Embedding:  Vector(c.Embedding),
			}
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("replace chunks of document %d: %w", documentID, err)
	}
	return nil
}

// Search implements ChunkIndex with a pgvector KNN scan.
func (r *Repository) Search(ctx context.Context, vector []float32, topK int, allowedDocIDs []int64) ([]models.ChunkHit, error) {
	if allowedDocIDs != nil && len(allowedDocIDs) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		return nil, nil
	}

	var rows []struct {
		ID         int64   `bun:"id"`
		DocumentID int64   `bun:"document_id"`
		Text       string  `bun:"text"`
		Title      string  `bun:"title"`
		Distance   float32 `bun:"distance"`
	}

	q := r.db.NewSelect().
		TableExpr("kb_chunks AS k").
		ColumnExpr("k.id, k.document_id, k.text").
		ColumnExpr("coalesce(d.title, d.path) AS title").
		ColumnExpr("k.embedding <-> ?::vector AS distance", vectorLiteral(vector)).
		Join("JOIN kb_documents AS d ON d.id = k.document_id").
		OrderExpr("distance ASC, k.id ASC").
		Limit(topK)
	if allowedDocIDs != nil {
		q = q.Where("k.document_id IN (?)", bun.In(allowedDocIDs))
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]models.ChunkHit, len(rows))
	for i, row := range rows {
		hits[i] = models.ChunkHit{
			ChunkID:       row.ID,
			DocumentID:    row.DocumentID,
			DocumentTitle: row.Title,
			Text:          row.Text,
			Distance:      row.Distance,
		}
	}
	return hits, nil
}

// PurgeChunks implements ChunkIndex for pgvector.
func (r *Repository) PurgeChunks(ctx context.Context, documentID int64) error {
	if _, err := r.db.NewDelete().Model((*KBChunk)(nil)).Where("document_id = ?", documentID).Exec(ctx); err != nil {
		return fmt.Errorf("purge chunks of document %d: %w", documentID, err)
	}
	return nil
}

// CountChunks reports how many chunks a document currently has.
func (r *Repository) CountChunks(ctx context.Context, documentID int64) (int, error) {
	return r.db.NewSelect().Model((*KBChunk)(nil)).Where("document_id = ?", documentID).Count(ctx)
}
