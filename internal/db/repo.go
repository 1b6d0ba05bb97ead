package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// ErrNotFound is returned when a document lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Repository owns the relational side of the knowledge base: document
// metadata, dialog links, secrets and modes. Chunk vectors go through a
// ChunkIndex, which this repository also implements for pgvector.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// ListDocuments returns all registered documents, the reconciler's view of
// what is currently stored.
func (r *Repository) ListDocuments(ctx context.Context) ([]KBDocument, error) {
	var docs []KBDocument
	err := r.db.NewSelect().Model(&docs).Order("id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// GetDocument fetches one document by id.
func (r *Repository) GetDocument(ctx context.Context, id int64) (*KBDocument, error) {
	doc := new(KBDocument)
	err := r.db.NewSelect().Model(doc).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return doc, nil
}

// UpsertDocument registers a document, idempotent on its identity key:
// resource_id when present, otherwise path. Returns the document id.
func (r *Repository) UpsertDocument(ctx context.Context, path, resourceID, title string, size int64, modified time.Time) (int64, error) {
	if title == "" {
		title = path
	}
	doc := &KBDocument{
		Path:       path,
		Title:      title,
		ResourceID: resourceID,
		SizeBytes:  size,
		ModifiedAt: modified,
		Active:     true,
	}

	q := r.db.NewInsert().Model(doc)
	if resourceID != "" {
		// A document first seen before the source reported resource ids is
		// stored under path identity. Adopt the id onto that row, otherwise
		// the resource_id upsert below collides with the path constraint.
		_, err := r.db.NewUpdate().Model((*KBDocument)(nil)).
			Set("resource_id = ?", resourceID).
			Where("path = ?", path).
			Where("resource_id IS NULL").
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("adopt resource id onto %q: %w", path, err)
		}
		q = q.On("CONFLICT (resource_id) DO UPDATE").
			Set("path = EXCLUDED.path").
			Set("title = EXCLUDED.title").
			Set("size_bytes = EXCLUDED.size_bytes").
			Set("active = TRUE")
	} else {
		q = q.On("CONFLICT (path) DO UPDATE").
			Set("title = EXCLUDED.title").
			Set("size_bytes = EXCLUDED.size_bytes").
			Set("active = TRUE")
	}
	if _, err := q.Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("upsert document %q: %w", path, err)
	}
	return doc.ID, nil
}

// MarkDocumentIndexed records the source version a document's chunks were
// built from. Called only after a successful chunk replace, so the hash
// never gets ahead of the stored chunk set.
func (r *Repository) MarkDocumentIndexed(ctx context.Context, id int64, contentHash string, size int64, modified time.Time) error {
	_, err := r.db.NewUpdate().Model((*KBDocument)(nil)).
		Set("content_hash = ?", contentHash).
		Set("size_bytes = ?", size).
		Set("modified_at = ?", modified).
		Set("active = TRUE").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark document %d indexed: %w", id, err)
	}
	return nil
}

// PurgeDocument removes a document and everything referencing it: chunks,
// dialog links and dialog secrets, in one transaction.
func (r *Repository) PurgeDocument(ctx context.Context, id int64) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*KBChunk)(nil)).Where("document_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*DialogKBDocument)(nil)).Where("document_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*DialogKBSecret)(nil)).Where("document_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*KBDocument)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge document %d: %w", id, err)
	}
	return nil
}
