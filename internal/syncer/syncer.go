// Package syncer drives one-way synchronization from the external file
// store into the knowledge base: list, diff, then extract-chunk-embed-store
// per new or changed document, with bounded concurrency.
package syncer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"dialog-rag/internal/chunker"
	"dialog-rag/internal/db"
	"dialog-rag/internal/extract"
	"dialog-rag/internal/models"
	"dialog-rag/internal/registry"
	"dialog-rag/internal/source"
)

// ErrSyncInProgress is returned when a sync is requested while another one
// is still running. At most one sync mutates the knowledge base at a time.
var ErrSyncInProgress = errors.New("sync already in progress")

// Per-document failure reasons surfaced in the report.
const (
	ReasonNeedsPassword = "needs_password"
	ReasonDownload      = "download"
	ReasonExtraction    = "extraction"
	ReasonEmbedding     = "embedding"
	ReasonStorage       = "storage"
)

// SyncError is one document the pass could not index. The document keeps
// whatever chunks it had before.
type SyncError struct {
	Path   string
	Reason string
	Detail string
}

// Report summarizes one sync pass.
type Report struct {
	Added     int
	Updated   int
	Deleted   int
	Unchanged int
	Errors    []SyncError
}

// Extractor turns raw bytes into text. Implemented by *extract.Service.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename, mimeType, password string) extract.Result
}

// Embedder embeds chunk texts in order. Implemented by *embedding.Client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the relational side the syncer needs. Implemented by
// *db.Repository.
type Store interface {
	ListDocuments(ctx context.Context) ([]db.KBDocument, error)
	UpsertDocument(ctx context.Context, path, resourceID, title string, size int64, modified time.Time) (int64, error)
	MarkDocumentIndexed(ctx context.Context, id int64, contentHash string, size int64, modified time.Time) error
	PurgeDocument(ctx context.Context, id int64) error
	PasswordsForDocument(ctx context.Context, documentID int64) ([]string, error)
}

// Options tune one Syncer instance.
type Options struct {
	Root         string // source path to list, e.g. "disk:/KB"
	ChunkSize    int
	ChunkOverlap int
	Concurrency  int // documents processed in parallel
}

type Syncer struct {
	src       source.Connector
	extractor Extractor
	embedder  Embedder
	store     Store
	index     db.ChunkIndex
	opts      Options

	running sync.Mutex
}

func New(src source.Connector, extractor Extractor, embedder Embedder, store Store, index db.ChunkIndex, opts Options) *Syncer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Syncer{
		src:       src,
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		index:     index,
		opts:      opts,
	}
}

// Sync runs one full pass. It returns ErrSyncInProgress when another pass
// holds the lock, and aborts without touching storage when the source
// listing fails.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.running.Unlock()

	snapshot, err := s.src.List(ctx, s.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("listing source: %w", err)
	}
	stored, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stored documents: %w", err)
	}

	diff := registry.Reconcile(snapshot, stored)
	log.Info().
		Int("new", len(diff.New)).
		Int("changed", len(diff.Changed)).
		Int("unchanged", len(diff.Unchanged)).
		Int("deleted", len(diff.Deleted)).
		Msg("sync diff")

	report := &Report{Unchanged: len(diff.Unchanged)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	process := func(meta source.FileMeta, isNew bool) {
		g.Go(func() error {
			if err := s.indexDocument(gctx, meta); err != nil {
				var se *SyncError
				if errors.As(err, &se) {
					mu.Lock()
					report.Errors = append(report.Errors, *se)
					mu.Unlock()
					return nil
				}
				return err
			}
			mu.Lock()
			if isNew {
				report.Added++
			} else {
				report.Updated++
			}
			mu.Unlock()
			return nil
		})
	}
	for _, meta := range diff.New {
		process(meta, true)
	}
	for _, meta := range diff.Changed {
		process(meta, false)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, doc := range diff.Deleted {
		if err := s.removeDocument(ctx, doc); err != nil {
			report.Errors = append(report.Errors, SyncError{
				Path: doc.Path, Reason: ReasonStorage, Detail: err.Error(),
			})
			continue
		}
		report.Deleted++
	}

	log.Info().
		Int("added", report.Added).
		Int("updated", report.Updated).
		Int("deleted", report.Deleted).
		Int("unchanged", report.Unchanged).
		Int("errors", len(report.Errors)).
		Msg("sync finished")
	return report, nil
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Reason, e.Detail)
}

// indexDocument runs the per-document pipeline: download, extract, chunk,
// embed, replace. It returns *SyncError for failures that should skip just
// this document; the previously indexed chunks stay in place.
func (s *Syncer) indexDocument(ctx context.Context, meta source.FileMeta) error {
	data, err := s.src.Download(ctx, meta.Path)
	if err != nil {
		return &SyncError{Path: meta.Path, Reason: ReasonDownload, Detail: err.Error()}
	}

	hash := meta.MD5
	if hash == "" {
		sum := md5.Sum(data)
		hash = hex.EncodeToString(sum[:])
	}

	docID, err := s.store.UpsertDocument(ctx, meta.Path, meta.ResourceID, path.Base(meta.Path), meta.Size, meta.Modified)
	if err != nil {
		return &SyncError{Path: meta.Path, Reason: ReasonStorage, Detail: err.Error()}
	}

	result, err := s.extractDocument(ctx, data, meta, docID)
	if err != nil {
		return err
	}

	var chunks []models.Chunk
	if len(result.Pages) > 0 {
		chunks = chunker.SplitPages(result.Pages, s.opts.ChunkSize, s.opts.ChunkOverlap)
	} else {
		chunks = chunker.Split(result.Text, s.opts.ChunkSize, s.opts.ChunkOverlap)
	}

	embedded, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return &SyncError{Path: meta.Path, Reason: ReasonEmbedding, Detail: err.Error()}
	}

	if err := s.index.ReplaceChunks(ctx, docID, path.Base(meta.Path), embedded); err != nil {
		return &SyncError{Path: meta.Path, Reason: ReasonStorage, Detail: err.Error()}
	}
	if err := s.store.MarkDocumentIndexed(ctx, docID, hash, meta.Size, meta.Modified); err != nil {
		return &SyncError{Path: meta.Path, Reason: ReasonStorage, Detail: err.Error()}
	}

	log.Debug().Str("path", meta.Path).Int("chunks", len(embedded)).Msg("document indexed")
	return nil
}

// extractDocument tries extraction with no password first, then with every
// password any dialog has stored for the document. Passwords never leave
// this pipeline.
func (s *Syncer) extractDocument(ctx context.Context, data []byte, meta source.FileMeta, docID int64) (extract.Result, error) {
	result := s.extractor.Extract(ctx, data, meta.Path, meta.Type, "")
	if result.NeedsPassword {
		passwords, err := s.store.PasswordsForDocument(ctx, docID)
		if err != nil {
			return result, &SyncError{Path: meta.Path, Reason: ReasonStorage, Detail: err.Error()}
		}
		for _, pw := range passwords {
			result = s.extractor.Extract(ctx, data, meta.Path, meta.Type, pw)
			if !result.NeedsPassword {
				break
			}
		}
	}
	if result.NeedsPassword {
		return result, &SyncError{Path: meta.Path, Reason: ReasonNeedsPassword, Detail: "document is encrypted and no stored password opens it"}
	}
	if result.Text == "" && len(result.Pages) == 0 && result.Diagnostic != "" {
		return result, &SyncError{Path: meta.Path, Reason: ReasonExtraction, Detail: result.Diagnostic}
	}
	return result, nil
}

func (s *Syncer) embedChunks(ctx context.Context, chunks []models.Chunk) ([]models.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	embedded := make([]models.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = models.EmbeddedChunk{
			Order:     c.Order,
			Text:      c.Text,
			Page:      c.Page,
			Embedding: vectors[i],
		}
	}
	return embedded, nil
}

// removeDocument drops a document that disappeared from the source: its
// chunks first, then the document row with its links and secrets.
func (s *Syncer) removeDocument(ctx context.Context, doc db.KBDocument) error {
	if err := s.index.PurgeChunks(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.store.PurgeDocument(ctx, doc.ID); err != nil {
		return err
	}
	log.Debug().Str("path", doc.Path).Msg("document removed")
	return nil
}
