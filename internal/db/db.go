package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"dialog-rag/internal/config"
)

// KBDocument is one document of the knowledge base. Identity key is
// resource_id when the source reports one, otherwise path.
type KBDocument struct {
	bun.BaseModel `bun:"table:kb_documents,alias:d"`

	ID          int64     `bun:"id,pk,autoincrement"`
	Path        string    `bun:"path,notnull"`
	Title       string    `bun:"title"`
	ResourceID  string    `bun:"resource_id,nullzero"`
	ContentHash string    `bun:"content_hash"`
	SizeBytes   int64     `bun:"size_bytes"`
	ModifiedAt  time.Time `bun:"modified_at,nullzero"`
	Active      bool      `bun:"active"`
}

// KBChunk is one indexed window of a document's text. The full chunk set of
// a document is replaced atomically on resync, never patched in place.
type KBChunk struct {
	bun.BaseModel `bun:"table:kb_chunks,alias:k"`

	ID         int64  `bun:"id,pk,autoincrement"`
	DocumentID int64  `bun:"document_id,notnull"`
	Order      int    `bun:"chunk_order,notnull"`
	Text       string `bun:"text,notnull"`
	Page       int    `bun:"page,nullzero"`
	Embedding  Vector `bun:"embedding"`
}

// DialogKBDocument links a conversation to a document it may retrieve from.
type DialogKBDocument struct {
	bun.BaseModel `bun:"table:dialog_kb_documents,alias:dkd"`

	DialogID   int64     `bun:"dialog_id,pk"`
	DocumentID int64     `bun:"document_id,pk"`
	IsEnabled  bool      `bun:"is_enabled,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,default:now()"`
}

// DialogKBSecret stores a document password scoped to one conversation.
// Two dialogs may hold different passwords for the same shared document.
type DialogKBSecret struct {
	bun.BaseModel `bun:"table:dialog_kb_secrets,alias:dks"`

	DialogID   int64     `bun:"dialog_id,pk"`
	DocumentID int64     `bun:"document_id,pk"`
	Password   string    `bun:"password,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,default:now()"`
}

// DialogKBMode stores the per-dialog retrieval mode (AUTO/ON/OFF). The chat
// layer's own dialog table lives outside this system, so the mode gets its
// own table keyed by dialog id.
type DialogKBMode struct {
	bun.BaseModel `bun:"table:dialog_kb_modes,alias:dkm"`

	DialogID int64  `bun:"dialog_id,pk"`
	Mode     string `bun:"mode,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL
	if !strings.Contains(dsn, "?") {
		dsn += "?sslmode=disable"
	}
	// return sql.Open("postgres", dsn)
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Key))), nil
}

// InitDB creates the knowledge-base tables. The embedding column is sized to
// the deployment's fixed dimension; changing the dimension requires a
// re-index, not a migration of existing vectors.
func InitDB(ctx context.Context, db *bun.DB, dimension int) error {
	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS kb_documents (
			id BIGSERIAL PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			title TEXT,
			resource_id TEXT UNIQUE,
			content_hash TEXT,
			size_bytes BIGINT,
			modified_at TIMESTAMPTZ,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kb_chunks (
			id BIGSERIAL PRIMARY KEY,
			document_id BIGINT NOT NULL REFERENCES kb_documents(id) ON DELETE CASCADE,
			chunk_order INT NOT NULL,
			text TEXT NOT NULL,
			page INT,
			embedding vector(%d) NOT NULL,
			UNIQUE (document_id, chunk_order)
		)`, dimension),
		`CREATE TABLE IF NOT EXISTS dialog_kb_documents (
			dialog_id BIGINT NOT NULL,
			document_id BIGINT NOT NULL REFERENCES kb_documents(id) ON DELETE CASCADE,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (dialog_id, document_id)
		)`,
		`CREATE TABLE IF NOT EXISTS dialog_kb_secrets (
			dialog_id BIGINT NOT NULL,
			document_id BIGINT NOT NULL REFERENCES kb_documents(id) ON DELETE CASCADE,
			password TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (dialog_id, document_id)
		)`,
		`CREATE TABLE IF NOT EXISTS dialog_kb_modes (
			dialog_id BIGINT PRIMARY KEY,
			mode TEXT NOT NULL DEFAULT 'AUTO'
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
