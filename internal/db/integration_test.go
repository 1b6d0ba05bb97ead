package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"dialog-rag/internal/config"
	"dialog-rag/internal/models"
)

// openTestDB connects to the database named by TEST_DATABASE_URL. The
// target needs the pgvector extension available. Tests are skipped when the
// variable is unset.
func openTestDB(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	sqldb, err := ConnectDB(&config.DatabaseConfig{URL: url})
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	bundb := NewDB(sqldb, false)
	t.Cleanup(func() { bundb.Close() })

	if err := InitDB(context.Background(), bundb, 3); err != nil {
		t.Fatalf("initializing schema: %v", err)
	}
	return NewRepository(bundb)
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	modified := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id, err := repo.UpsertDocument(ctx, "it/a.pdf", "it-rid-a", "a.pdf", 10, modified)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.PurgeDocument(ctx, id) })

	// Upsert on the same resource id must not create a second row.
	again, err := repo.UpsertDocument(ctx, "it/a-renamed.pdf", "it-rid-a", "a.pdf", 10, modified)
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("second upsert returned id %d, want %d", again, id)
	}

	chunks := []models.EmbeddedChunk{
		{Order: 0, Text: "first", Embedding: []float32{1, 0, 0}},
		{Order: 1, Text: "second", Embedding: []float32{0, 1, 0}},
	}
	if err := repo.ReplaceChunks(ctx, id, "a.pdf", chunks); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkDocumentIndexed(ctx, id, "hash-1", 10, modified); err != nil {
		t.Fatal(err)
	}

	hits, err := repo.Search(ctx, []float32{1, 0, 0}, 5, []int64{id})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Text != "first" {
		t.Errorf("hits = %+v, want first chunk nearest", hits)
	}

	// Replacement swaps the whole set.
	if err := repo.ReplaceChunks(ctx, id, "a.pdf", chunks[:1]); err != nil {
		t.Fatal(err)
	}
	n, err := repo.CountChunks(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("chunk count after replace = %d, want 1", n)
	}

	if err := repo.PurgeDocument(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetDocument(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after purge", err)
	}
}

func TestResourceIDAdoption(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	modified := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Stored before the source reported resource ids: path identity only.
	id, err := repo.UpsertDocument(ctx, "it/adopt.pdf", "", "adopt.pdf", 10, modified)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.PurgeDocument(ctx, id) })

	// The source starts reporting an id for the same path. This must update
	// the existing row, not fail on the path constraint or create a twin.
	again, err := repo.UpsertDocument(ctx, "it/adopt.pdf", "it-rid-adopt", "adopt.pdf", 10, modified)
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("upsert with new resource id returned %d, want %d", again, id)
	}

	// From here on the resource id is the identity: a rename keeps the row.
	renamed, err := repo.UpsertDocument(ctx, "it/adopt-renamed.pdf", "it-rid-adopt", "adopt.pdf", 10, modified)
	if err != nil {
		t.Fatal(err)
	}
	if renamed != id {
		t.Errorf("upsert after rename returned %d, want %d", renamed, id)
	}
}

func TestDialogScopePersistence(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	const dialogID = int64(990001)

	id, err := repo.UpsertDocument(ctx, "it/scope.pdf", "it-rid-scope", "scope.pdf", 5, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.PurgeDocument(ctx, id) })

	mode, err := repo.GetMode(ctx, dialogID)
	if err != nil {
		t.Fatal(err)
	}
	if mode != "AUTO" {
		t.Errorf("default mode = %q, want AUTO", mode)
	}
	if err := repo.SetMode(ctx, dialogID, "OFF"); err != nil {
		t.Fatal(err)
	}

	if err := repo.Attach(ctx, dialogID, id); err != nil {
		t.Fatal(err)
	}
	attached, enabled, err := repo.GetLink(ctx, dialogID, id)
	if err != nil {
		t.Fatal(err)
	}
	if !attached || !enabled {
		t.Errorf("link = (%v, %v), want attached and enabled", attached, enabled)
	}

	if err := repo.SetEnabled(ctx, dialogID, id, false); err != nil {
		t.Fatal(err)
	}
	allowed, err := repo.AllowedDocumentIDs(ctx, dialogID)
	if err != nil {
		t.Fatal(err)
	}
	if len(allowed) != 0 {
		t.Errorf("allowed = %v, want none while disabled", allowed)
	}

	if err := repo.SetPassword(ctx, dialogID, id, "pw-1"); err != nil {
		t.Fatal(err)
	}
	pw, err := repo.GetPassword(ctx, dialogID, id)
	if err != nil {
		t.Fatal(err)
	}
	if pw != "pw-1" {
		t.Errorf("password = %q, want pw-1", pw)
	}
	all, err := repo.PasswordsForDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0] != "pw-1" {
		t.Errorf("passwords = %v, want [pw-1]", all)
	}

	if err := repo.Detach(ctx, dialogID, id); err != nil {
		t.Fatal(err)
	}
	attached, _, err = repo.GetLink(ctx, dialogID, id)
	if err != nil {
		t.Fatal(err)
	}
	if attached {
		t.Error("document still attached after detach")
	}
}
