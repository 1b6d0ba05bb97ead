package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AttachedDocument is one dialog-document link joined with the document.
type AttachedDocument struct {
	DocumentID int64
	IsEnabled  bool
	Path       string
	Title      string
}

// GetMode returns the dialog's retrieval mode, AUTO when never set.
func (r *Repository) GetMode(ctx context.Context, dialogID int64) (string, error) {
	row := new(DialogKBMode)
	err := r.db.NewSelect().Model(row).Where("dialog_id = ?", dialogID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "AUTO", nil
	}
	if err != nil {
		return "", fmt.Errorf("get mode of dialog %d: %w", dialogID, err)
	}
	return row.Mode, nil
}

func (r *Repository) SetMode(ctx context.Context, dialogID int64, mode string) error {
	row := &DialogKBMode{DialogID: dialogID, Mode: mode}
	_, err := r.db.NewInsert().Model(row).
		On("CONFLICT (dialog_id) DO UPDATE").
		Set("mode = EXCLUDED.mode").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set mode of dialog %d: %w", dialogID, err)
	}
	return nil
}

// GetLink reports whether the dialog has the document attached and enabled.
func (r *Repository) GetLink(ctx context.Context, dialogID, documentID int64) (attached, enabled bool, err error) {
	link := new(DialogKBDocument)
	err = r.db.NewSelect().Model(link).
		Where("dialog_id = ?", dialogID).
		Where("document_id = ?", documentID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get link (%d,%d): %w", dialogID, documentID, err)
	}
	return true, link.IsEnabled, nil
}

// Attach links a document to a dialog, enabled. Re-attaching re-enables.
func (r *Repository) Attach(ctx context.Context, dialogID, documentID int64) error {
	link := &DialogKBDocument{
		DialogID:   dialogID,
		DocumentID: documentID,
		IsEnabled:  true,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := r.db.NewInsert().Model(link).
		On("CONFLICT (dialog_id, document_id) DO UPDATE").
		Set("is_enabled = TRUE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("attach (%d,%d): %w", dialogID, documentID, err)
	}
	return nil
}

func (r *Repository) Detach(ctx context.Context, dialogID, documentID int64) error {
	_, err := r.db.NewDelete().Model((*DialogKBDocument)(nil)).
		Where("dialog_id = ?", dialogID).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("detach (%d,%d): %w", dialogID, documentID, err)
	}
	return nil
}

func (r *Repository) SetEnabled(ctx context.Context, dialogID, documentID int64, enabled bool) error {
	_, err := r.db.NewUpdate().Model((*DialogKBDocument)(nil)).
		Set("is_enabled = ?", enabled).
		Where("dialog_id = ?", dialogID).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set enabled (%d,%d): %w", dialogID, documentID, err)
	}
	return nil
}

// ListAttached returns the dialog's links joined with document path/title.
func (r *Repository) ListAttached(ctx context.Context, dialogID int64) ([]AttachedDocument, error) {
	var rows []struct {
		DocumentID int64  `bun:"document_id"`
		IsEnabled  bool   `bun:"is_enabled"`
		Path       string `bun:"path"`
		Title      string `bun:"title"`
	}
	err := r.db.NewSelect().
		TableExpr("dialog_kb_documents AS dkd").
		ColumnExpr("dkd.document_id, dkd.is_enabled, d.path, coalesce(d.title, d.path) AS title").
		Join("JOIN kb_documents AS d ON d.id = dkd.document_id").
		Where("dkd.dialog_id = ?", dialogID).
		OrderExpr("dkd.document_id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list attached of dialog %d: %w", dialogID, err)
	}

	out := make([]AttachedDocument, len(rows))
	for i, row := range rows {
		out[i] = AttachedDocument{
			DocumentID: row.DocumentID,
			IsEnabled:  row.IsEnabled,
			Path:       row.Path,
			Title:      row.Title,
		}
	}
	return out, nil
}

// AllowedDocumentIDs returns the documents the dialog may retrieve from:
// attached and enabled, id-ordered for determinism.
func (r *Repository) AllowedDocumentIDs(ctx context.Context, dialogID int64) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().Model((*DialogKBDocument)(nil)).
		Column("document_id").
		Where("dialog_id = ?", dialogID).
		Where("is_enabled = TRUE").
		OrderExpr("document_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("allowed documents of dialog %d: %w", dialogID, err)
	}
	return ids, nil
}

// SetPassword stores a document password for one dialog. Empty passwords
// are ignored.
func (r *Repository) SetPassword(ctx context.Context, dialogID, documentID int64, password string) error {
	if password == "" {
		return nil
	}
	row := &DialogKBSecret{
		DialogID:   dialogID,
		DocumentID: documentID,
		Password:   password,
		UpdatedAt:  time.Now().UTC(),
	}
	_, err := r.db.NewInsert().Model(row).
		On("CONFLICT (dialog_id, document_id) DO UPDATE").
		Set("password = EXCLUDED.password").
		Set("updated_at = now()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set password (%d,%d): %w", dialogID, documentID, err)
	}
	return nil
}

// GetPassword returns the password one dialog stored for a document, empty
// when none. Strictly scoped: a dialog never sees another dialog's secret.
func (r *Repository) GetPassword(ctx context.Context, dialogID, documentID int64) (string, error) {
	row := new(DialogKBSecret)
	err := r.db.NewSelect().Model(row).
		Where("dialog_id = ?", dialogID).
		Where("document_id = ?", documentID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get password (%d,%d): %w", dialogID, documentID, err)
	}
	return row.Password, nil
}

// PasswordsForDocument returns the distinct passwords any dialog has stored
// for a document. Consumed only by the sync pipeline to open encrypted
// files; it is never exposed through a dialog-facing API.
func (r *Repository) PasswordsForDocument(ctx context.Context, documentID int64) ([]string, error) {
	var passwords []string
	err := r.db.NewSelect().Model((*DialogKBSecret)(nil)).
		ColumnExpr("DISTINCT password").
		Where("document_id = ?", documentID).
		Scan(ctx, &passwords)
	if err != nil {
		return nil, fmt.Errorf("passwords for document %d: %w", documentID, err)
	}
	return passwords, nil
}
