// Package dialogkb decides what a conversation may retrieve from the
// knowledge base: which documents are attached and enabled, the dialog's
// retrieval mode, and the dialog-scoped document passwords.
package dialogkb

import (
	"context"
	"fmt"
	"strings"

	"dialog-rag/internal/db"
)

// Retrieval modes. OFF disables retrieval unconditionally; ON and AUTO
// permit it only when the dialog has at least one enabled attachment.
const (
	ModeAuto = "AUTO"
	ModeOn   = "ON"
	ModeOff  = "OFF"
)

// Toggle outcomes.
const (
	StateAttachedEnabled = "attached_enabled"
	StateEnabled         = "enabled"
	StateDisabled        = "disabled"
)

// Store is the persistence the scope manager needs; *db.Repository
// implements it.
type Store interface {
	GetMode(ctx context.Context, dialogID int64) (string, error)
	SetMode(ctx context.Context, dialogID int64, mode string) error
	GetLink(ctx context.Context, dialogID, documentID int64) (attached, enabled bool, err error)
	Attach(ctx context.Context, dialogID, documentID int64) error
	Detach(ctx context.Context, dialogID, documentID int64) error
	SetEnabled(ctx context.Context, dialogID, documentID int64, enabled bool) error
	ListAttached(ctx context.Context, dialogID int64) ([]db.AttachedDocument, error)
	AllowedDocumentIDs(ctx context.Context, dialogID int64) ([]int64, error)
	SetPassword(ctx context.Context, dialogID, documentID int64, password string) error
	GetPassword(ctx context.Context, dialogID, documentID int64) (string, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// NormalizeMode maps arbitrary input onto a valid mode, defaulting to AUTO.
func NormalizeMode(mode string) string {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case ModeOn:
		return ModeOn
	case ModeOff:
		return ModeOff
	default:
		return ModeAuto
	}
}

func (s *Service) Mode(ctx context.Context, dialogID int64) (string, error) {
	mode, err := s.store.GetMode(ctx, dialogID)
	if err != nil {
		return "", err
	}
	return NormalizeMode(mode), nil
}

func (s *Service) SetMode(ctx context.Context, dialogID int64, mode string) (string, error) {
	mode = NormalizeMode(mode)
	if err := s.store.SetMode(ctx, dialogID, mode); err != nil {
		return "", err
	}
	return mode, nil
}

// Toggle cycles the (dialog, document) link: not attached -> attached and
// enabled; attached and enabled -> disabled; attached and disabled ->
// enabled. It returns the resulting state.
func (s *Service) Toggle(ctx context.Context, dialogID, documentID int64) (string, error) {
	attached, enabled, err := s.store.GetLink(ctx, dialogID, documentID)
	if err != nil {
		return "", err
	}
	if !attached {
		if err := s.store.Attach(ctx, dialogID, documentID); err != nil {
			return "", err
		}
		return StateAttachedEnabled, nil
	}
	if err := s.store.SetEnabled(ctx, dialogID, documentID, !enabled); err != nil {
		return "", err
	}
	if enabled {
		return StateDisabled, nil
	}
	return StateEnabled, nil
}

func (s *Service) Attach(ctx context.Context, dialogID, documentID int64) error {
	return s.store.Attach(ctx, dialogID, documentID)
}

// Detach removes the link entirely; the document is no longer attached in
// either state.
func (s *Service) Detach(ctx context.Context, dialogID, documentID int64) error {
	return s.store.Detach(ctx, dialogID, documentID)
}

func (s *Service) ListAttached(ctx context.Context, dialogID int64) ([]db.AttachedDocument, error) {
	return s.store.ListAttached(ctx, dialogID)
}

// RetrievalScope is the gate the retriever consults: whether retrieval is
// permitted for this dialog at all, and if so which document ids it is
// restricted to. allowed is never nil when ok is true.
func (s *Service) RetrievalScope(ctx context.Context, dialogID int64) (ok bool, allowed []int64, err error) {
	mode, err := s.Mode(ctx, dialogID)
	if err != nil {
		return false, nil, err
	}
	if mode == ModeOff {
		return false, nil, nil
	}
	allowed, err = s.store.AllowedDocumentIDs(ctx, dialogID)
	if err != nil {
		return false, nil, err
	}
	// ON and AUTO agree: with nothing attached and enabled there is
	// nothing to search, and retrieval never widens beyond the dialog
	if len(allowed) == 0 {
		return false, nil, nil
	}
	return true, allowed, nil
}

// SetPassword stores a document password owned by this dialog.
func (s *Service) SetPassword(ctx context.Context, dialogID, documentID int64, password string) error {
	password = strings.TrimSpace(password)
	if password == "" {
		return fmt.Errorf("empty password for document %d", documentID)
	}
	return s.store.SetPassword(ctx, dialogID, documentID, password)
}

// Password returns the password this dialog stored for the document, empty
// when none.
func (s *Service) Password(ctx context.Context, dialogID, documentID int64) (string, error) {
	return s.store.GetPassword(ctx, dialogID, documentID)
}
