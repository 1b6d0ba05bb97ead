package extract

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"dialog-rag/internal/helper"
)

// parseImage delegates OCR to the vision provider. The provider's output is
// returned verbatim; any failure yields a placeholder so the document still
// gets an indexable (if thin) representation.
func (s *Service) parseImage(ctx context.Context, data []byte, filename, mimeType string) Result {
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if mimeType == "" {
		mimeType = "image/" + detectExt(filename)
	}

	placeholder := fmt.Sprintf("[image: %s]", filepath.Base(filename))
	if s.ocr == nil {
		return Result{Text: placeholder, Diagnostic: "no vision provider configured"}
	}

	text, err := s.ocr.ExtractText(ctx, data, mimeType)
	if err != nil {
		log.Warn().Err(err).Str("file", filename).Msg("image OCR failed")
		return Result{
			Text:       placeholder,
			Diagnostic: helper.Truncate(fmt.Sprintf("ocr: %v", err), maxDiagnosticLen),
		}
	}
	if strings.TrimSpace(text) == "" {
		return Result{Text: placeholder}
	}
	return Result{Text: text}
}
