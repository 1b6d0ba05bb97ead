// Package extract turns raw document bytes into plain text.
//
// Every supported format is handled best-effort: format-level failures are
// reported through Result.Diagnostic with empty text, never as an error, so
// the sync pipeline can decide to skip, retry or ask for a password.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"dialog-rag/internal/helper"
)

const maxDiagnosticLen = 2000

// Result is the outcome of extracting one document.
type Result struct {
	// Text is the full extracted text, empty on failure.
	Text string
	// Pages holds per-page text for paged formats (PDF). Indexes are
	// 0-based pages; entries may be empty for pages without text.
	Pages []string
	// NeedsPassword reports that the document is encrypted and the given
	// password (possibly empty) did not open it.
	NeedsPassword bool
	// Diagnostic describes what went wrong, truncated for storage.
	Diagnostic string
}

// VisionOCR reads text out of an image. Implemented by llmservice over a
// vision-capable chat model.
type VisionOCR interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Service dispatches extraction by file extension with a MIME fallback.
type Service struct {
	ocr VisionOCR
}

// NewService creates an extractor. ocr may be nil; images then produce a
// placeholder instead of OCR output.
func NewService(ocr VisionOCR) *Service {
	return &Service{ocr: ocr}
}

// Extract parses data into text. password is consulted only by encrypted
// formats (PDF, OOXML workbooks) and may be empty.
func (s *Service) Extract(ctx context.Context, data []byte, filename, mimeType, password string) Result {
	ext := detectExt(filename)
	if ext == "" {
		ext = extFromMIME(mimeType)
	}

	switch ext {
	case "pdf":
		return parsePDF(data, password)
	case "docx":
		return parseDOCX(data)
	case "xlsx":
		return parseXLSX(data, password)
	case "xlsm":
		return parseExcelize(data, password)
	case "csv":
		return parseCSV(data)
	case "md", "markdown":
		return parseMarkdown(data)
	case "png", "jpg", "jpeg", "webp":
		return s.parseImage(ctx, data, filename, mimeType)
	default:
		// txt and anything unrecognized: best-effort text decode
		return Result{Text: decodeText(data)}
	}
}

func detectExt(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

func extFromMIME(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "application/pdf"):
		return "pdf"
	case strings.HasPrefix(mimeType, "text/csv"):
		return "csv"
	case strings.HasPrefix(mimeType, "text/markdown"):
		return "md"
	case strings.HasPrefix(mimeType, "image/"):
		return strings.TrimPrefix(mimeType, "image/")
	default:
		return ""
	}
}

// decodeText decodes bytes as UTF-8 (with BOM stripping), falling back to
// Windows-1251 for legacy corpora.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("�")))
	}
	return string(decoded)
}

func parsePDF(data []byte, password string) Result {
	reader, err := pdf.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), passwordFunc(password))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return Result{NeedsPassword: true}
		}
		return diag("pdf open: %v", err)
	}

	var pages []string
	var failures []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		pageText, err := reader.Page(i).GetPlainText(nil)
		if err != nil {
			failures = append(failures, fmt.Sprintf("page %d: %v", i, err))
			pages = append(pages, "")
			continue
		}
		pages = append(pages, pageText)
	}

	res := Result{
		Text:  strings.TrimSpace(strings.Join(pages, "\n\n")),
		Pages: pages,
	}
	if len(failures) > 0 {
		res.Diagnostic = helper.Truncate(strings.Join(failures, "; "), maxDiagnosticLen)
	}
	return res
}

// passwordFunc feeds pdf.NewReaderEncrypted: try the supplied password once,
// then give up so a wrong password surfaces as ErrInvalidPassword.
func passwordFunc(password string) func() string {
	used := false
	return func() string {
		if used || password == "" {
			return ""
		}
		used = true
		return password
	}
}

func parseDOCX(data []byte) Result {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return diag("docx open: %v", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var parts []string
	for _, p := range extractTagText(content, "<w:t", "</w:t>") {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return Result{Text: strings.Join(parts, "\n")}
}

// extractTagText pulls character data out of XML elements with the given
// opening tag prefix, tolerating attributes on the tag.
func extractTagText(content, openPrefix, closeTag string) []string {
	var out []string
	for i, part := range strings.Split(content, openPrefix) {
		if i == 0 {
			continue
		}
		start := strings.Index(part, ">")
		if start < 0 {
			continue
		}
		end := strings.Index(part, closeTag)
		if end < 0 || end < start {
			continue
		}
		out = append(out, part[start+1:end])
	}
	return out
}

func parseXLSX(data []byte, password string) Result {
	if password != "" {
		return parseExcelize(data, password)
	}
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		// encrypted workbooks are OLE containers tealeg cannot unzip;
		// excelize recognizes them and reports the missing password
		return parseExcelize(data, "")
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			line := strings.TrimRight(strings.Join(cells, "\t"), "\t ")
			if line != "" {
				text.WriteString(line + "\n")
			}
		}
	}
	return Result{Text: strings.TrimSpace(text.String())}
}

func parseExcelize(data []byte, password string) Result {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{Password: password})
	if err != nil {
		if errors.Is(err, excelize.ErrWorkbookPassword) {
			return Result{NeedsPassword: true}
		}
		return diag("workbook open: %v", err)
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line != "" {
				text.WriteString(line + "\n")
			}
		}
	}
	return Result{Text: strings.TrimSpace(text.String())}
}

func diag(format string, args ...any) Result {
	return Result{Diagnostic: helper.Truncate(fmt.Sprintf(format, args...), maxDiagnosticLen)}
}
