// Package chunker splits extracted text into fixed-size overlapping windows.
//
// Splitting is deterministic: the same text, size and overlap always produce
// the same chunk sequence, so re-indexing a document is restartable.
package chunker

import (
	"strings"

	"dialog-rag/internal/models"
)

// Split cuts text into windows of at most size characters, each consecutive
// pair overlapping by overlap characters. Windows that are empty or
// whitespace-only are dropped; surviving chunks are numbered contiguously
// from zero. Text no longer than size yields a single chunk.
//
// Callers guarantee 0 <= overlap < size (enforced by config.Validate).
func Split(text string, size, overlap int) []models.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if size <= 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []models.Chunk{{Order: 0, Text: text}}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	var chunks []models.Chunk
	order := 0
	step := size - overlap
	for start := 0; start < n; start += step {
		end := start + size
		if end > n {
			end = n
		}
		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, models.Chunk{Order: order, Text: window})
			order++
		}
		if end >= n {
			break
		}
	}
	return chunks
}

// SplitPages chunks page-segmented text, numbering chunks contiguously across
// pages and stamping each chunk with its page number (1-based).
func SplitPages(pages []string, size, overlap int) []models.Chunk {
	var out []models.Chunk
	order := 0
	for i, page := range pages {
		for _, c := range Split(page, size, overlap) {
			out = append(out, models.Chunk{Order: order, Text: c.Text, Page: i + 1})
			order++
		}
	}
	return out
}
