package extract

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

func parseCSV(data []byte) Result {
	reader := csv.NewReader(strings.NewReader(decodeText(data)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var lines []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return diag("csv parse: %v", err)
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		line := strings.TrimSpace(strings.Join(record, "\t"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return Result{Text: strings.Join(lines, "\n")}
}

// parseMarkdown walks the goldmark AST and collects the text segments,
// dropping markup so only readable content is indexed.
func parseMarkdown(data []byte) Result {
	parser := goldmark.New().Parser()
	root := parser.Parse(gtext.NewReader(data))

	var sb strings.Builder
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if _, ok := n.(*ast.Paragraph); ok {
				sb.WriteString("\n")
			}
			if _, ok := n.(*ast.Heading); ok {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(data))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(data))
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return diag("markdown parse: %v", err)
	}
	return Result{Text: strings.TrimSpace(sb.String())}
}
