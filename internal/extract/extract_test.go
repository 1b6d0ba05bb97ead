package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestExtractPlainText(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		want     string
	}{
		{
			name:     "plain utf8",
			data:     []byte("hello world"),
			filename: "note.txt",
			want:     "hello world",
		},
		{
			name:     "utf8 bom stripped",
			data:     []byte{0xEF, 0xBB, 0xBF, 'h', 'i'},
			filename: "note.txt",
			want:     "hi",
		},
		{
			name:     "unknown extension treated as text",
			data:     []byte("raw content"),
			filename: "dump.log",
			want:     "raw content",
		},
	}

	svc := NewService(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Extract(context.Background(), tt.data, tt.filename, "", "")
			if res.Text != tt.want {
				t.Errorf("Text = %q, want %q", res.Text, tt.want)
			}
			if res.NeedsPassword {
				t.Error("plain text should never need a password")
			}
		})
	}
}

func TestExtractWindows1251Fallback(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().Bytes([]byte("привет"))
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}

	svc := NewService(nil)
	res := svc.Extract(context.Background(), encoded, "legacy.txt", "", "")
	if res.Text != "привет" {
		t.Errorf("Text = %q, want decoded cyrillic", res.Text)
	}
}

func TestExtractCSV(t *testing.T) {
	data := []byte("name,amount\n\"smith, j\",10\n\n,\n")

	svc := NewService(nil)
	res := svc.Extract(context.Background(), data, "table.csv", "", "")

	want := "name\tamount\nsmith, j\t10"
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestExtractMarkdown(t *testing.T) {
	data := []byte("# Title\n\nSome *emphasized* text.\n\n```\ncode line\n```\n")

	svc := NewService(nil)
	res := svc.Extract(context.Background(), data, "readme.md", "", "")

	for _, want := range []string{"Title", "Some ", "emphasized", "code line"} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("Text %q missing %q", res.Text, want)
		}
	}
	if strings.Contains(res.Text, "#") || strings.Contains(res.Text, "*") || strings.Contains(res.Text, "```") {
		t.Errorf("Text %q still contains markup", res.Text)
	}
}

type fakeOCR struct {
	text string
	err  error

	gotMIME string
}

func (f *fakeOCR) ExtractText(_ context.Context, _ []byte, mimeType string) (string, error) {
	f.gotMIME = mimeType
	return f.text, f.err
}

func TestExtractImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}

	t.Run("ocr output used", func(t *testing.T) {
		ocr := &fakeOCR{text: "text in the picture"}
		svc := NewService(ocr)

		res := svc.Extract(context.Background(), png, "scan.png", "", "")
		if res.Text != "text in the picture" {
			t.Errorf("Text = %q, want OCR output", res.Text)
		}
		if ocr.gotMIME != "image/png" {
			t.Errorf("mime = %q, want image/png", ocr.gotMIME)
		}
	})

	t.Run("ocr failure falls back to placeholder", func(t *testing.T) {
		svc := NewService(&fakeOCR{err: errors.New("model offline")})

		res := svc.Extract(context.Background(), png, "scan.png", "", "")
		if res.Text != "[image: scan.png]" {
			t.Errorf("Text = %q, want placeholder", res.Text)
		}
		if res.Diagnostic == "" {
			t.Error("expected a diagnostic for the failed OCR")
		}
	})

	t.Run("no provider", func(t *testing.T) {
		svc := NewService(nil)

		res := svc.Extract(context.Background(), png, "scan.png", "", "")
		if res.Text != "[image: scan.png]" {
			t.Errorf("Text = %q, want placeholder", res.Text)
		}
	})
}

func TestExtractCorruptDocx(t *testing.T) {
	svc := NewService(nil)
	res := svc.Extract(context.Background(), []byte("not a zip archive"), "broken.docx", "", "")

	if res.Text != "" {
		t.Errorf("Text = %q, want empty for corrupt input", res.Text)
	}
	if res.Diagnostic == "" {
		t.Error("expected a diagnostic for corrupt input")
	}
	if res.NeedsPassword {
		t.Error("corrupt input is not a password problem")
	}
}

func TestExtractMIMEFallback(t *testing.T) {
	// No useful extension, MIME type decides the format.
	svc := NewService(nil)
	res := svc.Extract(context.Background(), []byte("a,b\n1,2"), "download", "text/csv", "")

	want := "a\tb\n1\t2"
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
}

func TestExtractTagText(t *testing.T) {
	content := `<w:p><w:t>first</w:t></w:p><w:p><w:t xml:space="preserve">second </w:t></w:p>`
	got := extractTagText(content, "<w:t", "</w:t>")

	want := []string{"first", "second "}
	if len(got) != len(want) {
		t.Fatalf("got %d parts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("part %d = %q, want %q", i, got[i], want[i])
		}
	}
}
