package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Segment is one logical unit of extracted text: a PDF page, or the whole
// file for text and word formats.
type Segment struct {
	Text   string
	Source string
	Page   int
}

// Load extracts text segments from the file at path, dispatching on its
// extension. An unsupported extension yields an empty, non-error result so
// callers can treat "nothing produced" as a cleanup signal rather than a
// failure. Whitespace-only segments are dropped.
func Load(path string) ([]Segment, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".docx":
		return loadDOCX(path)
	case ".txt", ".md":
		return loadText(path)
	default:
		return nil, nil
	}
}

func loadPDF(path string) ([]Segment, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	defer f.Close()

	var segments []Segment
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not discard the rest of the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		segments = append(segments, Segment{Text: text, Source: path, Page: i - 1})
	}
	return segments, nil
}

func loadText(path string) ([]Segment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Segment{{Text: text, Source: path, Page: 0}}, nil
}
