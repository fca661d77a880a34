package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFAnalyzer reads the embedded text layer of PDFs without calling a remote service.
// Scanned PDFs and images have no text layer and yield empty pages.
type PDFAnalyzer struct{}

func NewPDFAnalyzer() *PDFAnalyzer {
	return &PDFAnalyzer{}
}

func (a *PDFAnalyzer) Analyze(ctx context.Context, data []byte) (*Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	totalPages := r.NumPage()
	doc := &Document{Pages: make([]Page, 0, totalPages)}

	for pageIndex := 1; pageIndex <= totalPages; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := Page{Number: pageIndex}
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			doc.Pages = append(doc.Pages, page)
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", pageIndex, err)
		}
		page.Lines = splitLines(text)
		doc.Pages = append(doc.Pages, page)
	}

	return doc, nil
}

func splitLines(text string) []Line {
	var lines []Line
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, Line{Content: l})
	}
	return lines
}
