// Package extract pulls plain text out of uploaded document bytes.
package extract

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Result holds the extracted text of a document and its page count.
type Result struct {
	Text       string
	TotalPages int
}

// PDFExtractor extracts text from PDF bytes using MuPDF.
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDFExtractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract reads every page of the document and joins the page texts. Pages
// that yield no text (scanned images) are skipped; the page count still
// reflects the full document.
func (e *PDFExtractor) Extract(data []byte) (*Result, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	totalPages := doc.NumPage()
	parts := make([]string, 0, totalPages)
	for i := 0; i < totalPages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return &Result{
		Text:       strings.Join(parts, "\n\n"),
		TotalPages: totalPages,
	}, nil
}
