package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor handles PDF file extraction
type PDFExtractor struct {
	MaxPages int
}

// Extract extracts text and metadata from PDF content. Pages are separated
// by blank lines.
func (p *PDFExtractor) Extract(ctx context.Context, content []byte) (string, map[string]string, error) {
	metadata := map[string]string{
		"type": "pdf",
		"size": fmt.Sprintf("%d", len(content)),
	}

	if len(content) < 4 || string(content[:4]) != "%PDF" {
		return "", metadata, &ExtractionError{
			Kind:    "pdf",
			Message: fmt.Sprintf("not a valid PDF file - content starts with: %q", string(content[:min(20, len(content))])),
		}
	}

	doc, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", metadata, &ExtractionError{Kind: "pdf", Message: fmt.Sprintf("failed to parse PDF: %v", err)}
	}

	var textBuilder strings.Builder
	extracted := 0
	for i := 1; i <= doc.NumPage(); i++ {
		if p.MaxPages > 0 && i > p.MaxPages {
			break
		}
		if err := ctx.Err(); err != nil {
			return "", metadata, err
		}

		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		extracted++
		textBuilder.WriteString(pageText)
		textBuilder.WriteString("\n\n")
	}

	text := strings.TrimSpace(textBuilder.String())
	metadata["pages"] = fmt.Sprintf("%d", doc.NumPage())
	metadata["extracted_pages"] = fmt.Sprintf("%d", extracted)
	metadata["text_length"] = fmt.Sprintf("%d", len(text))

	if text == "" {
		// Scanned PDFs need page rasterization before OCR, which this library cannot do
		return "", metadata, &ExtractionError{Kind: "pdf", Message: "PDF contains no extractable text"}
	}
	metadata["status"] = "success"
	return text, metadata, nil
}
