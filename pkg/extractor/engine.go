package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor turns the bytes of one document into plain text plus metadata
type Extractor interface {
	Extract(ctx context.Context, content []byte) (string, map[string]string, error)
}

// ExtractionError is a document that can never be read. Retrying it is pointless.
type ExtractionError struct {
	Kind    string
	Message string
}

func (e *ExtractionError) Error() string {
	return e.Kind + ": " + e.Message
}

// Engine dispatches on the document kind (a file extension without the dot)
type Engine struct {
	extractors map[string]Extractor
}

// NewEngine registers the text, HTML, PDF, DOCX and image extractors
func NewEngine() *Engine {
	ocr := NewOCRExtractor()
	return &Engine{
		extractors: map[string]Extractor{
			"text": &TextExtractor{},
			"txt":  &TextExtractor{},
			"md":   &TextExtractor{},
			"html": NewHTMLExtractor(),
			"htm":  NewHTMLExtractor(),
			"pdf":  &PDFExtractor{MaxPages: 1000},
			"docx": &DOCXExtractor{},
			"png":  ocr,
			"jpg":  ocr,
			"jpeg": ocr,
			"tiff": ocr,
		},
	}
}

// Register adds or replaces the extractor for kind
func (e *Engine) Register(kind string, x Extractor) {
	e.extractors[strings.ToLower(kind)] = x
}

// Supports reports whether kind has a registered extractor
func (e *Engine) Supports(kind string) bool {
	_, ok := e.extractors[strings.ToLower(kind)]
	return ok
}

// Extract runs the extractor registered for kind, falling back to plain text
func (e *Engine) Extract(ctx context.Context, content []byte, kind string) (string, map[string]string, error) {
	extractor, ok := e.extractors[strings.ToLower(kind)]
	if !ok {
		extractor = e.extractors["text"]
	}
	return extractor.Extract(ctx, content)
}

// ExtractFile reads path and extracts it by extension
func (e *Engine) ExtractFile(ctx context.Context, path string) (string, map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text, metadata, err := e.Extract(ctx, content, Kind(path))
	if metadata != nil {
		metadata["file_name"] = filepath.Base(path)
	}
	return text, metadata, err
}

// Kind returns the lowercase extension of path without the dot
func Kind(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Paragraphs splits extracted text on blank lines and collapses whitespace
// inside each paragraph
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		p := strings.Join(strings.Fields(block), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TextExtractor handles plain text files
type TextExtractor struct{}

func (t *TextExtractor) Extract(ctx context.Context, content []byte) (string, map[string]string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	text := string(content)
	metadata := map[string]string{
		"type":       "text",
		"characters": fmt.Sprintf("%d", len([]rune(text))),
		"lines":      fmt.Sprintf("%d", bytes.Count(content, []byte("\n"))+1),
	}
	return text, metadata, nil
}
