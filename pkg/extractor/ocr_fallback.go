//go:build !ocr

package extractor

import (
	"context"
	"fmt"
)

// OCRExtractor is the stand-in used when the binary is built without Tesseract
type OCRExtractor struct {
	Language string
}

func NewOCRExtractor() *OCRExtractor {
	return &OCRExtractor{Language: "ara+fra"}
}

// Extract always fails; build with -tags ocr to enable OCR
func (o *OCRExtractor) Extract(ctx context.Context, content []byte) (string, map[string]string, error) {
	metadata := map[string]string{
		"type":     "ocr",
		"size":     fmt.Sprintf("%d", len(content)),
		"language": o.Language,
		"engine":   "tesseract_not_available",
		"status":   "error",
	}
	return "", metadata, &ExtractionError{
		Kind:    "ocr",
		Message: "OCR requires building with -tags ocr and Tesseract installed (apt install tesseract-ocr tesseract-ocr-ara)",
	}
}
