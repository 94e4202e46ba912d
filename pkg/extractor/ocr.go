//go:build ocr

package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// OCRExtractor reads text from images with Tesseract
type OCRExtractor struct {
	Language             string // Tesseract language code, e.g. "ara" or "ara+fra"
	PageSegmentationMode gosseract.PageSegMode
}

// NewOCRExtractor reads Arabic and French
func NewOCRExtractor() *OCRExtractor {
	return &OCRExtractor{
		Language:             "ara+fra",
		PageSegmentationMode: gosseract.PSM_AUTO,
	}
}

// Extract extracts text from image content using OCR
func (o *OCRExtractor) Extract(ctx context.Context, content []byte) (string, map[string]string, error) {
	metadata := map[string]string{
		"type":     "ocr",
		"size":     fmt.Sprintf("%d", len(content)),
		"language": o.Language,
		"engine":   "tesseract",
	}

	if len(content) == 0 {
		return "", metadata, &ExtractionError{Kind: "ocr", Message: "no image content provided"}
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(o.Language, "+")...); err != nil {
		return "", metadata, &ExtractionError{Kind: "ocr", Message: fmt.Sprintf("failed to set language %q: %v", o.Language, err)}
	}
	if err := client.SetPageSegMode(o.PageSegmentationMode); err != nil {
		return "", metadata, &ExtractionError{Kind: "ocr", Message: fmt.Sprintf("failed to set page segmentation mode: %v", err)}
	}
	if err := client.SetImageFromBytes(content); err != nil {
		return "", metadata, &ExtractionError{Kind: "ocr", Message: fmt.Sprintf("failed to load image: %v", err)}
	}

	text, err := client.Text()
	if err != nil {
		return "", metadata, &ExtractionError{Kind: "ocr", Message: fmt.Sprintf("text extraction failed: %v", err)}
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))

	metadata["text_length"] = fmt.Sprintf("%d", len(text))
	metadata["word_count"] = fmt.Sprintf("%d", len(strings.Fields(text)))

	if text == "" {
		return "", metadata, &ExtractionError{Kind: "ocr", Message: "no text found in image"}
	}
	metadata["status"] = "success"
	return text, metadata, nil
}
