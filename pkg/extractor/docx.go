package extractor

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

var (
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

// DOCXExtractor handles DOCX file extraction
type DOCXExtractor struct{}

// Extract extracts the paragraphs of a DOCX document, one per block
func (d *DOCXExtractor) Extract(ctx context.Context, content []byte) (string, map[string]string, error) {
	metadata := map[string]string{
		"type": "docx",
		"size": fmt.Sprintf("%d", len(content)),
	}

	// DOCX files are ZIP archives
	if len(content) < 4 || content[0] != 0x50 || content[1] != 0x4B {
		return "", metadata, &ExtractionError{Kind: "docx", Message: "not a valid DOCX file - missing ZIP signature"}
	}

	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", metadata, &ExtractionError{Kind: "docx", Message: fmt.Sprintf("failed to parse DOCX: %v", err)}
	}

	raw := doc.Editable().GetContent()
	raw = paragraphEnd.ReplaceAllString(raw, "\n\n")
	text := strings.TrimSpace(unescapeXML(xmlTag.ReplaceAllString(raw, "")))

	metadata["text_length"] = fmt.Sprintf("%d", len(text))
	metadata["word_count"] = fmt.Sprintf("%d", len(strings.Fields(text)))
	metadata["paragraphs"] = fmt.Sprintf("%d", len(Paragraphs(text)))

	if text == "" {
		return "", metadata, &ExtractionError{Kind: "docx", Message: "DOCX document contains no extractable text"}
	}
	metadata["status"] = "success"
	return text, metadata, nil
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
