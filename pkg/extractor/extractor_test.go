package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFExtractor_InvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"empty content", []byte{}},
		{"nil content", nil},
		{"not a pdf", []byte("This is not a PDF file")},
		{"truncated pdf", []byte("%PDF-1.4\n%garbage")},
	}

	extractor := &PDFExtractor{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, metadata, err := extractor.Extract(context.Background(), tt.content)
			require.Error(t, err)
			assert.Empty(t, text)
			assert.Equal(t, "pdf", metadata["type"])

			var extractionErr *ExtractionError
			assert.True(t, errors.As(err, &extractionErr), "expected ExtractionError, got %T", err)
		})
	}
}

func TestDOCXExtractor_InvalidContent(t *testing.T) {
	_, metadata, err := (&DOCXExtractor{}).Extract(context.Background(), []byte("plain"))
	var extractionErr *ExtractionError
	require.True(t, errors.As(err, &extractionErr))
	assert.Equal(t, "docx", extractionErr.Kind)
	assert.Equal(t, "docx", metadata["type"])
}

func TestHTMLExtractor_Paragraphs(t *testing.T) {
	page := `<html lang="ar"><head><title>مدونة</title><script>var x = 1;</script></head>
<body>
<nav>الرئيسية | اتصل بنا</nav>
<h1>الشاي  الموريتاني</h1>
<p>الشاي عندنا <b>ثلاث</b> كيسان.</p>
<div>كل كاس عندو
معنى</div>
<footer>حقوق</footer>
</body></html>`

	text, metadata, err := NewHTMLExtractor().Extract(context.Background(), []byte(page))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"الشاي الموريتاني",
		"الشاي عندنا ثلاث كيسان.",
		"كل كاس عندو معنى",
	}, Paragraphs(text))
	assert.Equal(t, "مدونة", metadata["title"])
	assert.Equal(t, "ar", metadata["lang"])
	assert.Equal(t, "3", metadata["paragraphs"])
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "حقوق")
}

func TestTextExtractor_StripsBOM(t *testing.T) {
	text, metadata, err := (&TextExtractor{}).Extract(context.Background(), []byte("\xef\xbb\xbfسلام\nعليكم"))
	require.NoError(t, err)
	assert.Equal(t, "سلام\nعليكم", text)
	assert.Equal(t, "2", metadata["lines"])
	assert.Equal(t, "10", metadata["characters"])
}

func TestEngine_Dispatch(t *testing.T) {
	engine := NewEngine()
	assert.True(t, engine.Supports("PDF"))
	assert.False(t, engine.Supports("exe"))

	// Unknown kinds fall back to plain text
	text, metadata, err := engine.Extract(context.Background(), []byte("hello"), "weird")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, "text", metadata["type"])
}

func TestEngine_ExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "story.TXT")
	require.NoError(t, os.WriteFile(path, []byte("فقرة أولى\n\nفقرة ثانية"), 0644))

	text, metadata, err := NewEngine().ExtractFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, Paragraphs(text), 2)
	assert.Equal(t, "story.TXT", metadata["file_name"])

	_, _, err = NewEngine().ExtractFile(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "pdf", Kind("/a/b/Report.PDF"))
	assert.Equal(t, "", Kind("README"))
}

func TestParagraphs(t *testing.T) {
	assert.Equal(t, []string{"a b", "c"}, Paragraphs("  a\n b \r\n\r\n\n\nc\n"))
	assert.Empty(t, Paragraphs("   \n\n "))
}
