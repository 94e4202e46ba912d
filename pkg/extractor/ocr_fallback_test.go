//go:build !ocr

package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOCRFallback(t *testing.T) {
	text, metadata, err := NewEngine().Extract(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "png")
	assert.Error(t, err)
	assert.Empty(t, text)
	assert.Equal(t, "tesseract_not_available", metadata["engine"])
}
