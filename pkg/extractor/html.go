package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// HTMLExtractor walks the parsed document and keeps the text of block
// elements as separate paragraphs
type HTMLExtractor struct{}

func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

func (h *HTMLExtractor) Extract(ctx context.Context, content []byte) (string, map[string]string, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", nil, &ExtractionError{Kind: "html", Message: fmt.Sprintf("failed to parse HTML: %v", err)}
	}

	w := &blockWriter{}
	var title, lang string
	walk(doc, w, &title, &lang)
	w.flush()

	text := strings.Join(w.blocks, "\n\n")
	metadata := map[string]string{
		"type":       "html",
		"characters": fmt.Sprintf("%d", len([]rune(text))),
		"paragraphs": fmt.Sprintf("%d", len(w.blocks)),
		"title":      title,
	}
	if lang != "" {
		metadata["lang"] = lang
	}
	return text, metadata, nil
}

type blockWriter struct {
	current strings.Builder
	blocks  []string
}

func (w *blockWriter) text(s string) {
	if w.current.Len() > 0 {
		w.current.WriteByte(' ')
	}
	w.current.WriteString(s)
}

func (w *blockWriter) flush() {
	p := strings.Join(strings.Fields(w.current.String()), " ")
	if p != "" {
		w.blocks = append(w.blocks, p)
	}
	w.current.Reset()
}

func walk(n *html.Node, w *blockWriter, title, lang *string) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "nav", "header", "footer", "aside", "form":
			return
		case "title":
			if *title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				*title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		case "html":
			for _, a := range n.Attr {
				if a.Key == "lang" {
					*lang = a.Val
				}
			}
		case "br":
			w.flush()
		}
	}

	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			w.text(s)
		}
	}

	block := n.Type == html.ElementNode && isBlockElement(n.Data)
	if block {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, w, title, lang)
	}
	if block {
		w.flush()
	}
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "blockquote",
		"article", "section", "main", "pre", "td", "th", "dt", "dd", "tr":
		return true
	}
	return false
}
