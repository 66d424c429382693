package extract

import (
	"bytes"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdown strips markup, keeping headings and block text as paragraphs.
func markdown(r io.Reader) (Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return Document{}, err
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var paras []string
	var title string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		t := blockText(n, src)
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 && title == "" {
			title = t
		}
		paras = append(paras, t)
	}
	return Document{Title: title, Text: joinParagraphs(paras)}, nil
}

// blockText gets the text content of a goldmark AST node.
func blockText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && n.FirstChild() == nil {
		// Code blocks and similar leaves keep their raw lines.
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			s := blockText(c, src)
			if c.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(s)
		}
	}
	return strings.TrimSpace(buf.String())
}
