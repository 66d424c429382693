package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/fumiama/go-docx"
	pdflib "github.com/ledongthuc/pdf"
)

// pdfText extracts page text. ledongthuc/pdf requires a ReaderAt and size,
// so the upload is spooled to a temp file.
func pdfText(r io.Reader) (Document, error) {
	f, size, cleanup, err := spool(r, "lectern-pdf-*.pdf")
	if err != nil {
		return Document{}, err
	}
	defer cleanup()

	reader, err := pdflib.NewReader(f, size)
	if err != nil {
		return Document{}, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return Document{Text: joinParagraphs(pages)}, nil
}

func docxText(r io.Reader) (Document, error) {
	f, size, cleanup, err := spool(r, "lectern-docx-*.docx")
	if err != nil {
		return Document{}, err
	}
	defer cleanup()

	doc, err := docx.Parse(f, size)
	if err != nil {
		return Document{}, fmt.Errorf("parse docx: %w", err)
	}

	var paras []string
	var title string
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := paragraphText(para)
		if title == "" && text != "" && isTitleStyle(para) {
			title = text
		}
		paras = append(paras, text)
	}
	return Document{Title: title, Text: joinParagraphs(paras)}, nil
}

func isTitleStyle(para *docx.Paragraph) bool {
	if para.Properties == nil || para.Properties.Style == nil {
		return false
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	return style == "title" || style == "heading1"
}

func paragraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
