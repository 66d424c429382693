// Package extract pulls plain text out of uploaded course files.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for file types without an extractor.
var ErrUnsupported = errors.New("unsupported file type")

// Document is the text extracted from a file. Title is a best guess (an
// HTML <title>, or the file name without extension).
type Document struct {
	Title string
	Text  string
}

type extractor func(r io.Reader) (Document, error)

var extractors = map[string]extractor{
	".txt":      plainText,
	".text":     plainText,
	".md":       markdown,
	".markdown": markdown,
	".html":     htmlText,
	".htm":      htmlText,
	".csv":      csvText,
	".pdf":      pdfText,
	".docx":     docxText,
}

// Supported reports whether filename has an extractor.
func Supported(filename string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// File extracts the text of a file's contents, choosing the format by
// filename extension.
func File(filename string, data []byte) (Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	fn, ok := extractors[ext]
	if !ok {
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}

	doc, err := fn(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("extracting %s: %w", filename, err)
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	doc.Text = strings.TrimSpace(doc.Text)
	return doc, nil
}

// spool copies r to a temp file for libraries that need random access.
// The caller must call the returned cleanup.
func spool(r io.Reader, pattern string) (*os.File, int64, func(), error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	size, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("seek temp file: %w", err)
	}
	return tmp, size, cleanup, nil
}

// joinParagraphs joins non-empty paragraphs with blank lines.
func joinParagraphs(paras []string) string {
	var b strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
	}
	return b.String()
}
