package extract

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// htmlText keeps the text of content elements, skipping scripts, styles
// and page chrome.
func htmlText(r io.Reader) (Document, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	var paras []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "footer", "header", "head", "noscript":
				return
			case "h1", "h2", "h3", "h4", "h5", "h6", "p", "li", "td", "th", "blockquote", "pre", "dt", "dd":
				paras = append(paras, textContent(n))
				return
			}
		}
		if n.Type == html.TextNode && isLooseText(n) {
			paras = append(paras, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return Document{Title: findTitle(doc), Text: joinParagraphs(paras)}, nil
}

// isLooseText reports whether a text node sits directly in a container such
// as <div> or <body> rather than in an element handled as a paragraph.
func isLooseText(n *html.Node) bool {
	if n.Parent == nil || n.Parent.Type != html.ElementNode {
		return false
	}
	switch n.Parent.Data {
	case "body", "div", "section", "article", "main":
		return strings.TrimSpace(n.Data) != ""
	}
	return false
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.Data == "br" {
			buf.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
