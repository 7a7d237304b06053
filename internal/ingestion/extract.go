package ingestion

import (
	"bytes"
	"fmt"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// Document formats recognised by the loader.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
)

// mainContentSelectors are tried in order when reducing an HTML page to its
// main text. The first selector with substantial text wins.
var mainContentSelectors = []string{
	"main", "article", "[role='main']", ".content", "#content",
	".post", ".entry-content", ".article-body",
}

// minMainContent is the text length a selector must reach to be preferred
// over the whole body.
const minMainContent = 100

// extract converts raw bytes of the given format to plain text.
func extract(format string, body []byte) (string, error) {
	switch format {
	case FormatHTML:
		return extractHTML(body)
	case FormatPDF:
		return extractPDF(body)
	default:
		return string(body), nil
	}
}

// extractHTML returns the readable text of an HTML page, dropping scripts,
// styles and navigation chrome.
func extractHTML(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	for _, sel := range mainContentSelectors {
		if text := selectionText(doc.Find(sel)); len(text) > minMainContent {
			return text, nil
		}
	}
	return selectionText(doc.Find("body")), nil
}

// selectionText joins the text of every matched node as separate paragraphs.
func selectionText(s *goquery.Selection) string {
	var parts []string
	s.Each(func(_ int, n *goquery.Selection) {
		if t := strings.TrimSpace(n.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}

// extractPDF returns the plain text of every readable page, one paragraph per
// page. Pages that fail to decode are skipped.
func extractPDF(body []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// formatFromContentType maps an HTTP Content-Type to a document format, or ""
// when the type says nothing useful.
func formatFromContentType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mt {
	case "text/html", "application/xhtml+xml":
		return FormatHTML
	case "application/pdf":
		return FormatPDF
	case "text/markdown", "text/x-markdown":
		return FormatMarkdown
	case "text/plain":
		return FormatText
	}
	return ""
}
