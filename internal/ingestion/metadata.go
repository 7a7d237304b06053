package ingestion

import (
	"net/url"
	"path"
	"strings"
)

// Document origins.
const (
	OriginFile = "file"
	OriginURL  = "url"
)

// InferredMetadata holds the format, origin and doc type inferred from a
// document source. It is the best-effort metadata attached to every chunk of
// the document.
type InferredMetadata struct {
	// Format is the content format (text, markdown, html, pdf).
	Format string
	// Origin is where the document came from (file, url).
	Origin string
	// Host is the URL host for remote documents, empty for files.
	Host string
	// DocType classifies the documentation kind (reference, tutorial, guide, api, changelog, readme).
	DocType string
}

// Map renders the metadata as the string bag stored on chunks. Empty fields
// are omitted.
func (m InferredMetadata) Map() map[string]string {
	out := make(map[string]string, 4)
	for k, v := range map[string]string{
		"format":   m.Format,
		"origin":   m.Origin,
		"host":     m.Host,
		"doc_type": m.DocType,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// extensionFormats maps lower-case file extensions to formats.
var extensionFormats = map[string]string{
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".pdf":      FormatPDF,
}

// segmentDocTypes maps path segments to doc types. The first matching
// segment, scanning from the start of the path, decides.
var segmentDocTypes = map[string]string{
	"tutorials":       "tutorial",
	"tutorial":        "tutorial",
	"quick-start":     "tutorial",
	"quickstart":      "tutorial",
	"getting-started": "tutorial",
	"guides":          "guide",
	"guide":           "guide",
	"how-to":          "guide",
	"integrations":    "guide",
	"api":             "api",
	"plugin":          "api",
	"sdk":             "api",
	"changelog":       "changelog",
	"releases":        "changelog",
	"release-notes":   "changelog",
}

// InferMetadata inspects a document source (file path or URL) and returns
// best-effort metadata. Unknown sources get sensible defaults: "text" format
// for files, "html" for extension-less URLs, and "reference" doc type.
//
// Examples:
//
//	docs/guides/rotate-keys.md             → markdown, file, guide
//	https://example.com/api/v2/users       → html, url, api, host example.com
//	https://example.com/CHANGELOG.md       → markdown, url, changelog
func InferMetadata(source string) InferredMetadata {
	m := InferredMetadata{
		Format:  FormatText,
		Origin:  OriginFile,
		DocType: "reference",
	}

	p := source
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		m.Origin = OriginURL
		m.Host = strings.ToLower(u.Hostname())
		m.Format = FormatHTML
		p = u.Path
	}
	p = strings.ToLower(strings.ReplaceAll(p, "\\", "/"))

	if f, ok := extensionFormats[path.Ext(p)]; ok {
		m.Format = f
	} else if path.Ext(p) != "" && m.Origin == OriginURL {
		// e.g. raw .txt or .rst served over HTTP
		m.Format = FormatText
	}

	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	switch base {
	case "readme":
		m.DocType = "readme"
		return m
	case "changelog", "changes", "history":
		m.DocType = "changelog"
		return m
	}

	for _, seg := range trimSegments(path.Dir(p)) {
		if dt, ok := segmentDocTypes[seg]; ok {
			m.DocType = dt
			break
		}
	}
	return m
}

// trimSegments splits a path into non-empty segments.
func trimSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}
