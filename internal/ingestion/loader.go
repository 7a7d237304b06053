// Package ingestion loads documents from local files, directories and URLs
// and turns them into rag.Document values ready for indexing. HTML is reduced
// to its main text content and PDFs to their plain text.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// ErrDirectoryNotFound is returned by ReadDir for a missing path or a path
// that is not a directory.
var ErrDirectoryNotFound = errors.New("ingestion: directory not found")

// DefaultExtensions are the file types ReadDir picks up when none are given.
var DefaultExtensions = []string{".txt", ".md", ".markdown", ".rst", ".html", ".htm", ".pdf"}

// maxDocumentBytes bounds the size of a single fetched or read document.
const maxDocumentBytes = 20 << 20

// Config holds the configuration for a Loader.
type Config struct {
	// HTTPTimeout is the timeout for each fetch request.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string

	// Extensions limits ReadDir to these file extensions (with leading dot).
	// Defaults to DefaultExtensions if empty.
	Extensions []string
}

// Loader reads documents from the filesystem and the web. It is safe for
// concurrent use.
type Loader struct {
	// cfg holds the resolved loader configuration.
	cfg Config

	// httpClient is the HTTP client used for fetching remote documents.
	httpClient *http.Client
}

// NewLoader constructs a Loader, applying defaults to cfg.
func NewLoader(cfg Config) *Loader {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "docqa-go/1.0 (document ingestion)"
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	exts := make([]string, len(cfg.Extensions))
	for i, e := range cfg.Extensions {
		exts[i] = strings.ToLower(e)
	}
	cfg.Extensions = exts

	return &Loader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Fetch retrieves a remote document. The URL is the document source.
func (l *Loader) Fetch(ctx context.Context, rawURL string) (rag.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return rag.Document{}, fmt.Errorf("ingestion: creating request: %w", err)
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html, application/pdf")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return rag.Document{}, fmt.Errorf("ingestion: http get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rag.Document{}, fmt.Errorf("ingestion: unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return rag.Document{}, fmt.Errorf("ingestion: reading body of %s: %w", rawURL, err)
	}

	meta := InferMetadata(rawURL)
	// The served type wins, except that text/plain does not demote a
	// markdown URL.
	if f := formatFromContentType(resp.Header.Get("Content-Type")); f != "" && (f != FormatText || meta.Format != FormatMarkdown) {
		meta.Format = f
	}
	content, err := extract(meta.Format, body)
	if err != nil {
		return rag.Document{}, fmt.Errorf("ingestion: extracting %s: %w", rawURL, err)
	}
	return rag.Document{Source: rawURL, Content: content, Metadata: meta.Map()}, nil
}

// ReadFile loads a single local file. The cleaned path is the document source.
func (l *Loader) ReadFile(path string) (rag.Document, error) {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return rag.Document{}, fmt.Errorf("ingestion: stat %s: %w", path, err)
	}
	if info.Size() > maxDocumentBytes {
		return rag.Document{}, fmt.Errorf("ingestion: %s is larger than %d bytes", path, maxDocumentBytes)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return rag.Document{}, fmt.Errorf("ingestion: read %s: %w", path, err)
	}

	meta := InferMetadata(path)
	content, err := extract(meta.Format, body)
	if err != nil {
		return rag.Document{}, fmt.Errorf("ingestion: extracting %s: %w", path, err)
	}
	return rag.Document{Source: path, Content: content, Metadata: meta.Map()}, nil
}

// ReadDir walks dir recursively and loads every file whose extension is in
// the configured set, in lexical path order. Hidden files and directories are
// skipped. It satisfies batch.DirectoryReader.
func (l *Loader) ReadDir(ctx context.Context, dir string) ([]rag.Document, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
	}

	var docs []rag.Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !l.accepts(path) {
			return nil
		}
		doc, err := l.ReadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walk %s: %w", dir, err)
	}
	return docs, nil
}

// accepts reports whether path has one of the configured extensions.
func (l *Loader) accepts(path string) bool {
	return slices.Contains(l.cfg.Extensions, strings.ToLower(filepath.Ext(path)))
}
